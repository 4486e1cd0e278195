package models

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"
)

// AlertStatus is the escalation stage of an alert. The numeric order is the
// escalation order; ACK is terminal and reachable from every stage.
type AlertStatus int

const (
	StatusSubmitted AlertStatus = iota
	StatusNotify1
	StatusNotify2
	StatusAck
)

var alertStatusNames = map[AlertStatus]string{
	StatusSubmitted: "SUBMITTED",
	StatusNotify1:   "NOTIFY1",
	StatusNotify2:   "NOTIFY2",
	StatusAck:       "ACK",
}

func (s AlertStatus) String() string {
	if name, ok := alertStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("AlertStatus(%d)", int(s))
}

// ParseAlertStatus converts a status name back into an AlertStatus.
func ParseAlertStatus(name string) (AlertStatus, error) {
	for s, n := range alertStatusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown alert status %q", name)
}

func (s AlertStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *AlertStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseAlertStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Terminal reports whether no further transition is allowed.
func (s AlertStatus) Terminal() bool {
	return s == StatusAck
}

// ShardsCount is the number of partitions alerts are spread over.
const ShardsCount = 64

// ShardFor returns the shard of every alert raised for serviceID.
func ShardFor(serviceID string) int {
	h := fnv.New32a()
	h.Write([]byte(serviceID))
	return int(h.Sum32() % ShardsCount)
}

// Alert is a detected outage moving through the escalation stages.
type Alert struct {
	AlertID            string      `json:"alertId"`
	ServiceID          string      `json:"serviceId"`
	MonitorID          string      `json:"monitorId"`
	ShardID            int         `json:"shardId"`
	DetectionTimestamp time.Time   `json:"detectionTimestamp"`
	Status             AlertStatus `json:"status"`
	StatusExpiresAt    *time.Time  `json:"statusExpiresAt,omitempty"`
	LeasedBy           string      `json:"leasedBy,omitempty"`
}

// AlertSubmission asks the store to record a new outage, subject to cooldown.
type AlertSubmission struct {
	ServiceID  string
	MonitorID  string
	DetectedAt time.Time
	Cooldown   time.Duration
}

// ActorType identifies who performed an alert transition.
type ActorType string

const (
	ActorMonitor  ActorType = "monitor"
	ActorAlerter  ActorType = "alerter"
	ActorOperator ActorType = "operator"
)

// AlertLogEntry is one row of the append-only alert audit trail.
type AlertLogEntry struct {
	AlertID         string    `json:"alertId"`
	Actor           string    `json:"actor"`
	ActorType       ActorType `json:"actorType"`
	Action          string    `json:"action"`
	ActionTimestamp time.Time `json:"actionTimestamp"`
}
