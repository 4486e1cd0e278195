package models

import "time"

// ProbeOutcome classifies one heartbeat against the URL of a service.
type ProbeOutcome string

/*
Probe classification:

  - success:          the target answered with a 2xx status before the timeout.
  - http_error:       the target answered, but with a non-2xx status.
  - timeout:          no answer before the probe deadline; counts as a failure.
  - connection_error: DNS, TCP or TLS failure before any response was read.

Only success refreshes the last good response time of a service monitor.
*/

const (
	ProbeSuccess         ProbeOutcome = "success"
	ProbeHTTPError       ProbeOutcome = "http_error"
	ProbeTimeout         ProbeOutcome = "timeout"
	ProbeConnectionError ProbeOutcome = "connection_error"
)

// ProbeResult is a single heartbeat observation.
type ProbeResult struct {
	Outcome    ProbeOutcome  `json:"outcome"`
	StatusCode int           `json:"statusCode,omitempty"`
	Latency    time.Duration `json:"-"`
	LatencyMs  int64         `json:"latencyMs"`
	CheckedAt  time.Time     `json:"checkedAt"`
	Error      string        `json:"error,omitempty"`
}

// Healthy reports whether the probe counts as a good response.
func (r ProbeResult) Healthy() bool {
	return r.Outcome == ProbeSuccess
}
