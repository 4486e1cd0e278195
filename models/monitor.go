package models

import (
	"time"
)

// ContactKind identifies the transport used to reach a responder.
type ContactKind string

const (
	ContactEmail   ContactKind = "email"
	ContactWebhook ContactKind = "webhook"
)

// RequiredContactMethods is the number of escalation levels every service must define.
const RequiredContactMethods = 2

// ContactMethod is one escalation level of a service. Position 0 is the
// first responder, position 1 the second one.
type ContactMethod struct {
	Position int         `json:"position" yaml:"position"`
	Kind     ContactKind `json:"kind" yaml:"kind" binding:"required,oneof=email webhook"`
	Address  string      `json:"address" yaml:"address" binding:"required"`
}

// MonitoredService is a service registered through the configuration API.
// Monitoring only reads it.
type MonitoredService struct {
	ServiceID           string          `json:"serviceId"`
	URL                 string          `json:"url"`
	Frequency           time.Duration   `json:"-"`
	AlertingWindow      time.Duration   `json:"-"`
	AllowedResponseTime time.Duration   `json:"-"`
	ContactMethods      []ContactMethod `json:"contactMethods,omitempty"`
}

// ContactAt returns the contact method for an escalation level.
func (s MonitoredService) ContactAt(position int) (ContactMethod, bool) {
	for _, cm := range s.ContactMethods {
		if cm.Position == position {
			return cm, true
		}
	}
	return ContactMethod{}, false
}

// MonitorLease is one monitor's claim over a monitored service.
type MonitorLease struct {
	ServiceID       string    `json:"serviceId"`
	MonitorID       string    `json:"monitorId"`
	LeasedAt        time.Time `json:"leasedAt"`
	LeaseDurationMs int64     `json:"leaseDurationMs"`
	LeasedUntil     time.Time `json:"leasedUntil"`
}

// Live reports whether the lease is still valid at now.
func (l MonitorLease) Live(now time.Time) bool {
	return l.LeasedUntil.After(now)
}

// FleetMember is a derived view of a process currently holding live leases.
type FleetMember struct {
	MemberID    string    `json:"memberId"`
	Items       int       `json:"items"`
	LeasedUntil time.Time `json:"leasedUntil"`
}

// WorkKind selects which entity a work poller operates on.
type WorkKind string

const (
	WorkServices WorkKind = "services"
	WorkAlerts   WorkKind = "alerts"
)
