// Package store is the lease store shared by the monitor and alerter fleets.
// Every mutation is one atomic transaction scoped to a single logical
// operation; the in-process callers hold no authoritative state.
package store

import (
	"context"
	"errors"
	"time"

	"reacher-sentinel/models"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrConflict       = errors.New("store: alert state conflict")
	ErrInvalidService = errors.New("store: invalid service")
)

// ClaimRequest asks for up to Limit new work items for OwnerID.
type ClaimRequest struct {
	Kind              models.WorkKind
	OwnerID           string
	Limit             int
	ReplicationFactor int
	LeaseDuration     time.Duration
	// Shards bounds alert claims; ignored for services.
	Shards []int
	// Exclude lists ids the caller already tracks locally.
	Exclude []string
}

// RenewRequest refreshes the leases OwnerID still holds on IDs.
type RenewRequest struct {
	Kind          models.WorkKind
	OwnerID       string
	IDs           []string
	LeaseDuration time.Duration
}

// AdvanceRequest moves an alert from From to To and re-leases it for LeaseFor.
type AdvanceRequest struct {
	AlertID  string
	OwnerID  string
	From     models.AlertStatus
	To       models.AlertStatus
	LeaseFor time.Duration
}

// WorkStore is the lease protocol half of the store.
type WorkStore interface {
	ClaimWork(ctx context.Context, req ClaimRequest) ([]string, error)
	RenewWork(ctx context.Context, req RenewRequest) ([]string, error)
	ReleaseWork(ctx context.Context, kind models.WorkKind, ownerID string, ids []string) error
}

type Store interface {
	WorkStore

	CurrentTimestamp(ctx context.Context) (time.Time, error)

	DescribeServices(ctx context.Context, ids []string) ([]models.MonitoredService, error)
	ListServices(ctx context.Context) ([]models.MonitoredService, error)
	RegisterService(ctx context.Context, svc models.MonitoredService) (models.MonitoredService, error)
	DeleteService(ctx context.Context, serviceID string) error

	// SubmitAlert inserts a SUBMITTED alert unless the newest alert of the
	// service was detected less than Cooldown before DetectedAt. The boolean
	// is false when the submission was suppressed.
	SubmitAlert(ctx context.Context, sub models.AlertSubmission) (models.Alert, bool, error)
	AdvanceAlert(ctx context.Context, req AdvanceRequest) error
	AckAlert(ctx context.Context, alertID, actor string) error
	GetAlert(ctx context.Context, alertID string) (models.Alert, error)
	ListAlerts(ctx context.Context, serviceID string) ([]models.Alert, error)
	ListAlertLog(ctx context.Context, alertID string) ([]models.AlertLogEntry, error)

	ServiceLeases(ctx context.Context, serviceID string) ([]models.MonitorLease, error)
	MemberLeases(ctx context.Context, memberID string) ([]models.MonitorLease, error)
	ActiveMembers(ctx context.Context, kind models.WorkKind) ([]models.FleetMember, error)

	Reset(ctx context.Context) error
	Close() error
}

// ValidateService checks the invariants the configuration surface guarantees.
func ValidateService(svc models.MonitoredService) error {
	switch {
	case svc.URL == "":
		return errors.Join(ErrInvalidService, errors.New("url is required"))
	case svc.Frequency <= 0:
		return errors.Join(ErrInvalidService, errors.New("frequency must be positive"))
	case svc.AlertingWindow <= 0:
		return errors.Join(ErrInvalidService, errors.New("alertingWindow must be positive"))
	case svc.AllowedResponseTime <= 0:
		return errors.Join(ErrInvalidService, errors.New("allowedResponseTime must be positive"))
	case len(svc.ContactMethods) != models.RequiredContactMethods:
		return errors.Join(ErrInvalidService, errors.New("service needs to have exactly 2 contact methods"))
	}
	for i, cm := range svc.ContactMethods {
		if cm.Address == "" {
			return errors.Join(ErrInvalidService, errors.New("contact method address is required"))
		}
		if cm.Kind != models.ContactEmail && cm.Kind != models.ContactWebhook {
			return errors.Join(ErrInvalidService, errors.New("contact method kind must be email or webhook"))
		}
		if cm.Position != i {
			return errors.Join(ErrInvalidService, errors.New("contact method positions must be 0 and 1"))
		}
	}
	return nil
}

// normalizeContacts assigns positions by list order when the caller left them unset.
func normalizeContacts(cms []models.ContactMethod) []models.ContactMethod {
	out := make([]models.ContactMethod, len(cms))
	for i, cm := range cms {
		cm.Position = i
		out[i] = cm
	}
	return out
}

func difference(ids []string, exclude []string) []string {
	if len(exclude) == 0 {
		return ids
	}
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !skip[id] {
			out = append(out, id)
		}
	}
	return out
}
