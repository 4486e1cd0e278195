package v1

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"reacher-sentinel/client"
	"reacher-sentinel/metrics"
	"reacher-sentinel/models"
	"reacher-sentinel/store"
)

// EscalationOutcome is what a single escalation attempt did.
type EscalationOutcome int

const (
	EscalationAdvanced EscalationOutcome = iota
	EscalationNoAction
	EscalationMissingContact
	EscalationDeliveryFailed
	EscalationConflict
	EscalationCancelled
	EscalationStoreError
)

func (o EscalationOutcome) String() string {
	switch o {
	case EscalationAdvanced:
		return "advanced"
	case EscalationNoAction:
		return "no_action"
	case EscalationMissingContact:
		return "missing_contact"
	case EscalationDeliveryFailed:
		return "delivery_failed"
	case EscalationConflict:
		return "conflict"
	case EscalationCancelled:
		return "cancelled"
	default:
		return "store_error"
	}
}

const (
	escalationStoreTimeout   = 5 * time.Second
	escalationAttemptTimeout = 30 * time.Second
)

// escalationStep maps a stage to the contact it notifies and the stage it
// moves to once the notification went out.
var escalationStep = map[models.AlertStatus]struct {
	contact int
	next    models.AlertStatus
}{
	models.StatusSubmitted: {contact: 0, next: models.StatusNotify1},
	models.StatusNotify1:   {contact: 1, next: models.StatusNotify2},
}

// AlertEscalator notifies the contact of the current stage of a leased alert
// and advances it.
type AlertEscalator struct {
	store    store.Store
	notifier client.Notifier
	ownerID  string
	logger   *slog.Logger
	metrics  *metrics.Metrics

	storeTimeout   time.Duration
	attemptTimeout time.Duration
}

func NewAlertEscalator(st store.Store, notifier client.Notifier, ownerID string, logger *slog.Logger, m *metrics.Metrics) *AlertEscalator {
	return &AlertEscalator{
		store:    st,
		notifier: notifier,
		ownerID:  ownerID,
		logger:   logger.With("component", "alert_escalator"),
		metrics:  m,

		storeTimeout:   escalationStoreTimeout,
		attemptTimeout: escalationAttemptTimeout,
	}
}

// Worker escalates alertID once. A failed attempt leaves the stage lease in
// place so the alert is retried after it expires.
func (e *AlertEscalator) Worker(alertID string) Worker {
	return WorkerFunc(func(ctx context.Context) {
		e.Escalate(ctx, alertID)
	})
}

// Spawner starts one escalation worker per leased alert.
func (e *AlertEscalator) Spawner() Spawner {
	return func(_ context.Context, ids []string) (map[string]Worker, error) {
		workers := make(map[string]Worker, len(ids))
		for _, id := range ids {
			workers[id] = e.Worker(id)
		}
		return workers, nil
	}
}

// Escalate runs one bounded attempt. Cancellation of ctx means the lease was
// lost; the attempt's own deadline only fails the attempt.
func (e *AlertEscalator) Escalate(ctx context.Context, alertID string) EscalationOutcome {
	log := e.logger.With("alert_id", alertID)
	attempt, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	var alert models.Alert
	err := e.withStore(attempt, func(sctx context.Context) (err error) {
		alert, err = e.store.GetAlert(sctx, alertID)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return EscalationCancelled
		}
		log.Warn("could not load alert", "error", err)
		return EscalationStoreError
	}
	log = log.With("service_id", alert.ServiceID, "status", alert.Status)

	step, ok := escalationStep[alert.Status]
	if !ok {
		// NOTIFY2 waits for an operator, ACK is final
		log.Debug("nothing to escalate")
		return EscalationNoAction
	}

	var svcs []models.MonitoredService
	err = e.withStore(attempt, func(sctx context.Context) (err error) {
		svcs, err = e.store.DescribeServices(sctx, []string{alert.ServiceID})
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return EscalationCancelled
		}
		log.Warn("could not load service", "error", err)
		return EscalationStoreError
	}
	if len(svcs) == 0 {
		log.Error("service of alert no longer exists")
		e.metrics.Notification(alert.Status, "missing_contact")
		return EscalationMissingContact
	}
	svc := svcs[0]
	contact, ok := svc.ContactAt(step.contact)
	if !ok {
		log.Error("missing contact method", "position", step.contact)
		e.metrics.Notification(alert.Status, "missing_contact")
		return EscalationMissingContact
	}

	if ctx.Err() != nil {
		return EscalationCancelled
	}
	if err := e.notifier.Notify(attempt, contact, alert); err != nil {
		if ctx.Err() != nil {
			return EscalationCancelled
		}
		log.Warn("notification failed, retrying after lease expiry",
			"kind", contact.Kind, "address", contact.Address, "error", err)
		e.metrics.Notification(alert.Status, "failed")
		return EscalationDeliveryFailed
	}
	e.metrics.Notification(alert.Status, "delivered")

	// the message is out, so the advance only answers to eviction and its own
	// store deadline, not to what is left of the attempt
	err = e.withStore(ctx, func(sctx context.Context) error {
		return e.store.AdvanceAlert(sctx, store.AdvanceRequest{
			AlertID:  alertID,
			OwnerID:  e.ownerID,
			From:     alert.Status,
			To:       step.next,
			LeaseFor: svc.AllowedResponseTime,
		})
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return EscalationCancelled
	case errors.Is(err, store.ErrConflict):
		log.Info("alert changed concurrently, not advancing")
		return EscalationConflict
	case err != nil:
		log.Warn("could not advance alert", "error", err)
		return EscalationStoreError
	}
	log.Info("alert escalated", "to", step.next, "contact", contact.Position, "response_window", svc.AllowedResponseTime)
	return EscalationAdvanced
}

func (e *AlertEscalator) withStore(ctx context.Context, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return fn(sctx)
}
