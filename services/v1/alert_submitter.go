package v1

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reacher-sentinel/metrics"
	"reacher-sentinel/models"
	"reacher-sentinel/store"
)

// AlertSubmitter records outages detected by one monitor. Duplicate reports
// from the replicas of a service collapse inside the cooldown.
type AlertSubmitter struct {
	store     store.Store
	monitorID string
	cooldown  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewAlertSubmitter(st store.Store, monitorID string, cooldown time.Duration, logger *slog.Logger, m *metrics.Metrics) *AlertSubmitter {
	return &AlertSubmitter{
		store:     st,
		monitorID: monitorID,
		cooldown:  cooldown,
		logger:    logger.With("component", "alert_submitter"),
		metrics:   m,
	}
}

func (s *AlertSubmitter) Submit(ctx context.Context, serviceID string) error {
	// detection time comes from the store clock, shared by every replica
	now, err := s.store.CurrentTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("read store clock: %w", err)
	}

	alert, created, err := s.store.SubmitAlert(ctx, models.AlertSubmission{
		ServiceID:  serviceID,
		MonitorID:  s.monitorID,
		DetectedAt: now,
		Cooldown:   s.cooldown,
	})
	if err != nil {
		return fmt.Errorf("submit alert for %s: %w", serviceID, err)
	}
	s.metrics.AlertSubmitted(created)

	if !created {
		s.logger.Debug("alert suppressed by cooldown",
			"service_id", serviceID,
			"existing_alert_id", alert.AlertID,
			"detected_at", alert.DetectionTimestamp)
		return nil
	}
	s.logger.Info("alert submitted",
		"service_id", serviceID,
		"alert_id", alert.AlertID,
		"shard_id", alert.ShardID)
	return nil
}
