package v1

import (
	"context"
	"log/slog"

	"reacher-sentinel/metrics"
	"reacher-sentinel/models"
	"reacher-sentinel/store"
)

// ProbeRecorder keeps the history of every heartbeat and updates the metrics.
// A failed write never stops monitoring.
type ProbeRecorder struct {
	history store.ProbeHistory
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewProbeRecorder(history store.ProbeHistory, m *metrics.Metrics, logger *slog.Logger) *ProbeRecorder {
	return &ProbeRecorder{
		history: history,
		metrics: m,
		logger:  logger.With("component", "probe_recorder"),
	}
}

func (r *ProbeRecorder) Record(ctx context.Context, serviceID string, res models.ProbeResult) {
	if r == nil {
		return
	}
	r.metrics.ObserveProbe(serviceID, res)

	if r.history == nil {
		return
	}
	// capped list plus the counters of the day
	if err := r.history.Record(ctx, serviceID, res); err != nil {
		r.logger.Warn("error registering probe history", "service_id", serviceID, "error", err)
	}
}
