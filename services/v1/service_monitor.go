package v1

import (
	"context"
	"log/slog"
	"time"

	"reacher-sentinel/models"
)

// Prober checks the heartbeat URL of a service.
type Prober interface {
	Probe(ctx context.Context, url string, timeout time.Duration) models.ProbeResult
}

// Submitter raises an alert for a service.
type Submitter interface {
	Submit(ctx context.Context, serviceID string) error
}

// monitorStoreTimeout bounds each store round trip made by a check.
const monitorStoreTimeout = 5 * time.Second

// ProbeTimeout is the deadline of one heartbeat: half the probing period,
// capped by the allowed response time.
func ProbeTimeout(svc models.MonitoredService) time.Duration {
	timeout := svc.Frequency / 2
	if svc.AllowedResponseTime > 0 && svc.AllowedResponseTime < timeout {
		timeout = svc.AllowedResponseTime
	}
	return timeout
}

// ServiceMonitor probes one leased service every Frequency and submits an
// alert once no good response was seen for longer than AlertingWindow.
type ServiceMonitor struct {
	svc       models.MonitoredService
	prober    Prober
	submitter Submitter
	recorder  *ProbeRecorder
	logger    *slog.Logger
	now       func() time.Time

	storeTimeout time.Duration
	lastGood     time.Time
}

func NewServiceMonitor(svc models.MonitoredService, prober Prober, submitter Submitter, recorder *ProbeRecorder, logger *slog.Logger) *ServiceMonitor {
	return &ServiceMonitor{
		svc:       svc,
		prober:    prober,
		submitter: submitter,
		recorder:  recorder,
		logger:    logger.With("component", "service_monitor", "service_id", svc.ServiceID),
		now:       time.Now,

		storeTimeout: monitorStoreTimeout,
	}
}

func (m *ServiceMonitor) Run(ctx context.Context) {
	// a fresh lease starts with a grace period of one alerting window
	m.lastGood = m.now()
	m.logger.Debug("monitoring started", "url", m.svc.URL, "frequency", m.svc.Frequency)

	m.check(ctx)

	ticker := time.NewTicker(m.svc.Frequency)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("monitoring stopped")
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *ServiceMonitor) check(ctx context.Context) {
	res := m.prober.Probe(ctx, m.svc.URL, ProbeTimeout(m.svc))
	if ctx.Err() != nil {
		// evicted mid probe: the result is meaningless
		return
	}
	m.record(ctx, res)

	if res.Healthy() {
		m.lastGood = m.now()
		return
	}

	down := m.now().Sub(m.lastGood)
	m.logger.Debug("probe failed",
		"outcome", res.Outcome,
		"status_code", res.StatusCode,
		"error", res.Error,
		"down_for", down)
	if down <= m.svc.AlertingWindow {
		return
	}

	m.logger.Info("alerting window exceeded", "down_for", down, "alerting_window", m.svc.AlertingWindow)
	sctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	if err := m.submitter.Submit(sctx, m.svc.ServiceID); err != nil {
		m.logger.Warn("alert submission failed", "error", err)
	}
}

func (m *ServiceMonitor) record(ctx context.Context, res models.ProbeResult) {
	rctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	m.recorder.Record(rctx, m.svc.ServiceID, res)
}

// MonitorSpawner starts one ServiceMonitor per leased service that still exists.
func MonitorSpawner(poller *ServicePoller, prober Prober, submitter Submitter, recorder *ProbeRecorder, logger *slog.Logger) Spawner {
	return func(ctx context.Context, ids []string) (map[string]Worker, error) {
		svcs, err := poller.Describe(ctx, ids)
		if err != nil {
			return nil, err
		}
		workers := make(map[string]Worker, len(svcs))
		for _, svc := range svcs {
			workers[svc.ServiceID] = NewServiceMonitor(svc, prober, submitter, recorder, logger)
		}
		return workers, nil
	}
}
