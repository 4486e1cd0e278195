package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"

	"reacher-sentinel/models"
)

type Metrics struct {
	ClaimedTotal       *prometheus.CounterVec
	RenewalsTotal      *prometheus.CounterVec
	EvictionsTotal     *prometheus.CounterVec
	TrackedItems       *prometheus.GaugeVec
	ProbeTotal         *prometheus.CounterVec
	ProbeLatency       *prometheus.HistogramVec
	AlertsSubmitted    prometheus.Counter
	AlertsSuppressed   prometheus.Counter
	NotificationsTotal *prometheus.CounterVec
	BuildInfo          *prometheus.GaugeVec
}

type Bundle struct {
	Registry *prometheus.Registry
	Metrics  *Metrics
}

func NewBundle() *Bundle {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ClaimedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reacher_work_claimed_total",
				Help: "Work items newly leased by this member, labeled by kind.",
			},
			[]string{"kind"},
		),
		RenewalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reacher_lease_renewals_total",
				Help: "Lease renewal rounds, labeled by kind and result.",
			},
			[]string{"kind", "result"},
		),
		EvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reacher_work_evictions_total",
				Help: "Workers stopped because their lease was lost or finished.",
			},
			[]string{"kind"},
		),
		TrackedItems: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reacher_work_tracked",
				Help: "Work items currently owned by this member.",
			},
			[]string{"kind"},
		),
		ProbeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reacher_probe_total",
				Help: "Heartbeat probes, labeled by outcome.",
			},
			[]string{"service_id", "outcome"},
		),
		ProbeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reacher_probe_latency_seconds",
				Help:    "Heartbeat probe latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service_id"},
		),
		AlertsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reacher_alerts_submitted_total",
			Help: "Alerts inserted by this monitor.",
		}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reacher_alerts_suppressed_total",
			Help: "Alert submissions dropped by the cooldown.",
		}),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reacher_notifications_total",
				Help: "Escalation attempts, labeled by stage and result.",
			},
			[]string{"stage", "result"},
		),
		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reacher_build_info",
				Help: "Build/runtime info exposed as a gauge set to 1.",
			},
			[]string{"go_version", "os", "arch"},
		),
	}

	reg.MustRegister(
		m.ClaimedTotal,
		m.RenewalsTotal,
		m.EvictionsTotal,
		m.TrackedItems,
		m.ProbeTotal,
		m.ProbeLatency,
		m.AlertsSubmitted,
		m.AlertsSuppressed,
		m.NotificationsTotal,
		m.BuildInfo,
	)

	m.BuildInfo.WithLabelValues(runtime.Version(), runtime.GOOS, runtime.GOARCH).Set(1)

	return &Bundle{Registry: reg, Metrics: m}
}

// The helpers below accept a nil receiver so components can run without metrics.

func (m *Metrics) Claimed(kind models.WorkKind, n int) {
	if m == nil {
		return
	}
	m.ClaimedTotal.WithLabelValues(string(kind)).Add(float64(n))
}

func (m *Metrics) Renewed(kind models.WorkKind, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.RenewalsTotal.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) Evicted(kind models.WorkKind, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EvictionsTotal.WithLabelValues(string(kind)).Add(float64(n))
}

func (m *Metrics) Tracked(kind models.WorkKind, n int) {
	if m == nil {
		return
	}
	m.TrackedItems.WithLabelValues(string(kind)).Set(float64(n))
}

func (m *Metrics) ObserveProbe(serviceID string, res models.ProbeResult) {
	if m == nil {
		return
	}
	m.ProbeTotal.WithLabelValues(serviceID, string(res.Outcome)).Inc()
	m.ProbeLatency.WithLabelValues(serviceID).Observe(res.Latency.Seconds())
}

func (m *Metrics) AlertSubmitted(created bool) {
	if m == nil {
		return
	}
	if created {
		m.AlertsSubmitted.Inc()
		return
	}
	m.AlertsSuppressed.Inc()
}

func (m *Metrics) Notification(stage models.AlertStatus, result string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(stage.String(), result).Inc()
}
