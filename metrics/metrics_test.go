package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"reacher-sentinel/models"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.Claimed(models.WorkServices, 3)
	m.Renewed(models.WorkAlerts, false)
	m.Evicted(models.WorkServices, 1)
	m.Tracked(models.WorkServices, 2)
	m.ObserveProbe("svc", models.ProbeResult{Outcome: models.ProbeTimeout})
	m.AlertSubmitted(true)
	m.Notification(models.StatusSubmitted, "delivered")
}

func TestBundleCounters(t *testing.T) {
	b := NewBundle()
	m := b.Metrics

	m.Claimed(models.WorkServices, 3)
	m.Claimed(models.WorkServices, 2)
	m.AlertSubmitted(true)
	m.AlertSubmitted(false)
	m.AlertSubmitted(false)
	m.ObserveProbe("svc-a", models.ProbeResult{Outcome: models.ProbeSuccess})

	if got := testutil.ToFloat64(m.ClaimedTotal.WithLabelValues("services")); got != 5 {
		t.Errorf("claimed = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.AlertsSuppressed); got != 2 {
		t.Errorf("suppressed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ProbeTotal.WithLabelValues("svc-a", "success")); got != 1 {
		t.Errorf("probe total = %v, want 1", got)
	}

	families, err := b.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected registered metric families")
	}
}
