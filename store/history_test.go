package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"reacher-sentinel/models"
)

func exerciseHistory(t *testing.T, h ProbeHistory, serviceID string) {
	t.Helper()
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	outcomes := []models.ProbeOutcome{models.ProbeSuccess, models.ProbeTimeout, models.ProbeSuccess, models.ProbeHTTPError}
	for i, o := range outcomes {
		r := models.ProbeResult{Outcome: o, Latency: time.Duration(i+1) * 100 * time.Millisecond, CheckedAt: day.Add(time.Duration(i) * time.Minute)}
		if err := h.Record(ctx, serviceID, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := h.Recent(ctx, serviceID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Fatalf("Recent returned %d results, want 3", len(recent))
	}
	if recent[2].Outcome != models.ProbeHTTPError || recent[2].Latency != 400*time.Millisecond {
		t.Errorf("newest result = %+v", recent[2])
	}

	counts, err := h.DailyCounts(ctx, serviceID, day)
	if err != nil {
		t.Fatal(err)
	}
	if counts["total_checks"] != 4 || counts["success"] != 2 || counts["timeout"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestMemoryProbeHistory(t *testing.T) {
	exerciseHistory(t, NewMemoryProbeHistory(10), "svc-a")
}

func TestMemoryProbeHistory_Capped(t *testing.T) {
	h := NewMemoryProbeHistory(2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		h.Record(ctx, "svc-a", models.ProbeResult{Outcome: models.ProbeSuccess, StatusCode: 200 + i, CheckedAt: time.Now()})
	}
	got, _ := h.Recent(ctx, "svc-a", 10)
	if len(got) != 2 || got[1].StatusCode != 204 {
		t.Errorf("recent = %+v", got)
	}
}

func TestRedisProbeHistory(t *testing.T) {
	url := os.Getenv("REACHER_TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		t.Skipf("skipping Redis test (cannot connect): %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	serviceID := "history-test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() {
		rdb.Del(context.Background(), historyKey(serviceID), metricsKey(serviceID, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	})
	exerciseHistory(t, NewRedisProbeHistory(rdb, 10), serviceID)
}
