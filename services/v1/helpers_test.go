package v1

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"reacher-sentinel/config"
	"reacher-sentinel/models"
	"reacher-sentinel/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testService(id string) models.MonitoredService {
	return models.MonitoredService{
		ServiceID:           id,
		URL:                 "http://" + id + ".internal/health",
		Frequency:           10 * time.Second,
		AlertingWindow:      20 * time.Second,
		AllowedResponseTime: 30 * time.Second,
		ContactMethods: []models.ContactMethod{
			{Position: 0, Kind: models.ContactEmail, Address: "first@" + id + ".internal"},
			{Position: 1, Kind: models.ContactWebhook, Address: "http://hooks.internal/" + id},
		},
	}
}

func registerService(t *testing.T, st store.Store, id string) models.MonitoredService {
	t.Helper()
	svc, err := st.RegisterService(context.Background(), testService(id))
	if err != nil {
		t.Fatalf("RegisterService(%s): %v", id, err)
	}
	return svc
}

func allShards() []int {
	shards := make([]int, models.ShardsCount)
	for i := range shards {
		shards[i] = i
	}
	return shards
}

func testMonitorConfig(id string) config.MonitorConfig {
	return config.MonitorConfig{
		ID:                   id,
		LeaseDuration:        30 * time.Second,
		ReplicationFactor:    3,
		MaxMonitoredServices: 10,
		WorkPollInterval:     time.Second,
		AlertCooldown:        2 * time.Minute,
	}
}
