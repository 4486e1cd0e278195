package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"reacher-sentinel/models"
)

// DefaultHistoryLimit is how many probe results are kept per service.
const DefaultHistoryLimit = 1000

// ProbeHistory keeps recent probe results and daily outcome counters per service.
type ProbeHistory interface {
	Record(ctx context.Context, serviceID string, r models.ProbeResult) error
	Recent(ctx context.Context, serviceID string, n int) ([]models.ProbeResult, error)
	DailyCounts(ctx context.Context, serviceID string, day time.Time) (map[string]int64, error)
}

func historyKey(serviceID string) string {
	return fmt.Sprintf("service:%s:history", serviceID)
}

func metricsKey(serviceID string, day time.Time) string {
	return fmt.Sprintf("service:%s:metrics:%s", serviceID, day.UTC().Format("2006-01-02"))
}

// RedisProbeHistory stores results in a capped list and counts outcomes in a
// hash per day.
type RedisProbeHistory struct {
	rdb   *redis.Client
	limit int64
	ttl   time.Duration
}

func NewRedisProbeHistory(rdb *redis.Client, limit int) *RedisProbeHistory {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &RedisProbeHistory{rdb: rdb, limit: int64(limit), ttl: 30 * 24 * time.Hour}
}

func (h *RedisProbeHistory) Record(ctx context.Context, serviceID string, r models.ProbeResult) error {
	r.LatencyMs = r.Latency.Milliseconds()
	entry, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode probe result: %w", err)
	}

	hk := historyKey(serviceID)
	mk := metricsKey(serviceID, r.CheckedAt)
	_, err = h.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, hk, entry)
		pipe.LTrim(ctx, hk, -h.limit, -1)
		pipe.HIncrBy(ctx, mk, "total_checks", 1)
		pipe.HIncrBy(ctx, mk, string(r.Outcome), 1)
		pipe.Expire(ctx, mk, h.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record probe history for %s: %w", serviceID, err)
	}
	return nil
}

// Recent returns up to n results, newest last.
func (h *RedisProbeHistory) Recent(ctx context.Context, serviceID string, n int) ([]models.ProbeResult, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := h.rdb.LRange(ctx, historyKey(serviceID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read probe history for %s: %w", serviceID, err)
	}
	out := make([]models.ProbeResult, 0, len(raw))
	for _, s := range raw {
		var r models.ProbeResult
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			continue
		}
		r.Latency = time.Duration(r.LatencyMs) * time.Millisecond
		out = append(out, r)
	}
	return out, nil
}

func (h *RedisProbeHistory) DailyCounts(ctx context.Context, serviceID string, day time.Time) (map[string]int64, error) {
	raw, err := h.rdb.HGetAll(ctx, metricsKey(serviceID, day)).Result()
	if err != nil {
		return nil, fmt.Errorf("read probe counters for %s: %w", serviceID, err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		var n int64
		if _, err := fmt.Sscan(v, &n); err == nil {
			out[k] = n
		}
	}
	return out, nil
}

// MemoryProbeHistory is the ProbeHistory used without Redis.
type MemoryProbeHistory struct {
	mu      sync.Mutex
	limit   int
	results map[string][]models.ProbeResult
	counts  map[string]map[string]int64
}

func NewMemoryProbeHistory(limit int) *MemoryProbeHistory {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MemoryProbeHistory{
		limit:   limit,
		results: make(map[string][]models.ProbeResult),
		counts:  make(map[string]map[string]int64),
	}
}

func (h *MemoryProbeHistory) Record(_ context.Context, serviceID string, r models.ProbeResult) error {
	r.LatencyMs = r.Latency.Milliseconds()

	h.mu.Lock()
	defer h.mu.Unlock()

	list := append(h.results[serviceID], r)
	if len(list) > h.limit {
		list = list[len(list)-h.limit:]
	}
	h.results[serviceID] = list

	mk := metricsKey(serviceID, r.CheckedAt)
	if h.counts[mk] == nil {
		h.counts[mk] = make(map[string]int64)
	}
	h.counts[mk]["total_checks"]++
	h.counts[mk][string(r.Outcome)]++
	return nil
}

func (h *MemoryProbeHistory) Recent(_ context.Context, serviceID string, n int) ([]models.ProbeResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.results[serviceID]
	if n < len(list) {
		list = list[len(list)-n:]
	}
	return append([]models.ProbeResult(nil), list...), nil
}

func (h *MemoryProbeHistory) DailyCounts(_ context.Context, serviceID string, day time.Time) (map[string]int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]int64)
	for k, v := range h.counts[metricsKey(serviceID, day)] {
		out[k] = v
	}
	return out, nil
}
