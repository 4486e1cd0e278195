package v1

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"reacher-sentinel/metrics"
)

const (
	releaseTimeout    = 5 * time.Second
	minStoreTimeout   = time.Second
	workerStopTimeout = 5 * time.Second
)

// Worker processes one leased item until its context is cancelled or the
// work is done.
type Worker interface {
	Run(ctx context.Context)
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context)

func (f WorkerFunc) Run(ctx context.Context) { f(ctx) }

// Spawner builds workers for newly leased ids. Ids missing from the result
// are released again.
type Spawner func(ctx context.Context, ids []string) (map[string]Worker, error)

type ManagerConfig struct {
	MaxItems      int
	PollInterval  time.Duration
	LeaseDuration time.Duration
}

// renewInterval keeps three renewal attempts inside every lease.
func (c ManagerConfig) renewInterval() time.Duration {
	return c.LeaseDuration / 3
}

func (c ManagerConfig) storeTimeout() time.Duration {
	if t := c.LeaseDuration / 4; t > minStoreTimeout {
		return t
	}
	return minStoreTimeout
}

type trackedItem struct {
	cancel     context.CancelFunc
	done       chan struct{}
	leaseUntil time.Time
}

// Manager owns the set of leased items of one fleet member and runs one
// worker goroutine per item.
type Manager struct {
	cfg     ManagerConfig
	poller  WorkPoller
	spawn   Spawner
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	// stopTimeout bounds how long an eviction waits for a worker to return.
	stopTimeout time.Duration

	// pollMu and renewMu keep each loop to one round at a time. The two
	// loops never wait on each other.
	pollMu  sync.Mutex
	renewMu sync.Mutex

	mu     sync.Mutex
	items  map[string]*trackedItem
	closed bool

	base context.Context
	stop context.CancelFunc
}

func NewManager(cfg ManagerConfig, poller WorkPoller, spawn Spawner, logger *slog.Logger, m *metrics.Metrics) *Manager {
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		poller:  poller,
		spawn:   spawn,
		logger:  logger.With("component", "work_manager", "kind", poller.Kind()),
		metrics: m,
		now:     time.Now,
		items:   make(map[string]*trackedItem),

		stopTimeout: workerStopTimeout,
		base:    base,
		stop:    stop,
	}
}

// Owned returns the ids currently tracked, sorted.
func (m *Manager) Owned() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ownedLocked()
}

func (m *Manager) ownedLocked() []string {
	ids := make([]string, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run drives the poll and renew loops until ctx is cancelled, then shuts the
// manager down.
func (m *Manager) Run(ctx context.Context) error {
	cl := cronLogger{m.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(cron.Every(m.cfg.PollInterval), cron.FuncJob(func() { m.PollOnce(ctx) }))
	c.Schedule(cron.Every(m.cfg.renewInterval()), cron.FuncJob(func() { m.RenewOnce(ctx) }))

	m.logger.Info("starting work loops",
		"poll_interval", m.cfg.PollInterval,
		"renew_interval", m.cfg.renewInterval(),
		"max_items", m.cfg.MaxItems)
	c.Start()
	m.PollOnce(ctx)

	<-ctx.Done()
	<-c.Stop().Done()
	m.Shutdown()
	return nil
}

// PollOnce claims new work while the member is below its capacity.
func (m *Manager) PollOnce(ctx context.Context) {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	m.sweep()
	owned := m.Owned()
	limit := m.cfg.MaxItems - len(owned)
	if limit <= 0 {
		m.logger.Debug("at capacity, not claiming", "owned", len(owned))
		return
	}

	started := m.now()
	cctx, cancel := context.WithTimeout(ctx, m.cfg.storeTimeout())
	defer cancel()

	ids, err := m.poller.Claim(cctx, limit, owned)
	if err != nil {
		m.logger.Warn("claim failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	workers, err := m.spawn(cctx, ids)
	if err != nil {
		m.logger.Warn("could not start workers for claimed items", "error", err, "claimed", len(ids))
		m.release(ids)
		return
	}

	var orphans []string
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.release(ids)
		return
	}
	for _, id := range ids {
		w, ok := workers[id]
		if !ok {
			orphans = append(orphans, id)
			continue
		}
		if _, tracked := m.items[id]; tracked {
			continue
		}
		m.startLocked(id, w, started.Add(m.cfg.LeaseDuration))
	}
	tracked := len(m.items)
	m.mu.Unlock()

	if len(orphans) > 0 {
		m.logger.Info("releasing items without a worker", "ids", orphans)
		m.release(orphans)
	}
	m.metrics.Claimed(m.poller.Kind(), len(ids)-len(orphans))
	m.metrics.Tracked(m.poller.Kind(), tracked)
	m.logger.Info("claimed work", "claimed", len(ids)-len(orphans), "tracked", tracked)
}

func (m *Manager) startLocked(id string, w Worker, leaseUntil time.Time) {
	ctx, cancel := context.WithCancel(m.base)
	item := &trackedItem{cancel: cancel, done: make(chan struct{}), leaseUntil: leaseUntil}
	m.items[id] = item

	go func() {
		defer close(item.done)
		w.Run(ctx)
	}()
}

// RenewOnce refreshes every owned lease and evicts the items whose lease is gone.
func (m *Manager) RenewOnce(ctx context.Context) {
	m.renewMu.Lock()
	defer m.renewMu.Unlock()

	m.sweep()
	owned := m.Owned()
	if len(owned) == 0 {
		return
	}

	started := m.now()
	rctx, cancel := context.WithTimeout(ctx, m.cfg.storeTimeout())
	defer cancel()

	kept, err := m.poller.Renew(rctx, owned)
	if err != nil {
		m.metrics.Renewed(m.poller.Kind(), false)
		m.logger.Warn("lease renewal failed", "error", err, "owned", len(owned))
		m.evictExpired()
		return
	}
	m.metrics.Renewed(m.poller.Kind(), true)

	keep := make(map[string]bool, len(kept))
	for _, id := range kept {
		keep[id] = true
	}
	until := started.Add(m.cfg.LeaseDuration)

	var lost []string
	m.mu.Lock()
	for _, id := range owned {
		item, ok := m.items[id]
		if !ok {
			continue
		}
		if keep[id] {
			item.leaseUntil = until
		} else {
			lost = append(lost, id)
		}
	}
	m.mu.Unlock()

	if len(lost) > 0 {
		m.logger.Info("lease lost, evicting", "ids", lost)
		m.evict(lost)
	}
}

// evictExpired drops items whose last confirmed lease has run out.
func (m *Manager) evictExpired() {
	now := m.now()
	var expired []string
	m.mu.Lock()
	for id, item := range m.items {
		if !item.leaseUntil.After(now) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		sort.Strings(expired)
		m.logger.Info("lease expired without renewal, evicting", "ids", expired)
		m.evict(expired)
	}
}

// evict cancels the workers of ids and waits, up to stopTimeout, for them to
// return. A worker still running after that is abandoned with its context
// already cancelled.
func (m *Manager) evict(ids []string) {
	items := make(map[string]*trackedItem, len(ids))
	m.mu.Lock()
	for _, id := range ids {
		if item, ok := m.items[id]; ok {
			items[id] = item
			delete(m.items, id)
		}
	}
	tracked := len(m.items)
	m.mu.Unlock()

	for _, item := range items {
		item.cancel()
	}

	expired := make(chan struct{})
	timer := time.AfterFunc(m.stopTimeout, func() { close(expired) })
	defer timer.Stop()

	var stuck []string
	for id, item := range items {
		select {
		case <-item.done:
		case <-expired:
			select {
			case <-item.done:
			default:
				stuck = append(stuck, id)
			}
		}
	}
	if len(stuck) > 0 {
		sort.Strings(stuck)
		m.logger.Warn("workers did not stop after cancel, abandoning", "ids", stuck, "waited", m.stopTimeout)
	}

	m.metrics.Evicted(m.poller.Kind(), len(items))
	m.metrics.Tracked(m.poller.Kind(), tracked)
}

// sweep forgets workers that returned on their own. Their leases are not
// renewed any more and lapse in the store.
func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, item := range m.items {
		select {
		case <-item.done:
			item.cancel()
			delete(m.items, id)
			m.logger.Debug("worker finished", "id", id)
		default:
		}
	}
}

func (m *Manager) release(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := m.poller.Release(ctx, ids); err != nil {
		m.logger.Warn("release failed, leases will expire", "error", err, "ids", len(ids))
	}
}

// Shutdown cancels every worker, waits for them and releases their leases.
// It is safe to call more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	owned := m.ownedLocked()
	m.mu.Unlock()

	m.stop()
	m.evict(owned)

	if len(owned) > 0 {
		m.release(owned)
	}
	m.logger.Info("work manager stopped", "released", len(owned))
}

// cronLogger routes robfig/cron logs to slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
