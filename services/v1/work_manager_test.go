package v1

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"reacher-sentinel/config"
	"reacher-sentinel/models"
	"reacher-sentinel/store"
)

type fakePoller struct {
	mu        sync.Mutex
	next      []string
	claims    int
	lastLimit int
	lastOwned []string
	renew     func(owned []string) ([]string, error)
	released  []string

	// when set, Claim signals claimEntered and then waits on claimGate
	claimGate    chan struct{}
	claimEntered chan struct{}
}

func (p *fakePoller) Kind() models.WorkKind { return models.WorkServices }

func (p *fakePoller) Claim(_ context.Context, limit int, owned []string) ([]string, error) {
	if p.claimGate != nil {
		p.claimEntered <- struct{}{}
		<-p.claimGate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claims++
	p.lastLimit = limit
	ids := p.next
	if len(ids) > limit {
		ids = ids[:limit]
	}
	p.next = nil
	return ids, nil
}

func (p *fakePoller) Renew(_ context.Context, owned []string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastOwned = owned
	if p.renew != nil {
		return p.renew(owned)
	}
	return owned, nil
}

func (p *fakePoller) Release(_ context.Context, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, ids...)
	return nil
}

type trackingWorker struct {
	started chan struct{}
	stopped chan struct{}
}

func newTrackingWorker() *trackingWorker {
	return &trackingWorker{started: make(chan struct{}), stopped: make(chan struct{})}
}

func (w *trackingWorker) Run(ctx context.Context) {
	close(w.started)
	<-ctx.Done()
	close(w.stopped)
}

func (w *trackingWorker) isStopped() bool {
	select {
	case <-w.stopped:
		return true
	default:
		return false
	}
}

type workerSet struct {
	mu      sync.Mutex
	workers map[string]*trackingWorker
	skip    map[string]bool
}

func (s *workerSet) spawn(_ context.Context, ids []string) (map[string]Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workers == nil {
		s.workers = make(map[string]*trackingWorker)
	}
	out := make(map[string]Worker)
	for _, id := range ids {
		if s.skip[id] {
			continue
		}
		w := newTrackingWorker()
		s.workers[id] = w
		out[id] = w
	}
	return out, nil
}

func (s *workerSet) get(id string) *trackingWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workers[id]
}

func newTestManager(p WorkPoller, spawn Spawner, max int) *Manager {
	return NewManager(ManagerConfig{MaxItems: max, PollInterval: time.Second, LeaseDuration: 30 * time.Second},
		p, spawn, discardLogger(), nil)
}

func TestManager_PollRespectsCapacity(t *testing.T) {
	p := &fakePoller{next: []string{"a", "b", "c", "d"}}
	ws := &workerSet{}
	m := newTestManager(p, ws.spawn, 3)
	defer m.Shutdown()

	m.PollOnce(context.Background())
	if got := m.Owned(); fmt.Sprint(got) != "[a b c]" {
		t.Fatalf("owned = %v, want [a b c]", got)
	}
	for _, id := range []string{"a", "b", "c"} {
		select {
		case <-ws.get(id).started:
		case <-time.After(time.Second):
			t.Fatalf("worker %s never started", id)
		}
	}

	p.next = []string{"e"}
	m.PollOnce(context.Background())
	if p.claims != 1 {
		t.Errorf("claimed %d times, want 1 while at capacity", p.claims)
	}
}

func TestManager_PollPassesRemainingCapacity(t *testing.T) {
	p := &fakePoller{next: []string{"a"}}
	ws := &workerSet{}
	m := newTestManager(p, ws.spawn, 5)
	defer m.Shutdown()

	m.PollOnce(context.Background())
	m.PollOnce(context.Background())
	if p.lastLimit != 4 {
		t.Errorf("second claim limit = %d, want 4", p.lastLimit)
	}
}

func TestManager_RenewEvictsLostLeases(t *testing.T) {
	p := &fakePoller{next: []string{"a", "b", "c"}}
	ws := &workerSet{}
	m := newTestManager(p, ws.spawn, 10)
	defer m.Shutdown()

	m.PollOnce(context.Background())
	p.renew = func(owned []string) ([]string, error) { return []string{"a", "c"}, nil }
	m.RenewOnce(context.Background())

	if !ws.get("b").isStopped() {
		t.Error("worker b still running after its lease was lost")
	}
	if ws.get("a").isStopped() || ws.get("c").isStopped() {
		t.Error("renewed workers were stopped")
	}
	if got := m.Owned(); fmt.Sprint(got) != "[a c]" {
		t.Errorf("owned = %v, want [a c]", got)
	}
}

func TestManager_RenewErrorEvictsOnlyExpiredItems(t *testing.T) {
	clock := newFakeClock()
	p := &fakePoller{next: []string{"a"}}
	ws := &workerSet{}
	m := newTestManager(p, ws.spawn, 10)
	m.now = clock.Now
	defer m.Shutdown()

	m.PollOnce(context.Background())
	p.renew = func([]string) ([]string, error) { return nil, errors.New("store unavailable") }

	clock.Advance(20 * time.Second)
	m.RenewOnce(context.Background())
	if len(m.Owned()) != 1 {
		t.Fatal("item evicted although its lease had not run out yet")
	}

	clock.Advance(11 * time.Second)
	m.RenewOnce(context.Background())
	if len(m.Owned()) != 0 {
		t.Error("item kept after its lease ran out without renewal")
	}
	if !ws.get("a").isStopped() {
		t.Error("worker a still running")
	}
}

func TestManager_ReleasesItemsWithoutWorker(t *testing.T) {
	p := &fakePoller{next: []string{"a", "gone"}}
	ws := &workerSet{skip: map[string]bool{"gone": true}}
	m := newTestManager(p, ws.spawn, 10)
	defer m.Shutdown()

	m.PollOnce(context.Background())
	if fmt.Sprint(p.released) != "[gone]" {
		t.Errorf("released = %v, want [gone]", p.released)
	}
	if fmt.Sprint(m.Owned()) != "[a]" {
		t.Errorf("owned = %v", m.Owned())
	}
}

func TestManager_ShutdownStopsWorkersAndReleases(t *testing.T) {
	p := &fakePoller{next: []string{"a", "b"}}
	ws := &workerSet{}
	m := newTestManager(p, ws.spawn, 10)

	m.PollOnce(context.Background())
	m.Shutdown()
	m.Shutdown()

	for _, id := range []string{"a", "b"} {
		if !ws.get(id).isStopped() {
			t.Errorf("worker %s still running after shutdown", id)
		}
	}
	if len(p.released) != 2 {
		t.Errorf("released = %v, want both items", p.released)
	}

	p.next = []string{"c"}
	m.PollOnce(context.Background())
	if len(m.Owned()) != 0 {
		t.Error("manager started work after shutdown")
	}
}

func TestManager_FinishedWorkersAreNotRenewed(t *testing.T) {
	p := &fakePoller{next: []string{"once"}}
	finished := make(chan struct{})
	spawn := func(_ context.Context, ids []string) (map[string]Worker, error) {
		return map[string]Worker{"once": WorkerFunc(func(context.Context) { close(finished) })}, nil
	}
	m := newTestManager(p, spawn, 10)
	defer m.Shutdown()

	m.PollOnce(context.Background())
	<-finished

	deadline := time.Now().Add(time.Second)
	for len(m.Owned()) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		m.sweep()
	}
	m.RenewOnce(context.Background())
	if len(p.lastOwned) != 0 {
		t.Errorf("renewed %v for a finished worker", p.lastOwned)
	}
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	st := store.NewMemory(nil)
	registerService(t, st, "svc-a")
	poller := NewServicePoller(st, config.MonitorConfig{ID: "m1", ReplicationFactor: 3, LeaseDuration: 30 * time.Second})
	ws := &workerSet{}
	m := NewManager(ManagerConfig{MaxItems: 5, PollInterval: time.Hour, LeaseDuration: 30 * time.Second},
		poller, ws.spawn, discardLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for ws.get("svc-a") == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ws.get("svc-a") == nil {
		t.Fatal("initial poll did not start a worker")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !ws.get("svc-a").isStopped() {
		t.Error("worker still running after Run returned")
	}
	leases, _ := st.MemberLeases(context.Background(), "m1")
	if len(leases) != 0 {
		t.Errorf("leases not released on shutdown: %+v", leases)
	}
}

func TestManager_RenewDoesNotWaitForSlowClaim(t *testing.T) {
	p := &fakePoller{next: []string{"a"}}
	ws := &workerSet{}
	m := newTestManager(p, ws.spawn, 10)
	defer m.Shutdown()
	m.PollOnce(context.Background())

	p.claimGate = make(chan struct{})
	p.claimEntered = make(chan struct{}, 1)
	polled := make(chan struct{})
	go func() {
		m.PollOnce(context.Background())
		close(polled)
	}()
	<-p.claimEntered

	renewed := make(chan struct{})
	go func() {
		m.RenewOnce(context.Background())
		close(renewed)
	}()
	select {
	case <-renewed:
	case <-time.After(time.Second):
		t.Fatal("renew round blocked behind a claim in progress")
	}
	if fmt.Sprint(p.lastOwned) != "[a]" {
		t.Errorf("renewed %v, want [a]", p.lastOwned)
	}

	close(p.claimGate)
	<-polled
}

func TestManager_EvictionAbandonsStuckWorker(t *testing.T) {
	p := &fakePoller{next: []string{"stuck", "ok"}}
	hang := make(chan struct{})
	defer close(hang)
	ws := &workerSet{}
	spawn := func(ctx context.Context, ids []string) (map[string]Worker, error) {
		workers, _ := ws.spawn(ctx, []string{"ok"})
		// ignores cancellation, as a transport without a deadline would
		workers["stuck"] = WorkerFunc(func(context.Context) { <-hang })
		return workers, nil
	}
	m := newTestManager(p, spawn, 10)
	m.stopTimeout = 50 * time.Millisecond

	m.PollOnce(context.Background())
	p.renew = func([]string) ([]string, error) { return nil, nil }

	renewed := make(chan struct{})
	go func() {
		m.RenewOnce(context.Background())
		close(renewed)
	}()
	select {
	case <-renewed:
	case <-time.After(2 * time.Second):
		t.Fatal("renew round blocked on a worker that ignores cancellation")
	}
	if len(m.Owned()) != 0 {
		t.Errorf("owned = %v, want none", m.Owned())
	}
	if !ws.get("ok").isStopped() {
		t.Error("well behaved worker was not stopped")
	}

	stopped := make(chan struct{})
	go func() {
		m.Shutdown()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown hung")
	}
}
