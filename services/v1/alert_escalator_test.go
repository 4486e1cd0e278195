package v1

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reacher-sentinel/config"
	"reacher-sentinel/models"
	"reacher-sentinel/store"
)

type recordingNotifier struct {
	mu       sync.Mutex
	sent     []models.ContactMethod
	err      error
	onNotify func()
}

func (n *recordingNotifier) Notify(_ context.Context, contact models.ContactMethod, _ models.Alert) error {
	if n.onNotify != nil {
		n.onNotify()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, contact)
	return nil
}

type escalationFixture struct {
	clock    *fakeClock
	store    *store.Memory
	notifier *recordingNotifier
	esc      *AlertEscalator
	poller   *AlertPoller
	alert    models.Alert
}

func newEscalationFixture(t *testing.T) *escalationFixture {
	t.Helper()
	clock := newFakeClock()
	st := store.NewMemory(clock.Now)
	registerService(t, st, "svc-a")

	alert, created, err := st.SubmitAlert(context.Background(), models.AlertSubmission{ServiceID: "svc-a", MonitorID: "m1"})
	if err != nil || !created {
		t.Fatalf("SubmitAlert: created=%v err=%v", created, err)
	}
	n := &recordingNotifier{}
	return &escalationFixture{
		clock:    clock,
		store:    st,
		notifier: n,
		esc:      NewAlertEscalator(st, n, "a1", discardLogger(), nil),
		poller: NewAlertPoller(st, config.AlerterConfig{
			ID: "a1", LeaseDuration: 10 * time.Second, CoveredShards: allShards(), BatchLimit: 10,
		}),
		alert: alert,
	}
}

func (f *escalationFixture) claim(t *testing.T) {
	t.Helper()
	ids, err := f.poller.Claim(context.Background(), 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != f.alert.AlertID {
		t.Fatalf("claimed %v, want [%s]", ids, f.alert.AlertID)
	}
}

func (f *escalationFixture) status(t *testing.T) models.Alert {
	t.Helper()
	a, err := f.store.GetAlert(context.Background(), f.alert.AlertID)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestEscalator_FullEscalation(t *testing.T) {
	f := newEscalationFixture(t)
	ctx := context.Background()

	f.claim(t)
	if got := f.esc.Escalate(ctx, f.alert.AlertID); got != EscalationAdvanced {
		t.Fatalf("first escalation = %s, want advanced", got)
	}
	a := f.status(t)
	if a.Status != models.StatusNotify1 || a.LeasedBy != "" {
		t.Fatalf("alert = %+v, want unleased NOTIFY1", a)
	}
	if want := f.clock.Now().Add(30 * time.Second); a.StatusExpiresAt == nil || !a.StatusExpiresAt.Equal(want) {
		t.Errorf("status expires at %v, want %v", a.StatusExpiresAt, want)
	}

	// the second responder is reached only after the allowed response time
	f.clock.Advance(31 * time.Second)
	f.claim(t)
	if got := f.esc.Escalate(ctx, f.alert.AlertID); got != EscalationAdvanced {
		t.Fatalf("second escalation = %s, want advanced", got)
	}
	if f.status(t).Status != models.StatusNotify2 {
		t.Errorf("status = %s, want NOTIFY2", f.status(t).Status)
	}

	if len(f.notifier.sent) != 2 || f.notifier.sent[0].Position != 0 || f.notifier.sent[1].Position != 1 {
		t.Errorf("notified %+v, want contact 0 then contact 1", f.notifier.sent)
	}

	if got := f.esc.Escalate(ctx, f.alert.AlertID); got != EscalationNoAction {
		t.Errorf("escalating NOTIFY2 = %s, want no_action", got)
	}
}

func TestEscalator_DeliveryFailureKeepsStage(t *testing.T) {
	f := newEscalationFixture(t)
	f.notifier.err = errors.New("smtp down")
	f.claim(t)

	if got := f.esc.Escalate(context.Background(), f.alert.AlertID); got != EscalationDeliveryFailed {
		t.Fatalf("outcome = %s, want delivery_failed", got)
	}
	a := f.status(t)
	if a.Status != models.StatusSubmitted || a.LeasedBy != "a1" {
		t.Errorf("alert = %+v, want SUBMITTED still leased by a1", a)
	}

	// retried once the stage lease lapses
	f.notifier.err = nil
	f.clock.Advance(11 * time.Second)
	f.claim(t)
	if got := f.esc.Escalate(context.Background(), f.alert.AlertID); got != EscalationAdvanced {
		t.Errorf("retry outcome = %s, want advanced", got)
	}
}

func TestEscalator_AckDuringNotificationWins(t *testing.T) {
	f := newEscalationFixture(t)
	f.claim(t)
	f.notifier.onNotify = func() {
		if err := f.store.AckAlert(context.Background(), f.alert.AlertID, "operator-1"); err != nil {
			t.Errorf("AckAlert: %v", err)
		}
	}

	if got := f.esc.Escalate(context.Background(), f.alert.AlertID); got != EscalationConflict {
		t.Fatalf("outcome = %s, want conflict", got)
	}
	if f.status(t).Status != models.StatusAck {
		t.Errorf("status = %s, want ACK", f.status(t).Status)
	}
}

func TestEscalator_AckedAlertIsLeftAlone(t *testing.T) {
	f := newEscalationFixture(t)
	if err := f.store.AckAlert(context.Background(), f.alert.AlertID, "operator-1"); err != nil {
		t.Fatal(err)
	}
	if got := f.esc.Escalate(context.Background(), f.alert.AlertID); got != EscalationNoAction {
		t.Errorf("outcome = %s, want no_action", got)
	}
	if len(f.notifier.sent) != 0 {
		t.Errorf("notified %v for an acknowledged alert", f.notifier.sent)
	}
}

func TestEscalator_MissingService(t *testing.T) {
	f := newEscalationFixture(t)
	f.claim(t)
	if err := f.store.DeleteService(context.Background(), "svc-a"); err != nil {
		t.Fatal(err)
	}
	if got := f.esc.Escalate(context.Background(), f.alert.AlertID); got != EscalationMissingContact {
		t.Errorf("outcome = %s, want missing_contact", got)
	}
	if f.status(t).Status != models.StatusSubmitted {
		t.Errorf("status moved without a notification")
	}
}

func TestEscalator_CancelledBeforeNotify(t *testing.T) {
	f := newEscalationFixture(t)
	f.claim(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := f.esc.Escalate(ctx, f.alert.AlertID); got != EscalationCancelled {
		t.Errorf("outcome = %s, want cancelled", got)
	}
	if len(f.notifier.sent) != 0 {
		t.Error("cancelled escalation sent a notification")
	}
}

func TestEscalator_LostLeaseConflicts(t *testing.T) {
	f := newEscalationFixture(t)
	f.claim(t)
	// a1's stage lease lapses and a2 takes the alert over
	f.clock.Advance(11 * time.Second)
	other := NewAlertPoller(f.store, config.AlerterConfig{ID: "a2", LeaseDuration: 10 * time.Second, CoveredShards: allShards()})
	if ids, _ := other.Claim(context.Background(), 10, nil); len(ids) != 1 {
		t.Fatalf("a2 claimed %v", ids)
	}

	if got := f.esc.Escalate(context.Background(), f.alert.AlertID); got != EscalationConflict {
		t.Errorf("outcome = %s, want conflict", got)
	}
}

func TestAlertSubmitter_CooldownCollapsesReplicas(t *testing.T) {
	clock := newFakeClock()
	st := store.NewMemory(clock.Now)
	registerService(t, st, "svc-a")
	ctx := context.Background()

	for _, monitorID := range []string{"m1", "m2", "m3"} {
		s := NewAlertSubmitter(st, monitorID, 2*time.Minute, discardLogger(), nil)
		if err := s.Submit(ctx, "svc-a"); err != nil {
			t.Fatalf("Submit(%s): %v", monitorID, err)
		}
	}
	alerts, _ := st.ListAlerts(ctx, "svc-a")
	if len(alerts) != 1 || alerts[0].MonitorID != "m1" {
		t.Fatalf("alerts = %+v, want one alert from m1", alerts)
	}

	clock.Advance(2 * time.Minute)
	if err := NewAlertSubmitter(st, "m2", 2*time.Minute, discardLogger(), nil).Submit(ctx, "svc-a"); err != nil {
		t.Fatal(err)
	}
	alerts, _ = st.ListAlerts(ctx, "svc-a")
	if len(alerts) != 2 {
		t.Errorf("got %d alerts after cooldown, want 2", len(alerts))
	}
}

func TestAlertSubmitter_UnknownService(t *testing.T) {
	st := store.NewMemory(nil)
	err := NewAlertSubmitter(st, "m1", time.Minute, discardLogger(), nil).Submit(context.Background(), "ghost")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// stallingStore hangs the named call until its context ends.
type stallingStore struct {
	*store.Memory
	stall string
}

func (s *stallingStore) GetAlert(ctx context.Context, alertID string) (models.Alert, error) {
	if s.stall == "GetAlert" {
		<-ctx.Done()
		return models.Alert{}, ctx.Err()
	}
	return s.Memory.GetAlert(ctx, alertID)
}

func (s *stallingStore) AdvanceAlert(ctx context.Context, req store.AdvanceRequest) error {
	if s.stall == "AdvanceAlert" {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.Memory.AdvanceAlert(ctx, req)
}

// hangingNotifier blocks until the attempt gives up on it.
type hangingNotifier struct{}

func (hangingNotifier) Notify(ctx context.Context, _ models.ContactMethod, _ models.Alert) error {
	<-ctx.Done()
	return ctx.Err()
}

func escalateWithin(t *testing.T, esc *AlertEscalator, alertID string) EscalationOutcome {
	t.Helper()
	done := make(chan EscalationOutcome, 1)
	go func() { done <- esc.Escalate(context.Background(), alertID) }()
	select {
	case got := <-done:
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("Escalate did not return")
		return 0
	}
}

func TestEscalator_StalledStoreCallsTimeOut(t *testing.T) {
	for _, method := range []string{"GetAlert", "AdvanceAlert"} {
		t.Run(method, func(t *testing.T) {
			f := newEscalationFixture(t)
			f.claim(t)
			esc := NewAlertEscalator(&stallingStore{Memory: f.store, stall: method}, f.notifier, "a1", discardLogger(), nil)
			esc.storeTimeout = 50 * time.Millisecond

			if got := escalateWithin(t, esc, f.alert.AlertID); got != EscalationStoreError {
				t.Errorf("outcome = %s, want store_error", got)
			}
			a := f.status(t)
			if a.Status != models.StatusSubmitted || a.LeasedBy != "a1" {
				t.Errorf("alert = %+v, want SUBMITTED still leased by a1", a)
			}
		})
	}
}

func TestEscalator_AttemptDeadlineFailsDelivery(t *testing.T) {
	f := newEscalationFixture(t)
	f.claim(t)
	esc := NewAlertEscalator(f.store, hangingNotifier{}, "a1", discardLogger(), nil)
	esc.attemptTimeout = 50 * time.Millisecond

	// the deadline is the attempt's own, so this is a failed delivery and not an eviction
	if got := escalateWithin(t, esc, f.alert.AlertID); got != EscalationDeliveryFailed {
		t.Errorf("outcome = %s, want delivery_failed", got)
	}
	if f.status(t).Status != models.StatusSubmitted {
		t.Errorf("status = %s, want SUBMITTED", f.status(t).Status)
	}
}
