package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"reacher-sentinel/models"
)

// Memory is a single-process Store. One mutex serializes every operation,
// which gives the same isolation the Postgres store gets from SERIALIZABLE
// transactions. It backs tests and STORE_DRIVER=memory.
type Memory struct {
	mu  sync.Mutex
	now func() time.Time

	services map[string]models.MonitoredService
	leases   map[string]map[string]models.MonitorLease // service -> monitor -> lease
	alerts   map[string]*models.Alert
	alertLog []models.AlertLogEntry
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store. A nil clock means time.Now.
func NewMemory(clock func() time.Time) *Memory {
	if clock == nil {
		clock = time.Now
	}
	return &Memory{
		now:      clock,
		services: make(map[string]models.MonitoredService),
		leases:   make(map[string]map[string]models.MonitorLease),
		alerts:   make(map[string]*models.Alert),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CurrentTimestamp(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().UTC(), nil
}

func (m *Memory) ClaimWork(ctx context.Context, req ClaimRequest) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch req.Kind {
	case models.WorkServices:
		return m.claimServicesLocked(req), nil
	case models.WorkAlerts:
		return m.claimAlertsLocked(req), nil
	default:
		return nil, fmt.Errorf("claim: unknown work kind %q", req.Kind)
	}
}

func (m *Memory) claimServicesLocked(req ClaimRequest) []string {
	now := m.now()
	factor := req.ReplicationFactor
	if factor < 1 {
		factor = 1
	}

	type candidate struct {
		id   string
		live int
	}
	var candidates []candidate
	for id := range m.services {
		live, mine := 0, false
		for monitorID, l := range m.leases[id] {
			if !l.Live(now) {
				continue
			}
			live++
			if monitorID == req.OwnerID {
				mine = true
			}
		}
		if mine || live >= factor {
			continue
		}
		candidates = append(candidates, candidate{id: id, live: live})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].live != candidates[j].live {
			return candidates[i].live < candidates[j].live
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	selected := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if m.leases[c.id] == nil {
			m.leases[c.id] = make(map[string]models.MonitorLease)
		}
		m.leases[c.id][req.OwnerID] = models.MonitorLease{
			ServiceID:       c.id,
			MonitorID:       req.OwnerID,
			LeasedAt:        now,
			LeaseDurationMs: req.LeaseDuration.Milliseconds(),
			LeasedUntil:     now.Add(req.LeaseDuration),
		}
		selected = append(selected, c.id)
	}
	return difference(selected, req.Exclude)
}

func (m *Memory) claimAlertsLocked(req ClaimRequest) []string {
	now := m.now()
	shards := make(map[int]bool, len(req.Shards))
	for _, s := range req.Shards {
		shards[s] = true
	}

	var candidates []*models.Alert
	for _, a := range m.alerts {
		if !shards[a.ShardID] || !claimableStatus(a.Status) {
			continue
		}
		if a.StatusExpiresAt != nil && !a.StatusExpiresAt.Before(now) {
			continue
		}
		candidates = append(candidates, a)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].DetectionTimestamp.Equal(candidates[j].DetectionTimestamp) {
			return candidates[i].DetectionTimestamp.Before(candidates[j].DetectionTimestamp)
		}
		return candidates[i].AlertID < candidates[j].AlertID
	})
	if len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	selected := make([]string, 0, len(candidates))
	for _, a := range candidates {
		until := now.Add(req.LeaseDuration)
		a.LeasedBy = req.OwnerID
		a.StatusExpiresAt = &until
		selected = append(selected, a.AlertID)
	}
	return difference(selected, req.Exclude)
}

func claimableStatus(s models.AlertStatus) bool {
	return s == models.StatusSubmitted || s == models.StatusNotify1
}

func (m *Memory) RenewWork(ctx context.Context, req RenewRequest) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	until := now.Add(req.LeaseDuration)
	renewed := make([]string, 0, len(req.IDs))

	switch req.Kind {
	case models.WorkServices:
		for _, id := range req.IDs {
			l, ok := m.leases[id][req.OwnerID]
			if !ok || !l.Live(now) {
				continue
			}
			l.LeasedAt = now
			l.LeaseDurationMs = req.LeaseDuration.Milliseconds()
			l.LeasedUntil = until
			m.leases[id][req.OwnerID] = l
			renewed = append(renewed, id)
		}
	case models.WorkAlerts:
		for _, id := range req.IDs {
			a, ok := m.alerts[id]
			if !ok || a.LeasedBy != req.OwnerID || !claimableStatus(a.Status) {
				continue
			}
			if a.StatusExpiresAt == nil || !a.StatusExpiresAt.After(now) {
				continue
			}
			u := until
			a.StatusExpiresAt = &u
			renewed = append(renewed, id)
		}
	default:
		return nil, fmt.Errorf("renew: unknown work kind %q", req.Kind)
	}
	return renewed, nil
}

func (m *Memory) ReleaseWork(ctx context.Context, kind models.WorkKind, ownerID string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		switch kind {
		case models.WorkServices:
			delete(m.leases[id], ownerID)
		case models.WorkAlerts:
			if a, ok := m.alerts[id]; ok && a.LeasedBy == ownerID && claimableStatus(a.Status) {
				a.LeasedBy = ""
				a.StatusExpiresAt = nil
			}
		}
	}
	return nil
}

func (m *Memory) DescribeServices(ctx context.Context, ids []string) ([]models.MonitoredService, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.MonitoredService, 0, len(ids))
	for _, id := range ids {
		if svc, ok := m.services[id]; ok {
			out = append(out, copyService(svc))
		}
	}
	return out, nil
}

func (m *Memory) ListServices(ctx context.Context) ([]models.MonitoredService, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.MonitoredService, 0, len(m.services))
	for _, svc := range m.services {
		out = append(out, copyService(svc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out, nil
}

func (m *Memory) RegisterService(ctx context.Context, svc models.MonitoredService) (models.MonitoredService, error) {
	if err := ctx.Err(); err != nil {
		return models.MonitoredService{}, err
	}
	svc.ContactMethods = normalizeContacts(svc.ContactMethods)
	if svc.ServiceID == "" {
		svc.ServiceID = uuid.NewString()
	}
	if err := ValidateService(svc); err != nil {
		return models.MonitoredService{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[svc.ServiceID] = copyService(svc)
	return svc, nil
}

func (m *Memory) DeleteService(ctx context.Context, serviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[serviceID]; !ok {
		return ErrNotFound
	}
	delete(m.services, serviceID)
	delete(m.leases, serviceID)
	return nil
}

func (m *Memory) SubmitAlert(ctx context.Context, sub models.AlertSubmission) (models.Alert, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Alert{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[sub.ServiceID]; !ok {
		return models.Alert{}, false, fmt.Errorf("submit alert for %s: %w", sub.ServiceID, ErrNotFound)
	}
	detectedAt := sub.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = m.now()
	}
	detectedAt = detectedAt.UTC()

	var last *models.Alert
	for _, a := range m.alerts {
		if a.ServiceID != sub.ServiceID {
			continue
		}
		if last == nil || a.DetectionTimestamp.After(last.DetectionTimestamp) {
			last = a
		}
	}
	if last != nil && detectedAt.Sub(last.DetectionTimestamp) < sub.Cooldown {
		return copyAlert(last), false, nil
	}

	a := &models.Alert{
		AlertID:            uuid.NewString(),
		ServiceID:          sub.ServiceID,
		MonitorID:          sub.MonitorID,
		ShardID:            models.ShardFor(sub.ServiceID),
		DetectionTimestamp: detectedAt,
		Status:             models.StatusSubmitted,
	}
	m.alerts[a.AlertID] = a
	m.appendLogLocked(a.AlertID, sub.MonitorID, models.ActorMonitor, models.StatusSubmitted.String())
	return copyAlert(a), true, nil
}

func (m *Memory) AdvanceAlert(ctx context.Context, req AdvanceRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[req.AlertID]
	if !ok {
		return ErrNotFound
	}
	if req.To <= req.From || req.To.Terminal() {
		return fmt.Errorf("advance %s to %s: %w", req.From, req.To, ErrConflict)
	}
	if a.Status != req.From || a.LeasedBy != req.OwnerID {
		return ErrConflict
	}

	until := m.now().Add(req.LeaseFor)
	a.Status = req.To
	a.LeasedBy = ""
	a.StatusExpiresAt = &until
	m.appendLogLocked(a.AlertID, req.OwnerID, models.ActorAlerter, req.To.String())
	return nil
}

func (m *Memory) AckAlert(ctx context.Context, alertID, actor string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[alertID]
	if !ok {
		return ErrNotFound
	}
	if a.Status == models.StatusAck {
		return nil
	}
	a.Status = models.StatusAck
	a.LeasedBy = ""
	a.StatusExpiresAt = nil
	m.appendLogLocked(alertID, actor, models.ActorOperator, models.StatusAck.String())
	return nil
}

func (m *Memory) GetAlert(ctx context.Context, alertID string) (models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return models.Alert{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[alertID]
	if !ok {
		return models.Alert{}, ErrNotFound
	}
	return copyAlert(a), nil
}

func (m *Memory) ListAlerts(ctx context.Context, serviceID string) ([]models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Alert
	for _, a := range m.alerts {
		if a.ServiceID == serviceID {
			out = append(out, copyAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectionTimestamp.After(out[j].DetectionTimestamp)
	})
	return out, nil
}

func (m *Memory) ListAlertLog(ctx context.Context, alertID string) ([]models.AlertLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.AlertLogEntry
	for _, e := range m.alertLog {
		if e.AlertID == alertID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ServiceLeases(ctx context.Context, serviceID string) ([]models.MonitorLease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []models.MonitorLease
	for _, l := range m.leases[serviceID] {
		if l.Live(now) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MonitorID < out[j].MonitorID })
	return out, nil
}

func (m *Memory) MemberLeases(ctx context.Context, memberID string) ([]models.MonitorLease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []models.MonitorLease
	for _, byMonitor := range m.leases {
		if l, ok := byMonitor[memberID]; ok && l.Live(now) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out, nil
}

func (m *Memory) ActiveMembers(ctx context.Context, kind models.WorkKind) ([]models.FleetMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	members := make(map[string]*models.FleetMember)
	observe := func(id string, until time.Time) {
		fm, ok := members[id]
		if !ok {
			fm = &models.FleetMember{MemberID: id}
			members[id] = fm
		}
		fm.Items++
		if until.After(fm.LeasedUntil) {
			fm.LeasedUntil = until
		}
	}

	switch kind {
	case models.WorkServices:
		for _, byMonitor := range m.leases {
			for id, l := range byMonitor {
				if l.Live(now) {
					observe(id, l.LeasedUntil)
				}
			}
		}
	case models.WorkAlerts:
		for _, a := range m.alerts {
			if a.LeasedBy != "" && a.StatusExpiresAt != nil && a.StatusExpiresAt.After(now) {
				observe(a.LeasedBy, *a.StatusExpiresAt)
			}
		}
	default:
		return nil, fmt.Errorf("active members: unknown work kind %q", kind)
	}

	out := make([]models.FleetMember, 0, len(members))
	for _, fm := range members {
		out = append(out, *fm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

func (m *Memory) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.services = make(map[string]models.MonitoredService)
	m.leases = make(map[string]map[string]models.MonitorLease)
	m.alerts = make(map[string]*models.Alert)
	m.alertLog = nil
	return nil
}

func (m *Memory) appendLogLocked(alertID, actor string, actorType models.ActorType, action string) {
	m.alertLog = append(m.alertLog, models.AlertLogEntry{
		AlertID:         alertID,
		Actor:           actor,
		ActorType:       actorType,
		Action:          action,
		ActionTimestamp: m.now().UTC(),
	})
}

func copyService(svc models.MonitoredService) models.MonitoredService {
	svc.ContactMethods = append([]models.ContactMethod(nil), svc.ContactMethods...)
	return svc
}

func copyAlert(a *models.Alert) models.Alert {
	out := *a
	if a.StatusExpiresAt != nil {
		t := *a.StatusExpiresAt
		out.StatusExpiresAt = &t
	}
	return out
}
