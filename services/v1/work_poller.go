package v1

import (
	"context"
	"time"

	"reacher-sentinel/config"
	"reacher-sentinel/models"
	"reacher-sentinel/store"
)

// WorkPoller is the lease protocol seen from one fleet member.
type WorkPoller interface {
	Kind() models.WorkKind
	// Claim leases up to limit new items. owned lists what the caller already
	// tracks; those ids are never returned.
	Claim(ctx context.Context, limit int, owned []string) ([]string, error)
	// Renew refreshes the leases on owned and returns exactly the ids whose
	// lease is still held.
	Renew(ctx context.Context, owned []string) ([]string, error)
	Release(ctx context.Context, ids []string) error
}

// ServicePoller leases monitored services for a monitor.
type ServicePoller struct {
	store             store.Store
	ownerID           string
	replicationFactor int
	leaseDuration     time.Duration
}

func NewServicePoller(st store.Store, cfg config.MonitorConfig) *ServicePoller {
	return &ServicePoller{
		store:             st,
		ownerID:           cfg.ID,
		replicationFactor: cfg.ReplicationFactor,
		leaseDuration:     cfg.LeaseDuration,
	}
}

func (p *ServicePoller) Kind() models.WorkKind { return models.WorkServices }

func (p *ServicePoller) Claim(ctx context.Context, limit int, owned []string) ([]string, error) {
	return p.store.ClaimWork(ctx, store.ClaimRequest{
		Kind:              models.WorkServices,
		OwnerID:           p.ownerID,
		Limit:             limit,
		ReplicationFactor: p.replicationFactor,
		LeaseDuration:     p.leaseDuration,
		Exclude:           owned,
	})
}

func (p *ServicePoller) Renew(ctx context.Context, owned []string) ([]string, error) {
	return p.store.RenewWork(ctx, store.RenewRequest{
		Kind:          models.WorkServices,
		OwnerID:       p.ownerID,
		IDs:           owned,
		LeaseDuration: p.leaseDuration,
	})
}

func (p *ServicePoller) Release(ctx context.Context, ids []string) error {
	return p.store.ReleaseWork(ctx, models.WorkServices, p.ownerID, ids)
}

// Describe loads the configuration of leased services. Ids that no longer
// exist are omitted.
func (p *ServicePoller) Describe(ctx context.Context, ids []string) ([]models.MonitoredService, error) {
	return p.store.DescribeServices(ctx, ids)
}

// AlertPoller leases pending alerts of the covered shards for an alerter.
type AlertPoller struct {
	store         store.WorkStore
	ownerID       string
	shards        []int
	leaseDuration time.Duration
}

func NewAlertPoller(st store.WorkStore, cfg config.AlerterConfig) *AlertPoller {
	return &AlertPoller{
		store:         st,
		ownerID:       cfg.ID,
		shards:        cfg.CoveredShards,
		leaseDuration: cfg.LeaseDuration,
	}
}

func (p *AlertPoller) Kind() models.WorkKind { return models.WorkAlerts }

func (p *AlertPoller) Claim(ctx context.Context, limit int, owned []string) ([]string, error) {
	return p.store.ClaimWork(ctx, store.ClaimRequest{
		Kind:          models.WorkAlerts,
		OwnerID:       p.ownerID,
		Limit:         limit,
		LeaseDuration: p.leaseDuration,
		Shards:        p.shards,
		Exclude:       owned,
	})
}

func (p *AlertPoller) Renew(ctx context.Context, owned []string) ([]string, error) {
	return p.store.RenewWork(ctx, store.RenewRequest{
		Kind:          models.WorkAlerts,
		OwnerID:       p.ownerID,
		IDs:           owned,
		LeaseDuration: p.leaseDuration,
	})
}

func (p *AlertPoller) Release(ctx context.Context, ids []string) error {
	return p.store.ReleaseWork(ctx, models.WorkAlerts, p.ownerID, ids)
}
