package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/go-redis/redis/v8"

	"reacher-sentinel/api"
	"reacher-sentinel/client"
	"reacher-sentinel/config"
	"reacher-sentinel/metrics"
	v1 "reacher-sentinel/services/v1"
	"reacher-sentinel/store"
)

type role string

const (
	roleMonitor role = "monitor"
	roleAlerter role = "alerter"
	roleAPI     role = "api"
)

// app holds everything a role needs. close releases the connections.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	history store.ProbeHistory
	bundle  *metrics.Bundle
	rdb     *redis.Client
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := config.NewLogger(os.Stdout, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, bundle: metrics.NewBundle()}

	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using the in-memory store; leases are not shared with other processes")
		a.store = store.NewMemory(nil)
	default:
		db, err := client.ConnectPostgres(ctx, cfg.PostgresURI)
		if err != nil {
			return nil, err
		}
		pg := store.NewPostgres(db)
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.store = pg
	}

	if cfg.RedisURI != "" {
		rdb, err := client.ConnectRedis(ctx, cfg.RedisURI)
		if err != nil {
			// history is optional; monitoring keeps running without it
			logger.Warn("redis unavailable, keeping probe history in memory", "error", err)
		} else {
			a.rdb = rdb
			a.history = store.NewRedisProbeHistory(rdb, cfg.ProbeHistoryLimit)
		}
	}
	if a.history == nil {
		a.history = store.NewMemoryProbeHistory(cfg.ProbeHistoryLimit)
	}
	return a, nil
}

func (a *app) close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
}

func (a *app) monitorManager() *v1.Manager {
	mc := a.cfg.Monitor
	logger := a.logger.With("member_id", mc.ID)
	m := a.bundle.Metrics

	poller := v1.NewServicePoller(a.store, mc)
	spawn := v1.MonitorSpawner(
		poller,
		client.NewHTTPProber(),
		v1.NewAlertSubmitter(a.store, mc.ID, mc.AlertCooldown, logger, m),
		v1.NewProbeRecorder(a.history, m, logger),
		logger,
	)
	return v1.NewManager(v1.ManagerConfig{
		MaxItems:      mc.MaxMonitoredServices,
		PollInterval:  mc.WorkPollInterval,
		LeaseDuration: mc.LeaseDuration,
	}, poller, spawn, logger, m)
}

func (a *app) alerterManager() *v1.Manager {
	ac := a.cfg.Alerter
	logger := a.logger.With("member_id", ac.ID)
	m := a.bundle.Metrics

	escalator := v1.NewAlertEscalator(a.store, client.NewNotifier(a.cfg.Notifier, logger), ac.ID, logger, m)
	return v1.NewManager(v1.ManagerConfig{
		MaxItems:      ac.BatchLimit,
		PollInterval:  ac.PollInterval,
		LeaseDuration: ac.LeaseDuration,
	}, v1.NewAlertPoller(a.store, ac), escalator.Spawner(), logger, m)
}

// runRoles runs every role until ctx is cancelled or one of them fails.
func runRoles(ctx context.Context, roles ...role) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := func(name role, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.Info("starting role", "role", name)
			if err := fn(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
				cancel()
			}
		}()
	}

	for _, r := range roles {
		switch r {
		case roleMonitor:
			start(r, a.monitorManager().Run)
		case roleAlerter:
			start(r, a.alerterManager().Run)
		case roleAPI:
			start(r, func(ctx context.Context) error {
				return api.StartServer(ctx, api.Deps{
					Config:  a.cfg,
					Store:   a.store,
					History: a.history,
					Metrics: a.bundle,
					Logger:  a.logger,
				})
			})
		}
	}

	<-ctx.Done()
	a.logger.Info("shutdown requested", "reason", context.Cause(ctx))
	wg.Wait()
	a.logger.Info("shut down gracefully")
	return errors.Join(errs...)
}

func runMigrate(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	// bootstrap already migrated a postgres store
	a.logger.Info("schema is up to date", "driver", a.cfg.StoreDriver)
	return nil
}

func runSeed(ctx context.Context, path string) error {
	specs, err := loadSeedFile(path)
	if err != nil {
		return err
	}
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := seedServices(ctx, a.store, specs)
	if err != nil {
		return err
	}
	a.logger.Info("services seeded", "file", path, "count", n)
	return nil
}
