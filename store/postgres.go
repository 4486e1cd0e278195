package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	maxTxAttempts  = 5
	txRetryBackoff = 25 * time.Millisecond
)

// Postgres is the production Store. Every operation runs in a SERIALIZABLE
// transaction and is retried when Postgres aborts it on a conflict.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// Migrate creates the schema. It is safe to run repeatedly.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS monitored_services (
			service_id               TEXT PRIMARY KEY,
			url                      TEXT NOT NULL,
			frequency_ms             BIGINT NOT NULL,
			alerting_window_ms       BIGINT NOT NULL,
			allowed_response_time_ms BIGINT NOT NULL,
			created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS contact_methods (
			service_id TEXT NOT NULL REFERENCES monitored_services(service_id) ON DELETE CASCADE,
			position   SMALLINT NOT NULL,
			kind       TEXT NOT NULL,
			address    TEXT NOT NULL,
			PRIMARY KEY (service_id, position)
		);

		CREATE TABLE IF NOT EXISTS monitor_leases (
			service_id        TEXT NOT NULL REFERENCES monitored_services(service_id) ON DELETE CASCADE,
			monitor_id        TEXT NOT NULL,
			leased_at         TIMESTAMPTZ NOT NULL,
			lease_duration_ms BIGINT NOT NULL,
			leased_until      TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (service_id, monitor_id)
		);
		CREATE INDEX IF NOT EXISTS idx_monitor_leases_monitor ON monitor_leases(monitor_id, leased_until);

		CREATE TABLE IF NOT EXISTS alerts (
			alert_id            TEXT PRIMARY KEY,
			service_id          TEXT NOT NULL,
			monitor_id          TEXT NOT NULL,
			shard_id            SMALLINT NOT NULL,
			detection_timestamp TIMESTAMPTZ NOT NULL,
			status              SMALLINT NOT NULL DEFAULT 0,
			status_expires_at   TIMESTAMPTZ,
			leased_by           TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_service_time ON alerts(service_id, detection_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_alerts_shard_status ON alerts(shard_id, status);

		CREATE TABLE IF NOT EXISTS alert_log (
			id               BIGSERIAL PRIMARY KEY,
			alert_id         TEXT NOT NULL,
			actor            TEXT NOT NULL,
			actor_type       TEXT NOT NULL,
			action           TEXT NOT NULL,
			action_timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_alert_log_alert ON alert_log(alert_id, id);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) CurrentTimestamp(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := p.db.QueryRowContext(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("current timestamp: %w", err)
	}
	return now.UTC(), nil
}

func (p *Postgres) Reset(ctx context.Context) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`TRUNCATE alert_log, alerts, monitor_leases, contact_methods, monitored_services`)
		return err
	})
}

// withTx runs fn in a SERIALIZABLE transaction, retrying serialization
// failures and deadlocks with a short linear backoff.
func (p *Postgres) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = p.runTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
		if err == nil || !retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * txRetryBackoff):
		}
	}
	return fmt.Errorf("transaction aborted after %d attempts: %w", maxTxAttempts, err)
}

// snapshot runs fn in a read-only transaction so multi-query reads are consistent.
func (p *Postgres) snapshot(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return p.runTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

func (p *Postgres) runTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func retryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

func millis(d time.Duration) int64 {
	return d.Milliseconds()
}

func fromMillis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
