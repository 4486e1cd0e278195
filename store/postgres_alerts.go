package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"reacher-sentinel/models"
)

const alertColumns = `alert_id, service_id, monitor_id, shard_id, detection_timestamp, status, status_expires_at, leased_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (models.Alert, error) {
	var (
		a       models.Alert
		status  int
		expires sql.NullTime
	)
	err := row.Scan(&a.AlertID, &a.ServiceID, &a.MonitorID, &a.ShardID, &a.DetectionTimestamp, &status, &expires, &a.LeasedBy)
	if err != nil {
		return models.Alert{}, err
	}
	a.Status = models.AlertStatus(status)
	a.DetectionTimestamp = a.DetectionTimestamp.UTC()
	a.StatusExpiresAt = utcPtr(expires)
	return a, nil
}

func (p *Postgres) SubmitAlert(ctx context.Context, sub models.AlertSubmission) (models.Alert, bool, error) {
	var (
		out     models.Alert
		created bool
	)
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		created = false
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM monitored_services WHERE service_id = $1)`, sub.ServiceID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("lookup service: %w", err)
		}
		if !exists {
			return fmt.Errorf("submit alert for %s: %w", sub.ServiceID, ErrNotFound)
		}

		detectedAt := sub.DetectedAt
		if detectedAt.IsZero() {
			if err := tx.QueryRowContext(ctx, `SELECT now()`).Scan(&detectedAt); err != nil {
				return err
			}
		}
		detectedAt = detectedAt.UTC()

		last, err := scanAlert(tx.QueryRowContext(ctx, `
			SELECT `+alertColumns+` FROM alerts
			WHERE service_id = $1
			ORDER BY detection_timestamp DESC
			LIMIT 1`, sub.ServiceID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("latest alert: %w", err)
		case detectedAt.Sub(last.DetectionTimestamp) < sub.Cooldown:
			out = last
			return nil
		}

		out = models.Alert{
			AlertID:            uuid.NewString(),
			ServiceID:          sub.ServiceID,
			MonitorID:          sub.MonitorID,
			ShardID:            models.ShardFor(sub.ServiceID),
			DetectionTimestamp: detectedAt,
			Status:             models.StatusSubmitted,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO alerts (alert_id, service_id, monitor_id, shard_id, detection_timestamp, status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			out.AlertID, out.ServiceID, out.MonitorID, out.ShardID, out.DetectionTimestamp, int(out.Status))
		if err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
		if err := appendLog(ctx, tx, out.AlertID, sub.MonitorID, models.ActorMonitor, models.StatusSubmitted.String()); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return models.Alert{}, false, err
	}
	return out, created, nil
}

func (p *Postgres) AdvanceAlert(ctx context.Context, req AdvanceRequest) error {
	if req.To <= req.From || req.To.Terminal() {
		return fmt.Errorf("advance %s to %s: %w", req.From, req.To, ErrConflict)
	}
	return p.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE alerts
			SET status = $4,
			    leased_by = '',
			    status_expires_at = now() + $5::bigint * interval '1 millisecond'
			WHERE alert_id = $1 AND status = $2 AND leased_by = $3`,
			req.AlertID, int(req.From), req.OwnerID, int(req.To), millis(req.LeaseFor))
		if err != nil {
			return fmt.Errorf("advance alert: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			if err := alertExists(ctx, tx, req.AlertID); err != nil {
				return err
			}
			return ErrConflict
		}
		return appendLog(ctx, tx, req.AlertID, req.OwnerID, models.ActorAlerter, req.To.String())
	})
}

func (p *Postgres) AckAlert(ctx context.Context, alertID, actor string) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE alerts
			SET status = $2, leased_by = '', status_expires_at = NULL
			WHERE alert_id = $1 AND status <> $2`,
			alertID, int(models.StatusAck))
		if err != nil {
			return fmt.Errorf("ack alert: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// already acknowledged, or missing
			return alertExists(ctx, tx, alertID)
		}
		return appendLog(ctx, tx, alertID, actor, models.ActorOperator, models.StatusAck.String())
	})
}

func (p *Postgres) GetAlert(ctx context.Context, alertID string) (models.Alert, error) {
	a, err := scanAlert(p.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE alert_id = $1`, alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Alert{}, ErrNotFound
	}
	if err != nil {
		return models.Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (p *Postgres) ListAlerts(ctx context.Context, serviceID string) ([]models.Alert, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE service_id = $1
		ORDER BY detection_timestamp DESC`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) ListAlertLog(ctx context.Context, alertID string) ([]models.AlertLogEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT alert_id, actor, actor_type, action, action_timestamp
		FROM alert_log
		WHERE alert_id = $1
		ORDER BY id`, alertID)
	if err != nil {
		return nil, fmt.Errorf("list alert log: %w", err)
	}
	defer rows.Close()

	var out []models.AlertLogEntry
	for rows.Next() {
		var e models.AlertLogEntry
		if err := rows.Scan(&e.AlertID, &e.Actor, &e.ActorType, &e.Action, &e.ActionTimestamp); err != nil {
			return nil, err
		}
		e.ActionTimestamp = e.ActionTimestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func alertExists(ctx context.Context, tx *sql.Tx, alertID string) error {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM alerts WHERE alert_id = $1)`, alertID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func appendLog(ctx context.Context, tx *sql.Tx, alertID, actor string, actorType models.ActorType, action string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO alert_log (alert_id, actor, actor_type, action)
		VALUES ($1, $2, $3, $4)`,
		alertID, actor, string(actorType), action)
	if err != nil {
		return fmt.Errorf("append alert log: %w", err)
	}
	return nil
}
