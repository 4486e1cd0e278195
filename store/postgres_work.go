package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"reacher-sentinel/models"
)

func (p *Postgres) ClaimWork(ctx context.Context, req ClaimRequest) ([]string, error) {
	if req.Limit <= 0 {
		return nil, nil
	}
	var claimed []string
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		switch req.Kind {
		case models.WorkServices:
			claimed, err = claimServices(ctx, tx, req)
		case models.WorkAlerts:
			claimed, err = claimAlerts(ctx, tx, req)
		default:
			err = fmt.Errorf("claim: unknown work kind %q", req.Kind)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return difference(claimed, req.Exclude), nil
}

// claimServices picks the least replicated services the owner does not hold
// yet and upserts a lease for each of them.
func claimServices(ctx context.Context, tx *sql.Tx, req ClaimRequest) ([]string, error) {
	factor := req.ReplicationFactor
	if factor < 1 {
		factor = 1
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT s.service_id
		FROM monitored_services s
		LEFT JOIN monitor_leases l ON l.service_id = s.service_id
		GROUP BY s.service_id
		HAVING COUNT(l.monitor_id) FILTER (WHERE l.monitor_id = $1 AND l.leased_until > now()) = 0
		   AND COUNT(l.monitor_id) FILTER (WHERE l.leased_until > now()) < $2
		ORDER BY COUNT(l.monitor_id) FILTER (WHERE l.leased_until > now()), s.service_id
		LIMIT $3`,
		req.OwnerID, factor, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("select claimable services: %w", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO monitor_leases (service_id, monitor_id, leased_at, lease_duration_ms, leased_until)
		SELECT id, $1, now(), $2::bigint, now() + $2::bigint * interval '1 millisecond'
		FROM unnest($3::text[]) AS id
		ON CONFLICT (service_id, monitor_id) DO UPDATE
		SET leased_at = EXCLUDED.leased_at,
		    lease_duration_ms = EXCLUDED.lease_duration_ms,
		    leased_until = EXCLUDED.leased_until`,
		req.OwnerID, millis(req.LeaseDuration), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("upsert monitor leases: %w", err)
	}
	return ids, nil
}

// claimAlerts leases the oldest pending alerts of the requested shards.
func claimAlerts(ctx context.Context, tx *sql.Tx, req ClaimRequest) ([]string, error) {
	if len(req.Shards) == 0 {
		return nil, nil
	}
	shards := make(pq.Int64Array, len(req.Shards))
	for i, s := range req.Shards {
		shards[i] = int64(s)
	}
	rows, err := tx.QueryContext(ctx, `
		UPDATE alerts
		SET leased_by = $1,
		    status_expires_at = now() + $2::bigint * interval '1 millisecond'
		WHERE alert_id IN (
			SELECT alert_id FROM alerts
			WHERE shard_id = ANY($3::smallint[])
			  AND status IN ($4, $5)
			  AND (status_expires_at IS NULL OR status_expires_at < now())
			ORDER BY detection_timestamp, alert_id
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING alert_id`,
		req.OwnerID, millis(req.LeaseDuration), shards,
		int(models.StatusSubmitted), int(models.StatusNotify1), req.Limit)
	if err != nil {
		return nil, fmt.Errorf("lease alerts: %w", err)
	}
	return scanIDs(rows)
}

func (p *Postgres) RenewWork(ctx context.Context, req RenewRequest) ([]string, error) {
	if len(req.IDs) == 0 {
		return nil, nil
	}
	var renewed []string
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var (
			rows *sql.Rows
			err  error
		)
		switch req.Kind {
		case models.WorkServices:
			rows, err = tx.QueryContext(ctx, `
				UPDATE monitor_leases
				SET leased_at = now(),
				    lease_duration_ms = $2::bigint,
				    leased_until = now() + $2::bigint * interval '1 millisecond'
				WHERE monitor_id = $1
				  AND service_id = ANY($3::text[])
				  AND leased_until > now()
				RETURNING service_id`,
				req.OwnerID, millis(req.LeaseDuration), pq.Array(req.IDs))
		case models.WorkAlerts:
			rows, err = tx.QueryContext(ctx, `
				UPDATE alerts
				SET status_expires_at = now() + $2::bigint * interval '1 millisecond'
				WHERE leased_by = $1
				  AND alert_id = ANY($3::text[])
				  AND status IN ($4, $5)
				  AND status_expires_at > now()
				RETURNING alert_id`,
				req.OwnerID, millis(req.LeaseDuration), pq.Array(req.IDs),
				int(models.StatusSubmitted), int(models.StatusNotify1))
		default:
			return fmt.Errorf("renew: unknown work kind %q", req.Kind)
		}
		if err != nil {
			return fmt.Errorf("renew %s: %w", req.Kind, err)
		}
		renewed, err = scanIDs(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return renewed, nil
}

func (p *Postgres) ReleaseWork(ctx context.Context, kind models.WorkKind, ownerID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return p.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		switch kind {
		case models.WorkServices:
			_, err = tx.ExecContext(ctx,
				`DELETE FROM monitor_leases WHERE monitor_id = $1 AND service_id = ANY($2::text[])`,
				ownerID, pq.Array(ids))
		case models.WorkAlerts:
			_, err = tx.ExecContext(ctx, `
				UPDATE alerts SET leased_by = '', status_expires_at = NULL
				WHERE leased_by = $1 AND alert_id = ANY($2::text[]) AND status IN ($3, $4)`,
				ownerID, pq.Array(ids), int(models.StatusSubmitted), int(models.StatusNotify1))
		default:
			return fmt.Errorf("release: unknown work kind %q", kind)
		}
		if err != nil {
			return fmt.Errorf("release %s: %w", kind, err)
		}
		return nil
	})
}

func (p *Postgres) ServiceLeases(ctx context.Context, serviceID string) ([]models.MonitorLease, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT service_id, monitor_id, leased_at, lease_duration_ms, leased_until
		FROM monitor_leases
		WHERE service_id = $1 AND leased_until > now()
		ORDER BY monitor_id`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("service leases: %w", err)
	}
	return scanLeases(rows)
}

func (p *Postgres) MemberLeases(ctx context.Context, memberID string) ([]models.MonitorLease, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT service_id, monitor_id, leased_at, lease_duration_ms, leased_until
		FROM monitor_leases
		WHERE monitor_id = $1 AND leased_until > now()
		ORDER BY service_id`, memberID)
	if err != nil {
		return nil, fmt.Errorf("member leases: %w", err)
	}
	return scanLeases(rows)
}

func (p *Postgres) ActiveMembers(ctx context.Context, kind models.WorkKind) ([]models.FleetMember, error) {
	var query string
	switch kind {
	case models.WorkServices:
		query = `
			SELECT monitor_id, COUNT(*), MAX(leased_until)
			FROM monitor_leases
			WHERE leased_until > now()
			GROUP BY monitor_id
			ORDER BY monitor_id`
	case models.WorkAlerts:
		query = `
			SELECT leased_by, COUNT(*), MAX(status_expires_at)
			FROM alerts
			WHERE leased_by <> '' AND status_expires_at > now()
			GROUP BY leased_by
			ORDER BY leased_by`
	default:
		return nil, fmt.Errorf("active members: unknown work kind %q", kind)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("active members: %w", err)
	}
	defer rows.Close()

	var out []models.FleetMember
	for rows.Next() {
		var fm models.FleetMember
		if err := rows.Scan(&fm.MemberID, &fm.Items, &fm.LeasedUntil); err != nil {
			return nil, err
		}
		fm.LeasedUntil = fm.LeasedUntil.UTC()
		out = append(out, fm)
	}
	return out, rows.Err()
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanLeases(rows *sql.Rows) ([]models.MonitorLease, error) {
	defer rows.Close()
	var out []models.MonitorLease
	for rows.Next() {
		var l models.MonitorLease
		if err := rows.Scan(&l.ServiceID, &l.MonitorID, &l.LeasedAt, &l.LeaseDurationMs, &l.LeasedUntil); err != nil {
			return nil, err
		}
		l.LeasedAt = l.LeasedAt.UTC()
		l.LeasedUntil = l.LeasedUntil.UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

func utcPtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}
