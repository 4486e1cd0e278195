package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"reacher-sentinel/models"
)

func (p *Postgres) DescribeServices(ctx context.Context, ids []string) ([]models.MonitoredService, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.MonitoredService
	err := p.snapshot(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = loadServices(ctx, tx, `WHERE service_id = ANY($1::text[])`, pq.Array(ids))
		return err
	})
	return out, err
}

func (p *Postgres) ListServices(ctx context.Context) ([]models.MonitoredService, error) {
	var out []models.MonitoredService
	err := p.snapshot(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = loadServices(ctx, tx, "")
		return err
	})
	return out, err
}

// loadServices reads services matching where together with their contact methods.
func loadServices(ctx context.Context, tx *sql.Tx, where string, args ...any) ([]models.MonitoredService, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT service_id, url, frequency_ms, alerting_window_ms, allowed_response_time_ms
		FROM monitored_services `+where+`
		ORDER BY service_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("load services: %w", err)
	}
	var (
		out   []models.MonitoredService
		index = make(map[string]int)
	)
	for rows.Next() {
		var (
			svc                   models.MonitoredService
			freq, window, allowed int64
		)
		if err := rows.Scan(&svc.ServiceID, &svc.URL, &freq, &window, &allowed); err != nil {
			rows.Close()
			return nil, err
		}
		svc.Frequency = fromMillis(freq)
		svc.AlertingWindow = fromMillis(window)
		svc.AllowedResponseTime = fromMillis(allowed)
		index[svc.ServiceID] = len(out)
		out = append(out, svc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	ids := make([]string, len(out))
	for i, svc := range out {
		ids[i] = svc.ServiceID
	}
	crows, err := tx.QueryContext(ctx, `
		SELECT service_id, position, kind, address
		FROM contact_methods
		WHERE service_id = ANY($1::text[])
		ORDER BY service_id, position`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load contact methods: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var (
			serviceID string
			cm        models.ContactMethod
		)
		if err := crows.Scan(&serviceID, &cm.Position, &cm.Kind, &cm.Address); err != nil {
			return nil, err
		}
		i := index[serviceID]
		out[i].ContactMethods = append(out[i].ContactMethods, cm)
	}
	return out, crows.Err()
}

func (p *Postgres) RegisterService(ctx context.Context, svc models.MonitoredService) (models.MonitoredService, error) {
	svc.ContactMethods = normalizeContacts(svc.ContactMethods)
	if svc.ServiceID == "" {
		svc.ServiceID = uuid.NewString()
	}
	if err := ValidateService(svc); err != nil {
		return models.MonitoredService{}, err
	}

	err := p.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO monitored_services (service_id, url, frequency_ms, alerting_window_ms, allowed_response_time_ms)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (service_id) DO UPDATE
			SET url = EXCLUDED.url,
			    frequency_ms = EXCLUDED.frequency_ms,
			    alerting_window_ms = EXCLUDED.alerting_window_ms,
			    allowed_response_time_ms = EXCLUDED.allowed_response_time_ms`,
			svc.ServiceID, svc.URL, millis(svc.Frequency), millis(svc.AlertingWindow), millis(svc.AllowedResponseTime))
		if err != nil {
			return fmt.Errorf("upsert service: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM contact_methods WHERE service_id = $1`, svc.ServiceID); err != nil {
			return fmt.Errorf("clear contact methods: %w", err)
		}
		for _, cm := range svc.ContactMethods {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO contact_methods (service_id, position, kind, address) VALUES ($1, $2, $3, $4)`,
				svc.ServiceID, cm.Position, string(cm.Kind), cm.Address)
			if err != nil {
				return fmt.Errorf("insert contact method %d: %w", cm.Position, err)
			}
		}
		return nil
	})
	if err != nil {
		return models.MonitoredService{}, err
	}
	return svc, nil
}

func (p *Postgres) DeleteService(ctx context.Context, serviceID string) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM monitored_services WHERE service_id = $1`, serviceID)
		if err != nil {
			return fmt.Errorf("delete service: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
