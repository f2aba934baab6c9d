package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"crosschain-router/internal/monitor"
	"crosschain-router/internal/route"
)

const (
	insertStandingAlertSQL = `INSERT INTO standing_alerts (
        id,
        session_id,
        condition,
        action,
        transfer,
        triggered,
        triggered_at,
        last_value,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	alertColumns = `id,
        session_id,
        condition,
        action,
        transfer,
        triggered,
        triggered_at,
        last_value::text,
        created_at`

	getStandingAlertSQL = `SELECT ` + alertColumns + `
    FROM standing_alerts
    WHERE id = $1;`

	listActiveAlertsSQL = `SELECT ` + alertColumns + `
    FROM standing_alerts
    WHERE NOT triggered
    ORDER BY created_at, id;`

	listSessionAlertsSQL = `SELECT ` + alertColumns + `
    FROM standing_alerts
    WHERE session_id = $1
    ORDER BY created_at, id;`

	deleteStandingAlertSQL = `DELETE FROM standing_alerts WHERE id = $1;`

	observeAlertSQL = `UPDATE standing_alerts SET last_value = $2 WHERE id = $1;`

	// 仅当尚未触发时更新，RowsAffected 决定唯一的触发者
	markTriggeredSQL = `UPDATE standing_alerts
    SET triggered = true, triggered_at = $2
    WHERE id = $1 AND NOT triggered;`
)

// AlertRegistry persists standing alerts in PostgreSQL.
type AlertRegistry struct {
	store *Store
}

// NewAlertRegistry exposes the store as a monitor.Registry.
func NewAlertRegistry(store *Store) *AlertRegistry {
	return &AlertRegistry{store: store}
}

func (r *AlertRegistry) Add(ctx context.Context, a monitor.Alert) error {
	pool, err := r.store.getPool()
	if err != nil {
		return err
	}

	condition, err := json.Marshal(a.Condition)
	if err != nil {
		return fmt.Errorf("marshal condition: %w", err)
	}
	var transfer interface{}
	if a.Transfer != nil {
		raw, err := json.Marshal(a.Transfer)
		if err != nil {
			return fmt.Errorf("marshal transfer: %w", err)
		}
		transfer = raw
	}
	var triggeredAt interface{}
	if a.TriggeredAt != nil {
		triggeredAt = *a.TriggeredAt
	}

	if _, err := pool.Exec(ctx, insertStandingAlertSQL,
		a.ID,
		a.SessionID,
		condition,
		string(a.Action),
		transfer,
		a.Triggered,
		triggeredAt,
		a.LastValue.String(),
		a.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert standing alert: %w", err)
	}
	return nil
}

func (r *AlertRegistry) Remove(ctx context.Context, id string) (bool, error) {
	pool, err := r.store.getPool()
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, deleteStandingAlertSQL, id)
	if err != nil {
		return false, fmt.Errorf("delete standing alert: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *AlertRegistry) Get(ctx context.Context, id string) (monitor.Alert, error) {
	pool, err := r.store.getPool()
	if err != nil {
		return monitor.Alert{}, err
	}
	rows, err := pool.Query(ctx, getStandingAlertSQL, id)
	if err != nil {
		return monitor.Alert{}, fmt.Errorf("get standing alert: %w", err)
	}
	defer rows.Close()

	alerts, err := collectAlerts(rows)
	if err != nil {
		return monitor.Alert{}, err
	}
	if len(alerts) == 0 {
		return monitor.Alert{}, monitor.ErrAlertNotFound
	}
	return alerts[0], nil
}

func (r *AlertRegistry) Active(ctx context.Context) ([]monitor.Alert, error) {
	pool, err := r.store.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listActiveAlertsSQL)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func (r *AlertRegistry) BySession(ctx context.Context, sessionID string) ([]monitor.Alert, error) {
	pool, err := r.store.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listSessionAlertsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func (r *AlertRegistry) Observe(ctx context.Context, id string, value decimal.Decimal) error {
	pool, err := r.store.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, observeAlertSQL, id, value.String())
	if err != nil {
		return fmt.Errorf("observe alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrAlertNotFound
	}
	return nil
}

func (r *AlertRegistry) MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error) {
	pool, err := r.store.getPool()
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, markTriggeredSQL, id, at)
	if err != nil {
		return false, fmt.Errorf("mark alert triggered: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func collectAlerts(rows pgx.Rows) ([]monitor.Alert, error) {
	alerts := make([]monitor.Alert, 0)
	for rows.Next() {
		var (
			a           monitor.Alert
			condition   []byte
			action      string
			transfer    []byte
			triggeredAt *time.Time
			lastValue   string
		)
		if err := rows.Scan(
			&a.ID,
			&a.SessionID,
			&condition,
			&action,
			&transfer,
			&a.Triggered,
			&triggeredAt,
			&lastValue,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(condition, &a.Condition); err != nil {
			return nil, fmt.Errorf("decode condition of %s: %w", a.ID, err)
		}
		if len(transfer) > 0 {
			var req route.TransferRequest
			if err := json.Unmarshal(transfer, &req); err != nil {
				return nil, fmt.Errorf("decode transfer of %s: %w", a.ID, err)
			}
			a.Transfer = &req
		}
		a.Action = route.AlertAction(action)
		a.TriggeredAt = triggeredAt

		value, err := decimal.NewFromString(lastValue)
		if err != nil {
			return nil, fmt.Errorf("parse last value: %w", err)
		}
		a.LastValue = value

		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return alerts, nil
		}
		return nil, err
	}
	return alerts, nil
}

var _ monitor.Registry = (*AlertRegistry)(nil)
