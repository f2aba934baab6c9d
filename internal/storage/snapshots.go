package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	insertSnapshotSQL = `INSERT INTO route_snapshots (
        taken_at,
        route_key,
        source,
        destination,
        asset,
        amount,
        policy,
        best_provider,
        best_fee_usd,
        quote_count,
        warnings,
        route_set
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    RETURNING id;`

	snapshotColumns = `id,
        taken_at,
        route_key,
        source,
        destination,
        asset,
        amount::text,
        policy,
        best_provider,
        best_fee_usd::text,
        quote_count,
        warnings,
        route_set,
        created_at`

	listSnapshotsBetweenSQL = `SELECT ` + snapshotColumns + `
    FROM route_snapshots
    WHERE route_key = $1
      AND taken_at >= $2
      AND taken_at < $3
    ORDER BY taken_at;`

	listRecentSnapshotsSQL = `SELECT ` + snapshotColumns + `
    FROM route_snapshots
    ORDER BY taken_at DESC
    LIMIT $1;`

	deleteSnapshotsBeforeSQL = `DELETE FROM route_snapshots WHERE taken_at < $1;`
)

// InsertSnapshot persists an aggregation outcome and returns its id.
func (s *Store) InsertSnapshot(ctx context.Context, snap RouteSnapshot) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var bestFee interface{}
	if snap.BestFeeUSD != nil {
		bestFee = snap.BestFeeUSD.String()
	}
	var bestProvider interface{}
	if snap.BestProvider != nil {
		bestProvider = *snap.BestProvider
	}
	warnings := snap.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	var id int64
	if err := pool.QueryRow(ctx, insertSnapshotSQL,
		snap.TakenAt,
		snap.RouteKey,
		snap.Source,
		snap.Destination,
		snap.Asset,
		snap.Amount.String(),
		snap.Policy,
		bestProvider,
		bestFee,
		snap.QuoteCount,
		warnings,
		[]byte(snap.RouteSet),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

// ListSnapshotsBetween lists snapshots of one route within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, routeKey string, from, to time.Time) ([]RouteSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, routeKey, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows, 0)
}

// ListRecentSnapshots lists the most recent snapshots across routes.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]RouteSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows, limit)
}

// DeleteSnapshotsBefore prunes old snapshots and reports how many were removed.
func (s *Store) DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteSnapshotsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete snapshots before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectSnapshots(rows pgx.Rows, capacity int) ([]RouteSnapshot, error) {
	snaps := make([]RouteSnapshot, 0, capacity)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

func scanSnapshot(rows pgx.Rows) (RouteSnapshot, error) {
	var (
		snap         RouteSnapshot
		amountStr    string
		bestProvider sql.NullString
		bestFee      sql.NullString
		routeSet     json.RawMessage
	)

	if err := rows.Scan(
		&snap.ID,
		&snap.TakenAt,
		&snap.RouteKey,
		&snap.Source,
		&snap.Destination,
		&snap.Asset,
		&amountStr,
		&snap.Policy,
		&bestProvider,
		&bestFee,
		&snap.QuoteCount,
		&snap.Warnings,
		&routeSet,
		&snap.CreatedAt,
	); err != nil {
		return RouteSnapshot{}, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return RouteSnapshot{}, fmt.Errorf("parse amount: %w", err)
	}
	snap.Amount = amount
	snap.RouteSet = routeSet

	if bestProvider.Valid {
		p := bestProvider.String
		snap.BestProvider = &p
	}
	if bestFee.Valid {
		fee, err := decimal.NewFromString(bestFee.String)
		if err != nil {
			return RouteSnapshot{}, fmt.Errorf("parse best fee: %w", err)
		}
		snap.BestFeeUSD = &fee
	}
	return snap, nil
}
