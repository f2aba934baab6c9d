package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `
CREATE TABLE IF NOT EXISTS route_snapshots (
    id            BIGSERIAL PRIMARY KEY,
    taken_at      TIMESTAMPTZ NOT NULL,
    route_key     TEXT        NOT NULL,
    source        TEXT        NOT NULL,
    destination   TEXT        NOT NULL,
    asset         TEXT        NOT NULL,
    amount        NUMERIC     NOT NULL,
    policy        TEXT        NOT NULL,
    best_provider TEXT,
    best_fee_usd  NUMERIC,
    quote_count   INTEGER     NOT NULL DEFAULT 0,
    warnings      TEXT[]      NOT NULL DEFAULT '{}',
    route_set     JSONB       NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS route_snapshots_key_taken_idx ON route_snapshots (route_key, taken_at);

CREATE TABLE IF NOT EXISTS transfer_receipts (
    id                TEXT PRIMARY KEY,
    session_id        TEXT        NOT NULL,
    provider          TEXT        NOT NULL,
    method            TEXT        NOT NULL,
    source            TEXT        NOT NULL,
    destination       TEXT        NOT NULL,
    asset             TEXT        NOT NULL,
    amount            NUMERIC     NOT NULL,
    to_address        TEXT        NOT NULL,
    fee_usd           NUMERIC     NOT NULL,
    authorization_ref TEXT,
    transfer_ref      TEXT,
    status            TEXT        NOT NULL,
    error             TEXT,
    submitted_at      TIMESTAMPTZ NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS standing_alerts (
    id           TEXT PRIMARY KEY,
    session_id   TEXT        NOT NULL,
    condition    JSONB       NOT NULL,
    action       TEXT        NOT NULL,
    transfer     JSONB,
    triggered    BOOLEAN     NOT NULL DEFAULT false,
    triggered_at TIMESTAMPTZ,
    last_value   NUMERIC     NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS standing_alerts_session_idx ON standing_alerts (session_id);`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore defines operations for route snapshot persistence.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snap RouteSnapshot) (int64, error)
	ListSnapshotsBetween(ctx context.Context, routeKey string, from, to time.Time) ([]RouteSnapshot, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]RouteSnapshot, error)
	DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// ReceiptStore defines operations for receipt auditing.
type ReceiptStore interface {
	InsertReceipt(ctx context.Context, rec ReceiptRecord) error
	ListRecentReceipts(ctx context.Context, limit int) ([]ReceiptRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to snapshots, receipts and standing alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// 释放失败时连接归还后会话结束，锁随之释放
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

var (
	_ SnapshotStore  = (*Store)(nil)
	_ ReceiptStore   = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
