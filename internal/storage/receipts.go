package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	insertReceiptSQL = `INSERT INTO transfer_receipts (
        id,
        session_id,
        provider,
        method,
        source,
        destination,
        asset,
        amount,
        to_address,
        fee_usd,
        authorization_ref,
        transfer_ref,
        status,
        error,
        submitted_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    )
    ON CONFLICT (id) DO NOTHING;`

	listRecentReceiptsSQL = `SELECT
        id,
        session_id,
        provider,
        method,
        source,
        destination,
        asset,
        amount::text,
        to_address,
        fee_usd::text,
        authorization_ref,
        transfer_ref,
        status,
        error,
        submitted_at,
        created_at
    FROM transfer_receipts
    ORDER BY submitted_at DESC
    LIMIT $1;`
)

// InsertReceipt persists a dispatch outcome.
func (s *Store) InsertReceipt(ctx context.Context, rec ReceiptRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertReceiptSQL,
		rec.ID,
		rec.SessionID,
		rec.Provider,
		rec.Method,
		rec.Source,
		rec.Destination,
		rec.Asset,
		rec.Amount.String(),
		rec.ToAddress,
		rec.FeeUSD.String(),
		nullable(rec.AuthorizationRef),
		nullable(rec.TransferRef),
		rec.Status,
		nullable(rec.Error),
		rec.SubmittedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert receipt: %w", execErr)
	}
	return nil
}

// ListRecentReceipts lists the most recent receipts.
func (s *Store) ListRecentReceipts(ctx context.Context, limit int) ([]ReceiptRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentReceiptsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent receipts: %w", queryErr)
	}
	defer rows.Close()

	receipts := make([]ReceiptRecord, 0, limit)
	for rows.Next() {
		var (
			rec        ReceiptRecord
			amountStr  string
			feeStr     string
			authRef    sql.NullString
			transfer   sql.NullString
			errMessage sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.Provider,
			&rec.Method,
			&rec.Source,
			&rec.Destination,
			&rec.Asset,
			&amountStr,
			&rec.ToAddress,
			&feeStr,
			&authRef,
			&transfer,
			&rec.Status,
			&errMessage,
			&rec.SubmittedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.Amount, convErr = decimal.NewFromString(amountStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse amount: %w", convErr)
		}
		rec.FeeUSD, convErr = decimal.NewFromString(feeStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse fee: %w", convErr)
		}
		rec.AuthorizationRef = stringPtr(authRef)
		rec.TransferRef = stringPtr(transfer)
		rec.Error = stringPtr(errMessage)

		receipts = append(receipts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return receipts, nil
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
