package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crosschain-router/internal/dispatcher"
	"crosschain-router/internal/route"
	"crosschain-router/internal/storage"
	"crosschain-router/internal/transfer"
)

// RecordingRouter persists a snapshot of every aggregation it serves.
// Storage failures are logged and never affect the returned set.
type RecordingRouter struct {
	inner  transfer.RouteFinder
	store  storage.SnapshotStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewRecordingRouter wraps inner. A nil store disables recording.
func NewRecordingRouter(inner transfer.RouteFinder, store storage.SnapshotStore, logger zerolog.Logger) *RecordingRouter {
	return &RecordingRouter{
		inner:  inner,
		store:  store,
		logger: logger.With().Str("component", "snapshot_recorder").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Route aggregates through the wrapped finder and records the outcome.
func (r *RecordingRouter) Route(ctx context.Context, req route.RouteRequest) route.RankedRouteSet {
	set := r.inner.Route(ctx, req)
	if r.store == nil {
		return set
	}

	snap, err := snapshotOf(req, set, r.now())
	if err != nil {
		r.logger.Warn().Err(err).Str("route", req.String()).Msg("failed to encode snapshot")
		return set
	}
	if _, err := r.store.InsertSnapshot(ctx, snap); err != nil {
		r.logger.Warn().Err(err).Str("route", req.String()).Msg("failed to persist snapshot")
	}
	return set
}

func snapshotOf(req route.RouteRequest, set route.RankedRouteSet, at time.Time) (storage.RouteSnapshot, error) {
	raw, err := json.Marshal(set)
	if err != nil {
		return storage.RouteSnapshot{}, err
	}
	snap := storage.RouteSnapshot{
		TakenAt:     at,
		RouteKey:    storage.RouteKey(string(req.Source), string(req.Destination), req.Asset),
		Source:      string(req.Source),
		Destination: string(req.Destination),
		Asset:       req.Asset,
		Amount:      req.Amount,
		Policy:      string(req.Policy),
		QuoteCount:  len(set.All),
		RouteSet:    raw,
	}
	if set.Best != nil {
		provider := set.Best.ProviderID
		fee := set.Best.FeeUSD
		snap.BestProvider = &provider
		snap.BestFeeUSD = &fee
	}
	for _, w := range set.Warnings {
		snap.Warnings = append(snap.Warnings, string(w.Kind))
	}
	return snap, nil
}

// RecordingExecutor stores a receipt for every dispatch attempt.
type RecordingExecutor struct {
	inner  transfer.Executor
	store  storage.ReceiptStore
	logger zerolog.Logger
}

// NewRecordingExecutor wraps inner. A nil store disables recording.
func NewRecordingExecutor(inner transfer.Executor, store storage.ReceiptStore, logger zerolog.Logger) *RecordingExecutor {
	return &RecordingExecutor{
		inner:  inner,
		store:  store,
		logger: logger.With().Str("component", "receipt_recorder").Logger(),
	}
}

// Execute dispatches through the wrapped executor and records the outcome.
func (r *RecordingExecutor) Execute(ctx context.Context, req route.TransferRequest, q route.Quote) (dispatcher.Receipt, error) {
	receipt, execErr := r.inner.Execute(ctx, req, q)
	if r.store == nil {
		return receipt, execErr
	}

	sessionID, pendingID, _ := transfer.ExecutionFrom(ctx)
	if pendingID == "" {
		pendingID = uuid.NewString()
	}
	rec := storage.ReceiptRecord{
		ID:          pendingID,
		SessionID:   sessionID,
		Provider:    q.ProviderID,
		Method:      string(q.Method),
		Source:      string(req.Route.Source),
		Destination: string(req.Route.Destination),
		Asset:       req.Route.Asset,
		Amount:      req.Route.Amount,
		ToAddress:   req.ToAddress,
		FeeUSD:      q.FeeUSD,
		Status:      storage.ReceiptSubmitted,
		SubmittedAt: receipt.SubmittedAt,
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}
	if receipt.AuthorizationRef != "" {
		ref := receipt.AuthorizationRef
		rec.AuthorizationRef = &ref
	}
	if receipt.TransferRef != "" {
		ref := receipt.TransferRef
		rec.TransferRef = &ref
	}
	if execErr != nil {
		msg := execErr.Error()
		rec.Status = storage.ReceiptFailed
		rec.Error = &msg
	}

	// 审计写入失败不影响已提交的交易结果
	if err := r.store.InsertReceipt(ctx, rec); err != nil {
		r.logger.Error().Err(err).Str("receipt_id", rec.ID).Msg("failed to persist receipt")
	}
	return receipt, execErr
}

var (
	_ transfer.RouteFinder = (*RecordingRouter)(nil)
	_ transfer.Executor    = (*RecordingExecutor)(nil)
)
