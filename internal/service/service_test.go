package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosschain-router/internal/alerting"
	"crosschain-router/internal/config"
	"crosschain-router/internal/dispatcher"
	"crosschain-router/internal/monitor"
	"crosschain-router/internal/route"
	"crosschain-router/internal/session"
	"crosschain-router/internal/storage"
	"crosschain-router/internal/transfer"
)

type fakeTicker struct {
	events []monitor.TriggerEvent
	calls  int
}

func (f *fakeTicker) Tick(context.Context) ([]monitor.TriggerEvent, error) {
	f.calls++
	return f.events, nil
}

type fakeSessions struct {
	mu        sync.Mutex
	announced map[string][]string
	triggered []string
	reply     transfer.Response
	err       error
}

func (f *fakeSessions) Trigger(_ context.Context, sessionID, alertID string, _ route.TransferRequest) (transfer.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, sessionID+"/"+alertID)
	return f.reply, f.err
}

func (f *fakeSessions) Announce(_ context.Context, sessionID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.announced == nil {
		f.announced = make(map[string][]string)
	}
	f.announced[sessionID] = append(f.announced[sessionID], text)
	return nil
}

type captureNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (c *captureNotifier) Notify(_ context.Context, n alerting.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, n)
	return nil
}

type fakeLocker struct {
	acquired bool
	released bool
}

func (f *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.released = true }, true, nil
}

type fakeSnapshots struct {
	inserted []storage.RouteSnapshot
	pruned   []time.Time
}

func (f *fakeSnapshots) InsertSnapshot(_ context.Context, s storage.RouteSnapshot) (int64, error) {
	f.inserted = append(f.inserted, s)
	return int64(len(f.inserted)), nil
}

func (f *fakeSnapshots) ListSnapshotsBetween(context.Context, string, time.Time, time.Time) ([]storage.RouteSnapshot, error) {
	return f.inserted, nil
}

func (f *fakeSnapshots) ListRecentSnapshots(context.Context, int) ([]storage.RouteSnapshot, error) {
	return f.inserted, nil
}

func (f *fakeSnapshots) DeleteSnapshotsBefore(_ context.Context, t time.Time) (int64, error) {
	f.pruned = append(f.pruned, t)
	return 0, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Scheduler:  config.SchedulerConfig{AdvisoryLockKey: 42, Concurrency: 2},
		Alerting:   config.AlertingConfig{Enabled: true, Channels: []string{"log"}},
		Aggregator: config.AggregatorConfig{SnapshotRetention: 24 * time.Hour},
	}
}

func feeScope() route.RouteRequest {
	return route.RouteRequest{Source: route.Base, Destination: route.Arbitrum, Asset: "USDC", Amount: decimal.NewFromInt(100), Policy: route.PolicyCheapest}
}

func TestProcessTickNotifyAlert(t *testing.T) {
	best := route.Quote{ProviderID: "across", FeeUSD: decimal.RequireFromString("0.8")}
	ticker := &fakeTicker{events: []monitor.TriggerEvent{{
		Alert: monitor.Alert{
			ID: "a1", SessionID: "s1", Action: route.ActionNotify,
			Condition: route.Condition{Kind: route.ConditionFeeBelow, Threshold: decimal.NewFromInt(1), Scope: feeScope()},
		},
		Observed: decimal.RequireFromString("0.8"),
		Routes:   &route.RankedRouteSet{Best: &best, All: []route.Quote{best}},
		At:       time.Now().UTC(),
	}}}
	sessions := &fakeSessions{}
	notifier := &captureNotifier{}
	locker := &fakeLocker{acquired: true}

	svc := New(testConfig(), nil, ticker, sessions, notifier, nil, locker, zerolog.Nop())
	require.NoError(t, svc.ProcessTick(context.Background(), time.Now().UTC()))

	assert.True(t, locker.released)
	require.Len(t, sessions.announced["s1"], 1)
	assert.Contains(t, sessions.announced["s1"][0], "Best route: across at $0.80")
	assert.Empty(t, sessions.triggered)
	require.Len(t, notifier.notes, 1)
	assert.Equal(t, "across", notifier.notes[0].BestProvider)
	assert.Equal(t, []string{"log"}, notifier.notes[0].Channels)
}

func TestProcessTickAutoExecute(t *testing.T) {
	req := route.TransferRequest{Route: feeScope(), FromAddress: "0x1", ToAddress: "0x2"}
	ticker := &fakeTicker{events: []monitor.TriggerEvent{{
		Alert: monitor.Alert{
			ID: "a2", SessionID: "s2", Action: route.ActionAutoExecute, Transfer: &req,
			Condition: route.Condition{Kind: route.ConditionGasBelow, Threshold: decimal.NewFromInt(5), Scope: route.RouteRequest{Source: route.Ethereum}},
		},
		Observed: decimal.NewFromInt(3),
	}}}
	sessions := &fakeSessions{reply: transfer.Response{Message: "Submitted 100 USDC", State: session.StateIdle}}
	notifier := &captureNotifier{}

	svc := New(testConfig(), nil, ticker, sessions, notifier, nil, nil, zerolog.Nop())
	require.NoError(t, svc.ProcessTick(context.Background(), time.Now().UTC()))

	assert.Equal(t, []string{"s2/a2"}, sessions.triggered)
	assert.Empty(t, sessions.announced)
	require.Len(t, notifier.notes, 1)
	assert.Equal(t, "Submitted 100 USDC", notifier.notes[0].Outcome)
}

func TestProcessTickAutoExecuteFailureStillNotifies(t *testing.T) {
	req := route.TransferRequest{Route: feeScope()}
	ticker := &fakeTicker{events: []monitor.TriggerEvent{{
		Alert: monitor.Alert{ID: "a3", SessionID: "s3", Action: route.ActionAutoExecute, Transfer: &req},
	}}}
	sessions := &fakeSessions{err: errors.New("session store down")}
	notifier := &captureNotifier{}

	svc := New(testConfig(), nil, ticker, sessions, notifier, nil, nil, zerolog.Nop())
	require.NoError(t, svc.ProcessTick(context.Background(), time.Now().UTC()))

	require.Len(t, notifier.notes, 1)
	assert.Contains(t, notifier.notes[0].Outcome, "session store down")
}

func TestProcessTickBusySessionReportsSpentAlert(t *testing.T) {
	req := route.TransferRequest{Route: feeScope()}
	ticker := &fakeTicker{events: []monitor.TriggerEvent{{
		Alert: monitor.Alert{ID: "a4", SessionID: "s4", Action: route.ActionAutoExecute, Transfer: &req},
	}}}
	sessions := &fakeSessions{reply: transfer.Response{
		Message: "Alert a4 fired while another transfer was pending, so nothing was executed. The alert is spent; create a new one to keep watching.",
		State:   session.StateAwaitingConfirmation,
		Error:   transfer.ErrSessionBusy,
	}}
	notifier := &captureNotifier{}

	svc := New(testConfig(), nil, ticker, sessions, notifier, nil, nil, zerolog.Nop())
	require.NoError(t, svc.ProcessTick(context.Background(), time.Now().UTC()))

	assert.Equal(t, []string{"s4/a4"}, sessions.triggered)
	require.Len(t, notifier.notes, 1)
	assert.Contains(t, notifier.notes[0].Outcome, "create a new one")
}

func TestProcessTickSkipsWithoutLock(t *testing.T) {
	ticker := &fakeTicker{}
	svc := New(testConfig(), nil, ticker, &fakeSessions{}, nil, nil, &fakeLocker{acquired: false}, zerolog.Nop())

	require.NoError(t, svc.ProcessTick(context.Background(), time.Now().UTC()))
	assert.Zero(t, ticker.calls)
}

func TestProcessTickPrunesHourly(t *testing.T) {
	snaps := &fakeSnapshots{}
	svc := New(testConfig(), nil, &fakeTicker{}, &fakeSessions{}, nil, snaps, nil, zerolog.Nop())
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, svc.ProcessTick(context.Background(), start))
	require.NoError(t, svc.ProcessTick(context.Background(), start.Add(time.Minute)))
	require.NoError(t, svc.ProcessTick(context.Background(), start.Add(time.Hour)))

	require.Len(t, snaps.pruned, 2)
	assert.Equal(t, start.Add(-24*time.Hour), snaps.pruned[0])
}

type staticFinder struct{ set route.RankedRouteSet }

func (s staticFinder) Route(context.Context, route.RouteRequest) route.RankedRouteSet { return s.set }

func TestRecordingRouterPersistsSnapshot(t *testing.T) {
	best := route.Quote{ProviderID: "cctp", FeeUSD: decimal.RequireFromString("0.12")}
	set := route.RankedRouteSet{
		Best:     &best,
		All:      []route.Quote{best},
		Warnings: []route.Warning{{Kind: route.WarnProviderUnavailable, Provider: "across", Message: "across unavailable"}},
	}
	snaps := &fakeSnapshots{}
	r := NewRecordingRouter(staticFinder{set: set}, snaps, zerolog.Nop())

	got := r.Route(context.Background(), feeScope())
	assert.Equal(t, "cctp", got.Best.ProviderID)

	require.Len(t, snaps.inserted, 1)
	snap := snaps.inserted[0]
	assert.Equal(t, "USDC:base->arbitrum", snap.RouteKey)
	assert.Equal(t, "cctp", *snap.BestProvider)
	assert.True(t, decimal.RequireFromString("0.12").Equal(*snap.BestFeeUSD))
	assert.Equal(t, []string{"provider_unavailable"}, snap.Warnings)
	assert.Equal(t, 1, snap.QuoteCount)
}

type fakeReceipts struct {
	records []storage.ReceiptRecord
}

func (f *fakeReceipts) InsertReceipt(_ context.Context, r storage.ReceiptRecord) error {
	f.records = append(f.records, r)
	return nil
}

func (f *fakeReceipts) ListRecentReceipts(context.Context, int) ([]storage.ReceiptRecord, error) {
	return f.records, nil
}

type stubExecutor struct {
	receipt dispatcher.Receipt
	err     error
}

func (s stubExecutor) Execute(context.Context, route.TransferRequest, route.Quote) (dispatcher.Receipt, error) {
	return s.receipt, s.err
}

func TestRecordingExecutorStoresFailure(t *testing.T) {
	stepErr := &dispatcher.StepError{Step: dispatcher.StepSubmit, Provider: "cctp", Err: errors.New("reverted")}
	receipts := &fakeReceipts{}
	exec := NewRecordingExecutor(stubExecutor{
		receipt: dispatcher.Receipt{AuthorizationRef: "0xabc"},
		err:     stepErr,
	}, receipts, zerolog.Nop())

	req := route.TransferRequest{Route: feeScope(), ToAddress: "0x2"}
	_, err := exec.Execute(context.Background(), req, route.Quote{ProviderID: "cctp", Method: route.MethodCCTPBurn})
	require.ErrorIs(t, err, stepErr)

	require.Len(t, receipts.records, 1)
	rec := receipts.records[0]
	assert.Equal(t, storage.ReceiptFailed, rec.Status)
	assert.Equal(t, "0xabc", *rec.AuthorizationRef)
	assert.Nil(t, rec.TransferRef)
	assert.NotEmpty(t, rec.ID)
	assert.Contains(t, *rec.Error, "reverted")
}
