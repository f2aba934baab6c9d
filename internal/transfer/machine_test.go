package transfer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosschain-router/internal/dispatcher"
	"crosschain-router/internal/fetcher"
	"crosschain-router/internal/guardrail"
	"crosschain-router/internal/intent"
	"crosschain-router/internal/monitor"
	"crosschain-router/internal/route"
	"crosschain-router/internal/session"
)

const (
	walletA = "0x52908400098527886e0f7030069857d2e4169ee7"
	walletB = "0x8617e340b3d01fa5f11f306f4090fd50e238070d"
)

type fakeRoutes struct {
	quotes []route.Quote
	delay  time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeRoutes) Route(_ context.Context, req route.RouteRequest) route.RankedRouteSet {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return route.NewRankedRouteSet(f.quotes, req.Policy, nil)
}

type fakeExecutor struct {
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeExecutor) Execute(_ context.Context, req route.TransferRequest, q route.Quote) (dispatcher.Receipt, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	receipt := dispatcher.Receipt{
		Provider:    q.ProviderID,
		Method:      q.Method,
		Source:      req.Route.Source,
		Destination: req.Route.Destination,
		Asset:       req.Route.Asset,
		Amount:      req.Route.Amount,
		ToAddress:   req.ToAddress,
	}
	if f.err != nil {
		return receipt, f.err
	}
	receipt.TransferRef = "0xabc"
	return receipt, nil
}

func bestQuote(fee string) route.Quote {
	return route.Quote{
		ProviderID:     "across",
		FeeUSD:         decimal.RequireFromString(fee),
		ETAMinutes:     2,
		SuccessRate:    decimal.RequireFromString("0.99"),
		LiquidityUSD:   decimal.NewFromInt(1_000_000),
		ExecutionReady: true,
		Method:         route.MethodSpokePoolDeposit,
	}
}

func transferIntent(asset string, amount int64) intent.Intent {
	return intent.Intent{
		Kind: intent.KindTransfer,
		Transfer: &route.TransferRequest{
			Route: route.RouteRequest{
				Source:      route.Base,
				Destination: route.Arbitrum,
				Asset:       asset,
				Amount:      decimal.NewFromInt(amount),
				Policy:      route.PolicyCheapest,
			},
			FromAddress: walletA,
			ToAddress:   walletB,
		},
		Text: "send",
	}
}

var (
	yes = intent.Intent{Kind: intent.KindConfirm, Approve: true, Text: "yes"}
	no  = intent.Intent{Kind: intent.KindConfirm, Approve: false, Text: "no"}
)

type harness struct {
	machine  *Machine
	store    *session.MemoryStore
	routes   *fakeRoutes
	executor *fakeExecutor
	alerts   *monitor.Monitor
}

func newHarness(fee string) *harness {
	return newHarnessWithOptions(fee, DefaultOptions())
}

func newHarnessWithOptions(fee string, opts Options) *harness {
	h := &harness{
		store:    session.NewMemoryStore(),
		routes:   &fakeRoutes{quotes: []route.Quote{bestQuote(fee)}},
		executor: &fakeExecutor{},
	}
	h.alerts = monitor.New(monitor.NewMemoryRegistry(), h.routes, nil, nil, monitor.Options{}, zerolog.Nop())
	h.machine = New(h.store, h.routes, guardrail.New(guardrail.DefaultRules()), h.executor, h.alerts, opts, zerolog.Nop())
	return h
}

func pricedOptions(usd map[string]float64) Options {
	opts := DefaultOptions()
	opts.Prices = fetcher.NewFixedPrices(usd)
	return opts
}

func (h *harness) handle(t *testing.T, in intent.Intent) Response {
	t.Helper()
	resp, err := h.machine.Handle(context.Background(), "s1", in)
	require.NoError(t, err)
	return resp
}

func (h *harness) session(t *testing.T) *session.Session {
	t.Helper()
	s, err := h.store.Get(context.Background(), "s1")
	require.NoError(t, err)
	return s
}

func TestTransferConfirmAndExecute(t *testing.T) {
	h := newHarness("0.5")

	resp := h.handle(t, transferIntent("USDC", 100))
	assert.Equal(t, session.StateAwaitingConfirmation, resp.State)
	assert.Empty(t, resp.Error)
	assert.Contains(t, resp.Message, "via across")
	require.NotNil(t, resp.Data)
	require.NotNil(t, resp.Data.Verdict)
	assert.True(t, resp.Data.Verdict.Valid)
	require.NotNil(t, h.session(t).Pending)

	resp = h.handle(t, yes)
	assert.Equal(t, session.StateIdle, resp.State)
	require.NotNil(t, resp.Data)
	require.NotNil(t, resp.Data.Receipt)
	assert.Equal(t, "0xabc", resp.Data.Receipt.TransferRef)
	assert.Equal(t, int32(1), h.executor.calls.Load())
	assert.Nil(t, h.session(t).Pending)
}

func TestHardStopKeepsIdle(t *testing.T) {
	h := newHarness("60")

	resp := h.handle(t, transferIntent("USDC", 100))
	assert.Equal(t, session.StateIdle, resp.State)
	assert.Equal(t, ErrHardStopFeeRatio, resp.Error)
	assert.Nil(t, h.session(t).Pending)
	assert.Zero(t, h.executor.calls.Load())
}

func TestConfirmWhileIdleIsNoop(t *testing.T) {
	h := newHarness("0.5")

	resp := h.handle(t, yes)
	assert.Equal(t, session.StateIdle, resp.State)
	assert.Contains(t, resp.Message, "no pending transfer")
	assert.Zero(t, h.executor.calls.Load())
}

func TestCancelClearsPending(t *testing.T) {
	h := newHarness("0.5")
	h.handle(t, transferIntent("USDC", 100))

	resp := h.handle(t, no)
	assert.Equal(t, session.StateIdle, resp.State)
	assert.Nil(t, h.session(t).Pending)

	resp = h.handle(t, yes)
	assert.Contains(t, resp.Message, "no pending transfer")
	assert.Zero(t, h.executor.calls.Load())
}

func TestSecondConfirmDoesNotResubmit(t *testing.T) {
	h := newHarness("0.5")
	h.handle(t, transferIntent("USDC", 100))
	h.handle(t, yes)
	h.handle(t, yes)
	assert.Equal(t, int32(1), h.executor.calls.Load())
}

func TestAwaitingRepromptsOnOtherIntents(t *testing.T) {
	h := newHarness("0.5")
	h.handle(t, transferIntent("USDC", 100))
	pending := h.session(t).Pending.ID

	resp := h.handle(t, transferIntent("USDC", 5))
	assert.Equal(t, session.StateAwaitingConfirmation, resp.State)
	assert.Contains(t, resp.Message, "Reply yes")
	assert.Equal(t, pending, h.session(t).Pending.ID)
}

func TestValidationFailureReturnsData(t *testing.T) {
	h := newHarness("0.5")

	in := transferIntent("sUSDe", 100)
	in.Transfer.Route.Source = route.Ethereum
	resp := h.handle(t, in)
	assert.Equal(t, session.StateIdle, resp.State)
	assert.Equal(t, ErrValidationFailed, resp.Error)
	assert.Contains(t, resp.Message, "Suggestion: Swap sUSDe")
	require.NotNil(t, resp.Data.Verdict)
	assert.False(t, resp.Data.Verdict.Valid)
}

func TestNoRouteFound(t *testing.T) {
	h := newHarness("0.5")
	h.routes.quotes = nil

	resp := h.handle(t, transferIntent("USDC", 100))
	assert.Equal(t, session.StateIdle, resp.State)
	assert.Equal(t, ErrNoRouteFound, resp.Error)
}

func TestDispatchFailureReturnsToIdle(t *testing.T) {
	h := newHarness("0.5")
	h.executor.err = &dispatcher.StepError{Step: dispatcher.StepSubmit, Provider: "across", Err: errors.New("insufficient funds")}
	h.handle(t, transferIntent("USDC", 100))

	resp := h.handle(t, yes)
	assert.Equal(t, session.StateIdle, resp.State)
	assert.Equal(t, ErrExecutionStepFailed, resp.Error)
	assert.Contains(t, resp.Message, "insufficient funds")

	s := h.session(t)
	assert.Nil(t, s.Pending)
	var sawError bool
	for _, turn := range s.History {
		if turn.State == session.StateError {
			sawError = true
		}
	}
	assert.True(t, sawError)

	h.handle(t, yes)
	assert.Equal(t, int32(1), h.executor.calls.Load())
}

func TestConfigurationErrorIsGeneric(t *testing.T) {
	h := newHarness("0.5")
	h.executor.err = dispatcher.ErrConfiguration
	h.handle(t, transferIntent("USDC", 100))

	resp := h.handle(t, yes)
	assert.Equal(t, ErrConfiguration, resp.Error)
	assert.Equal(t, session.StateIdle, resp.State)
}

func TestConcurrentEventsAreSerialized(t *testing.T) {
	h := newHarness("0.5")
	h.routes.delay = 20 * time.Millisecond

	query := transferIntent("USDC", 100)
	query.Kind = intent.KindQuery

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.machine.Handle(context.Background(), "s1", query)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), h.routes.maxActive.Load())
	assert.Len(t, h.session(t).History, 8)

	h.handle(t, transferIntent("USDC", 100))
	h.executor.delay = 20 * time.Millisecond
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.machine.Handle(context.Background(), "s1", yes)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), h.executor.calls.Load())
}

func TestPendingTransferExpires(t *testing.T) {
	h := newHarness("0.5")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.machine.now = func() time.Time { return now }

	h.handle(t, transferIntent("USDC", 100))
	now = now.Add(11 * time.Minute)

	resp := h.handle(t, yes)
	assert.Equal(t, session.StateIdle, resp.State)
	assert.Contains(t, resp.Message, "expired")
	assert.Zero(t, h.executor.calls.Load())
}

func TestInterruptedExecutionIsNotResubmitted(t *testing.T) {
	h := newHarness("0.5")
	s := session.New("s1", time.Now())
	s.State = session.StateExecuting
	require.NoError(t, h.store.Put(context.Background(), s))

	resp := h.handle(t, yes)
	assert.Equal(t, session.StateIdle, resp.State)
	assert.Contains(t, resp.Message, "interrupted")
	assert.Zero(t, h.executor.calls.Load())
}

func TestQueryDoesNotChangeState(t *testing.T) {
	h := newHarness("0.5")
	in := transferIntent("USDC", 100)
	in.Kind = intent.KindQuery

	resp := h.handle(t, in)
	assert.Equal(t, session.StateIdle, resp.State)
	assert.Contains(t, resp.Message, "1. across")
	require.NotNil(t, resp.Data.Routes)
}

func TestAlertLifecycleThroughHandle(t *testing.T) {
	h := newHarness("0.5")
	cond := route.Condition{
		Kind:      route.ConditionFeeBelow,
		Threshold: decimal.NewFromInt(1),
		Scope:     transferIntent("USDC", 100).Transfer.Route,
	}

	resp := h.handle(t, intent.Intent{Kind: intent.KindAlert, Condition: &cond, Action: route.ActionNotify})
	assert.Equal(t, session.StateIdle, resp.State)
	require.NotNil(t, resp.Data)
	id := resp.Data.AlertID
	require.NotEmpty(t, id)

	resp = h.handle(t, intent.Intent{Kind: intent.KindListAlerts})
	require.Len(t, resp.Data.Alerts, 1)
	assert.Contains(t, resp.Message, id)

	resp = h.handle(t, intent.Intent{Kind: intent.KindCancelAlert, AlertID: id})
	assert.Contains(t, resp.Message, "cancelled")

	resp = h.handle(t, intent.Intent{Kind: intent.KindListAlerts})
	assert.Contains(t, resp.Message, "no alerts")
}

func TestTriggerExecutesWhenIdle(t *testing.T) {
	h := newHarness("0.5")
	req := *transferIntent("USDC", 100).Transfer

	resp, err := h.machine.Trigger(context.Background(), "s1", "a1", req)
	require.NoError(t, err)
	assert.Equal(t, session.StateIdle, resp.State)
	assert.Equal(t, int32(1), h.executor.calls.Load())
	require.NotNil(t, resp.Data.Receipt)
}

func TestTriggerRefusesWhilePending(t *testing.T) {
	h := newHarness("0.5")
	h.handle(t, transferIntent("USDC", 100))

	resp, err := h.machine.Trigger(context.Background(), "s1", "a1", *transferIntent("USDC", 50).Transfer)
	require.NoError(t, err)
	assert.Equal(t, session.StateAwaitingConfirmation, resp.State)
	assert.Equal(t, ErrSessionBusy, resp.Error)
	assert.Contains(t, resp.Message, "The alert is spent; create a new one")
	assert.Zero(t, h.executor.calls.Load())

	// the user's own pending transfer is untouched
	s := h.session(t)
	require.NotNil(t, s.Pending)
	assert.True(t, s.Pending.Request.Route.Amount.Equal(decimal.NewFromInt(100)))
}

func TestTriggerHardStopDoesNotExecute(t *testing.T) {
	h := newHarness("60")

	resp, err := h.machine.Trigger(context.Background(), "s1", "a1", *transferIntent("USDC", 100).Transfer)
	require.NoError(t, err)
	assert.Equal(t, ErrHardStopFeeRatio, resp.Error)
	assert.Zero(t, h.executor.calls.Load())
}

func TestVolatileAssetIsValuedInUSD(t *testing.T) {
	// a $1 fee on 2 ETH is tiny; compared to the token count it would be 50%
	h := newHarnessWithOptions("1", pricedOptions(map[string]float64{"ETH": 3000}))

	resp := h.handle(t, transferIntent("ETH", 2))
	require.Empty(t, resp.Error, resp.Message)
	assert.Equal(t, session.StateAwaitingConfirmation, resp.State)

	s := h.session(t)
	require.NotNil(t, s.Pending)
	assert.True(t, s.Pending.Request.Route.AmountUSD.Equal(decimal.NewFromInt(6000)))
}

func TestVolatileAssetHardStopUsesUSD(t *testing.T) {
	// 2 ETH at $10 is $20, so a $6 fee is 30%
	h := newHarnessWithOptions("6", pricedOptions(map[string]float64{"ETH": 10}))

	resp := h.handle(t, transferIntent("ETH", 2))
	assert.Equal(t, ErrHardStopFeeRatio, resp.Error)
	assert.Contains(t, resp.Message, "30.0%")
	assert.Equal(t, session.StateIdle, resp.State)
}

func TestUnpricedVolatileAssetIsNotPrepared(t *testing.T) {
	h := newHarness("1")

	resp := h.handle(t, transferIntent("ETH", 2))
	assert.Equal(t, ErrValuationFailed, resp.Error)
	assert.Equal(t, session.StateIdle, resp.State)
	assert.Nil(t, h.session(t).Pending)

	resp = h.handle(t, yes)
	assert.Contains(t, resp.Message, "no pending transfer")
	assert.Zero(t, h.executor.calls.Load())
}

func TestClientAmountUSDIsReplaced(t *testing.T) {
	h := newHarnessWithOptions("6", pricedOptions(map[string]float64{"ETH": 10}))
	in := transferIntent("ETH", 2)
	in.Transfer.Route.AmountUSD = decimal.NewFromInt(1_000_000)

	resp := h.handle(t, in)
	assert.Equal(t, ErrHardStopFeeRatio, resp.Error)
}

func TestSwapAndTransferIsNotExecuted(t *testing.T) {
	h := newHarness("0.5")
	in := transferIntent("USDC", 100)
	in.Kind = intent.KindSwapAndTransfer
	in.SwapFrom = "SUSDE"

	resp := h.handle(t, in)
	assert.Equal(t, ErrSwapNotExecuted, resp.Error)
	assert.Equal(t, session.StateIdle, resp.State)
	assert.Contains(t, resp.Message, "I cannot swap SUSDE to USDC")
	assert.Contains(t, resp.Message, "send 100 USDC to arbitrum")
	require.NotNil(t, resp.Data)
	require.NotNil(t, resp.Data.Routes)
	assert.Equal(t, "across", resp.Data.Routes.Best.ProviderID)
	assert.Nil(t, h.session(t).Pending)

	resp = h.handle(t, yes)
	assert.Contains(t, resp.Message, "no pending transfer")
	assert.Zero(t, h.executor.calls.Load())
}
