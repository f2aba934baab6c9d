// Package transfer implements the per-session transfer state machine:
// idle, awaiting_confirmation and executing, with at-most-once dispatch of
// every confirmed transfer.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crosschain-router/internal/dispatcher"
	"crosschain-router/internal/fetcher"
	"crosschain-router/internal/guardrail"
	"crosschain-router/internal/intent"
	"crosschain-router/internal/monitor"
	"crosschain-router/internal/route"
	"crosschain-router/internal/session"
)

// ErrorKind classifies user-visible failures.
type ErrorKind string

const (
	ErrNoRouteFound        ErrorKind = "no_route_found"
	ErrValidationFailed    ErrorKind = "validation_failed"
	ErrHardStopFeeRatio    ErrorKind = "hard_stop_fee_ratio"
	ErrExecutionStepFailed ErrorKind = "execution_step_failed"
	ErrConfiguration       ErrorKind = "configuration_error"
	ErrValuationFailed     ErrorKind = "valuation_failed"
	ErrSwapNotExecuted     ErrorKind = "swap_not_executed"
	ErrSessionBusy         ErrorKind = "session_busy"
)

// RouteFinder aggregates and ranks quotes.
type RouteFinder interface {
	Route(ctx context.Context, req route.RouteRequest) route.RankedRouteSet
}

// Validator runs the guardrail checks.
type Validator interface {
	Validate(req route.TransferRequest, chosen *route.Quote) guardrail.Verdict
}

// Executor dispatches a confirmed transfer.
type Executor interface {
	Execute(ctx context.Context, req route.TransferRequest, q route.Quote) (dispatcher.Receipt, error)
}

// Alerts registers standing conditions.
type Alerts interface {
	Register(ctx context.Context, sessionID string, cond route.Condition, action route.AlertAction, transfer *route.TransferRequest) (string, error)
	Cancel(ctx context.Context, alertID string) (bool, error)
	List(ctx context.Context, sessionID string) ([]monitor.Alert, error)
}

// Data is the machine-readable part of a Response.
type Data struct {
	Routes  *route.RankedRouteSet `json:"routes,omitempty"`
	Verdict *guardrail.Verdict    `json:"verdict,omitempty"`
	Receipt *dispatcher.Receipt   `json:"receipt,omitempty"`
	Alerts  []monitor.Alert       `json:"alerts,omitempty"`
	AlertID string                `json:"alert_id,omitempty"`
}

// Response is returned for every handled event.
type Response struct {
	Message string        `json:"message"`
	State   session.State `json:"state"`
	Error   ErrorKind     `json:"error,omitempty"`
	Data    *Data         `json:"data,omitempty"`
}

// Options tune the machine.
type Options struct {
	// HardStopFeeRatio rejects transfers whose fee/amount exceeds it.
	HardStopFeeRatio decimal.Decimal
	// ConfirmTTL expires pending transfers; zero disables expiry.
	ConfirmTTL time.Duration
	// Prices values non-stable transfers in USD. Stables need no price.
	Prices fetcher.PriceFetcher
}

// DefaultOptions returns a 25% hard stop and a ten minute confirmation window.
func DefaultOptions() Options {
	return Options{
		HardStopFeeRatio: decimal.RequireFromString("0.25"),
		ConfirmTTL:       10 * time.Minute,
	}
}

type executionKey struct{}

type execution struct {
	sessionID string
	pendingID string
}

func withExecution(ctx context.Context, sessionID, pendingID string) context.Context {
	return context.WithValue(ctx, executionKey{}, execution{sessionID: sessionID, pendingID: pendingID})
}

// ExecutionFrom returns the session and pending transfer ids an Executor is
// being called for.
func ExecutionFrom(ctx context.Context) (sessionID, pendingID string, ok bool) {
	e, ok := ctx.Value(executionKey{}).(execution)
	return e.sessionID, e.pendingID, ok
}

// Machine serializes events per session and drives the transfer lifecycle.
type Machine struct {
	store     session.Store
	locks     *session.Locks
	routes    RouteFinder
	validator Validator
	executor  Executor
	alerts    Alerts
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

// New wires a Machine. alerts may be nil when standing alerts are disabled.
func New(store session.Store, routes RouteFinder, validator Validator, executor Executor, alerts Alerts, opts Options, logger zerolog.Logger) *Machine {
	if opts.HardStopFeeRatio.IsZero() {
		opts.HardStopFeeRatio = DefaultOptions().HardStopFeeRatio
	}
	return &Machine{
		store:     store,
		locks:     session.NewLocks(),
		routes:    routes,
		validator: validator,
		executor:  executor,
		alerts:    alerts,
		opts:      opts,
		logger:    logger.With().Str("component", "transfer").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one inbound intent for sessionID. The returned error is
// reserved for session storage failures; every business outcome is a
// Response.
func (m *Machine) Handle(ctx context.Context, sessionID string, in intent.Intent) (Response, error) {
	return m.withSession(ctx, sessionID, func(s *session.Session) (Response, error) {
		text := in.Text
		if text == "" {
			text = string(in.Kind)
		}
		s.Record(m.now(), "user", text)
		return m.advance(ctx, s, in)
	})
}

// Trigger runs an auto-executing alert's transfer through the same pipeline
// a user would, confirming on the owner's behalf. It refuses to act unless
// the session is idle. A triggered alert is spent either way, so a refusal
// tells the owner to register a new one.
func (m *Machine) Trigger(ctx context.Context, sessionID, alertID string, req route.TransferRequest) (Response, error) {
	return m.withSession(ctx, sessionID, func(s *session.Session) (Response, error) {
		s.Record(m.now(), "system", fmt.Sprintf("alert %s triggered", alertID))
		if s.State != session.StateIdle {
			m.logger.Warn().Str("session_id", s.ID).Str("alert_id", alertID).Str("state", string(s.State)).Msg("alert fired while session busy")
			return Response{
				Message: fmt.Sprintf("Alert %s fired while another transfer was pending, so nothing was executed. The alert is spent; create a new one to keep watching.", alertID),
				Error:   ErrSessionBusy,
			}, nil
		}
		resp := m.prepare(ctx, s, req)
		if s.State != session.StateAwaitingConfirmation {
			resp.Message = fmt.Sprintf("Alert %s fired but the transfer could not be prepared. %s", alertID, resp.Message)
			return resp, nil
		}
		return m.confirm(ctx, s)
	})
}

// Announce appends an assistant message to the session history.
func (m *Machine) Announce(ctx context.Context, sessionID, text string) error {
	_, err := m.withSession(ctx, sessionID, func(*session.Session) (Response, error) {
		return Response{Message: text}, nil
	})
	return err
}

// Session returns a snapshot of sessionID.
func (m *Machine) Session(ctx context.Context, sessionID string) (*session.Session, error) {
	return m.store.Get(ctx, sessionID)
}

func (m *Machine) withSession(ctx context.Context, sessionID string, fn func(*session.Session) (Response, error)) (Response, error) {
	unlock, err := m.locks.Lock(ctx, sessionID)
	if err != nil {
		return Response{}, err
	}
	defer unlock()

	s, err := m.load(ctx, sessionID)
	if err != nil {
		return Response{}, err
	}
	notice := m.recover(s)

	resp, err := fn(s)
	if err != nil {
		return Response{}, err
	}
	if notice != "" {
		resp.Message = notice + " " + resp.Message
	}
	resp.State = s.State
	s.Record(m.now(), "assistant", resp.Message)

	if err := m.store.Put(ctx, s); err != nil {
		return Response{}, fmt.Errorf("save session %s: %w", sessionID, err)
	}
	return resp, nil
}

func (m *Machine) load(ctx context.Context, id string) (*session.Session, error) {
	s, err := m.store.Get(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return session.New(id, m.now()), nil
	case err != nil:
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return s, nil
}

// recover resets sessions left mid-dispatch by a crash and expires stale
// confirmations. A transfer found in executing is never resubmitted.
func (m *Machine) recover(s *session.Session) string {
	switch s.State {
	case session.StateExecuting, session.StateError:
		m.logger.Warn().Str("session_id", s.ID).Str("state", string(s.State)).Msg("resetting interrupted session")
		s.State = session.StateIdle
		s.Pending = nil
		return "The previous transfer was interrupted; check the source network before retrying."
	case session.StateAwaitingConfirmation:
		if s.Pending == nil {
			s.State = session.StateIdle
			return ""
		}
		if m.opts.ConfirmTTL > 0 && m.now().Sub(s.Pending.CreatedAt) > m.opts.ConfirmTTL {
			s.State = session.StateIdle
			s.Pending = nil
			return "The pending transfer expired and was cancelled."
		}
	}
	return ""
}

func (m *Machine) advance(ctx context.Context, s *session.Session, in intent.Intent) (Response, error) {
	if s.State == session.StateAwaitingConfirmation {
		if in.Kind != intent.KindConfirm {
			return Response{Message: "You have a pending transfer: " + preview(s.Pending) + " Reply yes to confirm or no to cancel."}, nil
		}
		if !in.Approve {
			s.State = session.StateIdle
			s.Pending = nil
			return Response{Message: "Transfer cancelled."}, nil
		}
		return m.confirm(ctx, s)
	}

	switch in.Kind {
	case intent.KindConfirm:
		return Response{Message: "There is no pending transfer to confirm."}, nil
	case intent.KindTransfer, intent.KindSwapAndTransfer:
		if in.Transfer == nil {
			return Response{Message: "Which amount, asset and destination should I use?"}, nil
		}
		if in.Kind == intent.KindSwapAndTransfer {
			return m.swapThenTransfer(ctx, *in.Transfer, in.SwapFrom), nil
		}
		return m.prepare(ctx, s, *in.Transfer), nil
	case intent.KindQuery:
		if in.Transfer == nil {
			return Response{Message: "Which route should I quote?"}, nil
		}
		return m.query(ctx, *in.Transfer), nil
	case intent.KindAlert:
		return m.registerAlert(ctx, s.ID, in), nil
	case intent.KindListAlerts:
		return m.listAlerts(ctx, s.ID), nil
	case intent.KindCancelAlert:
		return m.cancelAlert(ctx, in.AlertID), nil
	case intent.KindClarification:
		if in.Question != "" {
			return Response{Message: in.Question}, nil
		}
	}
	return Response{Message: "I did not understand that. Try: send 100 USDC from base to arbitrum 0x..."}, nil
}

// prepare runs aggregate, rank, validate and the hard stop. The session only
// leaves idle when all of them pass.
func (m *Machine) prepare(ctx context.Context, s *session.Session, req route.TransferRequest) Response {
	logger := m.logger.With().Str("session_id", s.ID).Str("route", req.Route.String()).Logger()

	valued, err := fetcher.ValueRequest(ctx, m.opts.Prices, req.Route)
	if err != nil {
		logger.Warn().Err(err).Msg("transfer not valued")
		return Response{
			Message: fmt.Sprintf("Could not value %s %s in USD right now, so nothing was prepared. Try again shortly.", req.Route.Amount, req.Route.Asset),
			Error:   ErrValuationFailed,
		}
	}
	req.Route = valued

	set := m.routes.Route(ctx, req.Route)
	verdict := m.validator.Validate(req, set.Best)
	data := &Data{Routes: &set, Verdict: &verdict}

	if !verdict.Valid {
		kind := ErrValidationFailed
		if set.Best == nil {
			kind = ErrNoRouteFound
		}
		logger.Info().Str("error", string(kind)).Int("errors", len(verdict.Errors)).Msg("transfer rejected")
		return Response{Message: rejection(verdict, set.Warnings), Error: kind, Data: data}
	}

	best := *set.Best
	if req.Route.AmountUSD.IsPositive() {
		ratio := best.FeeUSD.Div(req.Route.AmountUSD)
		if ratio.GreaterThan(m.opts.HardStopFeeRatio) {
			logger.Info().Str("fee_ratio", ratio.StringFixed(4)).Msg("transfer hard stopped")
			return Response{
				Message: fmt.Sprintf("Not prepared: the best fee $%s is %s%% of the amount, above the %s%% limit.",
					best.FeeUSD.StringFixed(2), ratio.Shift(2).StringFixed(1), m.opts.HardStopFeeRatio.Shift(2).StringFixed(0)),
				Error: ErrHardStopFeeRatio,
				Data:  data,
			}
		}
	}

	s.Pending = &session.Pending{
		ID:        uuid.NewString(),
		Request:   req,
		Quote:     best,
		Verdict:   verdict,
		Routes:    set,
		CreatedAt: m.now(),
	}
	s.State = session.StateAwaitingConfirmation
	logger.Info().Str("pending_id", s.Pending.ID).Str("provider", best.ProviderID).Msg("transfer awaiting confirmation")

	return Response{
		Message: preview(s.Pending) + warningLines(verdict.Warnings, set.Warnings) + " Reply yes to confirm or no to cancel.",
		Data:    data,
	}
}

// confirm moves the pending transfer to executing, persists that before
// dispatch, and always returns the session to idle.
func (m *Machine) confirm(ctx context.Context, s *session.Session) (Response, error) {
	pending := s.Pending
	s.State = session.StateExecuting
	s.Pending = nil
	s.Record(m.now(), "system", "executing "+pending.ID)
	if err := m.store.Put(ctx, s); err != nil {
		s.State = session.StateAwaitingConfirmation
		s.Pending = pending
		return Response{}, fmt.Errorf("persist executing state: %w", err)
	}

	logger := m.logger.With().Str("session_id", s.ID).Str("pending_id", pending.ID).Str("provider", pending.Quote.ProviderID).Logger()

	receipt, err := m.executor.Execute(withExecution(ctx, s.ID, pending.ID), pending.Request, pending.Quote)
	if err != nil {
		s.State = session.StateError
		s.Record(m.now(), "system", err.Error())
		s.State = session.StateIdle

		var stepErr *dispatcher.StepError
		if errors.As(err, &stepErr) {
			logger.Error().Err(err).Str("step", string(stepErr.Step)).Msg("transfer failed")
			return Response{
				Message: fmt.Sprintf("The transfer failed at the %s step via %s: %v. Nothing was retried; send the request again to retry.",
					stepErr.Step, stepErr.Provider, stepErr.Err),
				Error: ErrExecutionStepFailed,
				Data:  &Data{Receipt: &receipt},
			}, nil
		}
		logger.Error().Err(err).Msg("transfer could not be dispatched")
		return Response{
			Message: "The transfer could not be started because of a configuration problem. Nothing was sent.",
			Error:   ErrConfiguration,
		}, nil
	}

	s.State = session.StateIdle
	logger.Info().Str("tx", receipt.TransferRef).Msg("transfer dispatched")
	return Response{
		Message: fmt.Sprintf("Submitted %s %s to %s via %s. Transaction: %s",
			receipt.Amount, receipt.Asset, receipt.Destination, receipt.Provider, receipt.TransferRef),
		Data: &Data{Receipt: &receipt},
	}, nil
}

func (m *Machine) query(ctx context.Context, req route.TransferRequest) Response {
	if valued, err := fetcher.ValueRequest(ctx, m.opts.Prices, req.Route); err == nil {
		req.Route = valued
	}
	set := m.routes.Route(ctx, req.Route)
	data := &Data{Routes: &set}
	if set.Best == nil {
		return Response{Message: "No route found for " + req.Route.String() + "." + warningLines(nil, set.Warnings), Error: ErrNoRouteFound, Data: data}
	}
	return Response{Message: routeTable(req.Route, set), Data: data}
}

// swapThenTransfer answers a swap request with quotes for the bridge leg.
// Swaps are not executed here, so the session stays idle.
func (m *Machine) swapThenTransfer(ctx context.Context, req route.TransferRequest, swapFrom string) Response {
	resp := m.query(ctx, req)
	held := swapFrom
	if held == "" {
		held = "your asset"
	}
	r := req.Route
	resp.Message = fmt.Sprintf("I cannot swap %s to %s, so nothing was prepared. Swap on %s first, then ask me to send %s %s to %s. %s",
		held, r.Asset, r.Source, r.Amount, r.Asset, r.Destination, resp.Message)
	resp.Error = ErrSwapNotExecuted
	return resp
}

func (m *Machine) registerAlert(ctx context.Context, sessionID string, in intent.Intent) Response {
	if m.alerts == nil {
		return Response{Message: "Standing alerts are not enabled."}
	}
	if in.Condition == nil {
		return Response{Message: "What condition should the alert watch?"}
	}
	id, err := m.alerts.Register(ctx, sessionID, *in.Condition, in.Action, in.Transfer)
	if err != nil {
		return Response{Message: "Could not register the alert: " + err.Error() + "."}
	}
	what := "notify you"
	if in.Action == route.ActionAutoExecute {
		what = "send the transfer"
	}
	return Response{
		Message: fmt.Sprintf("Alert %s registered: I will %s when %s.", id, what, in.Condition),
		Data:    &Data{AlertID: id},
	}
}

func (m *Machine) listAlerts(ctx context.Context, sessionID string) Response {
	if m.alerts == nil {
		return Response{Message: "Standing alerts are not enabled."}
	}
	alerts, err := m.alerts.List(ctx, sessionID)
	if err != nil {
		m.logger.Error().Err(err).Str("session_id", sessionID).Msg("list alerts failed")
		return Response{Message: "Could not load your alerts right now."}
	}
	if len(alerts) == 0 {
		return Response{Message: "You have no alerts."}
	}
	return Response{Message: alertList(alerts), Data: &Data{Alerts: alerts}}
}

func (m *Machine) cancelAlert(ctx context.Context, alertID string) Response {
	if m.alerts == nil {
		return Response{Message: "Standing alerts are not enabled."}
	}
	ok, err := m.alerts.Cancel(ctx, alertID)
	switch {
	case err != nil:
		m.logger.Error().Err(err).Str("alert_id", alertID).Msg("cancel alert failed")
		return Response{Message: "Could not cancel the alert right now."}
	case !ok:
		return Response{Message: fmt.Sprintf("No alert %s found.", alertID)}
	}
	return Response{Message: fmt.Sprintf("Alert %s cancelled.", alertID), Data: &Data{AlertID: alertID}}
}
