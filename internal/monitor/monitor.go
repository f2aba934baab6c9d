// Package monitor evaluates standing alerts on a fixed cadence and reports
// the ones whose condition became true as trigger events.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"crosschain-router/internal/fetcher"
	"crosschain-router/internal/route"
)

// RouteFinder is the aggregation pipeline used by fee conditions.
type RouteFinder interface {
	Route(ctx context.Context, req route.RouteRequest) route.RankedRouteSet
}

// TriggerEvent is emitted once per alert when its condition holds.
type TriggerEvent struct {
	Alert    Alert                 `json:"alert"`
	Observed decimal.Decimal       `json:"observed"`
	Routes   *route.RankedRouteSet `json:"routes,omitempty"`
	At       time.Time             `json:"at"`
}

// Options tune a Monitor.
type Options struct {
	// Concurrency bounds simultaneous observations per tick.
	Concurrency int
}

// Monitor owns alert registration and evaluation.
type Monitor struct {
	registry Registry
	routes   RouteFinder
	prices   fetcher.PriceFetcher
	gas      fetcher.GasFetcher
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs a Monitor. prices and gas may be nil, in which case the
// matching condition kinds are rejected at registration.
func New(registry Registry, routes RouteFinder, prices fetcher.PriceFetcher, gas fetcher.GasFetcher, opts Options, logger zerolog.Logger) *Monitor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Monitor{
		registry: registry,
		routes:   routes,
		prices:   prices,
		gas:      gas,
		opts:     opts,
		logger:   logger.With().Str("component", "monitor").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register stores a new standing alert for sessionID and returns its id.
func (m *Monitor) Register(ctx context.Context, sessionID string, cond route.Condition, action route.AlertAction, transfer *route.TransferRequest) (string, error) {
	if err := cond.Validate(); err != nil {
		return "", err
	}
	if _, err := route.ParseAlertAction(string(action)); err != nil {
		return "", err
	}
	if action == "" {
		action = route.ActionNotify
	}
	if action == route.ActionAutoExecute && transfer == nil {
		return "", errors.New("auto_execute alerts need a transfer to run")
	}
	switch cond.Kind {
	case route.ConditionPriceBelow, route.ConditionPriceAbove:
		if m.prices == nil {
			return "", errors.New("price alerts are not configured")
		}
	case route.ConditionGasBelow:
		if m.gas == nil {
			return "", errors.New("gas alerts are not configured")
		}
	case route.ConditionFeeBelow:
		if m.routes == nil {
			return "", errors.New("fee alerts are not configured")
		}
	}

	a := Alert{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Condition: cond,
		Action:    action,
		Transfer:  transfer,
		CreatedAt: m.now(),
	}
	if err := m.registry.Add(ctx, a); err != nil {
		return "", err
	}
	m.logger.Info().Str("alert_id", a.ID).Str("session_id", sessionID).Str("condition", cond.String()).Msg("alert registered")
	return a.ID, nil
}

// Cancel removes an alert, reporting whether it existed.
func (m *Monitor) Cancel(ctx context.Context, alertID string) (bool, error) {
	return m.registry.Remove(ctx, alertID)
}

// List returns the alerts of sessionID, triggered ones included.
func (m *Monitor) List(ctx context.Context, sessionID string) ([]Alert, error) {
	return m.registry.BySession(ctx, sessionID)
}

type observation struct {
	value  decimal.Decimal
	routes *route.RankedRouteSet
	err    error
}

// Tick evaluates every active alert once. Alerts sharing an observable are
// observed once. An alert is reported in at most one tick over its lifetime.
func (m *Monitor) Tick(ctx context.Context) ([]TriggerEvent, error) {
	active, err := m.registry.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active alerts: %w", err)
	}
	if len(active) == 0 {
		return nil, nil
	}

	conditions := make(map[string]route.Condition)
	for _, a := range active {
		key := observableKey(a.Condition)
		if _, ok := conditions[key]; !ok {
			conditions[key] = a.Condition
		}
	}

	var mu sync.Mutex
	observations := make(map[string]*observation, len(conditions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for key, cond := range conditions {
		g.Go(func() error {
			obs := m.observe(gctx, cond)
			mu.Lock()
			observations[key] = obs
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	now := m.now()
	var events []TriggerEvent
	for _, a := range active {
		obs := observations[observableKey(a.Condition)]
		logger := m.logger.With().Str("alert_id", a.ID).Str("condition", a.Condition.String()).Logger()
		if obs == nil || obs.err != nil {
			logger.Warn().Err(obsErr(obs)).Msg("alert observation failed")
			continue
		}
		if err := m.registry.Observe(ctx, a.ID, obs.value); err != nil {
			logger.Warn().Err(err).Msg("failed to record observation")
		}
		if !a.Condition.Satisfied(obs.value) {
			continue
		}

		fired, err := m.registry.MarkTriggered(ctx, a.ID, now)
		if err != nil {
			logger.Error().Err(err).Msg("failed to mark alert triggered")
			continue
		}
		if !fired {
			continue
		}
		a.Triggered = true
		a.TriggeredAt = &now
		a.LastValue = obs.value
		events = append(events, TriggerEvent{Alert: a, Observed: obs.value, Routes: obs.routes, At: now})
		logger.Info().Str("observed", obs.value.String()).Msg("alert triggered")
	}
	return events, nil
}

func (m *Monitor) observe(ctx context.Context, cond route.Condition) *observation {
	switch cond.Kind {
	case route.ConditionFeeBelow:
		if m.routes == nil {
			return &observation{err: errors.New("no route finder")}
		}
		set := m.routes.Route(ctx, cond.Scope)
		if set.Best == nil {
			return &observation{err: errors.New("no route found")}
		}
		return &observation{value: set.Best.FeeUSD, routes: &set}
	case route.ConditionPriceBelow, route.ConditionPriceAbove:
		if m.prices == nil {
			return &observation{err: errors.New("no price source")}
		}
		price, err := m.prices.FetchPrice(ctx, cond.Scope.Asset)
		return &observation{value: price, err: err}
	case route.ConditionGasBelow:
		if m.gas == nil {
			return &observation{err: errors.New("no gas source")}
		}
		gwei, err := m.gas.FetchGasPrice(ctx, cond.Scope.Source)
		return &observation{value: gwei, err: err}
	}
	return &observation{err: fmt.Errorf("unknown condition kind %q", cond.Kind)}
}

func observableKey(c route.Condition) string {
	switch c.Kind {
	case route.ConditionFeeBelow:
		return "fee|" + c.Scope.String() + "|" + string(c.Scope.Policy)
	case route.ConditionPriceBelow, route.ConditionPriceAbove:
		return "price|" + strings.ToUpper(c.Scope.Asset)
	case route.ConditionGasBelow:
		return "gas|" + string(c.Scope.Source)
	}
	return string(c.Kind)
}

func obsErr(obs *observation) error {
	if obs == nil {
		return errors.New("not observed")
	}
	return obs.err
}
