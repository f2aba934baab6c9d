package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"crosschain-router/internal/fetcher"
	"crosschain-router/internal/route"
)

// Options tune fan-out bounds and warning thresholds.
type Options struct {
	// CallTimeout bounds a single provider call.
	CallTimeout time.Duration
	// Ceiling bounds the whole batch.
	Ceiling time.Duration
	// ThinLiquidityMultiple warns when liquidity < multiple x amount.
	ThinLiquidityMultiple decimal.Decimal
	// HighFeeRatio warns when fee > ratio x amount.
	HighFeeRatio decimal.Decimal
	// Prices values non-stable requests for the threshold warnings.
	Prices fetcher.PriceFetcher
}

// DefaultOptions returns the stock thresholds: 2x liquidity, 5% fee.
func DefaultOptions() Options {
	return Options{
		CallTimeout:           8 * time.Second,
		Ceiling:               10 * time.Second,
		ThinLiquidityMultiple: decimal.NewFromInt(2),
		HighFeeRatio:          decimal.RequireFromString("0.05"),
	}
}

// Result is the surviving quote set and the warnings raised collecting it.
type Result struct {
	Quotes   []route.Quote
	Warnings []route.Warning
}

// Aggregator fans route requests out to every registered provider.
type Aggregator struct {
	providers []fetcher.Provider
	opts      Options
	logger    zerolog.Logger
}

// New constructs an Aggregator over providers.
func New(providers []fetcher.Provider, opts Options, logger zerolog.Logger) *Aggregator {
	defaults := DefaultOptions()
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaults.CallTimeout
	}
	if opts.Ceiling <= 0 {
		opts.Ceiling = defaults.Ceiling
	}
	if opts.ThinLiquidityMultiple.IsZero() {
		opts.ThinLiquidityMultiple = defaults.ThinLiquidityMultiple
	}
	if opts.HighFeeRatio.IsZero() {
		opts.HighFeeRatio = defaults.HighFeeRatio
	}
	return &Aggregator{
		providers: providers,
		opts:      opts,
		logger:    logger.With().Str("component", "aggregator").Logger(),
	}
}

// Route aggregates and ranks under the request's policy.
func (a *Aggregator) Route(ctx context.Context, req route.RouteRequest) route.RankedRouteSet {
	res := a.Aggregate(ctx, req)
	return route.NewRankedRouteSet(res.Quotes, req.Policy, res.Warnings)
}

type outcome struct {
	quote *route.Quote
	err   error
}

// Aggregate queries all providers concurrently. Provider failures become
// warnings; an empty result is a normal outcome.
func (a *Aggregator) Aggregate(ctx context.Context, req route.RouteRequest) Result {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Ceiling)
	defer cancel()

	outcomes := make([]outcome, len(a.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range a.providers {
		g.Go(func() error {
			outcomes[i] = a.call(gctx, p, req)
			return nil
		})
	}
	_ = g.Wait()

	var (
		quotes   []route.Quote
		warnings []route.Warning
	)
	for i, o := range outcomes {
		id := a.providers[i].ID()
		if o.err != nil {
			a.logger.Warn().Err(o.err).Str("provider", id).Str("route", req.String()).Msg("provider returned no quote")
			warnings = append(warnings, route.Warning{
				Kind:     route.WarnProviderUnavailable,
				Provider: id,
				Message:  fmt.Sprintf("%s unavailable: %v", id, o.err),
			})
			continue
		}
		quotes = append(quotes, *o.quote)
	}

	if len(quotes) == 0 {
		warnings = append(warnings, route.Warning{
			Kind:    route.WarnNoProviderResponded,
			Message: "no provider returned a quote for this route; try again shortly",
		})
		return Result{Warnings: warnings}
	}

	ready := make([]route.Quote, 0, len(quotes))
	for _, q := range quotes {
		if q.ExecutionReady {
			ready = append(ready, q)
		}
	}
	if len(ready) > 0 {
		quotes = ready
	} else {
		warnings = append(warnings, route.Warning{
			Kind:    route.WarnNoExecutableProvider,
			Message: "providers quoted this route but none can execute it yet",
		})
	}

	if notional, ok := a.notional(ctx, req); ok {
		warnings = append(warnings, a.thresholdWarnings(quotes, notional)...)
	}

	a.logger.Debug().Str("route", req.String()).Int("quotes", len(quotes)).Int("warnings", len(warnings)).Msg("aggregation settled")
	return Result{Quotes: quotes, Warnings: warnings}
}

// call runs one provider under the per-call timeout. A provider that ignores
// its context is abandoned when the timeout elapses.
func (a *Aggregator) call(ctx context.Context, p fetcher.Provider, req route.RouteRequest) outcome {
	ctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("provider panicked: %v", r)}
			}
		}()
		q, err := p.Quote(ctx, req)
		switch {
		case err != nil:
			done <- outcome{err: err}
		case q == nil:
			done <- outcome{err: fmt.Errorf("empty response")}
		default:
			if verr := q.Validate(); verr != nil {
				done <- outcome{err: fmt.Errorf("malformed quote: %w", verr)}
				return
			}
			done <- outcome{quote: q}
		}
	}()

	select {
	case o := <-done:
		return o
	case <-ctx.Done():
		return outcome{err: fmt.Errorf("timed out: %w", ctx.Err())}
	}
}

// notional is the USD value of the request, priced here when the caller did
// not. Without a value the threshold warnings are skipped.
func (a *Aggregator) notional(ctx context.Context, req route.RouteRequest) (decimal.Decimal, bool) {
	if n, ok := req.Notional(); ok {
		return n, true
	}
	if a.opts.Prices == nil {
		return decimal.Zero, false
	}
	valued, err := fetcher.ValueRequest(ctx, a.opts.Prices, req)
	if err != nil {
		a.logger.Warn().Err(err).Str("route", req.String()).Msg("request not valued; threshold warnings skipped")
		return decimal.Zero, false
	}
	return valued.AmountUSD, true
}

func (a *Aggregator) thresholdWarnings(quotes []route.Quote, amount decimal.Decimal) []route.Warning {
	var warnings []route.Warning
	minLiquidity := amount.Mul(a.opts.ThinLiquidityMultiple)
	maxFee := amount.Mul(a.opts.HighFeeRatio)
	for _, q := range quotes {
		if q.LiquidityUSD.LessThan(minLiquidity) {
			warnings = append(warnings, route.Warning{
				Kind:     route.WarnThinLiquidity,
				Provider: q.ProviderID,
				Message:  fmt.Sprintf("%s liquidity $%s is under %sx the amount", q.ProviderID, q.LiquidityUSD.StringFixed(2), a.opts.ThinLiquidityMultiple),
			})
		}
		if q.FeeUSD.GreaterThan(maxFee) {
			warnings = append(warnings, route.Warning{
				Kind:     route.WarnHighFeeRatio,
				Provider: q.ProviderID,
				Message:  fmt.Sprintf("%s fee $%s exceeds %s%% of the amount", q.ProviderID, q.FeeUSD.StringFixed(2), a.opts.HighFeeRatio.Shift(2)),
			})
		}
	}
	return warnings
}
