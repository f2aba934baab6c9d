package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"crosschain-router/internal/aggregator"
	"crosschain-router/internal/dispatcher"
	"crosschain-router/internal/fetcher"
	"crosschain-router/internal/guardrail"
	"crosschain-router/internal/monitor"
	"crosschain-router/internal/route"
	"crosschain-router/internal/session"
	"crosschain-router/internal/transfer"
)

// SimulateAlert 用固定报价模拟一次费用告警并走完通知流程。
func (a *App) SimulateAlert(ctx context.Context, fee, threshold decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	provider := fetcher.NewStatic(route.Quote{
		ProviderID:   "simulated",
		FeeUSD:       fee,
		ETAMinutes:   2,
		SuccessRate:  decimal.RequireFromString("0.99"),
		LiquidityUSD: decimal.NewFromInt(1_000_000),
		Method:       route.MethodSpokePoolDeposit,
	})
	agg := aggregator.New([]fetcher.Provider{provider}, aggregator.DefaultOptions(), a.Logger)

	tokens := route.DefaultTokens()
	disp, err := dispatcher.NewDefault(tokens, dispatcher.NewDryRun(a.Logger), a.Logger)
	if err != nil {
		return err
	}
	mon := monitor.New(monitor.NewMemoryRegistry(), agg, nil, nil, monitor.Options{}, a.Logger)
	machine := transfer.New(session.NewMemoryStore(), agg, guardrail.New(guardrail.DefaultRules()), disp, mon, transfer.DefaultOptions(), a.Logger)

	scope := route.RouteRequest{
		Source:      route.Base,
		Destination: route.Arbitrum,
		Asset:       "USDC",
		Amount:      decimal.NewFromInt(100),
		Policy:      route.PolicyCheapest,
	}
	cond := route.Condition{Kind: route.ConditionFeeBelow, Threshold: threshold, Scope: scope}
	if _, err := mon.Register(ctx, "simulation", cond, route.ActionNotify, nil); err != nil {
		return err
	}

	svc := a.newService(&runtime{monitor: mon, machine: machine, notifier: notifier})
	return svc.ProcessTick(ctx, time.Now().UTC())
}
