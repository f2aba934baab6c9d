package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crosschain-router/internal/aggregator"
	"crosschain-router/internal/alerting"
	"crosschain-router/internal/config"
	"crosschain-router/internal/dispatcher"
	"crosschain-router/internal/fetcher"
	"crosschain-router/internal/guardrail"
	"crosschain-router/internal/intent"
	"crosschain-router/internal/logging"
	"crosschain-router/internal/monitor"
	"crosschain-router/internal/route"
	"crosschain-router/internal/scheduler"
	"crosschain-router/internal/service"
	"crosschain-router/internal/session"
	"crosschain-router/internal/storage"
	"crosschain-router/internal/transfer"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

// runtime holds the wired components of one command invocation.
type runtime struct {
	store    *storage.Store
	tokens   route.TokenBook
	router   transfer.RouteFinder
	machine  *transfer.Machine
	monitor  *monitor.Monitor
	resolver intent.Resolver
	notifier alerting.Notifier
	home     route.Network
	closers  []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) rpcURLs() (map[route.Network]string, error) {
	urls := make(map[route.Network]string, len(a.Config.Networks))
	for name, nc := range a.Config.Networks {
		n, err := route.ParseNetwork(name)
		if err != nil {
			return nil, fmt.Errorf("networks.%s: %w", name, err)
		}
		if nc.RPCURL != "" {
			urls[n] = nc.RPCURL
		}
	}
	return urls, nil
}

func (a *App) newPriceFetcher() fetcher.PriceFetcher {
	if len(a.Config.Prices.Fixed) > 0 {
		return fetcher.NewFixedPrices(a.Config.Prices.Fixed)
	}
	return fetcher.NewHTTPPrice(fetcher.PriceOptions{
		BaseURL: a.Config.Prices.BaseURL,
		Timeout: a.Config.Prices.Timeout,
		IDs:     a.Config.Prices.IDs,
	}, a.Logger)
}

func (a *App) newProviders(tokens route.TokenBook, rpcURLs map[route.Network]string, prices fetcher.PriceFetcher) ([]fetcher.Provider, error) {
	providers := make([]fetcher.Provider, 0, len(a.Config.Providers))
	for _, pc := range a.Config.Providers {
		method, err := route.ParseExecutionMethod(pc.ExecutionMethod)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		successRate := decimal.NewFromFloat(pc.SuccessRate)

		switch pc.Kind {
		case "http":
			providers = append(providers, fetcher.NewHTTPQuoter(fetcher.HTTPOptions{
				ID:          pc.ID,
				BaseURL:     pc.BaseURL,
				APIKey:      pc.APIKey,
				Timeout:     pc.Timeout,
				UserAgent:   pc.UserAgent,
				SuccessRate: successRate,
				Method:      method,
			}, a.Logger))
		case "onchain":
			contracts := make(map[route.Network]string, len(pc.Contracts))
			for name, addr := range pc.Contracts {
				n, err := route.ParseNetwork(name)
				if err != nil {
					return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
				}
				contracts[n] = addr
			}
			providers = append(providers, fetcher.NewOnChainQuoter(fetcher.OnChainOptions{
				ID:          pc.ID,
				RPCURLs:     rpcURLs,
				Contracts:   contracts,
				Tokens:      tokens,
				ETAMinutes:  pc.ETAMinutes,
				SuccessRate: successRate,
				Method:      method,
				Timeout:     pc.Timeout,
				Prices:      prices,
			}, a.Logger))
		case "static":
			providers = append(providers, fetcher.NewStatic(route.Quote{
				ProviderID:     pc.ID,
				FeeUSD:         decimal.NewFromFloat(pc.FeeUSD),
				ETAMinutes:     pc.ETAMinutes,
				SuccessRate:    successRate,
				LiquidityUSD:   decimal.NewFromFloat(pc.LiquidityUSD),
				ExecutionReady: pc.Endpoint != "",
				Method:         method,
				Endpoint:       pc.Endpoint,
			}))
		default:
			return nil, fmt.Errorf("provider %s: unknown kind %q", pc.ID, pc.Kind)
		}
	}
	if len(providers) == 0 {
		a.Logger.Warn().Msg("no providers configured; every route request will come back empty")
	}
	return providers, nil
}

func (a *App) newAggregator(providers []fetcher.Provider, prices fetcher.PriceFetcher) *aggregator.Aggregator {
	cfg := a.Config.Aggregator
	return aggregator.New(providers, aggregator.Options{
		CallTimeout:           cfg.CallTimeout,
		Ceiling:               cfg.Ceiling,
		ThinLiquidityMultiple: decimal.NewFromFloat(cfg.ThinLiquidityMultiple),
		HighFeeRatio:          decimal.NewFromFloat(cfg.HighFeeRatio),
		Prices:                prices,
	}, a.Logger)
}

func (a *App) newValidator(tokens route.TokenBook) (*guardrail.Validator, error) {
	cfg := a.Config.Guardrail
	restricted := make(map[string]route.Network, len(cfg.Restricted))
	for asset, name := range cfg.Restricted {
		n, err := route.ParseNetwork(name)
		if err != nil {
			return nil, fmt.Errorf("guardrail.restricted.%s: %w", asset, err)
		}
		restricted[strings.ToUpper(asset)] = n
	}
	return guardrail.New(guardrail.Rules{
		MinAmount:         decimal.NewFromFloat(cfg.MinAmount),
		SoftCeiling:       decimal.NewFromFloat(cfg.SoftCeiling),
		HighFeeRatio:      decimal.NewFromFloat(cfg.HighFeeRatio),
		LowLiquidityRatio: decimal.NewFromFloat(cfg.LowLiquidityRatio),
		MinSuccessRate:    decimal.NewFromFloat(cfg.MinSuccessRate),
		Restricted:        restricted,
		Support:           tokens,
	}), nil
}

func (a *App) newDispatcher(tokens route.TokenBook, rpcURLs map[route.Network]string) (*dispatcher.Dispatcher, error) {
	var b dispatcher.Broadcaster
	if a.Config.Signer.DryRun {
		addr, err := a.dryRunAddress()
		if err != nil {
			return nil, err
		}
		if addr == "" {
			a.Logger.Warn().Msg("signer.address not configured; spoke pool deposits will be refused")
		}
		a.Logger.Warn().Str("signer", addr).Msg("signer.dry_run enabled; transactions are logged, not broadcast")
		b = dispatcher.NewDryRun(a.Logger).WithAddress(addr)
	} else {
		evm, err := dispatcher.NewEVMBroadcaster(dispatcher.EVMConfig{
			RPCURLs:      rpcURLs,
			PrivateKey:   a.Config.Signer.PrivateKey,
			GasLimit:     a.Config.Signer.GasLimit,
			PollInterval: a.Config.Signer.PollInterval,
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		a.Logger.Info().Str("signer", evm.Address()).Msg("evm broadcaster ready")
		b = evm
	}
	return dispatcher.NewDefault(tokens, b, a.Logger)
}

// dryRunAddress prefers the configured key's account over signer.address.
func (a *App) dryRunAddress() (string, error) {
	cfg := a.Config.Signer
	if cfg.PrivateKey != "" {
		return dispatcher.KeyAddress(cfg.PrivateKey)
	}
	if cfg.Address != "" && !common.IsHexAddress(cfg.Address) {
		return "", fmt.Errorf("signer.address %q is not an evm address", cfg.Address)
	}
	return cfg.Address, nil
}

func (a *App) newSessionStore(ctx context.Context) (session.Store, func(), error) {
	cfg := a.Config.Redis
	if cfg.Address == "" {
		a.Logger.Warn().Msg("redis.address not configured; sessions kept in memory")
		return session.NewMemoryStore(), func() {}, nil
	}
	store, err := session.NewRedisStore(ctx, session.RedisConfig{
		Address:   cfg.Address,
		Password:  cfg.Password,
		DB:        cfg.DB,
		KeyPrefix: cfg.KeyPrefix,
		TTL:       cfg.SessionTTL,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func (a *App) newResolver(tokens route.TokenBook) intent.Resolver {
	local := intent.NewLocal(tokens)
	if a.Config.Intent.RemoteURL == "" {
		return local
	}
	remote := intent.NewRemote(a.Config.Intent.RemoteURL, a.Config.Intent.APIKey, a.Config.Intent.Timeout)
	return intent.NewFallback(remote, local, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	var multi alerting.Multi
	for _, ch := range a.Config.Alerting.Channels {
		switch strings.ToLower(strings.TrimSpace(ch)) {
		case "log":
			multi = append(multi, alerting.NewLogNotifier(a.Logger))
		case "telegram":
			if a.Config.Alerting.Telegram.Enabled {
				cfg := a.Config.Alerting.Telegram
				multi = append(multi, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
			}
		default:
			a.Logger.Warn().Str("channel", ch).Msg("unknown alert channel ignored")
		}
	}
	if len(multi) == 0 {
		return nil
	}
	return multi
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database, a.Config.App.Name)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) homeNetwork() route.Network {
	n, err := route.ParseNetwork(a.Config.API.HomeNetwork)
	if err != nil {
		return route.Ethereum
	}
	return n
}

// build wires every component a session-handling command needs.
func (a *App) build(ctx context.Context) (*runtime, error) {
	rt := &runtime{tokens: route.DefaultTokens(), home: a.homeNetwork()}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	} else {
		rt.store = store
		rt.closers = append(rt.closers, closeStore)
	}

	rpcURLs, err := a.rpcURLs()
	if err != nil {
		return nil, err
	}
	prices := a.newPriceFetcher()
	providers, err := a.newProviders(rt.tokens, rpcURLs, prices)
	if err != nil {
		return nil, err
	}

	var snapshots storage.SnapshotStore
	var receipts storage.ReceiptStore
	var registry monitor.Registry = monitor.NewMemoryRegistry()
	if rt.store != nil {
		snapshots = rt.store
		receipts = rt.store
		registry = storage.NewAlertRegistry(rt.store)
	}

	rt.router = service.NewRecordingRouter(a.newAggregator(providers, prices), snapshots, a.Logger)

	validator, err := a.newValidator(rt.tokens)
	if err != nil {
		return nil, err
	}
	disp, err := a.newDispatcher(rt.tokens, rpcURLs)
	if err != nil {
		return nil, err
	}
	executor := service.NewRecordingExecutor(disp, receipts, a.Logger)

	sessions, closeSessions, err := a.newSessionStore(ctx)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeSessions)

	var gas fetcher.GasFetcher
	if len(rpcURLs) > 0 {
		gas = fetcher.NewRPCGas(rpcURLs, a.Config.Prices.Timeout, a.Logger)
	}
	rt.monitor = monitor.New(registry, rt.router, prices, gas, monitor.Options{Concurrency: a.Config.Scheduler.Concurrency}, a.Logger)

	rt.machine = transfer.New(sessions, rt.router, validator, executor, rt.monitor, transfer.Options{
		HardStopFeeRatio: decimal.NewFromFloat(a.Config.Guardrail.HardStopRatio),
		ConfirmTTL:       a.Config.Transfer.ConfirmTTL,
		Prices:           prices,
	}, a.Logger)
	rt.resolver = a.newResolver(rt.tokens)
	rt.notifier = a.newNotifier()

	ok = true
	return rt, nil
}

func (a *App) newService(rt *runtime) *service.Service {
	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var snapshots storage.SnapshotStore
	var locker storage.AdvisoryLocker
	if rt.store != nil {
		snapshots = rt.store
		locker = rt.store
	}
	return service.New(a.Config, sched, rt.monitor, rt.machine, rt.notifier, snapshots, locker, a.Logger)
}

// ExportOptions hold parameters for exporting route fee history.
type ExportOptions struct {
	From        *time.Time
	To          *time.Time
	Source      string
	Destination string
	Asset       string
	PNGPath     string
	CSVPath     string
	MaxPoints   int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	Receipts bool
}

// QuoteOptions describe a read-only route query.
type QuoteOptions struct {
	Source      string
	Destination string
	Asset       string
	Amount      string
	Policy      string
}

// ChatOptions configure the interactive session.
type ChatOptions struct {
	SessionID string
	Wallet    string
}
