package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"crosschain-router/internal/api"
)

// Run executes the long-running service: the HTTP channel adapter and the
// alert evaluation loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := a.newService(rt)
	srv := api.NewServer(rt.machine, rt.resolver, rt.monitor, rt.router, api.Options{
		ReadTimeout:  a.Config.API.ReadTimeout,
		WriteTimeout: a.Config.API.WriteTimeout,
		HomeNetwork:  rt.home,
	}, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return srv.Listen(gctx, a.Config.API.Listen) })

	a.Logger.Info().Str("listen", a.Config.API.Listen).Dur("interval", a.Config.Scheduler.Interval).Msg("starting router service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("router service stopped")
	return nil
}
