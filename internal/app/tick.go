package app

import (
	"context"
	"errors"
	"time"
)

// TickOptions configure a manual alert evaluation.
type TickOptions struct {
	Count int
}

// Tick evaluates standing alerts Count times, one scheduler interval apart.
func (a *App) Tick(ctx context.Context, opts TickOptions) error {
	if opts.Count <= 0 {
		opts.Count = 1
	}
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn 未配置，仅评估本进程内注册的告警")
	}

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := a.newService(rt)

	processed := 0
	failed := 0
	for i := 0; i < opts.Count; i++ {
		if i > 0 {
			timer := time.NewTimer(a.Config.Scheduler.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		at := time.Now().UTC()
		if err := svc.ProcessTick(ctx, at); err != nil {
			failed++
			a.Logger.Error().Err(err).Time("tick", at).Msg("评估失败")
			continue
		}
		processed++
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("评估完成")
	if failed > 0 {
		return errors.New("部分评估失败，请检查日志")
	}
	return nil
}
