package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crosschain-router/internal/alerting"
	"crosschain-router/internal/config"
	"crosschain-router/internal/monitor"
	"crosschain-router/internal/route"
	"crosschain-router/internal/scheduler"
	"crosschain-router/internal/storage"
	"crosschain-router/internal/transfer"
)

const pruneEvery = time.Hour

// Ticker evaluates standing alerts once.
type Ticker interface {
	Tick(ctx context.Context) ([]monitor.TriggerEvent, error)
}

// Sessions is the part of the transfer machine trigger events are fed into.
type Sessions interface {
	Trigger(ctx context.Context, sessionID, alertID string, req route.TransferRequest) (transfer.Response, error)
	Announce(ctx context.Context, sessionID, text string) error
}

// Service runs the alert evaluation loop and routes trigger events to
// sessions and notification channels.
type Service struct {
	scheduler *scheduler.Scheduler
	ticker    Ticker
	sessions  Sessions
	notifier  alerting.Notifier
	snapshots storage.SnapshotStore
	logger    zerolog.Logger

	channels    []string
	alertsOn    bool
	concurrency int
	retention   time.Duration
	locker      storage.AdvisoryLocker
	lockKey     int64

	pruneMux  sync.Mutex
	lastPrune time.Time
}

// New constructs the alert service. notifier, snapshots and locker may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, ticker Ticker, sessions Sessions, notifier alerting.Notifier, snapshots storage.SnapshotStore, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	concurrency := cfg.Scheduler.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{
		scheduler:   sched,
		ticker:      ticker,
		sessions:    sessions,
		notifier:    notifier,
		snapshots:   snapshots,
		logger:      logger.With().Str("component", "service").Logger(),
		channels:    cfg.Alerting.Channels,
		alertsOn:    cfg.Alerting.Enabled,
		concurrency: concurrency,
		retention:   cfg.Aggregator.SnapshotRetention,
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the evaluation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 执行单次告警评估。
func (s *Service) ProcessTick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	events, err := s.ticker.Tick(ctx)
	if err != nil {
		return fmt.Errorf("evaluate alerts: %w", err)
	}
	if len(events) > 0 {
		s.logger.Info().Time("tick", at).Int("triggered", len(events)).Msg("alerts triggered")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, ev := range events {
		g.Go(func() error {
			s.handleEvent(gctx, ev)
			return nil
		})
	}
	_ = g.Wait()

	s.prune(ctx, at)
	return nil
}

func (s *Service) handleEvent(ctx context.Context, ev monitor.TriggerEvent) {
	a := ev.Alert
	logger := s.logger.With().Str("alert_id", a.ID).Str("session_id", a.SessionID).Str("action", string(a.Action)).Logger()

	note := alerting.Notification{
		At:        ev.At,
		SessionID: a.SessionID,
		AlertID:   a.ID,
		Condition: a.Condition.String(),
		Observed:  ev.Observed,
		Threshold: a.Condition.Threshold,
		Action:    string(a.Action),
		Channels:  s.channels,
	}
	if ev.Routes != nil && ev.Routes.Best != nil {
		note.BestProvider = ev.Routes.Best.ProviderID
		note.BestFeeUSD = ev.Routes.Best.FeeUSD
	}

	switch a.Action {
	case route.ActionAutoExecute:
		if a.Transfer == nil {
			logger.Error().Msg("auto-execute alert has no transfer attached")
			note.Outcome = "No transfer was attached to the alert; nothing was sent."
			break
		}
		resp, err := s.sessions.Trigger(ctx, a.SessionID, a.ID, *a.Transfer)
		if err != nil {
			logger.Error().Err(err).Msg("auto-execution failed")
			note.Outcome = "Automatic execution failed: " + err.Error()
			break
		}
		if resp.Error == transfer.ErrSessionBusy {
			logger.Warn().Msg("auto-execution skipped, session busy; alert stays triggered")
		} else {
			logger.Info().Str("state", string(resp.State)).Str("error", string(resp.Error)).Msg("auto-execution finished")
		}
		note.Outcome = resp.Message
	default:
		text := fmt.Sprintf("Alert %s fired: %s (observed %s).", a.ID, a.Condition, ev.Observed)
		if note.BestProvider != "" {
			text += fmt.Sprintf(" Best route: %s at $%s.", note.BestProvider, note.BestFeeUSD.StringFixed(2))
		}
		if err := s.sessions.Announce(ctx, a.SessionID, text); err != nil {
			logger.Error().Err(err).Msg("failed to announce alert to session")
		}
	}

	if s.alertsOn && s.notifier != nil {
		if err := s.notifier.Notify(ctx, note); err != nil {
			logger.Error().Err(err).Msg("failed to dispatch alert")
		}
	}
}

func (s *Service) prune(ctx context.Context, at time.Time) {
	if s.snapshots == nil || s.retention <= 0 {
		return
	}
	s.pruneMux.Lock()
	defer s.pruneMux.Unlock()
	if !s.lastPrune.IsZero() && at.Sub(s.lastPrune) < pruneEvery {
		return
	}
	s.lastPrune = at

	removed, err := s.snapshots.DeleteSnapshotsBefore(ctx, at.Add(-s.retention))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to prune snapshots")
		return
	}
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Msg("pruned old snapshots")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
