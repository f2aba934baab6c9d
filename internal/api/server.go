// Package api exposes the transfer machine and alert registry over HTTP.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"crosschain-router/internal/intent"
	"crosschain-router/internal/route"
	"crosschain-router/internal/session"
	"crosschain-router/internal/transfer"
)

// Machine is the transfer state machine as seen by the channel adapter.
type Machine interface {
	Handle(ctx context.Context, sessionID string, in intent.Intent) (transfer.Response, error)
	Session(ctx context.Context, sessionID string) (*session.Session, error)
}

// Options configure the HTTP server.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// HomeNetwork is the default source network handed to the resolver.
	HomeNetwork route.Network
}

// Server wires handlers onto a fiber app.
type Server struct {
	app      *fiber.App
	machine  Machine
	resolver intent.Resolver
	alerts   transfer.Alerts
	routes   transfer.RouteFinder
	opts     Options
	logger   zerolog.Logger
}

// NewServer builds the HTTP channel adapter. alerts may be nil.
func NewServer(machine Machine, resolver intent.Resolver, alerts transfer.Alerts, routes transfer.RouteFinder, opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		machine:  machine,
		resolver: resolver,
		alerts:   alerts,
		routes:   routes,
		opts:     opts,
		logger:   logger.With().Str("component", "api").Logger(),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "routerd",
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(s.requestLog)
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", s.health)

	v1 := s.app.Group("/v1")
	v1.Get("/quotes", s.quote)

	sessions := v1.Group("/sessions/:id")
	sessions.Get("/", s.getSession)
	sessions.Post("/messages", s.postMessage)
	sessions.Post("/intents", s.postIntent)
	sessions.Get("/alerts", s.listAlerts)

	v1.Post("/alerts", s.createAlert)
	v1.Delete("/alerts/:id", s.cancelAlert)
}

// App exposes the fiber app, used by tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) requestLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("took", time.Since(start)).
		Msg("request")
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return respondError(c, fe.Code, fe.Message)
	}
	s.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return respondError(c, fiber.StatusInternalServerError, "internal error")
}
