package fetcher

import (
	"context"
	"time"

	"crosschain-router/internal/route"
)

// Static serves a fixed quote, used for simulation and dry runs.
type Static struct {
	id    string
	quote route.Quote
	err   error
	delay time.Duration
}

// NewStatic returns a provider that always answers with q.
func NewStatic(q route.Quote) *Static {
	return &Static{id: q.ProviderID, quote: q}
}

// NewFailing returns a provider that always fails with err.
func NewFailing(id string, err error) *Static {
	return &Static{id: id, err: err}
}

// WithDelay makes the provider wait d before answering.
func (s *Static) WithDelay(d time.Duration) *Static {
	s.delay = d
	return s
}

// ID returns the provider identifier.
func (s *Static) ID() string { return s.id }

// Quote returns the configured quote after the configured delay.
func (s *Static) Quote(ctx context.Context, req route.RouteRequest) (*route.Quote, error) {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	q := s.quote
	q.FetchedAt = time.Now().UTC()
	return &q, nil
}

var _ Provider = (*Static)(nil)
