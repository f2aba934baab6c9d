package dispatcher

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crosschain-router/internal/route"
)

// Submission is a payload accepted by DryRun.
type Submission struct {
	Ref     string
	Network route.Network
	Payload Payload
}

// DryRun accepts every payload without touching a network.
type DryRun struct {
	mu        sync.Mutex
	submitted []Submission
	address   string
	logger    zerolog.Logger
}

// NewDryRun returns a broadcaster that only logs.
func NewDryRun(logger zerolog.Logger) *DryRun {
	return &DryRun{logger: logger.With().Str("component", "dry_run").Logger()}
}

// WithAddress sets the account DryRun pretends to sign with.
func (d *DryRun) WithAddress(addr string) *DryRun {
	d.address = addr
	return d
}

func (d *DryRun) Address() string { return d.address }

func (d *DryRun) Submit(_ context.Context, network route.Network, p Payload) (string, error) {
	ref := "dryrun-" + uuid.NewString()

	d.mu.Lock()
	d.submitted = append(d.submitted, Submission{Ref: ref, Network: network, Payload: p})
	d.mu.Unlock()

	d.logger.Info().
		Str("network", string(network)).
		Str("to", p.To).
		Int("calldata_bytes", len(p.Data)).
		Str("ref", ref).
		Msg("dry run submission")
	return ref, nil
}

func (d *DryRun) Await(context.Context, route.Network, string) error { return nil }

// Submitted returns a copy of everything accepted so far.
func (d *DryRun) Submitted() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Submission(nil), d.submitted...)
}

var _ Broadcaster = (*DryRun)(nil)
