package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crosschain-router/internal/route"
)

// ErrAlertNotFound is returned for unknown alert ids.
var ErrAlertNotFound = errors.New("monitor: alert not found")

// Alert is a standing condition registered by a session.
type Alert struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Condition route.Condition   `json:"condition"`
	Action    route.AlertAction `json:"action"`
	// Transfer is what auto_execute alerts hand to the session.
	Transfer    *route.TransferRequest `json:"transfer,omitempty"`
	Triggered   bool                   `json:"triggered"`
	TriggeredAt *time.Time             `json:"triggered_at,omitempty"`
	// LastValue is the most recent observation, zero before the first tick.
	LastValue decimal.Decimal `json:"last_value"`
	CreatedAt time.Time       `json:"created_at"`
}

// Registry stores alerts. MarkTriggered must be atomic: it reports true to
// exactly one caller per alert.
type Registry interface {
	Add(ctx context.Context, a Alert) error
	Remove(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (Alert, error)
	Active(ctx context.Context) ([]Alert, error)
	BySession(ctx context.Context, sessionID string) ([]Alert, error)
	Observe(ctx context.Context, id string, value decimal.Decimal) error
	MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error)
}

// MemoryRegistry keeps alerts in process memory.
type MemoryRegistry struct {
	mu     sync.Mutex
	alerts map[string]Alert
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{alerts: make(map[string]Alert)}
}

func (r *MemoryRegistry) Add(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[a.ID] = a
	return nil
}

func (r *MemoryRegistry) Remove(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[id]; !ok {
		return false, nil
	}
	delete(r.alerts, id)
	return true, nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return Alert{}, ErrAlertNotFound
	}
	return a, nil
}

func (r *MemoryRegistry) Active(_ context.Context) ([]Alert, error) {
	return r.filter(func(a Alert) bool { return !a.Triggered }), nil
}

func (r *MemoryRegistry) BySession(_ context.Context, sessionID string) ([]Alert, error) {
	return r.filter(func(a Alert) bool { return a.SessionID == sessionID }), nil
}

func (r *MemoryRegistry) Observe(_ context.Context, id string, value decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return ErrAlertNotFound
	}
	a.LastValue = value
	r.alerts[id] = a
	return nil
}

func (r *MemoryRegistry) MarkTriggered(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok || a.Triggered {
		return false, nil
	}
	a.Triggered = true
	a.TriggeredAt = &at
	r.alerts[id] = a
	return true, nil
}

func (r *MemoryRegistry) filter(keep func(Alert) bool) []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, 0, len(r.alerts))
	for _, a := range r.alerts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

var _ Registry = (*MemoryRegistry)(nil)
