package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"crosschain-router/internal/guardrail"
	"crosschain-router/internal/route"
)

// ErrNotFound is returned by stores for unknown session ids.
var ErrNotFound = errors.New("session: not found")

// State is the lifecycle position of a TransferSession.
type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateExecuting            State = "executing"
	StateError                State = "error"
)

// Pending is the transfer prepared for confirmation.
type Pending struct {
	ID        string                `json:"id"`
	Request   route.TransferRequest `json:"request"`
	Quote     route.Quote           `json:"quote"`
	Verdict   guardrail.Verdict     `json:"verdict"`
	Routes    route.RankedRouteSet  `json:"routes"`
	CreatedAt time.Time             `json:"created_at"`
}

// Turn is one entry of the session history.
type Turn struct {
	At    time.Time `json:"at"`
	Role  string    `json:"role"`
	Text  string    `json:"text"`
	State State     `json:"state"`
}

// Session is the per-conversation transfer state.
type Session struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Pending   *Pending  `json:"pending,omitempty"`
	History   []Turn    `json:"history"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an idle session.
func New(id string, now time.Time) *Session {
	return &Session{ID: id, State: StateIdle, CreatedAt: now, UpdatedAt: now}
}

// Record appends a turn to the history.
func (s *Session) Record(now time.Time, role, text string) {
	s.History = append(s.History, Turn{At: now, Role: role, Text: text, State: s.State})
	s.UpdatedAt = now
}

// Clone returns a deep copy so stores never share memory with callers.
func (s *Session) Clone() (*Session, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out Session
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Store persists sessions. Eviction is the implementation's concern.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
}
