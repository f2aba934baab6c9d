package intent

import (
	"context"

	"crosschain-router/internal/route"
)

// Kind tags an Intent.
type Kind string

const (
	KindTransfer        Kind = "transfer"
	KindSwapAndTransfer Kind = "swap_and_transfer"
	KindAlert           Kind = "alert"
	KindQuery           Kind = "query"
	KindConfirm         Kind = "confirm"
	KindListAlerts      Kind = "list_alerts"
	KindCancelAlert     Kind = "cancel_alert"
	KindClarification   Kind = "clarification_needed"
)

// Intent is the structured form of one inbound message.
type Intent struct {
	Kind Kind `json:"kind"`

	// Transfer is set for transfer, swap_and_transfer, query and
	// auto-executing alerts.
	Transfer *route.TransferRequest `json:"transfer,omitempty"`

	// SwapFrom is the asset held before the swap leg.
	SwapFrom string `json:"swap_from,omitempty"`

	Condition *route.Condition  `json:"condition,omitempty"`
	Action    route.AlertAction `json:"action,omitempty"`
	AlertID   string            `json:"alert_id,omitempty"`
	Approve   bool              `json:"approve,omitempty"`
	Question  string            `json:"question,omitempty"`
	Text      string            `json:"text,omitempty"`
}

// Context carries what the resolver may use besides the text.
type Context struct {
	// AwaitingConfirmation biases short replies towards yes/no.
	AwaitingConfirmation bool
	// Wallet is the sender address used when the text names none.
	Wallet string
	// HomeNetwork is the default source network.
	HomeNetwork route.Network
}

// Resolver turns text into an Intent. Implementations have no side effects.
type Resolver interface {
	Parse(ctx context.Context, text string, c Context) (Intent, error)
}
