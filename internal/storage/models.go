package storage

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RouteSnapshot represents one persisted aggregation outcome.
type RouteSnapshot struct {
	ID           int64
	TakenAt      time.Time
	RouteKey     string
	Source       string
	Destination  string
	Asset        string
	Amount       decimal.Decimal
	Policy       string
	BestProvider *string
	BestFeeUSD   *decimal.Decimal
	QuoteCount   int
	Warnings     []string
	RouteSet     json.RawMessage
	CreatedAt    time.Time
}

// ReceiptRecord captures a dispatched transfer for auditing.
type ReceiptRecord struct {
	ID               string
	SessionID        string
	Provider         string
	Method           string
	Source           string
	Destination      string
	Asset            string
	Amount           decimal.Decimal
	ToAddress        string
	FeeUSD           decimal.Decimal
	AuthorizationRef *string
	TransferRef      *string
	Status           string
	Error            *string
	SubmittedAt      time.Time
	CreatedAt        time.Time
}

// Receipt statuses.
const (
	ReceiptSubmitted = "submitted"
	ReceiptFailed    = "failed"
)

// RouteKey identifies a route across snapshots, independent of amount and policy.
func RouteKey(source, destination, asset string) string {
	return strings.ToUpper(asset) + ":" + strings.ToLower(source) + "->" + strings.ToLower(destination)
}
