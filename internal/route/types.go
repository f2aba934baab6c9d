package route

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnknownMethod reports an execution method outside the supported set.
var ErrUnknownMethod = errors.New("unknown execution method")

// Policy selects how quotes are ordered.
type Policy string

const (
	PolicyCheapest Policy = "cheapest"
	PolicyFastest  Policy = "fastest"
	PolicySafest   Policy = "safest"
	PolicyBalanced Policy = "balanced"
)

// ParsePolicy maps user input onto a Policy. Empty input selects cheapest.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyCheapest:
		return PolicyCheapest, nil
	case PolicyFastest:
		return PolicyFastest, nil
	case PolicySafest:
		return PolicySafest, nil
	case PolicyBalanced:
		return PolicyBalanced, nil
	}
	return "", fmt.Errorf("unknown optimization policy %q", s)
}

// ExecutionMethod enumerates provider-specific execution procedures.
type ExecutionMethod string

const (
	// MethodCCTPBurn burns on the source chain and mints on the destination.
	MethodCCTPBurn ExecutionMethod = "cctp_burn"
	// MethodSpokePoolDeposit deposits into a relayer-filled spoke pool.
	MethodSpokePoolDeposit ExecutionMethod = "spokepool_deposit"
	// MethodCalldataRelay sends a transaction prepared by the provider API.
	MethodCalldataRelay ExecutionMethod = "calldata_relay"
)

// ExecutionMethods lists every supported method.
func ExecutionMethods() []ExecutionMethod {
	return []ExecutionMethod{MethodCCTPBurn, MethodSpokePoolDeposit, MethodCalldataRelay}
}

// ParseExecutionMethod rejects values outside the closed set.
func ParseExecutionMethod(s string) (ExecutionMethod, error) {
	m := ExecutionMethod(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ExecutionMethods() {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// RouteRequest asks for quotes moving Amount of Asset between two networks.
// Amount is in token units; AmountUSD is its USD value once priced.
type RouteRequest struct {
	Source      Network         `json:"source"`
	Destination Network         `json:"destination"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	AmountUSD   decimal.Decimal `json:"amount_usd"`
	Policy      Policy          `json:"policy"`
}

// Notional returns the USD value fee, liquidity and minimum checks compare
// against. Stables count at par; any other asset needs AmountUSD, and ok is
// false until it is set.
func (r RouteRequest) Notional() (decimal.Decimal, bool) {
	if r.AmountUSD.IsPositive() {
		return r.AmountUSD, true
	}
	if IsStable(r.Asset) {
		return r.Amount, true
	}
	return decimal.Zero, false
}

// FeeInTokens converts a USD fee into units of the request's asset.
func (r RouteRequest) FeeInTokens(feeUSD decimal.Decimal) (decimal.Decimal, bool) {
	notional, ok := r.Notional()
	if !ok || !notional.IsPositive() {
		return decimal.Zero, false
	}
	return feeUSD.Mul(r.Amount).Div(notional), true
}

func (r RouteRequest) String() string {
	return fmt.Sprintf("%s %s %s->%s", r.Amount.String(), r.Asset, r.Source, r.Destination)
}

// TransferRequest is a RouteRequest bound to the wallets on either side.
type TransferRequest struct {
	Route       RouteRequest `json:"route"`
	FromAddress string       `json:"from_address"`
	ToAddress   string       `json:"to_address"`
}

// Quote is one provider's normalized estimate for a RouteRequest.
type Quote struct {
	ProviderID     string          `json:"provider_id"`
	FeeUSD         decimal.Decimal `json:"fee_usd"`
	ETAMinutes     int             `json:"eta_minutes"`
	SuccessRate    decimal.Decimal `json:"success_rate"`
	LiquidityUSD   decimal.Decimal `json:"liquidity_usd"`
	ExecutionReady bool            `json:"execution_ready"`
	Method         ExecutionMethod `json:"execution_method"`
	// Endpoint is the on-chain contract that receives the spend authorization
	// and the transfer call.
	Endpoint  string          `json:"endpoint,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Validate checks the numeric invariants of a quote.
func (q Quote) Validate() error {
	if q.ProviderID == "" {
		return errors.New("quote missing provider id")
	}
	if q.FeeUSD.IsNegative() {
		return fmt.Errorf("negative fee %s", q.FeeUSD)
	}
	if q.ETAMinutes < 0 {
		return fmt.Errorf("negative eta %d", q.ETAMinutes)
	}
	if q.SuccessRate.IsNegative() || q.SuccessRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("success rate %s outside [0,1]", q.SuccessRate)
	}
	if q.LiquidityUSD.IsNegative() {
		return fmt.Errorf("negative liquidity %s", q.LiquidityUSD)
	}
	if _, err := ParseExecutionMethod(string(q.Method)); err != nil {
		return err
	}
	return nil
}

// WarningKind classifies aggregation warnings.
type WarningKind string

const (
	WarnProviderUnavailable  WarningKind = "provider_unavailable"
	WarnNoProviderResponded  WarningKind = "no_provider_responded"
	WarnNoExecutableProvider WarningKind = "no_executable_provider"
	WarnThinLiquidity        WarningKind = "thin_liquidity"
	WarnHighFeeRatio         WarningKind = "high_fee_ratio"
)

// Warning is a non-fatal observation made while collecting quotes.
type Warning struct {
	Kind     WarningKind `json:"kind"`
	Provider string      `json:"provider,omitempty"`
	Message  string      `json:"message"`
}

func (w Warning) String() string { return w.Message }

// RankedRouteSet is the ordered outcome of an aggregation.
type RankedRouteSet struct {
	Best     *Quote    `json:"best"`
	All      []Quote   `json:"all"`
	Warnings []Warning `json:"warnings"`
}

// NewRankedRouteSet orders quotes under policy and picks the head as best.
func NewRankedRouteSet(quotes []Quote, policy Policy, warnings []Warning) RankedRouteSet {
	ranked := Rank(quotes, policy)
	set := RankedRouteSet{All: ranked, Warnings: warnings}
	if len(ranked) > 0 {
		best := ranked[0]
		set.Best = &best
	}
	return set
}
