// Package guardrail runs the pre-execution safety checks on a chosen route.
// Validate is a pure function of its inputs and may be called any number of
// times.
package guardrail

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"crosschain-router/internal/route"
)

// Category groups verdict issues.
type Category string

const (
	CategoryAddress     Category = "address"
	CategoryAsset       Category = "asset"
	CategoryAmount      Category = "amount"
	CategoryRoute       Category = "route"
	CategoryRestriction Category = "restriction"
)

// Issue is one finding of a check.
type Issue struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

// Verdict is the outcome of Validate. Valid iff Errors is empty.
type Verdict struct {
	Valid       bool     `json:"valid"`
	Errors      []Issue  `json:"errors"`
	Warnings    []Issue  `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

// Has reports whether any error falls in category c.
func (v Verdict) Has(c Category) bool {
	for _, e := range v.Errors {
		if e.Category == c {
			return true
		}
	}
	return false
}

// Rules configure the thresholds of the checks. MinAmount and SoftCeiling
// are USD values.
type Rules struct {
	MinAmount         decimal.Decimal
	SoftCeiling       decimal.Decimal
	HighFeeRatio      decimal.Decimal
	LowLiquidityRatio decimal.Decimal
	MinSuccessRate    decimal.Decimal
	// Restricted pins assets to the only network they may be moved on.
	Restricted map[string]route.Network
	// Support is the (network, asset) matrix.
	Support route.TokenBook
}

// DefaultRules returns the stock thresholds.
func DefaultRules() Rules {
	return Rules{
		MinAmount:         decimal.NewFromInt(1),
		SoftCeiling:       decimal.NewFromInt(50_000),
		HighFeeRatio:      decimal.RequireFromString("0.03"),
		LowLiquidityRatio: decimal.NewFromInt(2),
		MinSuccessRate:    decimal.RequireFromString("0.9"),
		Restricted:        map[string]route.Network{"SUSDE": route.Ethereum},
		Support:           route.DefaultTokens(),
	}
}

// Validator applies Rules.
type Validator struct {
	rules Rules
}

// New constructs a Validator.
func New(rules Rules) *Validator {
	if rules.Support == nil {
		rules.Support = route.DefaultTokens()
	}
	return &Validator{rules: rules}
}

type collector struct {
	verdict Verdict
}

func (c *collector) fail(cat Category, format string, args ...any) {
	c.verdict.Errors = append(c.verdict.Errors, Issue{Category: cat, Message: fmt.Sprintf(format, args...)})
}

func (c *collector) warn(cat Category, format string, args ...any) {
	c.verdict.Warnings = append(c.verdict.Warnings, Issue{Category: cat, Message: fmt.Sprintf(format, args...)})
}

func (c *collector) suggest(format string, args ...any) {
	c.verdict.Suggestions = append(c.verdict.Suggestions, fmt.Sprintf(format, args...))
}

// Validate runs every check without short-circuiting.
func (v *Validator) Validate(req route.TransferRequest, chosen *route.Quote) Verdict {
	c := &collector{}
	v.checkAddress(c, req)
	v.checkAsset(c, req.Route)
	notional, valued := v.checkAmount(c, req.Route)
	v.checkQuote(c, notional, valued, chosen)
	v.checkRestriction(c, req.Route)
	v.checkSelfTransfer(c, req)

	c.verdict.Valid = len(c.verdict.Errors) == 0
	return c.verdict
}

func (v *Validator) checkAddress(c *collector, req route.TransferRequest) {
	dest := req.Route.Destination
	if dest.Family() == "" {
		c.fail(CategoryAddress, "unknown destination network %q", dest)
		return
	}
	if err := route.CheckAddress(dest, req.ToAddress); err != nil {
		c.fail(CategoryAddress, "destination address invalid for %s: %v", dest, err)
		switch dest.Family() {
		case route.FamilyEVM:
			c.suggest("%s addresses are 0x followed by 40 hex characters", dest)
		case route.FamilySolana:
			c.suggest("solana addresses are 32 byte base58 strings")
		}
	}
}

func (v *Validator) checkAsset(c *collector, r route.RouteRequest) {
	if _, ok := v.rules.Support.Lookup(r.Destination, r.Asset); ok {
		return
	}
	c.fail(CategoryAsset, "%s is not supported on %s", r.Asset, r.Destination)
	supported := v.rules.Support.Assets(r.Destination)
	if len(supported) > 0 {
		sort.Strings(supported)
		c.suggest("supported assets on %s: %s", r.Destination, strings.Join(supported, ", "))
	}
}

// checkAmount compares the request's USD value with the bounds and returns
// that value for the ratio checks.
func (v *Validator) checkAmount(c *collector, r route.RouteRequest) (decimal.Decimal, bool) {
	if !r.Amount.IsPositive() {
		c.fail(CategoryAmount, "amount must be greater than zero")
		return decimal.Zero, false
	}
	usd, ok := r.Notional()
	if !ok {
		c.fail(CategoryAmount, "could not value %s %s in USD", r.Amount, r.Asset)
		c.suggest("try again once a %s price is available", r.Asset)
		return decimal.Zero, false
	}
	switch {
	case usd.LessThan(v.rules.MinAmount):
		c.fail(CategoryAmount, "amount %s %s (~$%s) is below the minimum of $%s; fees would exceed the value moved",
			r.Amount, r.Asset, usd.StringFixed(2), v.rules.MinAmount)
	case v.rules.SoftCeiling.IsPositive() && usd.GreaterThan(v.rules.SoftCeiling):
		c.warn(CategoryAmount, "amount %s %s (~$%s) is above $%s; consider splitting the transfer",
			r.Amount, r.Asset, usd.StringFixed(2), v.rules.SoftCeiling)
	}
	return usd, true
}

func (v *Validator) checkQuote(c *collector, usd decimal.Decimal, valued bool, q *route.Quote) {
	if q == nil {
		c.fail(CategoryRoute, "no route found")
		c.suggest("try a different amount, asset or destination network")
		return
	}
	if valued && usd.IsPositive() {
		if ratio := q.FeeUSD.Div(usd); ratio.GreaterThan(v.rules.HighFeeRatio) {
			c.warn(CategoryRoute, "fee $%s is %s%% of the amount", q.FeeUSD.StringFixed(2), ratio.Shift(2).StringFixed(1))
		}
		if ratio := q.LiquidityUSD.Div(usd); ratio.LessThan(v.rules.LowLiquidityRatio) {
			c.warn(CategoryRoute, "%s liquidity $%s is thin for this amount", q.ProviderID, q.LiquidityUSD.StringFixed(2))
		}
	}
	if q.SuccessRate.LessThan(v.rules.MinSuccessRate) {
		c.warn(CategoryRoute, "%s success rate %s%% is below %s%%", q.ProviderID, q.SuccessRate.Shift(2).StringFixed(1), v.rules.MinSuccessRate.Shift(2).StringFixed(0))
	}
}

func (v *Validator) checkRestriction(c *collector, r route.RouteRequest) {
	home, ok := v.rules.Restricted[strings.ToUpper(r.Asset)]
	if !ok {
		return
	}
	if r.Source != home || r.Destination != home {
		c.fail(CategoryRestriction, "%s only exists on %s and cannot be moved cross-network", r.Asset, home)
		c.suggest("swap %s to a bridgeable asset such as USDC on %s first, then transfer that", r.Asset, home)
	}
}

func (v *Validator) checkSelfTransfer(c *collector, req route.TransferRequest) {
	r := req.Route
	if r.Source != r.Destination || req.FromAddress == "" {
		return
	}
	if route.SameAddress(r.Source, req.FromAddress, req.ToAddress) {
		c.warn(CategoryAddress, "source and destination are the same address on %s; only fees would be spent", r.Source)
	}
}
