package fetcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"crosschain-router/internal/route"
)

// ValueRequest prices req.Amount in USD and stores it in AmountUSD. Stables
// are taken at par without a price lookup. Any AmountUSD already on req is
// replaced.
func ValueRequest(ctx context.Context, prices PriceFetcher, req route.RouteRequest) (route.RouteRequest, error) {
	if route.IsStable(req.Asset) {
		req.AmountUSD = req.Amount
		return req, nil
	}
	if prices == nil {
		return req, fmt.Errorf("no price source to value %s", req.Asset)
	}
	price, err := prices.FetchPrice(ctx, req.Asset)
	if err != nil {
		return req, fmt.Errorf("price %s: %w", req.Asset, err)
	}
	if !price.IsPositive() {
		return req, fmt.Errorf("price %s: non-positive price %s", req.Asset, price)
	}
	req.AmountUSD = req.Amount.Mul(price)
	return req, nil
}

// FixedPrices serves configured USD prices keyed by asset symbol.
type FixedPrices map[string]decimal.Decimal

// NewFixedPrices upper-cases the symbols of raw.
func NewFixedPrices(raw map[string]float64) FixedPrices {
	out := make(FixedPrices, len(raw))
	for symbol, price := range raw {
		out[strings.ToUpper(strings.TrimSpace(symbol))] = decimal.NewFromFloat(price)
	}
	return out
}

// FetchPrice returns the configured price of asset.
func (f FixedPrices) FetchPrice(_ context.Context, asset string) (decimal.Decimal, error) {
	price, ok := f[strings.ToUpper(strings.TrimSpace(asset))]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no fixed price for %s", asset)
	}
	return price, nil
}

var _ PriceFetcher = FixedPrices(nil)
