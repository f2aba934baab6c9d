package fetcher

import (
	"context"

	"github.com/shopspring/decimal"

	"crosschain-router/internal/route"
)

// Provider quotes routes from one source. Implementations return an error
// rather than a quote when the source fails; callers treat that as "no quote".
type Provider interface {
	ID() string
	Quote(ctx context.Context, req route.RouteRequest) (*route.Quote, error)
}

// PriceFetcher returns the USD price of an asset.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// GasFetcher returns the current gas price of a network in gwei.
type GasFetcher interface {
	FetchGasPrice(ctx context.Context, network route.Network) (decimal.Decimal, error)
}
