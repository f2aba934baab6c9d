package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PriceOptions parameterise the HTTP price fetcher.
type PriceOptions struct {
	BaseURL string
	Timeout time.Duration
	// IDs maps asset symbols to the API's coin ids.
	IDs map[string]string
}

// HTTPPrice fetches USD prices from a CoinGecko compatible simple price API.
type HTTPPrice struct {
	opts    PriceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTPPrice constructs a price fetcher.
func NewHTTPPrice(opts PriceOptions, logger zerolog.Logger) *HTTPPrice {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	return &HTTPPrice{
		opts:    opts,
		logger:  logger.With().Str("component", "price_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchPrice returns the USD price of asset.
func (p *HTTPPrice) FetchPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	id := p.coinID(asset)
	if id == "" {
		return decimal.Decimal{}, errors.New("asset symbol required")
	}

	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", "usd")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/simple/price?"+query.Encode(), nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, parseHTTPError("price", resp.StatusCode, payload)
	}

	var prices map[string]map[string]json.Number
	if err := json.Unmarshal(payload, &prices); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode prices: %w", err)
	}
	raw, ok := prices[id]["usd"]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no usd price for %s", asset)
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price: %w", err)
	}
	return price, nil
}

func (p *HTTPPrice) coinID(asset string) string {
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	if id, ok := p.opts.IDs[symbol]; ok {
		return id
	}
	if id, ok := p.opts.IDs[strings.ToLower(symbol)]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

var _ PriceFetcher = (*HTTPPrice)(nil)
