package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crosschain-router/internal/route"
)

const quotePath = "/quote"

// HTTPOptions parameterise a JSON quote API provider.
type HTTPOptions struct {
	ID        string
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
	// SuccessRate is used when the API does not report one.
	SuccessRate decimal.Decimal
	// Method is used when the API does not name an execution method.
	Method route.ExecutionMethod
}

// HTTPQuoter fetches quotes from a bridge quoting API.
type HTTPQuoter struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTPQuoter constructs an HTTP quote provider.
func NewHTTPQuoter(opts HTTPOptions, logger zerolog.Logger) *HTTPQuoter {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPQuoter{
		opts:    opts,
		logger:  logger.With().Str("component", "http_quoter").Str("provider", opts.ID).Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// ID returns the provider identifier.
func (h *HTTPQuoter) ID() string { return h.opts.ID }

// Quote posts the route to the API and normalizes the answer.
func (h *HTTPQuoter) Quote(ctx context.Context, req route.RouteRequest) (*route.Quote, error) {
	if h.baseURL == "" {
		return nil, errors.New("quote api base url not configured")
	}
	if !req.Amount.IsPositive() {
		return nil, errors.New("amount must be greater than zero")
	}

	body, err := json.Marshal(quoteRequest{
		FromChain: string(req.Source),
		ToChain:   string(req.Destination),
		Asset:     req.Asset,
		Amount:    req.Amount.String(),
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+quotePath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		httpReq.Header.Set("User-Agent", ua)
	} else {
		httpReq.Header.Set("User-Agent", "routerd/1.0")
	}
	if h.opts.APIKey != "" {
		httpReq.Header.Set("X-API-Key", h.opts.APIKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(h.opts.ID, resp.StatusCode, payload)
	}

	var res quoteResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}

	return h.normalize(res, payload)
}

func (h *HTTPQuoter) normalize(res quoteResponse, payload []byte) (*route.Quote, error) {
	fee, err := decimal.NewFromString(res.FeeUSD)
	if err != nil {
		return nil, fmt.Errorf("parse fee: %w", err)
	}

	liquidity := decimal.Zero
	if res.LiquidityUSD != "" {
		liquidity, err = decimal.NewFromString(res.LiquidityUSD)
		if err != nil {
			return nil, fmt.Errorf("parse liquidity: %w", err)
		}
	}

	success := h.opts.SuccessRate
	if res.SuccessRate != "" {
		success, err = decimal.NewFromString(res.SuccessRate)
		if err != nil {
			return nil, fmt.Errorf("parse success rate: %w", err)
		}
	}

	methodName := res.ExecutionMethod
	if methodName == "" {
		methodName = string(h.opts.Method)
	}
	method, err := route.ParseExecutionMethod(methodName)
	if err != nil {
		return nil, err
	}

	q := &route.Quote{
		ProviderID:     h.opts.ID,
		FeeUSD:         fee,
		ETAMinutes:     secondsToMinutes(res.EstimatedTime),
		SuccessRate:    success,
		LiquidityUSD:   liquidity,
		ExecutionReady: res.Executable,
		Method:         method,
		Endpoint:       res.Endpoint,
		Payload:        json.RawMessage(payload),
		FetchedAt:      time.Now().UTC(),
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

func secondsToMinutes(seconds int64) int {
	if seconds <= 0 {
		return 0
	}
	return int((seconds + 59) / 60)
}

type quoteRequest struct {
	FromChain string `json:"fromChain"`
	ToChain   string `json:"toChain"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
}

type quoteResponse struct {
	FeeUSD          string `json:"feeUsd"`
	EstimatedTime   int64  `json:"estimatedTime"`
	LiquidityUSD    string `json:"liquidityUsd"`
	SuccessRate     string `json:"successRate"`
	Executable      bool   `json:"executable"`
	ExecutionMethod string `json:"executionMethod"`
	Endpoint        string `json:"endpoint"`
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(provider string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("%s api error (%d): %s", provider, status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("%s api error (%d): %s", provider, status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("%s api error (%d): %s", provider, status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", provider, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", provider, status)
}

var _ Provider = (*HTTPQuoter)(nil)
