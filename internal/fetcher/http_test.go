package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crosschain-router/internal/route"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testRequest() route.RouteRequest {
	return route.RouteRequest{
		Source:      route.Ethereum,
		Destination: route.Arbitrum,
		Asset:       "USDC",
		Amount:      decimal.NewFromInt(100),
		Policy:      route.PolicyCheapest,
	}
}

func TestHTTPQuoterMissingBaseURL(t *testing.T) {
	h := NewHTTPQuoter(HTTPOptions{ID: "across"}, noopLogger())
	if _, err := h.Quote(context.Background(), testRequest()); err == nil {
		t.Fatal("missing base url should fail")
	}
}

func TestHTTPQuoterHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"description": "route not supported"})
	}))
	defer srv.Close()

	h := NewHTTPQuoter(HTTPOptions{ID: "across", BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := h.Quote(context.Background(), testRequest())
	if err == nil {
		t.Fatal("HTTP 400 should fail")
	}
	if got := err.Error(); got != "across api error (400): route not supported" {
		t.Fatalf("unexpected error text: %s", got)
	}
}

func TestHTTPQuoterSuccess(t *testing.T) {
	var received quoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"feeUsd":          "0.84",
			"estimatedTime":   90,
			"liquidityUsd":    "2500000",
			"executable":      true,
			"executionMethod": "spokepool_deposit",
			"endpoint":        "0x5c7BCd6E7De5423a257D81B442095A1a6ced35C5",
		})
	}))
	defer srv.Close()

	h := NewHTTPQuoter(HTTPOptions{
		ID:          "across",
		BaseURL:     srv.URL,
		Timeout:     time.Second,
		SuccessRate: decimal.RequireFromString("0.99"),
	}, noopLogger())

	q, err := h.Quote(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("quote should succeed: %v", err)
	}
	if received.FromChain != "ethereum" || received.ToChain != "arbitrum" || received.Amount != "100" {
		t.Fatalf("unexpected request %#v", received)
	}
	if !q.FeeUSD.Equal(decimal.RequireFromString("0.84")) {
		t.Fatalf("fee = %s", q.FeeUSD)
	}
	if q.ETAMinutes != 2 {
		t.Fatalf("eta = %d, want 2", q.ETAMinutes)
	}
	if q.Method != route.MethodSpokePoolDeposit {
		t.Fatalf("method = %s", q.Method)
	}
	if !q.SuccessRate.Equal(decimal.RequireFromString("0.99")) {
		t.Fatalf("success rate should fall back to configured value, got %s", q.SuccessRate)
	}
	if len(q.Payload) == 0 {
		t.Fatal("raw payload should be kept for execution")
	}
}

func TestHTTPQuoterRejectsUnknownMethod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"feeUsd":          "1",
			"executionMethod": "teleport",
		})
	}))
	defer srv.Close()

	h := NewHTTPQuoter(HTTPOptions{ID: "x", BaseURL: srv.URL}, noopLogger())
	if _, err := h.Quote(context.Background(), testRequest()); err == nil {
		t.Fatal("unknown execution method should fail")
	}
}

func TestHTTPPriceSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ids") != "ethereum" {
			t.Fatalf("unexpected ids %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"ethereum":{"usd":3521.17}}`))
	}))
	defer srv.Close()

	p := NewHTTPPrice(PriceOptions{BaseURL: srv.URL, IDs: map[string]string{"ETH": "ethereum"}}, noopLogger())
	price, err := p.FetchPrice(context.Background(), "eth")
	if err != nil {
		t.Fatalf("price should succeed: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("3521.17")) {
		t.Fatalf("price = %s", price)
	}
}

func TestOnChainQuoterMissingConfig(t *testing.T) {
	q := NewOnChainQuoter(OnChainOptions{ID: "cctp"}, noopLogger())
	if _, err := q.Quote(context.Background(), testRequest()); err == nil {
		t.Fatal("missing rpc url should fail")
	}

	q = NewOnChainQuoter(OnChainOptions{
		ID:      "cctp",
		RPCURLs: map[route.Network]string{route.Ethereum: "http://localhost"},
	}, noopLogger())
	if _, err := q.Quote(context.Background(), testRequest()); err == nil {
		t.Fatal("missing contract should fail")
	}
}

func TestStaticHonoursContext(t *testing.T) {
	s := NewStatic(route.Quote{ProviderID: "slow"}).WithDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Quote(ctx, testRequest()); err == nil {
		t.Fatal("expired context should abort the delay")
	}
}
