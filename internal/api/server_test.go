package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosschain-router/internal/dispatcher"
	"crosschain-router/internal/guardrail"
	"crosschain-router/internal/intent"
	"crosschain-router/internal/monitor"
	"crosschain-router/internal/route"
	"crosschain-router/internal/session"
	"crosschain-router/internal/transfer"
)

const (
	walletA = "0x52908400098527886e0f7030069857d2e4169ee7"
	walletB = "0x8617e340b3d01fa5f11f306f4090fd50e238070d"
)

type staticRoutes struct{}

func (staticRoutes) Route(_ context.Context, req route.RouteRequest) route.RankedRouteSet {
	q := route.Quote{
		ProviderID:     "across",
		FeeUSD:         decimal.RequireFromString("0.5"),
		ETAMinutes:     2,
		SuccessRate:    decimal.RequireFromString("0.99"),
		LiquidityUSD:   decimal.NewFromInt(1_000_000),
		ExecutionReady: true,
		Method:         route.MethodSpokePoolDeposit,
	}
	return route.NewRankedRouteSet([]route.Quote{q}, req.Policy, nil)
}

type countingExecutor struct{ calls int }

func (e *countingExecutor) Execute(_ context.Context, req route.TransferRequest, q route.Quote) (dispatcher.Receipt, error) {
	e.calls++
	return dispatcher.Receipt{
		Provider:    q.ProviderID,
		Destination: req.Route.Destination,
		Asset:       req.Route.Asset,
		Amount:      req.Route.Amount,
		TransferRef: "0xfeed",
	}, nil
}

func newTestServer(t *testing.T) (*Server, *countingExecutor) {
	t.Helper()
	exec := &countingExecutor{}
	alerts := monitor.New(monitor.NewMemoryRegistry(), staticRoutes{}, nil, nil, monitor.Options{}, zerolog.Nop())
	machine := transfer.New(session.NewMemoryStore(), staticRoutes{}, guardrail.New(guardrail.DefaultRules()), exec, alerts, transfer.DefaultOptions(), zerolog.Nop())
	srv := NewServer(machine, intent.NewLocal(route.DefaultTokens()), alerts, staticRoutes{}, Options{HomeNetwork: route.Base}, zerolog.Nop())
	return srv, exec
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(payload) > 0 {
		require.NoError(t, json.Unmarshal(payload, &out), string(payload))
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	status, body := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	build, ok := body["build"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "dev", build["version"])
}

func TestMessageConfirmFlow(t *testing.T) {
	srv, exec := newTestServer(t)

	status, body := doJSON(t, srv, http.MethodPost, "/v1/sessions/chat-1/messages", map[string]string{
		"text":   "send 100 USDC from base to arbitrum " + walletB,
		"wallet": walletA,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(session.StateAwaitingConfirmation), body["state"])

	status, body = doJSON(t, srv, http.MethodPost, "/v1/sessions/chat-1/messages", map[string]string{"text": "yes"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(session.StateIdle), body["state"])
	assert.Contains(t, body["message"], "0xfeed")
	assert.Equal(t, 1, exec.calls)

	status, body = doJSON(t, srv, http.MethodGet, "/v1/sessions/chat-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "idle", body["state"])
}

func TestMessageRequiresText(t *testing.T) {
	srv, _ := newTestServer(t)
	status, _ := doJSON(t, srv, http.MethodPost, "/v1/sessions/s/messages", map[string]string{"text": " "})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPostIntentYesWhileIdle(t *testing.T) {
	srv, exec := newTestServer(t)
	status, body := doJSON(t, srv, http.MethodPost, "/v1/sessions/s2/intents", intent.Intent{Kind: intent.KindConfirm, Approve: true})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "idle", body["state"])
	assert.Zero(t, exec.calls)
}

func TestUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	status, _ := doJSON(t, srv, http.MethodGet, "/v1/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestQuoteEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	status, body := doJSON(t, srv, http.MethodGet, "/v1/quotes?source=base&destination=arb&asset=usdc&amount=250&policy=fastest", nil)
	require.Equal(t, http.StatusOK, status)
	routes := body["routes"].(map[string]any)
	best := routes["best"].(map[string]any)
	assert.Equal(t, "across", best["provider_id"])

	status, _ = doJSON(t, srv, http.MethodGet, "/v1/quotes?source=base&destination=arb&asset=usdc&amount=-1", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAlertLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	scope := route.RouteRequest{Source: route.Base, Destination: route.Arbitrum, Asset: "USDC", Amount: decimal.NewFromInt(100)}

	status, body := doJSON(t, srv, http.MethodPost, "/v1/alerts", alertRequest{
		SessionID: "s3",
		Condition: route.Condition{Kind: route.ConditionFeeBelow, Threshold: decimal.NewFromInt(1), Scope: scope},
		Action:    route.ActionNotify,
	})
	require.Equal(t, http.StatusCreated, status)
	id := body["alert_id"].(string)
	require.NotEmpty(t, id)

	status, body = doJSON(t, srv, http.MethodGet, "/v1/sessions/s3/alerts", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["alerts"], 1)

	status, body = doJSON(t, srv, http.MethodDelete, "/v1/alerts/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["cancelled"])

	status, body = doJSON(t, srv, http.MethodDelete, "/v1/alerts/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["cancelled"])
}

func TestAlertRejectsInvalidCondition(t *testing.T) {
	srv, _ := newTestServer(t)
	status, _ := doJSON(t, srv, http.MethodPost, "/v1/alerts", alertRequest{
		SessionID: "s4",
		Condition: route.Condition{Kind: route.ConditionFeeBelow, Threshold: decimal.NewFromInt(1)},
	})
	assert.Equal(t, http.StatusBadRequest, status)
}
