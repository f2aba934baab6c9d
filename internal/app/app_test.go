package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosschain-router/internal/config"
	"crosschain-router/internal/route"
	"crosschain-router/internal/storage"
)

const (
	walletA = "0x52908400098527886e0f7030069857d2e4169ee7"
	walletB = "0x8617e340b3d01fa5f11f306f4090fd50e238070d"
)

func testApp(t *testing.T) *App {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
api:
  home_network: base
alerting:
  channels: [log]
signer:
  address: "0x52908400098527886e0f7030069857d2e4169ee7"
providers:
  - id: across
    kind: static
    execution_method: spokepool_deposit
    success_rate: 0.99
    eta_minutes: 2
    fee_usd: 0.6
    liquidity_usd: 1000000
    endpoint: "0x09aea4b2242abC8bb4BB78D537A67a245A7bEC64"
  - id: slowbridge
    kind: static
    execution_method: cctp_burn
    success_rate: 0.999
    eta_minutes: 20
    fee_usd: 0.1
    liquidity_usd: 1000000
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return NewApp(cfg, zerolog.Nop())
}

func TestChatTransferFlow(t *testing.T) {
	a := testApp(t)
	in := strings.NewReader("send 100 USDC to arbitrum " + walletB + "\nyes\nexit\n")
	var out bytes.Buffer

	require.NoError(t, a.Chat(context.Background(), ChatOptions{SessionID: "cli-test", Wallet: walletA}, in, &out))

	text := out.String()
	assert.Contains(t, text, "session cli-test")
	assert.Contains(t, text, "[awaiting_confirmation]")
	assert.Contains(t, text, "via across")
	assert.Contains(t, text, "Submitted 100 USDC to arbitrum via across")
	assert.Contains(t, text, "dryrun-")
}

func TestChatWithoutSignerAddressSendsNothing(t *testing.T) {
	a := testApp(t)
	a.Config.Signer.Address = ""
	in := strings.NewReader("send 100 USDC to arbitrum " + walletB + "\nyes\nexit\n")
	var out bytes.Buffer

	require.NoError(t, a.Chat(context.Background(), ChatOptions{SessionID: "cli-nosigner", Wallet: walletA}, in, &out))

	text := out.String()
	assert.Contains(t, text, "configuration problem")
	assert.NotContains(t, text, "Submitted")
}

func TestDryRunAddressRejectsGarbage(t *testing.T) {
	a := testApp(t)
	a.Config.Signer.Address = "not-an-address"
	_, err := a.dryRunAddress()
	assert.Error(t, err)

	a.Config.Signer.Address = walletA
	addr, err := a.dryRunAddress()
	require.NoError(t, err)
	assert.Equal(t, walletA, addr)
}

func TestQuotePrintsRanking(t *testing.T) {
	a := testApp(t)
	var out bytes.Buffer

	err := a.Quote(context.Background(), QuoteOptions{Source: "base", Destination: "arbitrum", Asset: "usdc", Amount: "100", Policy: "fastest"}, &out)
	require.NoError(t, err)

	// slowbridge has no endpoint, so only the executable quote is listed
	text := out.String()
	assert.Contains(t, text, "(fastest)")
	assert.Contains(t, text, "across")
	assert.NotContains(t, text, "slowbridge")
	assert.NotContains(t, text, "no_executable_provider")
}

func TestQuoteRejectsBadAmount(t *testing.T) {
	a := testApp(t)
	err := a.Quote(context.Background(), QuoteOptions{Source: "base", Destination: "arbitrum", Asset: "USDC", Amount: "0"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestSimulateAlertNotifies(t *testing.T) {
	a := testApp(t)
	require.NoError(t, a.SimulateAlert(context.Background(), decimal.RequireFromString("0.5"), decimal.NewFromInt(1)))
}

func TestDownsampleSnapshots(t *testing.T) {
	snaps := make([]storage.RouteSnapshot, 10)
	for i := range snaps {
		snaps[i].ID = int64(i)
	}
	got := downsampleSnapshots(snaps, 4)
	require.Len(t, got, 4)
	assert.Equal(t, int64(0), got[0].ID)
	assert.Equal(t, int64(9), got[3].ID)
	assert.Len(t, downsampleSnapshots(snaps, 20), 10)
}

func TestWriteSnapshotsCSV(t *testing.T) {
	fee := decimal.RequireFromString("0.5")
	provider := "across"
	snaps := []storage.RouteSnapshot{{
		TakenAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		RouteKey:     storage.RouteKey("base", "arbitrum", "USDC"),
		Amount:       decimal.NewFromInt(100),
		Policy:       string(route.PolicyCheapest),
		BestProvider: &provider,
		BestFeeUSD:   &fee,
		QuoteCount:   2,
	}}
	path := filepath.Join(t.TempDir(), "out", "fees.csv")
	require.NoError(t, writeSnapshotsCSV(path, snaps))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2024-05-01T12:00:00Z,USDC:base->arbitrum,100,cheapest,across,0.5,0.5000,2,", lines[1])
}

func TestWriteSnapshotsCSVLeavesRatioBlankForVolatileAsset(t *testing.T) {
	fee := decimal.RequireFromString("0.5")
	snaps := []storage.RouteSnapshot{{
		TakenAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		RouteKey:   storage.RouteKey("base", "arbitrum", "ETH"),
		Amount:     decimal.NewFromInt(2),
		Policy:     string(route.PolicyCheapest),
		BestFeeUSD: &fee,
		QuoteCount: 1,
	}}
	path := filepath.Join(t.TempDir(), "eth.csv")
	require.NoError(t, writeSnapshotsCSV(path, snaps))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2024-05-01T12:00:00Z,ETH:base->arbitrum,2,cheapest,,0.5,,1,", lines[1])
}
