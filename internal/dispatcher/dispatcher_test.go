package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosschain-router/internal/route"
)

const (
	sender    = "0x52908400098527886e0f7030069857d2e4169ee7"
	recipient = "0x8617e340b3d01fa5f11f306f4090fd50e238070d"
	messenger = "0x1682Ae6375C4E4A97e4B583BC394c861A46D8962"
	spokePool = "0x09aea4b2242abC8bb4BB78D537A67a245A7bEC64"
)

func request(asset string, amount int64) route.TransferRequest {
	return route.TransferRequest{
		Route: route.RouteRequest{
			Source:      route.Base,
			Destination: route.Arbitrum,
			Asset:       asset,
			Amount:      decimal.NewFromInt(amount),
			Policy:      route.PolicyCheapest,
		},
		FromAddress: sender,
		ToAddress:   recipient,
	}
}

func quote(method route.ExecutionMethod, endpoint string) route.Quote {
	return route.Quote{
		ProviderID:     "test",
		FeeUSD:         decimal.RequireFromString("0.25"),
		ETAMinutes:     2,
		SuccessRate:    decimal.RequireFromString("0.99"),
		LiquidityUSD:   decimal.NewFromInt(1_000_000),
		ExecutionReady: true,
		Method:         method,
		Endpoint:       endpoint,
		FetchedAt:      time.Unix(1_700_000_000, 0).UTC(),
	}
}

type scriptedBroadcaster struct {
	submitErr map[int]error
	awaitErr  error
	calls     []Payload
}

func (s *scriptedBroadcaster) Submit(_ context.Context, _ route.Network, p Payload) (string, error) {
	s.calls = append(s.calls, p)
	if err := s.submitErr[len(s.calls)]; err != nil {
		return "", err
	}
	return common.BigToHash(big.NewInt(int64(len(s.calls)))).Hex(), nil
}

func (s *scriptedBroadcaster) Await(context.Context, route.Network, string) error {
	return s.awaitErr
}

func (s *scriptedBroadcaster) Address() string { return sender }

func newDispatcher(t *testing.T, b Broadcaster) *Dispatcher {
	t.Helper()
	d, err := NewDefault(route.DefaultTokens(), b, zerolog.Nop())
	require.NoError(t, err)
	return d
}

func TestNewRequiresEveryMethod(t *testing.T) {
	strategies := DefaultStrategies()
	delete(strategies, route.MethodCalldataRelay)

	_, err := New(strategies, route.DefaultTokens(), NewDryRun(zerolog.Nop()), zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestExecuteCCTPAuthorizesThenBurns(t *testing.T) {
	dry := NewDryRun(zerolog.Nop())
	receipt, err := newDispatcher(t, dry).Execute(context.Background(), request("USDC", 100), quote(route.MethodCCTPBurn, messenger))
	require.NoError(t, err)

	subs := dry.Submitted()
	require.Len(t, subs, 2)
	assert.Equal(t, subs[0].Ref, receipt.AuthorizationRef)
	assert.Equal(t, subs[1].Ref, receipt.TransferRef)

	usdc, _ := route.DefaultTokens().Lookup(route.Base, "USDC")
	assert.Equal(t, usdc.Address, subs[0].Payload.To)
	assert.Equal(t, erc20ABI.Methods["approve"].ID, subs[0].Payload.Data[:4])
	approve, err := erc20ABI.Methods["approve"].Inputs.Unpack(subs[0].Payload.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(messenger), approve[0])
	assert.Equal(t, big.NewInt(100_000_000), approve[1])

	assert.Equal(t, messenger, subs[1].Payload.To)
	burn, err := tokenMessengerABI.Methods["depositForBurn"].Inputs.Unpack(subs[1].Payload.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100_000_000), burn[0])
	assert.Equal(t, uint32(3), burn[1])
	assert.Equal(t, common.HexToAddress(usdc.Address), burn[3])
}

func TestExecuteSpokePoolDeductsFee(t *testing.T) {
	dry := NewDryRun(zerolog.Nop()).WithAddress(sender)
	_, err := newDispatcher(t, dry).Execute(context.Background(), request("USDC", 100), quote(route.MethodSpokePoolDeposit, spokePool))
	require.NoError(t, err)

	subs := dry.Submitted()
	require.Len(t, subs, 2)
	args, err := spokePoolABI.Methods["depositV3"].Inputs.Unpack(subs[1].Payload.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(sender), args[0])
	assert.Equal(t, common.HexToAddress(recipient), args[1])
	assert.Equal(t, big.NewInt(100_000_000), args[4])
	assert.Equal(t, big.NewInt(99_750_000), args[5])
	assert.Equal(t, big.NewInt(42161), args[6])
}

func TestExecuteSpokePoolDepositorIsSigner(t *testing.T) {
	signer := "0x1111111111111111111111111111111111111111"
	req := request("USDC", 100)
	req.FromAddress = ""

	dry := NewDryRun(zerolog.Nop()).WithAddress(signer)
	_, err := newDispatcher(t, dry).Execute(context.Background(), req, quote(route.MethodSpokePoolDeposit, spokePool))
	require.NoError(t, err)

	subs := dry.Submitted()
	require.Len(t, subs, 2)
	args, err := spokePoolABI.Methods["depositV3"].Inputs.Unpack(subs[1].Payload.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(signer), args[0])
}

func TestExecuteSpokePoolWithoutSignerIsConfigurationError(t *testing.T) {
	dry := NewDryRun(zerolog.Nop())
	_, err := newDispatcher(t, dry).Execute(context.Background(), request("USDC", 100), quote(route.MethodSpokePoolDeposit, spokePool))
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "signer address")
	assert.Empty(t, dry.Submitted())
}

func TestExecuteSpokePoolConvertsFeeForVolatileAsset(t *testing.T) {
	req := request("WBTC", 0)
	req.Route.Source = route.Polygon
	req.Route.Destination = route.Ethereum
	req.Route.Amount = decimal.RequireFromString("0.01")
	req.Route.AmountUSD = decimal.NewFromInt(600)
	q := quote(route.MethodSpokePoolDeposit, spokePool)
	q.FeeUSD = decimal.NewFromInt(6)

	dry := NewDryRun(zerolog.Nop()).WithAddress(sender)
	_, err := newDispatcher(t, dry).Execute(context.Background(), req, q)
	require.NoError(t, err)

	subs := dry.Submitted()
	require.Len(t, subs, 2)
	args, err := spokePoolABI.Methods["depositV3"].Inputs.Unpack(subs[1].Payload.Data[4:])
	require.NoError(t, err)
	// $6 of a $600 position is 0.0001 WBTC
	assert.Equal(t, big.NewInt(1_000_000), args[4])
	assert.Equal(t, big.NewInt(990_000), args[5])
	assert.Equal(t, big.NewInt(1), args[6])
}

func TestExecuteSpokePoolUnvaluedVolatileAssetIsConfigurationError(t *testing.T) {
	req := request("WBTC", 1)
	req.Route.Source = route.Polygon
	req.Route.Destination = route.Ethereum

	dry := NewDryRun(zerolog.Nop()).WithAddress(sender)
	_, err := newDispatcher(t, dry).Execute(context.Background(), req, quote(route.MethodSpokePoolDeposit, spokePool))
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "without a USD value")
	assert.Empty(t, dry.Submitted())
}

func TestExecuteSpokePoolRejectsMalformedPayload(t *testing.T) {
	q := quote(route.MethodSpokePoolDeposit, spokePool)
	q.Payload = json.RawMessage(`{"outputAmount": 99`)

	dry := NewDryRun(zerolog.Nop()).WithAddress(sender)
	_, err := newDispatcher(t, dry).Execute(context.Background(), request("USDC", 100), q)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "decode spoke pool payload")
	assert.Empty(t, dry.Submitted())
}

func TestExecuteRelayNativeSkipsAuthorization(t *testing.T) {
	payload, err := json.Marshal(map[string]any{
		"tx": map[string]string{"to": spokePool, "data": "0xdeadbeef", "value": "1000"},
	})
	require.NoError(t, err)
	q := quote(route.MethodCalldataRelay, "")
	q.Payload = payload

	dry := NewDryRun(zerolog.Nop())
	receipt, err := newDispatcher(t, dry).Execute(context.Background(), request("ETH", 1), q)
	require.NoError(t, err)

	subs := dry.Submitted()
	require.Len(t, subs, 1)
	assert.Empty(t, receipt.AuthorizationRef)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, subs[0].Payload.Data)
	assert.Equal(t, big.NewInt(1000), subs[0].Payload.Value)
}

func TestExecuteRefusesNonExecutableQuote(t *testing.T) {
	q := quote(route.MethodCCTPBurn, messenger)
	q.ExecutionReady = false
	dry := NewDryRun(zerolog.Nop())

	_, err := newDispatcher(t, dry).Execute(context.Background(), request("USDC", 100), q)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Empty(t, dry.Submitted())
}

func TestExecuteUnknownMethodIsConfigurationError(t *testing.T) {
	dry := NewDryRun(zerolog.Nop())
	_, err := newDispatcher(t, dry).Execute(context.Background(), request("USDC", 100), quote("teleport", messenger))
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, route.ErrUnknownMethod)
	assert.Empty(t, dry.Submitted())
}

func TestExecuteAuthorizationFailureStopsBeforeSubmit(t *testing.T) {
	b := &scriptedBroadcaster{awaitErr: errors.New("approval reverted")}
	receipt, err := newDispatcher(t, b).Execute(context.Background(), request("USDC", 100), quote(route.MethodCCTPBurn, messenger))

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepAuthorize, stepErr.Step)
	assert.Equal(t, "test", stepErr.Provider)
	assert.Contains(t, err.Error(), "approval reverted")
	assert.Len(t, b.calls, 1)
	assert.NotEmpty(t, receipt.AuthorizationRef)
	assert.Empty(t, receipt.TransferRef)
}

func TestExecuteSubmitFailureReportsPartialProgress(t *testing.T) {
	b := &scriptedBroadcaster{submitErr: map[int]error{2: errors.New("nonce too low")}}
	receipt, err := newDispatcher(t, b).Execute(context.Background(), request("USDC", 100), quote(route.MethodCCTPBurn, messenger))

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepSubmit, stepErr.Step)
	assert.Len(t, b.calls, 2)
	assert.NotEmpty(t, receipt.AuthorizationRef)
	assert.Empty(t, receipt.TransferRef)
}

func TestExecuteMissingEndpointIsConfigurationError(t *testing.T) {
	dry := NewDryRun(zerolog.Nop())
	_, err := newDispatcher(t, dry).Execute(context.Background(), request("USDC", 100), quote(route.MethodSpokePoolDeposit, ""))
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Empty(t, dry.Submitted())
}
