package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"crosschain-router/internal/route"
)

const (
	erc20ABIJSON          = `[{"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`
	tokenMessengerABIJSON = `[{"inputs":[{"name":"amount","type":"uint256"},{"name":"destinationDomain","type":"uint32"},{"name":"mintRecipient","type":"bytes32"},{"name":"burnToken","type":"address"}],"name":"depositForBurn","outputs":[{"name":"nonce","type":"uint64"}],"stateMutability":"nonpayable","type":"function"}]`
	spokePoolABIJSON      = `[{"inputs":[{"name":"depositor","type":"address"},{"name":"recipient","type":"address"},{"name":"inputToken","type":"address"},{"name":"outputToken","type":"address"},{"name":"inputAmount","type":"uint256"},{"name":"outputAmount","type":"uint256"},{"name":"destinationChainId","type":"uint256"},{"name":"exclusiveRelayer","type":"address"},{"name":"quoteTimestamp","type":"uint32"},{"name":"fillDeadline","type":"uint32"},{"name":"exclusivityDeadline","type":"uint32"},{"name":"message","type":"bytes"}],"name":"depositV3","outputs":[],"stateMutability":"payable","type":"function"}]`

	fillWindow = 6 * time.Hour
)

var (
	erc20ABI          = mustABI(erc20ABIJSON)
	tokenMessengerABI = mustABI(tokenMessengerABIJSON)
	spokePoolABI      = mustABI(spokePoolABIJSON)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse ABI: " + err.Error())
	}
	return parsed
}

// Transfer is the input handed to a Strategy.
type Transfer struct {
	Request route.TransferRequest
	Quote   route.Quote
	// Token is the asset on the source network; OutputToken on the
	// destination, zero when the asset is not deployed there.
	Token       route.Token
	OutputToken route.Token
	// Signer is the account the broadcaster signs with.
	Signer string
	Now    time.Time
}

// Plan is what a Strategy wants submitted.
type Plan struct {
	// Spender receives the spend authorization; empty skips that step.
	Spender string
	Call    Payload
}

// Strategy builds the provider specific transfer call.
type Strategy interface {
	Plan(t Transfer) (Plan, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(t Transfer) (Plan, error)

func (f StrategyFunc) Plan(t Transfer) (Plan, error) { return f(t) }

// DefaultStrategies covers every route.ExecutionMethod.
func DefaultStrategies() map[route.ExecutionMethod]Strategy {
	return map[route.ExecutionMethod]Strategy{
		route.MethodCCTPBurn:         StrategyFunc(cctpBurn),
		route.MethodSpokePoolDeposit: StrategyFunc(spokePoolDeposit),
		route.MethodCalldataRelay:    StrategyFunc(calldataRelay),
	}
}

func cctpBurn(t Transfer) (Plan, error) {
	r := t.Request.Route
	if t.Token.Native() {
		return Plan{}, fmt.Errorf("%s cannot be burned", r.Asset)
	}
	messenger := t.Quote.Endpoint
	if !common.IsHexAddress(messenger) {
		return Plan{}, errors.New("quote has no token messenger endpoint")
	}
	domain, ok := r.Destination.CCTPDomain()
	if !ok {
		return Plan{}, fmt.Errorf("%s has no cctp domain", r.Destination)
	}
	recipient, err := route.RecipientBytes32(r.Destination, t.Request.ToAddress)
	if err != nil {
		return Plan{}, err
	}

	data, err := tokenMessengerABI.Pack("depositForBurn",
		t.Token.ToAtoms(r.Amount).BigInt(),
		domain,
		recipient,
		common.HexToAddress(t.Token.Address),
	)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Spender: messenger,
		Call:    Payload{To: messenger, Data: data, Value: new(big.Int)},
	}, nil
}

type spokePoolHints struct {
	OutputAmount string `json:"outputAmount"`
}

func spokePoolDeposit(t Transfer) (Plan, error) {
	r := t.Request.Route
	pool := t.Quote.Endpoint
	if !common.IsHexAddress(pool) {
		return Plan{}, errors.New("quote has no spoke pool endpoint")
	}
	// the pool pulls funds from the depositor, which must be the signer
	if !common.IsHexAddress(t.Signer) {
		return Plan{}, errors.New("spoke pool deposits need a signer address")
	}
	if t.Token.Native() || t.OutputToken.Address == "" {
		return Plan{}, fmt.Errorf("%s needs token deployments on %s and %s", r.Asset, r.Source, r.Destination)
	}
	chainID := r.Destination.ChainID()
	if chainID == nil {
		return Plan{}, fmt.Errorf("%s is not served by spoke pools", r.Destination)
	}

	input := t.Token.ToAtoms(r.Amount)
	output, err := outputAmount(t)
	if err != nil {
		return Plan{}, err
	}

	quoted := t.Quote.FetchedAt
	if quoted.IsZero() {
		quoted = t.Now
	}
	data, err := spokePoolABI.Pack("depositV3",
		common.HexToAddress(t.Signer),
		common.HexToAddress(t.Request.ToAddress),
		common.HexToAddress(t.Token.Address),
		common.HexToAddress(t.OutputToken.Address),
		input.BigInt(),
		output,
		chainID,
		common.Address{},
		uint32(quoted.Unix()),
		uint32(quoted.Add(fillWindow).Unix()),
		uint32(0),
		[]byte{},
	)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Spender: pool,
		Call:    Payload{To: pool, Data: data, Value: new(big.Int)},
	}, nil
}

// outputAmount prefers the provider's own figure and otherwise deducts the
// USD fee converted into the asset's units.
func outputAmount(t Transfer) (*big.Int, error) {
	var hints spokePoolHints
	if len(t.Quote.Payload) > 0 {
		if err := json.Unmarshal(t.Quote.Payload, &hints); err != nil {
			return nil, fmt.Errorf("decode spoke pool payload: %w", err)
		}
	}
	if hints.OutputAmount != "" {
		out, ok := new(big.Int).SetString(hints.OutputAmount, 10)
		if !ok || out.Sign() <= 0 {
			return nil, fmt.Errorf("invalid output amount %q", hints.OutputAmount)
		}
		return out, nil
	}
	r := t.Request.Route
	fee, ok := r.FeeInTokens(t.Quote.FeeUSD)
	if !ok {
		return nil, fmt.Errorf("cannot convert the $%s fee into %s without a USD value", t.Quote.FeeUSD, r.Asset)
	}
	out := t.OutputToken.ToAtoms(r.Amount.Sub(fee))
	if !out.IsPositive() {
		return nil, errors.New("fee consumes the whole amount")
	}
	return out.BigInt(), nil
}

type relayPayload struct {
	Spender string `json:"spender"`
	Tx      struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"tx"`
}

func calldataRelay(t Transfer) (Plan, error) {
	var p relayPayload
	if err := json.Unmarshal(t.Quote.Payload, &p); err != nil {
		return Plan{}, fmt.Errorf("decode relay payload: %w", err)
	}
	if !common.IsHexAddress(p.Tx.To) {
		return Plan{}, errors.New("relay payload has no transaction target")
	}
	var data []byte
	if p.Tx.Data != "" && p.Tx.Data != "0x" {
		decoded, err := hexutil.Decode(p.Tx.Data)
		if err != nil {
			return Plan{}, fmt.Errorf("relay calldata: %w", err)
		}
		data = decoded
	}
	value := new(big.Int)
	if p.Tx.Value != "" {
		if _, ok := value.SetString(strings.TrimPrefix(p.Tx.Value, "0x"), base(p.Tx.Value)); !ok {
			return Plan{}, fmt.Errorf("invalid relay value %q", p.Tx.Value)
		}
	}
	return Plan{
		Spender: p.Spender,
		Call:    Payload{To: p.Tx.To, Data: data, Value: value},
	}, nil
}

func base(v string) int {
	if strings.HasPrefix(v, "0x") {
		return 16
	}
	return 10
}
