package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crosschain-router/internal/route"
)

const (
	feeQuoterABIJSON = `[{"inputs":[{"internalType":"uint32","name":"destinationDomain","type":"uint32"},{"internalType":"address","name":"token","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"quoteTransfer","outputs":[{"internalType":"uint256","name":"fee","type":"uint256"},{"internalType":"uint256","name":"liquidity","type":"uint256"}],"stateMutability":"view","type":"function"}]`
)

var (
	feeQuoterABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(feeQuoterABIJSON))
	if err != nil {
		panic("failed to parse fee quoter ABI: " + err.Error())
	}
	feeQuoterABI = parsed
}

// OnChainOptions parameterise a provider whose fees are read from a contract.
type OnChainOptions struct {
	ID string
	// RPCURLs and Contracts are keyed by source network.
	RPCURLs     map[route.Network]string
	Contracts   map[route.Network]string
	Tokens      route.TokenBook
	ETAMinutes  int
	SuccessRate decimal.Decimal
	Method      route.ExecutionMethod
	Timeout     time.Duration
	// Prices converts token-denominated fees to USD; nil treats 1 token as $1.
	Prices PriceFetcher
}

// OnChainQuoter calls quoteTransfer on the provider's router contract.
type OnChainQuoter struct {
	opts      OnChainOptions
	logger    zerolog.Logger
	clients   map[route.Network]*ethclient.Client
	clientMux sync.Mutex
}

// NewOnChainQuoter builds a contract-backed provider.
func NewOnChainQuoter(opts OnChainOptions, logger zerolog.Logger) *OnChainQuoter {
	return &OnChainQuoter{
		opts:    opts,
		logger:  logger.With().Str("component", "onchain_quoter").Str("provider", opts.ID).Logger(),
		clients: make(map[route.Network]*ethclient.Client),
	}
}

// ID returns the provider identifier.
func (o *OnChainQuoter) ID() string { return o.opts.ID }

// Quote reads fee and available liquidity from the source chain contract.
func (o *OnChainQuoter) Quote(ctx context.Context, req route.RouteRequest) (*route.Quote, error) {
	rpcURL := o.opts.RPCURLs[req.Source]
	if rpcURL == "" {
		return nil, fmt.Errorf("no rpc url for %s", req.Source)
	}
	contract := o.opts.Contracts[req.Source]
	if contract == "" {
		return nil, fmt.Errorf("no %s contract on %s", o.opts.ID, req.Source)
	}
	domain, ok := req.Destination.CCTPDomain()
	if !ok {
		return nil, fmt.Errorf("%s does not serve %s", o.opts.ID, req.Destination)
	}
	token, ok := o.opts.Tokens.Lookup(req.Source, req.Asset)
	if !ok || token.Native() {
		return nil, fmt.Errorf("%s not transferable via %s on %s", req.Asset, o.opts.ID, req.Source)
	}

	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := o.getClient(ctx, req.Source, rpcURL)
	if err != nil {
		return nil, err
	}

	atoms := token.ToAtoms(req.Amount).BigInt()
	payload, err := feeQuoterABI.Pack("quoteTransfer", domain, common.HexToAddress(token.Address), atoms)
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(contract)
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, err
	}

	outputs, err := feeQuoterABI.Unpack("quoteTransfer", res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 2 {
		return nil, errors.New("unexpected quoteTransfer response")
	}
	feeAtoms, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode quoteTransfer fee")
	}
	liquidityAtoms, ok := outputs[1].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode quoteTransfer liquidity")
	}

	price := decimal.NewFromInt(1)
	if o.opts.Prices != nil {
		price, err = o.opts.Prices.FetchPrice(ctx, req.Asset)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", req.Asset, err)
		}
	}

	fee := token.FromAtoms(decimal.NewFromBigInt(feeAtoms, 0)).Mul(price)
	liquidity := token.FromAtoms(decimal.NewFromBigInt(liquidityAtoms, 0)).Mul(price)

	raw, err := json.Marshal(map[string]string{
		"contract":  contract,
		"feeAtoms":  feeAtoms.String(),
		"liquidity": liquidityAtoms.String(),
	})
	if err != nil {
		return nil, err
	}

	q := &route.Quote{
		ProviderID:     o.opts.ID,
		FeeUSD:         fee,
		ETAMinutes:     o.opts.ETAMinutes,
		SuccessRate:    o.opts.SuccessRate,
		LiquidityUSD:   liquidity,
		ExecutionReady: true,
		Method:         o.opts.Method,
		Endpoint:       contract,
		Payload:        raw,
		FetchedAt:      time.Now().UTC(),
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

func (o *OnChainQuoter) getClient(ctx context.Context, network route.Network, rpcURL string) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if client, ok := o.clients[network]; ok {
		return client, nil
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	o.clients[network] = client
	return client, nil
}

var _ Provider = (*OnChainQuoter)(nil)
