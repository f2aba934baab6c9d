package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crosschain-router/internal/route"
)

// RPCGas reads eth_gasPrice from each network's RPC endpoint.
type RPCGas struct {
	endpoints map[route.Network]string
	timeout   time.Duration
	logger    zerolog.Logger
	clients   map[route.Network]*ethclient.Client
	clientMux sync.Mutex
}

// NewRPCGas builds a gas oracle over the given endpoints.
func NewRPCGas(endpoints map[route.Network]string, timeout time.Duration, logger zerolog.Logger) *RPCGas {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCGas{
		endpoints: endpoints,
		timeout:   timeout,
		logger:    logger.With().Str("component", "gas_fetcher").Logger(),
		clients:   make(map[route.Network]*ethclient.Client),
	}
}

// FetchGasPrice returns the suggested gas price in gwei.
func (g *RPCGas) FetchGasPrice(ctx context.Context, network route.Network) (decimal.Decimal, error) {
	if network.Family() != route.FamilyEVM {
		return decimal.Decimal{}, fmt.Errorf("gas price unsupported on %s", network)
	}
	rpcURL := g.endpoints[network]
	if rpcURL == "" {
		return decimal.Decimal{}, fmt.Errorf("no rpc url for %s", network)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	client, err := g.getClient(ctx, network, rpcURL)
	if err != nil {
		return decimal.Decimal{}, err
	}
	wei, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("suggest gas price: %w", err)
	}
	return decimal.NewFromBigInt(wei, -9), nil
}

func (g *RPCGas) getClient(ctx context.Context, network route.Network, rpcURL string) (*ethclient.Client, error) {
	g.clientMux.Lock()
	defer g.clientMux.Unlock()

	if client, ok := g.clients[network]; ok {
		return client, nil
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	g.clients[network] = client
	return client, nil
}

var _ GasFetcher = (*RPCGas)(nil)
