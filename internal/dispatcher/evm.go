package dispatcher

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"crosschain-router/internal/route"
)

// EVMConfig configures the signing broadcaster.
type EVMConfig struct {
	RPCURLs    map[route.Network]string
	PrivateKey string
	// GasLimit is used when estimation fails.
	GasLimit     uint64
	PollInterval time.Duration
}

// EVMBroadcaster signs legacy transactions with a local key.
type EVMBroadcaster struct {
	cfg       EVMConfig
	key       *ecdsa.PrivateKey
	from      common.Address
	logger    zerolog.Logger
	clients   map[route.Network]*ethclient.Client
	clientMux sync.Mutex
	// nonceMux serializes nonce assignment across sessions.
	nonceMux sync.Mutex
}

func parseKey(raw string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return key, nil
}

// KeyAddress returns the account of a hex private key.
func KeyAddress(privateKey string) (string, error) {
	key, err := parseKey(privateKey)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// NewEVMBroadcaster parses the hex private key.
func NewEVMBroadcaster(cfg EVMConfig, logger zerolog.Logger) (*EVMBroadcaster, error) {
	key, err := parseKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 300_000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	return &EVMBroadcaster{
		cfg:     cfg,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		logger:  logger.With().Str("component", "evm_broadcaster").Logger(),
		clients: make(map[route.Network]*ethclient.Client),
	}, nil
}

// Address is the signer's account.
func (b *EVMBroadcaster) Address() string { return b.from.Hex() }

// Submit signs p and sends it to network.
func (b *EVMBroadcaster) Submit(ctx context.Context, network route.Network, p Payload) (string, error) {
	chainID := network.ChainID()
	if chainID == nil {
		return "", fmt.Errorf("signing on %s is not supported", network)
	}
	client, err := b.getClient(ctx, network)
	if err != nil {
		return "", err
	}

	to := common.HexToAddress(p.To)
	value := p.Value
	if value == nil {
		value = new(big.Int)
	}

	b.nonceMux.Lock()
	defer b.nonceMux.Unlock()

	nonce, err := client.PendingNonceAt(ctx, b.from)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: b.from, To: &to, Value: value, Data: p.Data})
	if err != nil {
		b.logger.Warn().Err(err).Str("network", string(network)).Msg("gas estimation failed, using configured limit")
		gas = b.cfg.GasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     p.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), b.key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

// Await polls for the receipt of ref until it is mined or ctx ends.
func (b *EVMBroadcaster) Await(ctx context.Context, network route.Network, ref string) error {
	client, err := b.getClient(ctx, network)
	if err != nil {
		return err
	}
	hash := common.HexToHash(ref)

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", ref)
			}
			return nil
		case !errors.Is(err, ethereum.NotFound):
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *EVMBroadcaster) getClient(ctx context.Context, network route.Network) (*ethclient.Client, error) {
	b.clientMux.Lock()
	defer b.clientMux.Unlock()

	if client, ok := b.clients[network]; ok {
		return client, nil
	}
	rpcURL := b.cfg.RPCURLs[network]
	if rpcURL == "" {
		return nil, fmt.Errorf("no rpc url for %s", network)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	b.clients[network] = client
	return client, nil
}

var _ Broadcaster = (*EVMBroadcaster)(nil)
