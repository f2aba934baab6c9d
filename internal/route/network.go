package route

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Network identifies a chain.
type Network string

const (
	Ethereum Network = "ethereum"
	Arbitrum Network = "arbitrum"
	Base     Network = "base"
	Optimism Network = "optimism"
	Polygon  Network = "polygon"
	Solana   Network = "solana"
)

// Family groups networks sharing an address format.
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

type networkInfo struct {
	family  Family
	chainID int64
	// cctpDomain is the Circle domain id, -1 when unsupported.
	cctpDomain int64
}

var networks = map[Network]networkInfo{
	Ethereum: {family: FamilyEVM, chainID: 1, cctpDomain: 0},
	Optimism: {family: FamilyEVM, chainID: 10, cctpDomain: 2},
	Arbitrum: {family: FamilyEVM, chainID: 42161, cctpDomain: 3},
	Solana:   {family: FamilySolana, chainID: 0, cctpDomain: 5},
	Base:     {family: FamilyEVM, chainID: 8453, cctpDomain: 6},
	Polygon:  {family: FamilyEVM, chainID: 137, cctpDomain: 7},
}

var networkAliases = map[string]Network{
	"eth":      Ethereum,
	"mainnet":  Ethereum,
	"arb":      Arbitrum,
	"arbitrum": Arbitrum,
	"op":       Optimism,
	"matic":    Polygon,
	"pol":      Polygon,
	"sol":      Solana,
}

// Networks returns all known networks in a stable order.
func Networks() []Network {
	return []Network{Ethereum, Arbitrum, Base, Optimism, Polygon, Solana}
}

// ParseNetwork resolves a network name or alias.
func ParseNetwork(s string) (Network, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if _, ok := networks[Network(key)]; ok {
		return Network(key), nil
	}
	if n, ok := networkAliases[key]; ok {
		return n, nil
	}
	return "", fmt.Errorf("unknown network %q", s)
}

// Family reports the address family, empty for unknown networks.
func (n Network) Family() Family {
	return networks[n].family
}

// ChainID returns the EVM chain id, nil for non-EVM networks.
func (n Network) ChainID() *big.Int {
	info, ok := networks[n]
	if !ok || info.family != FamilyEVM {
		return nil
	}
	return big.NewInt(info.chainID)
}

// CCTPDomain returns the Circle domain id of the network.
func (n Network) CCTPDomain() (uint32, bool) {
	info, ok := networks[n]
	if !ok || info.cctpDomain < 0 {
		return 0, false
	}
	return uint32(info.cctpDomain), true
}

// CheckAddress validates addr against the network's address family.
func CheckAddress(n Network, addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("address is empty")
	}
	switch n.Family() {
	case FamilyEVM:
		if !common.IsHexAddress(addr) || !strings.HasPrefix(addr, "0x") {
			return fmt.Errorf("%q is not a 0x-prefixed 20 byte hex address", addr)
		}
		body := addr[2:]
		if body != strings.ToLower(body) && body != strings.ToUpper(body) {
			if common.HexToAddress(addr).Hex() != addr {
				return fmt.Errorf("%q fails EIP-55 checksum", addr)
			}
		}
		return nil
	case FamilySolana:
		raw, err := DecodeBase58(addr)
		if err != nil {
			return fmt.Errorf("%q is not base58: %w", addr, err)
		}
		if len(raw) != 32 {
			return fmt.Errorf("%q decodes to %d bytes, want 32", addr, len(raw))
		}
		return nil
	}
	return fmt.Errorf("unknown network %q", n)
}

// SameAddress compares two addresses under the network's case rules.
func SameAddress(n Network, a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if n.Family() == FamilyEVM {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// RecipientBytes32 encodes addr as a left-padded 32 byte recipient.
func RecipientBytes32(n Network, addr string) ([32]byte, error) {
	var out [32]byte
	if err := CheckAddress(n, addr); err != nil {
		return out, err
	}
	switch n.Family() {
	case FamilyEVM:
		copy(out[:], common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32))
	case FamilySolana:
		raw, _ := DecodeBase58(addr)
		copy(out[:], raw)
	}
	return out, nil
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// DecodeBase58 decodes a bitcoin-alphabet base58 string.
func DecodeBase58(s string) ([]byte, error) {
	n := new(big.Int)
	radix := big.NewInt(58)
	for i, r := range s {
		idx := strings.IndexRune(base58Alphabet, r)
		if idx < 0 {
			return nil, fmt.Errorf("invalid character %q at %d", r, i)
		}
		n.Mul(n, radix)
		n.Add(n, big.NewInt(int64(idx)))
	}
	body := n.Bytes()
	zeros := 0
	for zeros < len(s) && s[zeros] == '1' {
		zeros++
	}
	out := make([]byte, zeros+len(body))
	copy(out[zeros:], body)
	return out, nil
}
