package route

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Token is an asset deployment on one network. Native assets have no address.
type Token struct {
	Address  string `mapstructure:"address" json:"address,omitempty"`
	Decimals int32  `mapstructure:"decimals" json:"decimals"`
}

// Native reports whether the token is the network's gas asset.
func (t Token) Native() bool { return t.Address == "" }

// ToAtoms converts a decimal amount into integer base units.
func (t Token) ToAtoms(amount decimal.Decimal) decimal.Decimal {
	return amount.Shift(t.Decimals).Truncate(0)
}

// FromAtoms converts base units back into a decimal amount.
func (t Token) FromAtoms(atoms decimal.Decimal) decimal.Decimal {
	return atoms.Shift(-t.Decimals)
}

var stables = map[string]bool{"USDC": true, "USDT": true, "DAI": true, "USDE": true}

// IsStable reports whether asset is a dollar stable valued at par.
func IsStable(asset string) bool {
	return stables[strings.ToUpper(strings.TrimSpace(asset))]
}

// TokenBook indexes token deployments by network then upper-cased symbol.
type TokenBook map[Network]map[string]Token

// Lookup finds asset on network.
func (b TokenBook) Lookup(n Network, asset string) (Token, bool) {
	byAsset, ok := b[n]
	if !ok {
		return Token{}, false
	}
	t, ok := byAsset[strings.ToUpper(asset)]
	return t, ok
}

// Assets lists the symbols deployed on n.
func (b TokenBook) Assets(n Network) []string {
	out := make([]string, 0, len(b[n]))
	for symbol := range b[n] {
		out = append(out, symbol)
	}
	return out
}

// DefaultTokens returns mainnet deployments of the supported assets.
func DefaultTokens() TokenBook {
	return TokenBook{
		Ethereum: {
			"ETH":   {Decimals: 18},
			"USDC":  {Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
			"USDT":  {Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
			"DAI":   {Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
			"WBTC":  {Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Decimals: 8},
			"USDE":  {Address: "0x4c9EDD5852cd905f086C759E8383e09bff1E68B3", Decimals: 18},
			"SUSDE": {Address: "0x9D39A5DE30e57443BfF2A8307A4256c8797A3497", Decimals: 18},
		},
		Arbitrum: {
			"ETH":  {Decimals: 18},
			"USDC": {Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
			"USDT": {Address: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", Decimals: 6},
			"DAI":  {Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
			"USDE": {Address: "0x5d3a1Ff2b6BAb83b63cd9AD0787074081a52ef34", Decimals: 18},
		},
		Base: {
			"ETH":  {Decimals: 18},
			"USDC": {Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
			"DAI":  {Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 18},
		},
		Optimism: {
			"ETH":  {Decimals: 18},
			"USDC": {Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
			"USDT": {Address: "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58", Decimals: 6},
			"DAI":  {Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		},
		Polygon: {
			"POL":  {Decimals: 18},
			"USDC": {Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Decimals: 6},
			"USDT": {Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
			"DAI":  {Address: "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c3A063", Decimals: 18},
			"WBTC": {Address: "0x1BFD67037B42Cf73acF2047067bd4F2C47D9BfD6", Decimals: 8},
		},
		Solana: {
			"SOL":  {Decimals: 9},
			"USDC": {Address: "EPjFWdd5AufqSSqeM2qJqyx2x5QZHhD1oKvY9zkS5YQ", Decimals: 6},
			"USDT": {Address: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY59uYDDD2rFV6oN", Decimals: 6},
		},
	}
}
