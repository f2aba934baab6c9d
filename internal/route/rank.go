package route

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Balanced score weights. Lower scores rank first.
var (
	balancedFeeWeight  = decimal.RequireFromString("0.4")
	balancedETAWeight  = decimal.RequireFromString("0.4")
	balancedRiskWeight = decimal.RequireFromString("0.2")
	balancedRiskScale  = decimal.NewFromInt(100)
	decimalOne         = decimal.NewFromInt(1)
)

// BalancedScore is 0.4*fee + 0.4*eta + 0.2*(1-successRate)*100.
func BalancedScore(q Quote) decimal.Decimal {
	risk := decimalOne.Sub(q.SuccessRate).Mul(balancedRiskScale)
	return balancedFeeWeight.Mul(q.FeeUSD).
		Add(balancedETAWeight.Mul(decimal.NewFromInt(int64(q.ETAMinutes)))).
		Add(balancedRiskWeight.Mul(risk))
}

// Rank returns a copy of quotes ordered by policy. Ties fall back to provider id.
func Rank(quotes []Quote, policy Policy) []Quote {
	out := make([]Quote, len(quotes))
	copy(out, quotes)

	sort.SliceStable(out, func(i, j int) bool {
		if c := compare(out[i], out[j], policy); c != 0 {
			return c < 0
		}
		return out[i].ProviderID < out[j].ProviderID
	})
	return out
}

func compare(a, b Quote, policy Policy) int {
	switch policy {
	case PolicyCheapest:
		return a.FeeUSD.Cmp(b.FeeUSD)
	case PolicyFastest:
		switch {
		case a.ETAMinutes < b.ETAMinutes:
			return -1
		case a.ETAMinutes > b.ETAMinutes:
			return 1
		}
		return 0
	case PolicySafest:
		return b.SuccessRate.Cmp(a.SuccessRate)
	default:
		return BalancedScore(a).Cmp(BalancedScore(b))
	}
}
