package intent

import (
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"crosschain-router/internal/route"
)

var (
	affirmative = map[string]bool{
		"yes": true, "y": true, "yep": true, "yeah": true, "confirm": true, "confirmed": true,
		"ok": true, "okay": true, "sure": true, "go": true, "proceed": true, "do it": true,
	}
	negative = map[string]bool{
		"no": true, "n": true, "nope": true, "cancel": true, "stop": true, "abort": true,
		"nevermind": true, "never mind": true,
	}
	policyWords = map[string]route.Policy{
		"cheapest": route.PolicyCheapest, "cheap": route.PolicyCheapest,
		"fastest": route.PolicyFastest, "fast": route.PolicyFastest,
		"safest": route.PolicySafest, "safe": route.PolicySafest,
		"balanced": route.PolicyBalanced,
	}

	evmAddressRe  = regexp.MustCompile(`0x[0-9a-fA-F]{40}\b`)
	solAddressRe  = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{32,44}\b`)
	amountRe      = regexp.MustCompile(`(?:^|[^\w.$])(\d+(?:\.\d+)?)\s*([A-Za-z][A-Za-z0-9]*)`)
	networkRe     = regexp.MustCompile(`(?i)\b(from|to|on|into|onto|via)\s+([a-z]+)`)
	swapRe        = regexp.MustCompile(`(?i)\bswap\s+(\d+(?:\.\d+)?)\s*([A-Za-z][A-Za-z0-9]*)\s+(?:to|for|into)\s+([A-Za-z][A-Za-z0-9]*)`)
	belowRe       = regexp.MustCompile(`(?i)\b(?:below|under|less than|drops? to|<)\s*\$?(\d+(?:\.\d+)?)`)
	aboveRe       = regexp.MustCompile(`(?i)\b(?:above|over|more than|exceeds?|>)\s*\$?(\d+(?:\.\d+)?)`)
	cancelAlertRe = regexp.MustCompile(`(?i)^(?:cancel|delete|remove)\s+alert\s+(\S+)$`)
)

// Local is the deterministic rule-based resolver. It never fails.
type Local struct {
	assets map[string]bool
}

// NewLocal builds a resolver that recognises the assets in book.
func NewLocal(book route.TokenBook) *Local {
	assets := make(map[string]bool)
	for _, byAsset := range book {
		for symbol := range byAsset {
			assets[symbol] = true
		}
	}
	return &Local{assets: assets}
}

// Parse maps text onto an Intent.
func (l *Local) Parse(_ context.Context, text string, c Context) (Intent, error) {
	raw := strings.TrimSpace(text)
	norm := strings.ToLower(strings.Trim(raw, " .!?"))

	if affirmative[norm] {
		return Intent{Kind: KindConfirm, Approve: true, Text: raw}, nil
	}
	if negative[norm] {
		return Intent{Kind: KindConfirm, Approve: false, Text: raw}, nil
	}
	if c.AwaitingConfirmation {
		return l.clarify(raw, "Reply yes to send or no to cancel."), nil
	}

	switch {
	case norm == "alerts" || norm == "list alerts" || norm == "my alerts":
		return Intent{Kind: KindListAlerts, Text: raw}, nil
	case cancelAlertRe.MatchString(raw):
		return Intent{Kind: KindCancelAlert, AlertID: cancelAlertRe.FindStringSubmatch(raw)[1], Text: raw}, nil
	}

	first := firstWord(norm)
	switch {
	case first == "alert" || first == "notify" || first == "watch" || first == "when" || strings.HasPrefix(norm, "tell me"):
		return l.parseAlert(raw, norm, c), nil
	case first == "swap":
		return l.parseSwap(raw, c), nil
	case first == "send" || first == "transfer" || first == "bridge" || first == "move":
		return l.parseTransfer(raw, KindTransfer, c), nil
	case first == "quote" || first == "route" || first == "routes" || first == "fees" || first == "fee" || first == "compare" || strings.HasPrefix(norm, "how much"):
		return l.parseTransfer(raw, KindQuery, c), nil
	}
	return l.clarify(raw, "I can move assets between networks. Try: send 100 USDC from base to arbitrum 0x..."), nil
}

func (l *Local) clarify(raw, question string) Intent {
	return Intent{Kind: KindClarification, Question: question, Text: raw}
}

func (l *Local) parseTransfer(raw string, kind Kind, c Context) Intent {
	req, missing := l.transferFields(raw, c)
	if missing != "" {
		if kind == KindQuery && missing == "address" {
			return Intent{Kind: kind, Transfer: req, Text: raw}
		}
		return l.clarify(raw, missingQuestion(missing))
	}
	return Intent{Kind: kind, Transfer: req, Text: raw}
}

func (l *Local) parseSwap(raw string, c Context) Intent {
	m := swapRe.FindStringSubmatch(raw)
	if m == nil || !l.known(m[2]) || !l.known(m[3]) {
		return l.clarify(raw, "Which assets should be swapped? Try: swap 100 sUSDe to USDC and send to arbitrum")
	}
	// Rewrite as a transfer of the target asset so field extraction is shared.
	rest := strings.Replace(raw, m[0], m[1]+" "+m[3], 1)
	in := l.parseTransfer(rest, KindSwapAndTransfer, c)
	if in.Kind == KindSwapAndTransfer {
		in.SwapFrom = canonical(m[2])
		in.Text = raw
	}
	return in
}

func (l *Local) parseAlert(raw, norm string, c Context) Intent {
	threshold, isAbove, ok := thresholdOf(raw)
	if !ok {
		return l.clarify(raw, "What threshold should the alert use? Try: alert when fee below $1 for 100 USDC from base to arbitrum")
	}
	stripped := belowRe.ReplaceAllString(aboveRe.ReplaceAllString(raw, " "), " ")

	action := route.ActionNotify
	if strings.Contains(norm, "auto") || strings.Contains(norm, "and send") || strings.Contains(norm, "then send") || strings.Contains(norm, "execute") {
		action = route.ActionAutoExecute
	}

	switch {
	case strings.Contains(norm, "gas"):
		network := c.HomeNetwork
		if n, ok := l.network(stripped, "on", "from"); ok {
			network = n
		}
		return Intent{
			Kind:      KindAlert,
			Condition: &route.Condition{Kind: route.ConditionGasBelow, Threshold: threshold, Scope: route.RouteRequest{Source: network}},
			Action:    route.ActionNotify,
			Text:      raw,
		}
	case strings.Contains(norm, "price"):
		asset := l.firstAsset(stripped)
		if asset == "" {
			return l.clarify(raw, "Which asset's price should I watch?")
		}
		kind := route.ConditionPriceBelow
		if isAbove {
			kind = route.ConditionPriceAbove
		}
		cond := &route.Condition{Kind: kind, Threshold: threshold, Scope: route.RouteRequest{Asset: asset}}
		in := Intent{Kind: KindAlert, Condition: cond, Action: route.ActionNotify, Text: raw}
		if action == route.ActionAutoExecute {
			req, missing := l.transferFields(stripped, c)
			if missing != "" {
				return l.clarify(raw, missingQuestion(missing))
			}
			in.Transfer, in.Action = req, action
		}
		return in
	}

	req, missing := l.transferFields(stripped, c)
	if missing != "" && (missing != "address" || action == route.ActionAutoExecute) {
		return l.clarify(raw, missingQuestion(missing))
	}
	in := Intent{
		Kind:      KindAlert,
		Condition: &route.Condition{Kind: route.ConditionFeeBelow, Threshold: threshold, Scope: req.Route},
		Action:    action,
		Text:      raw,
	}
	if action == route.ActionAutoExecute {
		in.Transfer = req
	}
	return in
}

// transferFields extracts a TransferRequest. missing names the first absent
// field: amount, destination or address.
func (l *Local) transferFields(raw string, c Context) (*route.TransferRequest, string) {
	addrs := evmAddressRe.FindAllString(raw, -1)
	cleaned := evmAddressRe.ReplaceAllString(raw, " ")
	if len(addrs) == 0 {
		addrs = solAddressRe.FindAllString(cleaned, -1)
		cleaned = solAddressRe.ReplaceAllString(cleaned, " ")
	}

	amount, asset, ok := l.amountAndAsset(cleaned)
	if !ok {
		return nil, "amount"
	}

	dest, ok := l.network(cleaned, "to", "into", "onto")
	if !ok {
		return nil, "destination"
	}
	src := c.HomeNetwork
	if n, ok := l.network(cleaned, "from", "on", "via"); ok {
		src = n
	}
	if src == "" {
		src = route.Ethereum
	}

	policy := route.PolicyCheapest
	for _, w := range strings.Fields(strings.ToLower(cleaned)) {
		if p, ok := policyWords[w]; ok {
			policy = p
			break
		}
	}

	req := &route.TransferRequest{
		Route: route.RouteRequest{
			Source:      src,
			Destination: dest,
			Asset:       asset,
			Amount:      amount,
			Policy:      policy,
		},
		FromAddress: c.Wallet,
	}
	switch {
	case len(addrs) > 0:
		req.ToAddress = addrs[len(addrs)-1]
	case dest.Family() == route.FamilyEVM && route.CheckAddress(dest, c.Wallet) == nil:
		req.ToAddress = c.Wallet
	default:
		return req, "address"
	}
	return req, ""
}

func (l *Local) amountAndAsset(text string) (decimal.Decimal, string, bool) {
	for _, m := range amountRe.FindAllStringSubmatch(text, -1) {
		if !l.known(m[2]) {
			continue
		}
		amount, err := decimal.NewFromString(m[1])
		if err != nil {
			continue
		}
		return amount, canonical(m[2]), true
	}
	return decimal.Decimal{}, "", false
}

func (l *Local) network(text string, prepositions ...string) (route.Network, bool) {
	for _, m := range networkRe.FindAllStringSubmatch(text, -1) {
		prep := strings.ToLower(m[1])
		for _, want := range prepositions {
			if prep != want {
				continue
			}
			if n, err := route.ParseNetwork(m[2]); err == nil {
				return n, true
			}
		}
	}
	return "", false
}

func (l *Local) firstAsset(text string) string {
	for _, w := range strings.Fields(text) {
		w = strings.Trim(strings.TrimSuffix(w, "'s"), ",.?!")
		if l.known(w) {
			return canonical(w)
		}
	}
	return ""
}

func (l *Local) known(symbol string) bool {
	return l.assets[strings.ToUpper(symbol)]
}

// canonical upper-cases symbols typed in lower case and keeps mixed case
// such as sUSDe as written.
func canonical(symbol string) string {
	if symbol == strings.ToLower(symbol) {
		return strings.ToUpper(symbol)
	}
	return symbol
}

func thresholdOf(raw string) (decimal.Decimal, bool, bool) {
	if m := belowRe.FindStringSubmatch(raw); m != nil {
		if d, err := decimal.NewFromString(m[1]); err == nil {
			return d, false, true
		}
	}
	if m := aboveRe.FindStringSubmatch(raw); m != nil {
		if d, err := decimal.NewFromString(m[1]); err == nil {
			return d, true, true
		}
	}
	return decimal.Decimal{}, false, false
}

func missingQuestion(field string) string {
	switch field {
	case "amount":
		return "How much of which asset? For example: 100 USDC"
	case "destination":
		return "Which network should receive it? For example: to arbitrum"
	case "address":
		return "Which address should receive the funds on the destination network?"
	}
	return "Could you rephrase that?"
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i]
	}
	return s
}

var _ Resolver = (*Local)(nil)
