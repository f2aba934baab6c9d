package transfer

import (
	"fmt"
	"strings"

	"crosschain-router/internal/guardrail"
	"crosschain-router/internal/monitor"
	"crosschain-router/internal/route"
	"crosschain-router/internal/session"
)

func preview(p *session.Pending) string {
	if p == nil {
		return ""
	}
	r := p.Request.Route
	return fmt.Sprintf("Send %s %s from %s to %s (%s) via %s: fee $%s, about %d min.",
		r.Amount, r.Asset, r.Source, r.Destination, shortAddress(p.Request.ToAddress),
		p.Quote.ProviderID, p.Quote.FeeUSD.StringFixed(2), p.Quote.ETAMinutes)
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func rejection(v guardrail.Verdict, warnings []route.Warning) string {
	var b strings.Builder
	b.WriteString("Transfer not prepared:")
	for _, e := range v.Errors {
		b.WriteString(" ")
		b.WriteString(sentence(e.Message))
	}
	for _, s := range v.Suggestions {
		b.WriteString(" Suggestion: ")
		b.WriteString(sentence(s))
	}
	b.WriteString(warningLines(nil, warnings))
	return b.String()
}

func warningLines(issues []guardrail.Issue, warnings []route.Warning) string {
	var b strings.Builder
	for _, w := range issues {
		b.WriteString(" Warning: ")
		b.WriteString(sentence(w.Message))
	}
	for _, w := range warnings {
		if w.Kind == route.WarnProviderUnavailable {
			continue
		}
		b.WriteString(" Note: ")
		b.WriteString(sentence(w.Message))
	}
	return b.String()
}

func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	s = strings.ToUpper(s[:1]) + s[1:]
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}

func routeTable(req route.RouteRequest, set route.RankedRouteSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Routes for %s (%s):", req, req.Policy)
	for i, q := range set.All {
		fmt.Fprintf(&b, "\n%d. %s fee $%s, ~%d min, success %s%%",
			i+1, q.ProviderID, q.FeeUSD.StringFixed(2), q.ETAMinutes, q.SuccessRate.Shift(2).StringFixed(1))
		if !q.ExecutionReady {
			b.WriteString(" (quote only)")
		}
	}
	b.WriteString(warningLines(nil, set.Warnings))
	return b.String()
}

func alertList(alerts []monitor.Alert) string {
	var b strings.Builder
	b.WriteString("Your alerts:")
	for _, a := range alerts {
		status := "watching"
		if a.Triggered {
			status = "triggered"
		}
		fmt.Fprintf(&b, "\n%s: %s, %s (%s)", a.ID, a.Condition, a.Action, status)
	}
	return b.String()
}
