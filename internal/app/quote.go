package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"crosschain-router/internal/route"
)

// Quote prints the ranked routes for a request without preparing a transfer.
func (a *App) Quote(ctx context.Context, opts QuoteOptions, out io.Writer) error {
	req, err := parseQuote(opts)
	if err != nil {
		return err
	}

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	set := rt.router.Route(ctx, req)
	printRoutes(out, req, set)
	return nil
}

func parseQuote(opts QuoteOptions) (route.RouteRequest, error) {
	src, err := route.ParseNetwork(opts.Source)
	if err != nil {
		return route.RouteRequest{}, err
	}
	dst, err := route.ParseNetwork(opts.Destination)
	if err != nil {
		return route.RouteRequest{}, err
	}
	amount, err := decimal.NewFromString(opts.Amount)
	if err != nil || !amount.IsPositive() {
		return route.RouteRequest{}, errors.New("--amount must be a positive number")
	}
	policy, err := route.ParsePolicy(opts.Policy)
	if err != nil {
		return route.RouteRequest{}, err
	}
	asset := strings.ToUpper(strings.TrimSpace(opts.Asset))
	if asset == "" {
		return route.RouteRequest{}, errors.New("--asset is required")
	}
	return route.RouteRequest{Source: src, Destination: dst, Asset: asset, Amount: amount, Policy: policy}, nil
}

func printRoutes(out io.Writer, req route.RouteRequest, set route.RankedRouteSet) {
	fmt.Fprintf(out, "%s (%s)\n", req, req.Policy)
	if len(set.All) == 0 {
		fmt.Fprintln(out, "no routes found")
	} else {
		writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "#\tProvider\tFee (USD)\tETA (min)\tSuccess%\tLiquidity\tMethod\tExecutable")
		for i, q := range set.All {
			fmt.Fprintf(writer, "%d\t%s\t%s\t%d\t%s\t%s\t%s\t%t\n",
				i+1,
				q.ProviderID,
				formatDecimal(q.FeeUSD, 2),
				q.ETAMinutes,
				formatDecimal(q.SuccessRate.Shift(2), 1),
				formatDecimal(q.LiquidityUSD, 0),
				q.Method,
				q.ExecutionReady,
			)
		}
		writer.Flush()
	}
	for _, w := range set.Warnings {
		fmt.Fprintf(out, "warning [%s] %s\n", w.Kind, w.Message)
	}
}
