package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"crosschain-router/internal/route"
	"crosschain-router/internal/storage"
)

// Export renders the best-fee history of one route as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	src, err := route.ParseNetwork(opts.Source)
	if err != nil {
		return err
	}
	dst, err := route.ParseNetwork(opts.Destination)
	if err != nil {
		return err
	}
	if strings.TrimSpace(opts.Asset) == "" {
		return errors.New("--asset is required")
	}
	key := storage.RouteKey(string(src), string(dst), opts.Asset)

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snaps, err := store.ListSnapshotsBetween(ctx, key, from, to)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		a.Logger.Info().Str("route", key).Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snaps, opts.MaxPoints)
	a.Logger.Info().Str("route", key).Int("total", len(snaps)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, key, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSnapshots(snaps []storage.RouteSnapshot, max int) []storage.RouteSnapshot {
	if max <= 0 || len(snaps) <= max {
		return snaps
	}
	if max == 1 {
		return snaps[len(snaps)-1:]
	}

	result := make([]storage.RouteSnapshot, 0, max)
	step := float64(len(snaps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snaps) {
			idx = len(snaps) - 1
		}
		result = append(result, snaps[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snaps []storage.RouteSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"taken_at", "route", "amount", "policy", "best_provider", "best_fee_usd", "fee_ratio_pct", "quote_count", "warnings"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snaps {
		provider, fee, ratio := "", "", ""
		if snap.BestProvider != nil {
			provider = *snap.BestProvider
		}
		if snap.BestFeeUSD != nil {
			fee = snap.BestFeeUSD.String()
			if pct, ok := feeRatioPct(snap); ok {
				ratio = pct.StringFixed(4)
			}
		}
		record := []string{
			snap.TakenAt.Format(time.RFC3339),
			snap.RouteKey,
			snap.Amount.String(),
			snap.Policy,
			provider,
			fee,
			ratio,
			strconv.Itoa(snap.QuoteCount),
			strings.Join(snap.Warnings, ";"),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path, key string, snaps []storage.RouteSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, 0, len(snaps))
	fees := make([]float64, 0, len(snaps))
	ratios := make([]float64, 0, len(snaps))
	withRatio := true

	for _, snap := range snaps {
		// 无报价的快照不参与绘图
		if snap.BestFeeUSD == nil {
			continue
		}
		x = append(x, snap.TakenAt)
		fees = append(fees, snap.BestFeeUSD.InexactFloat64())
		pct, ok := feeRatioPct(snap)
		withRatio = withRatio && ok
		ratios = append(ratios, pct.InexactFloat64())
	}
	if len(x) < 2 {
		return errors.New("not enough quoted snapshots to draw a chart")
	}

	feeFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	ratioFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Title:  key,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Best fee (USD)",
			ValueFormatter: feeFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Fee / amount (%)",
			ValueFormatter: ratioFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Best fee",
				XValues: x,
				YValues: fees,
			},
		},
	}
	if withRatio {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "Fee ratio %",
			XValues: x,
			YValues: ratios,
			YAxis:   chart.YAxisSecondary,
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// feeRatioPct is only defined for stables, whose token amount is a USD
// amount; snapshots do not record a price.
func feeRatioPct(snap storage.RouteSnapshot) (decimal.Decimal, bool) {
	asset, _, _ := strings.Cut(snap.RouteKey, ":")
	if snap.BestFeeUSD == nil || !route.IsStable(asset) || !snap.Amount.IsPositive() {
		return decimal.Zero, false
	}
	return snap.BestFeeUSD.Div(snap.Amount).Shift(2), true
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
