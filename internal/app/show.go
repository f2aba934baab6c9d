package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"crosschain-router/internal/storage"
)

// Show prints recent route snapshots or transfer receipts.
func (a *App) Show(ctx context.Context, opts ShowOptions, out io.Writer) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; nothing to show")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Receipts {
		receipts, err := store.ListRecentReceipts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		writeReceipts(out, receipts)
		return nil
	}

	snaps, err := store.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	writeSnapshots(out, snaps)
	return nil
}

func writeSnapshots(out io.Writer, snaps []storage.RouteSnapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(out, "no snapshots found")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRoute\tAmount\tPolicy\tBest\tFee (USD)\tQuotes\tWarnings")
	for _, snap := range snaps {
		best, fee := "-", "-"
		if snap.BestProvider != nil {
			best = *snap.BestProvider
		}
		if snap.BestFeeUSD != nil {
			fee = formatDecimal(*snap.BestFeeUSD, 2)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			snap.TakenAt.UTC().Format(time.RFC3339),
			snap.RouteKey,
			snap.Amount.String(),
			snap.Policy,
			best,
			fee,
			snap.QuoteCount,
			strings.Join(snap.Warnings, ","),
		)
	}
	writer.Flush()
}

func writeReceipts(out io.Writer, receipts []storage.ReceiptRecord) {
	if len(receipts) == 0 {
		fmt.Fprintln(out, "no receipts found")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Submitted (UTC)\tSession\tProvider\tRoute\tAmount\tFee (USD)\tStatus\tTx\tError")
	for _, rec := range receipts {
		tx, errMsg := "", ""
		if rec.TransferRef != nil {
			tx = *rec.TransferRef
		}
		if rec.Error != nil {
			errMsg = sanitizeInline(*rec.Error)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s %s\t%s\t%s\t%s\t%s\n",
			rec.SubmittedAt.UTC().Format(time.RFC3339),
			rec.SessionID,
			rec.Provider,
			storage.RouteKey(rec.Source, rec.Destination, rec.Asset),
			rec.Amount.String(),
			rec.Asset,
			formatDecimal(rec.FeeUSD, 2),
			rec.Status,
			tx,
			errMsg,
		)
	}
	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
