package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recently delivered alerts from the audit log.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; no alert history available")
	}
	if closeStore != nil {
		defer closeStore()
	}

	entries, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts recorded")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sent (UTC)\tSymbol\tCondition\tThreshold\tPrice")

	for _, entry := range entries {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			entry.SentAt.UTC().Format(time.RFC3339),
			entry.Symbol,
			entry.Condition,
			entry.Threshold.StringFixed(2),
			entry.Price.StringFixed(2),
		)
	}

	writer.Flush()
	return nil
}
