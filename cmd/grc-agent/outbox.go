package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/exploopio/grc/pkg/audit"
	"github.com/exploopio/grc/pkg/retry"
)

var (
	outboxStatus string
	outboxJSON   bool
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and replay deferred backend writes",
}

var outboxReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay every due outbox item once",
	Args:  cobra.NoArgs,
	RunE:  runOutboxReplay,
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outbox items",
	Args:  cobra.NoArgs,
	RunE:  runOutboxList,
}

func init() {
	outboxListCmd.Flags().StringVar(&outboxStatus, "status", string(retry.ItemStatusPending), "Item status: pending or failed")
	outboxCmd.PersistentFlags().BoolVar(&outboxJSON, "json", false, "Output JSON")

	outboxCmd.AddCommand(outboxReplayCmd)
	outboxCmd.AddCommand(outboxListCmd)
}

func openOutbox(cmd *cobra.Command) (*app, error) {
	a, err := newApp(cmd.Context(), nil)
	if err != nil {
		return nil, err
	}
	if a.outbox == nil {
		a.Close()
		return nil, fmt.Errorf("outbox is not configured (set outbox.path)")
	}
	return a, nil
}

func runOutboxReplay(cmd *cobra.Command, args []string) error {
	a, err := openOutbox(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	wc := a.cfg.WorkerConfig()
	wc.Logger = a.logger
	worker := retry.NewWorker(wc, a.outbox, a.client)
	recorder := audit.OrNop(a.auditRecorder())

	results, err := worker.ProcessNow(cmd.Context())
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Success {
			recorder.Log(audit.Event{
				Type:     audit.EventOutboxReplayed,
				Message:  "deferred write replayed",
				Duration: r.Duration,
				Details:  map[string]any{"item_id": r.ItemID, "attempt": r.Attempt},
			})
		}
	}

	if outboxJSON {
		out, _ := json.MarshalIndent(results, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	var ok int
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tATTEMPT\tRESULT")
	for _, r := range results {
		status := "replayed"
		if r.Success {
			ok++
		} else {
			status = r.Error
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", r.ItemID, r.Attempt, status)
	}
	w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d item(s) replayed\n", ok, len(results))

	stats, err := a.outbox.Stats(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d pending, %d failed\n", stats.Pending, stats.Failed)
	return nil
}

func runOutboxList(cmd *cobra.Command, args []string) error {
	status := retry.ItemStatus(outboxStatus)
	if status != retry.ItemStatusPending && status != retry.ItemStatusFailed {
		return fmt.Errorf("--status must be pending or failed, got %q", outboxStatus)
	}

	a, err := openOutbox(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.outbox.List(cmd.Context(), status)
	if err != nil {
		return err
	}

	if outboxJSON {
		out, _ := json.MarshalIndent(items, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tFINGERPRINT\tATTEMPTS\tNEXT RETRY\tLAST ERROR")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			item.ID, item.Kind, item.Fingerprint, item.Attempts, item.MaxAttempts,
			item.NextRetry.Format("2006-01-02 15:04:05"), item.LastError)
	}
	return w.Flush()
}
