package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/kdbxdiff/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded comparisons",
	Long: `History shows comparisons saved with "diff --record". Only file names,
digests and change counts are stored.`,
	Example: `  kdbxdiff history
  kdbxdiff history --limit 5 --json
  kdbxdiff history show 1f0c7a2e-...`,
	Args: cobra.NoArgs,
	RunE: runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one recorded comparison",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyLimit int

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20,
		"Maximum number of records (0 for all)")
}

func openHistory(ctx context.Context) (history.Store, error) {
	store, err := history.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("history is disabled; set history.backend to sqlite or dynamodb")
	}
	return store, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openHistory(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), records)
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No comparisons recorded.")
		return nil
	}
	return writeRecords(cmd.OutOrStdout(), records)
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), rec)
	}
	return writeRecord(cmd.OutOrStdout(), rec)
}

func writeRecords(w io.Writer, records []history.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tBEFORE\tAFTER\tCHANGES")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			r.ID, r.Time.Local().Format("2006-01-02 15:04:05"), r.Before.Name, r.After.Name, r.Total())
	}
	return tw.Flush()
}

func writeRecord(w io.Writer, r *history.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", r.ID)
	fmt.Fprintf(tw, "Time:\t%s\n", r.Time.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(tw, "Before:\t%s (%s, sha256 %s)\n", r.Before.Name, r.Before.Version, r.Before.SHA256)
	fmt.Fprintf(tw, "After:\t%s (%s, sha256 %s)\n", r.After.Name, r.After.Version, r.After.SHA256)

	kinds := make([]string, 0, len(r.Counts))
	for k := range r.Counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%d %s", r.Counts[k], k))
	}
	if len(parts) == 0 {
		parts = append(parts, "none")
	}
	fmt.Fprintf(tw, "Changes:\t%s\n", strings.Join(parts, ", "))
	return tw.Flush()
}
