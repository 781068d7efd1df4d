package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/olegiv/evtx-archiver/internal/storage"
	"github.com/spf13/cobra"
)

var historyDays int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent archive runs from the ledger",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyDays, "days", 7, "Show runs started in the last N days")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if historyDays < 1 {
		return fatal(fmt.Errorf("--days must be at least 1, got %d", historyDays))
	}

	a, err := newApp(cmd, "", true)
	if err != nil {
		return err
	}
	defer a.close(cmd)

	if !a.cfg.EnableDatabase {
		return fatal(fmt.Errorf("the archive ledger is disabled (ENABLE_DATABASE=false or --no-ledger)"))
	}

	store, err := storage.New(a.cfg.DatabasePath, a.log)
	if err != nil {
		return fatal(fmt.Errorf("failed to initialize storage: %w", err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close database")
		}
	}()

	runs, err := store.GetRecentRuns(historyDays)
	if err != nil {
		return fatal(fmt.Errorf("failed to read runs: %w", err))
	}
	stats, err := store.GetStatistics()
	if err != nil {
		return fatal(fmt.Errorf("failed to read statistics: %w", err))
	}

	out := cmd.OutOrStdout()
	printRuns(out, runs, historyDays)
	printStatistics(out, stats)
	return nil
}

func printRuns(out io.Writer, runs []*storage.Run, days int) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintf(out, "No archive runs in the last %d day(s)\n", days)
		return
	}

	_, _ = fmt.Fprintf(out, "Archive runs in the last %d day(s):\n", days)
	for _, run := range runs {
		_, _ = fmt.Fprintf(out, "  #%d  %s  %-9s  %d file(s), %d deleted",
			run.ID, run.StartedAt.Local().Format("2006-01-02 15:04:05"), run.Status,
			run.Candidates, run.Deleted)
		if run.Missing > 0 {
			_, _ = fmt.Fprintf(out, ", %d missing", run.Missing)
		}
		if run.DeleteFailures > 0 {
			_, _ = fmt.Fprintf(out, ", %d delete failure(s)", run.DeleteFailures)
		}
		_, _ = fmt.Fprintln(out)

		if run.ArchivePath != "" {
			_, _ = fmt.Fprintf(out, "      %s\n", run.ArchivePath)
		}
		if run.Error != "" {
			_, _ = fmt.Fprintf(out, "      error: %s\n", run.Error)
		}
	}
}

func printStatistics(out io.Writer, stats map[string]interface{}) {
	_, _ = fmt.Fprintln(out, "\nLedger statistics:")
	_, _ = fmt.Fprintf(out, "  Total runs:     %v\n", stats["total_runs"])

	if dist, ok := stats["status_distribution"].(map[string]int); ok && len(dist) > 0 {
		statuses := make([]string, 0, len(dist))
		for status := range dist {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		for _, status := range statuses {
			_, _ = fmt.Fprintf(out, "    %-9s     %d\n", status, dist[status])
		}
	}

	if files, ok := stats["files"].(map[string]int); ok {
		_, _ = fmt.Fprintf(out, "  Files:          %d pending, %d deleted, %d stale\n",
			files[string(storage.FileStatusPending)],
			files[string(storage.FileStatusDeleted)],
			files[string(storage.FileStatusStale)])
	}
	if size, ok := stats["archived_bytes"].(int64); ok {
		_, _ = fmt.Fprintf(out, "  Archived bytes: %d\n", size)
	}
}
