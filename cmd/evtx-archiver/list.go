package main

import (
	"fmt"

	"github.com/olegiv/evtx-archiver/internal/discovery"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list <input_path>",
	Short: "List event log files in a directory",
	Long: `List the files directly inside input_path whose content carries the
EVTX signature, one absolute path per line. Extensions are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, "", true)
	if err != nil {
		return err
	}
	defer a.close(cmd)

	paths, err := discovery.NewEVTXScanner(a.log).Scan(args[0])
	if err != nil {
		a.log.Error().Err(err).Str("input_dir", args[0]).Msg("Failed to scan directory")
		return fatal(err)
	}

	out := cmd.OutOrStdout()
	for _, path := range paths {
		_, _ = fmt.Fprintln(out, path)
	}
	a.log.Debug().Int("count", len(paths)).Msg("Event logs found")
	return nil
}
