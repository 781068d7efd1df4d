package main

import (
	"fmt"

	"github.com/olegiv/evtx-archiver/internal/fsutil"
	"github.com/olegiv/evtx-archiver/internal/rename"
	"github.com/spf13/cobra"
)

var renameCmd = &cobra.Command{
	Use:   "rename <input_path>",
	Short: "Rename an event log after its host and channel",
	Long: `Rename input_path to <host>-<channel>.evtx in the same directory, using
the short host name and channel of the first readable record. An existing
file with the target name is never replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: runRename,
}

func runRename(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, "", true)
	if err != nil {
		return err
	}
	defer a.close(cmd)

	result, err := rename.New(nil, a.log).Rename(args[0])
	if err != nil {
		if fsutil.IsDestinationExists(err) {
			a.log.Error().Err(err).Str("path", args[0]).Msg("Target name already taken, file left unchanged")
		} else {
			a.log.Error().Err(err).Str("path", args[0]).Msg("Rename failed")
		}
		return partial(err)
	}

	if result.Unchanged {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s already has its computed name\n", result.OldPath)
		return nil
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n", result.OldPath, result.NewPath)
	return nil
}
