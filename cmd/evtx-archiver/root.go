package main

import (
	"fmt"

	"github.com/olegiv/evtx-archiver/internal/config"
	"github.com/olegiv/evtx-archiver/internal/logging"
	"github.com/olegiv/evtx-archiver/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	verbose  bool
	quiet    bool
	noLedger bool
)

var rootCmd = &cobra.Command{
	Use:   "evtx-archiver",
	Short: "Find, rename and archive Windows event log files",
	Long: `evtx-archiver finds Windows event log (EVTX) files by their signature,
renames them after the host and channel they were recorded on, and bundles
them into a verified .tar.xz archive before removing the originals.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&noLedger, "no-ledger", false, "Do not use the archive ledger database")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// app is the per-invocation configuration and diagnostics logger.
type app struct {
	cfg *config.Config
	log *logging.SecureLogger
}

func cliOptions(outputPath string) *config.CLIOptions {
	cli := &config.CLIOptions{OutputPath: outputPath, NoDatabase: noLedger}
	switch {
	case verbose:
		cli.LogLevel = "debug"
	case quiet:
		cli.LogLevel = "error"
	}
	return cli
}

// newApp loads configuration and opens the logger. Diagnostics go to the
// command's error stream, and to the rotating log file when fileLog is set.
func newApp(cmd *cobra.Command, outputPath string, fileLog bool) (*app, error) {
	cfg, err := config.LoadWithCLI(cliOptions(outputPath))
	if err != nil {
		return nil, fatal(fmt.Errorf("configuration error: %w", err))
	}

	baseLog := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		LogDir:     cfg.LogDir,
		Filename:   "evtx-archiver.log",
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
		ConsoleOut: cmd.ErrOrStderr(),
		NoFile:     !fileLog,
	})
	if name := cmd.Name(); name != "" {
		baseLog = baseLog.With(map[string]string{"command": name})
	}
	return &app{cfg: cfg, log: logging.NewSecure(baseLog)}, nil
}

func (a *app) close(cmd *cobra.Command) {
	if err := a.log.Close(); err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Failed to close logger: %v\n", err)
	}
}
