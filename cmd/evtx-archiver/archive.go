package main

import (
	"context"
	"fmt"
	"time"

	"github.com/olegiv/evtx-archiver/internal/archive"
	"github.com/olegiv/evtx-archiver/internal/discovery"
	internalerrors "github.com/olegiv/evtx-archiver/internal/errors"
	"github.com/olegiv/evtx-archiver/internal/notification"
	"github.com/olegiv/evtx-archiver/internal/storage"
	"github.com/spf13/cobra"
)

var dryRun bool

var archiveCmd = &cobra.Command{
	Use:   "archive <input_path> [output_path]",
	Short: "Archive event logs into a verified .tar.xz and remove the originals",
	Long: `Bundle every event log found directly inside input_path into
event_logs_<timestamp>.tar.xz under output_path. The archive is read back
and checked before any original is deleted; if a file is missing from it,
nothing is deleted.

output_path defaults to EVTX_OUTPUT_PATH, or ~/EventLogArchives.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runArchive,
}

func init() {
	archiveCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be archived without changing anything")
}

func runArchive(cmd *cobra.Command, args []string) error {
	var outputPath string
	if len(args) > 1 {
		outputPath = args[1]
	}

	// A dry run leaves the file system alone, log directory included.
	a, err := newApp(cmd, outputPath, !dryRun)
	if err != nil {
		return err
	}
	defer a.close(cmd)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	startTime := time.Now()
	opts := []archive.Option{
		archive.WithBuilder(archive.NewXZTarBuilder(a.cfg.XZDictCapBytes())),
		archive.WithOutput(cmd.OutOrStdout()),
	}

	// A dry run must not create or touch the ledger.
	if a.cfg.EnableDatabase && !dryRun {
		store, err := openLedger(a)
		if err != nil {
			return fatal(err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				a.log.Warn().Err(err).Msg("Failed to close database")
			}
		}()
		opts = append(opts, archive.WithLedger(store))
	}

	var notifier *notification.TelegramClient
	if a.cfg.TelegramEnabled() && !dryRun {
		notifier, err = notification.NewTelegramClient(
			a.cfg.TelegramBotToken,
			a.cfg.TelegramArchiveChannel,
			a.cfg.TelegramAlertsChannel,
			a.cfg.GetProxyURL(true),
		)
		if err != nil {
			// Reports are best effort; the archive run goes ahead.
			a.log.Warn().Err(err).Msg("Failed to initialize Telegram client, reports disabled")
		} else {
			info := notifier.GetBotInfo()
			a.log.Debug().
				Str("bot", internalerrors.MaskCredential(a.cfg.TelegramBotToken)).
				Str("username", fmt.Sprint(info["username"])).
				Bool("alerts_channel", a.cfg.HasAlertsChannel()).
				Msg("Telegram reports enabled")
			defer func() {
				if err := notifier.Close(); err != nil {
					a.log.Warn().Err(err).Msg("Failed to close Telegram client")
				}
			}()
		}
	}

	archiver := archive.New(discovery.NewEVTXScanner(a.log), a.log, opts...)
	outcome, runErr := archiver.Run(ctx, archive.Options{
		InputDir:  args[0],
		OutputDir: a.cfg.OutputPath,
		DryRun:    dryRun,
	})

	if runErr != nil {
		a.log.Error().Err(runErr).Str("input_dir", args[0]).Msg("Archive run failed")
		if notifier != nil {
			if err := notifier.SendFailure(args[0], runErr); err != nil {
				a.log.Warn().Err(err).Msg("Failed to send failure notification")
			}
		}
		return fatal(runErr)
	}

	if notifier != nil && !outcome.NothingFound() {
		if err := notifier.SendArchiveReport(outcome, time.Since(startTime)); err != nil {
			a.log.Warn().Err(err).Msg("Failed to send archive report")
		}
	}

	return outcomeError(outcome)
}

// openLedger opens the archive ledger and drops runs past the retention
// period.
func openLedger(a *app) (*storage.Storage, error) {
	store, err := storage.New(a.cfg.DatabasePath, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.log.Debug().Str("path", a.cfg.DatabasePath).Msg("Database initialized")

	deleted, err := store.CleanupOldRuns(a.cfg.LedgerRetentionDays)
	if err != nil {
		a.log.Warn().Err(err).Msg("Failed to cleanup old ledger runs")
	} else if deleted > 0 {
		a.log.Info().
			Int64("deleted", deleted).
			Int("retention_days", a.cfg.LedgerRetentionDays).
			Msg("Cleaned up old ledger runs")
	}
	return store, nil
}

// outcomeError converts a finished run into the command result: nil on
// success, a partial failure whenever originals were left behind.
func outcomeError(outcome *archive.Outcome) error {
	switch {
	case outcome.State == archive.StateAborted:
		return partial(fmt.Errorf("archive verification failed: %d file(s) missing, original files preserved",
			len(outcome.Missing)))
	case outcome.State == archive.StateInterrupted:
		return partial(fmt.Errorf("interrupted after %s was verified: %d original file(s) not deleted",
			outcome.ArchivePath, len(outcome.Candidates)))
	case len(outcome.DeleteFailures) > 0:
		return partial(fmt.Errorf("%d of %d original file(s) could not be deleted",
			len(outcome.DeleteFailures), len(outcome.Candidates)))
	}
	return nil
}
