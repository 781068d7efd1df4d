package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/olegiv/evtx-archiver/internal/discovery"
	internalerrors "github.com/olegiv/evtx-archiver/internal/errors"
	"github.com/olegiv/evtx-archiver/internal/fsutil"
	"github.com/olegiv/evtx-archiver/internal/logging"
	"github.com/olegiv/evtx-archiver/internal/storage"
)

// Ledger records runs and archived files so an interrupted delete step can
// be finished later. *storage.Storage implements it.
type Ledger interface {
	SaveRun(run *storage.Run) error
	UpdateRun(run *storage.Run) error
	RecordArchivedFiles(runID int64, files []*storage.ArchivedFile) error
	MarkFile(id int64, status storage.FileStatus) error
	PendingFiles(inputDir string) ([]*storage.PendingFile, error)
}

// Archiver runs the discover, build, verify and delete sequence.
type Archiver struct {
	scanner *discovery.Scanner
	builder Builder
	ledger  Ledger
	now     func() time.Time
	out     io.Writer
	log     *logging.SecureLogger
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithBuilder replaces the container builder.
func WithBuilder(b Builder) Option {
	return func(a *Archiver) { a.builder = b }
}

// WithLedger attaches a ledger.
func WithLedger(l Ledger) Option {
	return func(a *Archiver) { a.ledger = l }
}

// WithClock sets the time source used to name containers.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

// WithOutput sets where progress messages are printed.
func WithOutput(w io.Writer) Option {
	return func(a *Archiver) { a.out = w }
}

// New creates an Archiver. Without options it builds xz containers at the
// default dictionary size, keeps no ledger and prints nothing.
func New(scanner *discovery.Scanner, log *logging.SecureLogger, opts ...Option) *Archiver {
	if log == nil {
		log = logging.Nop()
	}
	if scanner == nil {
		scanner = discovery.NewEVTXScanner(log)
	}
	a := &Archiver{
		scanner: scanner,
		builder: NewXZTarBuilder(DefaultDictCap),
		now:     time.Now,
		out:     io.Discard,
		log:     log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run performs one archive run. Verification aborts and delete failures are
// reported through the Outcome, as is a cancellation that arrives once the
// container is in place. The returned error is set only for fatal conditions
// such as unreadable input or an unwritable container, in which case nothing
// has been deleted by this run's build.
func (a *Archiver) Run(ctx context.Context, opts Options) (*Outcome, error) {
	outcome := &Outcome{State: StateInit, DryRun: opts.DryRun}

	inputDir, err := filepath.Abs(opts.InputDir)
	if err != nil {
		return outcome, internalerrors.NewIOError("resolve", opts.InputDir, err)
	}
	outputDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return outcome, internalerrors.NewIOError("resolve", opts.OutputDir, err)
	}
	outcome.OutputDir = outputDir

	if opts.DryRun {
		if _, err := os.Stat(outputDir); os.IsNotExist(err) {
			a.printf("[DRY RUN] Would create directory: %s\n", outputDir)
		}
	} else if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return outcome, internalerrors.NewIOError("mkdir", outputDir, err)
	}
	a.printf("%sOutputting to %s\n", dryRunPrefix(opts.DryRun), outputDir)

	outcome.State = StateDiscovering
	candidates, err := a.scanner.Scan(inputDir)
	if err != nil {
		return outcome, err
	}

	if !opts.DryRun && a.ledger != nil {
		candidates = a.resume(inputDir, candidates, outcome)
	}
	outcome.Candidates = candidates
	outcome.ArchivePath = filepath.Join(outputDir, ArchiveName(a.now()))

	if opts.DryRun {
		a.reportDryRun(outcome)
		outcome.State = StateDryRunReport
		return outcome, nil
	}

	if len(candidates) == 0 {
		a.printf("No event logs found in %s\n", inputDir)
		a.log.Info().Str("input_dir", inputDir).Msg("No event logs found")
		return outcome, nil
	}

	run := a.startRun(inputDir, outputDir, outcome)

	outcome.State = StateBuilding
	snapshots, err := snapshot(candidates)
	if err != nil {
		a.finishRun(run, outcome, storage.RunStatusFailed, err)
		return outcome, err
	}
	tmpPath, err := a.build(outputDir, candidates)
	if err != nil {
		a.finishRun(run, outcome, storage.RunStatusFailed, err)
		return outcome, err
	}

	outcome.State = StateVerifying
	entries, err := ListEntries(tmpPath)
	if err != nil {
		removeTemp(tmpPath, a.log)
		err = internalerrors.NewIOError("verify", tmpPath, err)
		a.log.Error().Err(err).Msg("Archive could not be read back, original files preserved")
		a.finishRun(run, outcome, storage.RunStatusFailed, err)
		return outcome, err
	}

	outcome.Missing = Missing(candidates, entries)
	if len(outcome.Missing) > 0 {
		removeTemp(tmpPath, a.log)
		outcome.State = StateAborted
		a.log.Error().
			Strs("missing", outcome.Missing).
			Int("candidates", len(candidates)).
			Msg("Archive verification failed - original files preserved")
		a.printf("Archive verification failed: %d of %d file(s) missing from the archive - original files preserved\n",
			len(outcome.Missing), len(candidates))
		for _, name := range outcome.Missing {
			a.printf("  - %s\n", name)
		}
		a.finishRun(run, outcome, storage.RunStatusAborted, nil)
		return outcome, nil
	}

	if err := fsutil.MoveNoReplace(tmpPath, outcome.ArchivePath); err != nil {
		removeTemp(tmpPath, a.log)
		a.log.Error().Err(err).Str("archive", outcome.ArchivePath).Msg("Failed to move archive into place")
		a.finishRun(run, outcome, storage.RunStatusFailed, err)
		return outcome, err
	}
	a.printf("Successfully created archive: %s\n", outcome.ArchivePath)
	a.printf("Archive verification successful\n")
	a.log.Info().
		Str("archive", outcome.ArchivePath).
		Int("files", len(candidates)).
		Msg("Archive created and verified")

	files := a.recordFiles(run, snapshots, outcome)

	// Stopping here is safe: the ledger lets the next run finish deleting.
	if err := ctx.Err(); err != nil {
		outcome.State = StateInterrupted
		a.log.Warn().Err(err).
			Str("archive", outcome.ArchivePath).
			Int("kept", len(candidates)).
			Msg("Run interrupted before deleting originals")
		a.printf("Run interrupted: %d original file(s) kept, archive %s is complete\n",
			len(candidates), outcome.ArchivePath)
		a.finishRun(run, outcome, storage.RunStatusVerified, err)
		return outcome, nil
	}

	outcome.State = StateDeleting
	for i, path := range candidates {
		if err := os.Remove(path); err != nil {
			ioErr := internalerrors.NewIOError("delete", path, err)
			outcome.DeleteFailures = append(outcome.DeleteFailures, DeleteFailure{Path: path, Err: ioErr})
			a.log.Error().Err(ioErr).Str("path", path).Msg("Failed to delete original file")
			continue
		}
		outcome.Deleted = append(outcome.Deleted, path)
		a.printf("Deleted original file: %s\n", path)
		if files != nil {
			a.markFile(files[i].ID, storage.FileStatusDeleted)
		}
	}

	status := storage.RunStatusCompleted
	if len(outcome.DeleteFailures) > 0 {
		status = storage.RunStatusPartial
	}
	a.finishRun(run, outcome, status, nil)
	return outcome, nil
}

// archiveMode is the permission of a finished container.
const archiveMode os.FileMode = 0o644

// build writes the container under a hidden temporary name in dir and
// returns that name once the data is flushed to disk.
func (a *Archiver) build(dir string, candidates []string) (string, error) {
	tmp, err := os.CreateTemp(dir, ".event_logs_*.partial")
	if err != nil {
		return "", internalerrors.NewIOError("create", dir, err)
	}
	tmpPath := tmp.Name()
	a.printf("Archiving %d file(s)\n", len(candidates))
	a.log.Debug().Str("temp", tmpPath).Int("files", len(candidates)).Msg("Building archive")

	err = a.builder.Build(tmp, candidates)
	if err == nil {
		// CreateTemp opens the file 0600.
		err = tmp.Chmod(archiveMode)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		removeTemp(tmpPath, a.log)
		err = internalerrors.NewIOError("build", tmpPath, err)
		a.log.Error().Err(err).Msg("Failed to create archive, original files preserved")
		return "", err
	}
	return tmpPath, nil
}

// resume finishes deletions left pending by earlier verified runs and
// returns the candidates that still need archiving.
func (a *Archiver) resume(inputDir string, candidates []string, outcome *Outcome) []string {
	pending, err := a.ledger.PendingFiles(inputDir)
	if err != nil {
		a.log.Warn().Err(err).Msg("Failed to read pending files from ledger")
		return candidates
	}
	if len(pending) == 0 {
		return candidates
	}

	handled := make(map[string]struct{})
	listings := make(map[string]map[string]struct{})

	for _, p := range pending {
		info, err := os.Stat(p.SourcePath)
		if os.IsNotExist(err) {
			a.markFile(p.ID, storage.FileStatusDeleted)
			continue
		}
		if err != nil {
			a.log.Warn().Err(err).Str("path", p.SourcePath).Msg("Cannot check pending file")
			continue
		}

		if info.Size() != p.Size || !info.ModTime().Equal(p.ModTime) {
			a.log.Info().Str("path", p.SourcePath).Msg("File changed since it was archived, archiving it again")
			a.markFile(p.ID, storage.FileStatusStale)
			continue
		}

		entries, ok := listings[p.ArchivePath]
		if !ok {
			entries = a.listArchive(p.ArchivePath)
			listings[p.ArchivePath] = entries
		}
		if entries == nil {
			continue
		}
		if _, ok := entries[p.EntryName]; !ok {
			a.log.Warn().
				Str("path", p.SourcePath).
				Str("archive", p.ArchivePath).
				Msg("Archive no longer holds file, archiving it again")
			a.markFile(p.ID, storage.FileStatusStale)
			continue
		}

		handled[p.SourcePath] = struct{}{}
		if err := os.Remove(p.SourcePath); err != nil {
			ioErr := internalerrors.NewIOError("delete", p.SourcePath, err)
			outcome.DeleteFailures = append(outcome.DeleteFailures, DeleteFailure{Path: p.SourcePath, Err: ioErr})
			a.log.Error().Err(ioErr).Msg("Failed to delete previously archived file")
			continue
		}
		outcome.Resumed = append(outcome.Resumed, p.SourcePath)
		a.markFile(p.ID, storage.FileStatusDeleted)
		a.printf("Deleted previously archived file: %s (in %s)\n", p.SourcePath, p.ArchivePath)
	}

	remaining := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := handled[c]; !ok {
			remaining = append(remaining, c)
		}
	}
	return remaining
}

// listArchive returns the entry set of an earlier container, or nil when it
// cannot be read.
func (a *Archiver) listArchive(path string) map[string]struct{} {
	entries, err := ListEntries(path)
	if err != nil {
		a.log.Warn().Err(err).Str("archive", path).Msg("Cannot read earlier archive, keeping its files")
		return nil
	}
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		set[e] = struct{}{}
	}
	return set
}

func (a *Archiver) reportDryRun(outcome *Outcome) {
	a.printf("[DRY RUN] Would create archive: %s\n", outcome.ArchivePath)
	if len(outcome.Candidates) == 0 {
		a.printf("[DRY RUN] No event logs found\n")
		return
	}
	a.printf("[DRY RUN] Would archive the following files:\n")
	for _, c := range outcome.Candidates {
		a.printf("  - %s\n", c)
	}
	a.printf("[DRY RUN] Would verify archive contents\n")
	a.printf("[DRY RUN] Would delete original files after successful verification\n")
}

func (a *Archiver) startRun(inputDir, outputDir string, outcome *Outcome) *storage.Run {
	if a.ledger == nil {
		return nil
	}
	run := &storage.Run{
		StartedAt:  a.now(),
		InputDir:   inputDir,
		OutputDir:  outputDir,
		Status:     storage.RunStatusBuilding,
		Candidates: len(outcome.Candidates),
	}
	if err := a.ledger.SaveRun(run); err != nil {
		a.log.Warn().Err(err).Msg("Failed to record archive run")
		return nil
	}
	outcome.RunID = run.ID
	return run
}

// recordFiles stores the verified files as pending deletion.
func (a *Archiver) recordFiles(run *storage.Run, snapshots []*storage.ArchivedFile, outcome *Outcome) []*storage.ArchivedFile {
	if run == nil {
		return nil
	}
	run.ArchivePath = outcome.ArchivePath
	run.Status = storage.RunStatusVerified
	if err := a.ledger.UpdateRun(run); err != nil {
		a.log.Warn().Err(err).Msg("Failed to update archive run")
		return nil
	}
	if err := a.ledger.RecordArchivedFiles(run.ID, snapshots); err != nil {
		a.log.Warn().Err(err).Msg("Failed to record archived files")
		return nil
	}
	return snapshots
}

func (a *Archiver) finishRun(run *storage.Run, outcome *Outcome, status storage.RunStatus, runErr error) {
	if run == nil {
		return
	}
	run.FinishedAt = a.now()
	run.Status = status
	run.Candidates = len(outcome.Candidates)
	run.Missing = len(outcome.Missing)
	run.MissingNames = outcome.Missing
	run.Deleted = len(outcome.Deleted)
	run.DeleteFailures = len(outcome.DeleteFailures)
	if runErr != nil {
		run.Error = internalerrors.SanitizeString(runErr.Error())
	}
	if err := a.ledger.UpdateRun(run); err != nil {
		a.log.Warn().Err(err).Msg("Failed to update archive run")
	}
}

func (a *Archiver) markFile(id int64, status storage.FileStatus) {
	if err := a.ledger.MarkFile(id, status); err != nil {
		a.log.Warn().Err(err).Int64("file_id", id).Msg("Failed to update archived file")
	}
}

func (a *Archiver) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}

// snapshot records size and modification time of each candidate so a later
// run can tell whether a file changed after it was archived.
func snapshot(paths []string) ([]*storage.ArchivedFile, error) {
	files := make([]*storage.ArchivedFile, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, internalerrors.NewIOError("stat", path, err)
		}
		files = append(files, &storage.ArchivedFile{
			SourcePath: path,
			EntryName:  filepath.Base(path),
			Size:       info.Size(),
			ModTime:    info.ModTime(),
			Status:     storage.FileStatusPending,
		})
	}
	return files, nil
}

func removeTemp(path string, log *logging.SecureLogger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("Failed to remove temporary archive")
	}
}

func dryRunPrefix(dryRun bool) string {
	if dryRun {
		return "[DRY RUN] "
	}
	return ""
}
