// Package rename gives an event log a name derived from its own content.
package rename

import (
	"fmt"
	"path/filepath"

	"github.com/olegiv/evtx-archiver/internal/eventlog"
	"github.com/olegiv/evtx-archiver/internal/fsutil"
	"github.com/olegiv/evtx-archiver/internal/logging"
)

// ErrDestinationExists is returned when the computed name is already taken
// by another file. Nothing is renamed in that case.
var ErrDestinationExists = fsutil.ErrDestinationExists

// Extractor produces the descriptor a new name is computed from.
type Extractor interface {
	Extract(path string) (*eventlog.Descriptor, error)
}

// Result describes one completed rename.
type Result struct {
	OldPath    string
	NewPath    string
	Descriptor *eventlog.Descriptor
	// Unchanged is set when the file already carried its computed name.
	Unchanged bool
}

// Renamer renames event logs in place to <short-host>-<channel>.evtx.
type Renamer struct {
	extractor Extractor
	log       *logging.SecureLogger
}

// New creates a Renamer. A nil extractor reads files with the EVTX parser.
func New(extractor Extractor, log *logging.SecureLogger) *Renamer {
	if log == nil {
		log = logging.Nop()
	}
	if extractor == nil {
		extractor = eventlog.NewExtractor(nil, log)
	}
	return &Renamer{extractor: extractor, log: log}
}

// TargetName computes the file name for a descriptor.
func TargetName(d *eventlog.Descriptor) string {
	return fsutil.Sanitize(fmt.Sprintf("%s-%s.evtx", d.ShortHost(), d.EventLogType))
}

// Rename moves path to its computed name in the same directory. It fails
// without touching the file when no descriptor can be read or when the
// destination is another existing file.
func (r *Renamer) Rename(path string) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	d, err := r.extractor.Extract(abs)
	if err != nil {
		return nil, fmt.Errorf("cannot rename %s: %w", abs, err)
	}

	dst := filepath.Join(filepath.Dir(abs), TargetName(d))
	result := &Result{OldPath: abs, NewPath: dst, Descriptor: d}

	if dst == abs {
		result.Unchanged = true
		r.log.Info().Str("path", abs).Msg("Event log already has its computed name")
		return result, nil
	}

	if err := fsutil.MoveNoReplace(abs, dst); err != nil {
		r.log.Error().Err(err).
			Str("from", abs).
			Str("to", dst).
			Msg("Failed to rename event log")
		return nil, fmt.Errorf("failed to rename %s: %w", abs, err)
	}

	r.log.Info().
		Str("from", abs).
		Str("to", dst).
		Str("channel", d.EventLogType).
		Str("host", d.HostName).
		Msg("Event log renamed")
	return result, nil
}
