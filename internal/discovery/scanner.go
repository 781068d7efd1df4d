package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	internalerrors "github.com/olegiv/evtx-archiver/internal/errors"
	"github.com/olegiv/evtx-archiver/internal/logging"
)

// Scanner finds files of one kind in a single directory level.
type Scanner struct {
	registry *Registry
	kind     Kind
	log      *logging.SecureLogger
}

// NewScanner creates a scanner that keeps files classified as kind.
func NewScanner(registry *Registry, kind Kind, log *logging.SecureLogger) *Scanner {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Scanner{registry: registry, kind: kind, log: log}
}

// NewEVTXScanner creates a scanner for EVTX files using the default registry.
func NewEVTXScanner(log *logging.SecureLogger) *Scanner {
	return NewScanner(DefaultRegistry(), KindEVTX, log)
}

// Sniff classifies the file at path by its leading bytes.
// It returns ErrNotClassifiable when no registered signature matches.
func (s *Scanner) Sniff(path string) (*Signature, error) {
	header, err := ReadHeader(path, s.registry.HeaderLen())
	if err != nil {
		return nil, internalerrors.NewIOError("read", path, err)
	}

	sig, ok := s.registry.Classify(header)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, internalerrors.ErrNotClassifiable)
	}
	return sig, nil
}

// Scan lists dir without recursing and returns the absolute paths of the
// regular files whose content matches the scanner's kind, in directory order.
// Entries that cannot be inspected are logged and skipped; only an unreadable
// dir is an error.
func (s *Scanner) Scan(dir string) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, internalerrors.NewIOError("resolve", dir, err)
	}

	entries, err := os.ReadDir(absDir)
	if err != nil && len(entries) == 0 {
		return nil, internalerrors.NewIOError("read directory", absDir, err)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("dir", absDir).Msg("Directory listing incomplete, continuing with entries read so far")
	}

	var found []string
	for _, entry := range entries {
		path := filepath.Join(absDir, entry.Name())

		// Stat follows symlinks so a link to a regular file is still tested.
		info, err := os.Stat(path)
		if err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable entry")
			continue
		}
		if !info.Mode().IsRegular() {
			s.log.Debug().Str("path", path).Str("mode", info.Mode().String()).Msg("Skipping non-regular entry")
			continue
		}

		sig, err := s.Sniff(path)
		if err != nil {
			if errors.Is(err, internalerrors.ErrNotClassifiable) {
				s.log.Debug().Str("path", path).Msg("Not an event log file")
			} else {
				s.log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable file")
			}
			continue
		}
		if sig.Kind != s.kind {
			s.log.Debug().Str("path", path).Str("kind", string(sig.Kind)).Msg("Skipping file of another kind")
			continue
		}

		found = append(found, path)
	}

	s.log.Debug().Str("dir", absDir).Int("found", len(found)).Msg("Directory scan complete")
	return found, nil
}
