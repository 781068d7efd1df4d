package eventlog

import (
	"errors"
	"fmt"
	"io"
	"strings"

	internalerrors "github.com/olegiv/evtx-archiver/internal/errors"
	"github.com/olegiv/evtx-archiver/internal/logging"
)

// Field paths read from the first record, and the value used when one is absent.
const (
	ChannelPath = "Event.System.Channel"
	HostPath    = "Event.System.Computer"
	Unknown     = "Unknown"
)

// Descriptor identifies where an event log came from.
type Descriptor struct {
	EventLogType string `json:"event_log_type"`
	HostName     string `json:"host_name"`
	Path         string `json:"event_log_path"`
}

// ShortHost returns the host name up to its first dot (NetBIOS style).
func (d *Descriptor) ShortHost() string {
	host, _, _ := strings.Cut(d.HostName, ".")
	return host
}

// Extractor builds Descriptors from the first decodable record of a log.
type Extractor struct {
	open        Opener
	log         *logging.SecureLogger
	channelPath string
	hostPath    string
}

// NewExtractor creates an extractor. A nil opener selects OpenEVTX.
func NewExtractor(open Opener, log *logging.SecureLogger) *Extractor {
	if open == nil {
		open = OpenEVTX
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Extractor{
		open:        open,
		log:         log,
		channelPath: ChannelPath,
		hostPath:    HostPath,
	}
}

// Extract opens path and returns the descriptor of its first record that
// decodes. Records that fail are logged and skipped. When the container
// cannot be opened or no record decodes, the error wraps
// ErrMetadataUnavailable and no descriptor is returned.
func (e *Extractor) Extract(path string) (*Descriptor, error) {
	src, err := e.open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", internalerrors.ErrMetadataUnavailable, path, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			e.log.Debug().Err(err).Str("path", path).Msg("Failed to close event log")
		}
	}()

	skipped := 0
	for {
		data, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped++
			e.log.Warn().Err(err).Str("path", path).Msg("Failed to parse event record")
			continue
		}

		tree, err := DecodeRecord(data)
		if err != nil {
			skipped++
			e.log.Warn().Err(err).Str("path", path).Msg("Failed to parse event record")
			continue
		}

		// The two fields default independently.
		d := &Descriptor{
			EventLogType: LookupStringOr(tree, e.channelPath, Unknown),
			HostName:     LookupStringOr(tree, e.hostPath, Unknown),
			Path:         path,
		}
		e.log.Debug().
			Str("path", path).
			Str("channel", d.EventLogType).
			Str("host", d.HostName).
			Int("skipped_records", skipped).
			Msg("Event log metadata extracted")
		return d, nil
	}

	return nil, fmt.Errorf("%w: no parseable record in %s (%d skipped)",
		internalerrors.ErrMetadataUnavailable, path, skipped)
}
