// Package eventlog reads identifying metadata out of binary event-log files.
package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/0xrawsec/golang-evtx/evtx"
)

// RecordSource yields the records of one log container as JSON documents.
// Next returns io.EOF once the container is exhausted; any other error means
// only that record could not be decoded and the caller may keep going.
// A source is read once and cannot be restarted.
type RecordSource interface {
	Next() ([]byte, error)
	Close() error
}

// Opener opens a log container as a RecordSource.
type Opener func(path string) (RecordSource, error)

var (
	errNilRecord = errors.New("parser returned an empty record")
	errMalformed = errors.New("malformed event log data")
)

// evtxSource walks the chunks of an EVTX file one at a time in the calling
// goroutine. The parser panics on malformed input, so every call into it
// goes through recovered.
type evtxSource struct {
	f         *os.File
	ef        *evtx.File
	nextChunk uint16
	chunk     *evtx.Chunk
	offsets   []int32
}

// OpenEVTX opens path with the golang-evtx parser. Files that were not
// cleanly closed by the event log service are accepted once their header
// is repaired.
func OpenEVTX(path string) (RecordSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var ef evtx.File
	err = recovered("file header", func() error {
		var herr error
		if ef, herr = evtx.New(f); herr != nil {
			return herr
		}
		if herr = ef.Header.Verify(); errors.Is(herr, evtx.ErrDirtyFile) {
			herr = ef.Header.Repair(f)
		}
		return herr
	})
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &evtxSource{f: f, ef: &ef}, nil
}

func (s *evtxSource) Next() ([]byte, error) {
	for len(s.offsets) == 0 {
		if s.nextChunk >= s.ef.Header.ChunkCount {
			return nil, io.EOF
		}
		if err := s.fetchChunk(); err != nil {
			return nil, err
		}
	}

	offset := s.offsets[0]
	s.offsets = s.offsets[1:]

	var data []byte
	err := recovered(fmt.Sprintf("record at chunk offset %#x", offset), func() error {
		event := s.chunk.ParseEvent(int64(offset))
		gem, err := event.GoEvtxMap(s.chunk)
		if errors.Is(err, io.EOF) {
			// A record cut short inside a chunk is not the end of the file.
			return io.ErrUnexpectedEOF
		}
		if err != nil {
			return err
		}
		if gem == nil {
			return errNilRecord
		}
		data, err = json.Marshal(gem)
		return err
	})
	return data, err
}

// fetchChunk loads the next chunk and queues its record offsets. A failed
// chunk is skipped on the following call.
func (s *evtxSource) fetchChunk() error {
	index := s.nextChunk
	s.nextChunk++
	s.chunk, s.offsets = nil, nil

	offset := int64(s.ef.Header.ChunkDataOffset) + int64(evtx.ChunkSize)*int64(index)
	var chunk evtx.Chunk
	err := recovered(fmt.Sprintf("chunk %d", index), func() error {
		var err error
		chunk, err = s.ef.FetchChunk(offset)
		if err != nil {
			return err
		}
		return chunk.Header.Validate()
	})
	if errors.Is(err, io.EOF) {
		// The header counts more chunks than the file holds.
		s.nextChunk = s.ef.Header.ChunkCount
		return io.EOF
	}
	if err != nil {
		return err
	}

	// The parser also lists the offset just past the last record.
	for _, eo := range chunk.EventOffsets {
		if eo <= chunk.Header.OffsetLastRec {
			s.offsets = append(s.offsets, eo)
		}
	}
	s.chunk = &chunk
	return nil
}

// Close releases the file. Chunks that were never reached are not parsed.
func (s *evtxSource) Close() error {
	return s.f.Close()
}

// recovered runs fn and turns a parser panic into an error wrapping
// errMalformed.
func recovered(what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", errMalformed, what, r)
		}
	}()
	return fn()
}
