// Package discovery classifies files by their leading bytes and scans a
// directory for genuine event-log files.
package discovery

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Kind identifies a file format recognised by its signature.
type Kind string

// Supported file kinds.
const (
	KindEVTX Kind = "evtx"
)

// evtxMagic is the "ElfFile" header every EVTX file starts with.
var evtxMagic = []byte{0x45, 0x6C, 0x66, 0x46, 0x69, 0x6C, 0x65}

// Matcher decides whether a file header belongs to a format.
type Matcher interface {
	Match(buf []byte) bool
}

// MatcherFunc adapts a plain predicate to the Matcher interface.
type MatcherFunc func(buf []byte) bool

// Match implements Matcher.
func (f MatcherFunc) Match(buf []byte) bool {
	return f(buf)
}

// MagicMatcher returns a Matcher that accepts any buffer starting with magic.
func MagicMatcher(magic []byte) Matcher {
	m := append([]byte(nil), magic...)
	return MatcherFunc(func(buf []byte) bool {
		return len(m) > 0 && bytes.HasPrefix(buf, m)
	})
}

// Signature describes one registered file format.
type Signature struct {
	Kind      Kind
	Extension string
	MIMEType  string
	// HeaderLen is how many leading bytes Matcher needs to see.
	HeaderLen int
	Matcher   Matcher
}

// EVTXSignature returns the signature of a Windows binary event log.
func EVTXSignature() *Signature {
	return &Signature{
		Kind:      KindEVTX,
		Extension: "evtx",
		MIMEType:  "application/x-evtx",
		HeaderLen: len(evtxMagic),
		Matcher:   MatcherFunc(IsEVTX),
	}
}

// IsEVTX reports whether buf starts with the EVTX file signature.
func IsEVTX(buf []byte) bool {
	return bytes.HasPrefix(buf, evtxMagic)
}

// ReadHeader reads up to n leading bytes of the file at path.
// A file shorter than n yields a shorter buffer, not an error.
func ReadHeader(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	switch err {
	case nil, io.EOF, io.ErrUnexpectedEOF:
		return buf[:read], nil
	default:
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
}
