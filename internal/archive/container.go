package archive

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Container naming.
const (
	NamePrefix      = "event_logs_"
	NameExt         = ".tar.xz"
	timestampLayout = "2006-01-02T15_04_05Z"
)

// DefaultDictCap is the xz dictionary size used at the highest preset.
const DefaultDictCap = 64 << 20

// minDictCap is the smallest dictionary the LZMA2 encoder accepts.
const minDictCap = 1 << 12

// ArchiveName returns the container file name for a run started at now.
// Colons in the UTC timestamp are written as underscores.
func ArchiveName(now time.Time) string {
	return NamePrefix + now.UTC().Format(timestampLayout) + NameExt
}

// Builder writes a container holding files to w. Entries are named by the
// files' base names and appear in the order given.
type Builder interface {
	Build(w io.Writer, files []string) error
}

// XZTarBuilder writes a tar stream compressed with xz.
type XZTarBuilder struct {
	// DictCap is the LZMA2 dictionary size in bytes; zero selects DefaultDictCap.
	DictCap int
}

// NewXZTarBuilder creates a builder with the given dictionary size.
func NewXZTarBuilder(dictCap int) *XZTarBuilder {
	return &XZTarBuilder{DictCap: dictCap}
}

// writerConfig returns the xz settings for an input of inputSize bytes. Like
// xz itself, it never uses a dictionary larger than the input.
func (b *XZTarBuilder) writerConfig(inputSize int64) xz.WriterConfig {
	dictCap := b.DictCap
	if dictCap <= 0 {
		dictCap = DefaultDictCap
	}
	if limit := max(inputSize, minDictCap); int64(dictCap) > limit {
		dictCap = int(limit)
	}
	return xz.WriterConfig{
		DictCap:  dictCap,
		CheckSum: xz.CRC64,
		Matcher:  lzma.BinaryTree,
	}
}

// Build implements Builder.
func (b *XZTarBuilder) Build(w io.Writer, files []string) error {
	var inputSize int64
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		// Each entry also carries a 512-byte header plus padding.
		inputSize += info.Size() + 1024
	}

	cfg := b.writerConfig(inputSize)
	if err := cfg.Verify(); err != nil {
		return fmt.Errorf("invalid xz configuration: %w", err)
	}

	xw, err := cfg.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create xz writer: %w", err)
	}

	tw := tar.NewWriter(xw)
	for _, path := range files {
		if err := addFile(tw, path); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := xw.Close(); err != nil {
		return fmt.Errorf("failed to finish xz stream: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build tar header for %s: %w", path, err)
	}
	hdr.Name = filepath.Base(path)

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", path, err)
	}
	// Copy exactly the size in the header; a file that shrank fails here.
	if _, err := io.CopyN(tw, f, hdr.Size); err != nil {
		return fmt.Errorf("failed to add %s: %w", path, err)
	}
	return nil
}

// ListEntries decompresses the container at path and returns its entry
// names. The whole stream is read so every xz check is validated.
func ListEntries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	xr, err := xz.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("failed to open xz stream: %w", err)
	}

	var names []string
	tr := tar.NewReader(xr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}
		names = append(names, hdr.Name)
	}

	if _, err := io.Copy(io.Discard, xr); err != nil {
		return nil, fmt.Errorf("failed to read xz stream: %w", err)
	}
	return names, nil
}

// Missing returns the base names of candidates that have no entry of the
// same base name, in candidate order.
func Missing(candidates, entries []string) []string {
	present := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		present[filepath.Base(filepath.FromSlash(e))] = struct{}{}
	}

	var missing []string
	for _, c := range candidates {
		name := filepath.Base(c)
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
