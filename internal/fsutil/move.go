package fsutil

import (
	"errors"
	"io/fs"
	"os"

	internalerrors "github.com/olegiv/evtx-archiver/internal/errors"
)

// ErrDestinationExists is returned when a move would overwrite another file.
var ErrDestinationExists = errors.New("destination already exists")

// MoveNoReplace moves src to dst and fails with ErrDestinationExists when
// dst names a different, existing file. It hard-links dst to src and then
// unlinks src, so dst is never overwritten; if the unlink fails the link is
// removed again. On filesystems without hard links it falls back to a
// stat-guarded rename. Moving a file onto itself, including a case-only
// change on a case-insensitive filesystem, is allowed.
func MoveNoReplace(src, dst string) error {
	srcInfo, err := os.Lstat(src)
	if err != nil {
		return internalerrors.NewIOError("stat", src, err)
	}

	if dstInfo, err := os.Lstat(dst); err == nil {
		if !os.SameFile(srcInfo, dstInfo) {
			return &internalerrors.IOError{Op: "move", Path: dst, Err: ErrDestinationExists}
		}
		if src == dst {
			return nil
		}
		// Same file under another spelling: only the case differs.
		if err := os.Rename(src, dst); err != nil {
			return internalerrors.NewIOError("rename", src, err)
		}
		return nil
	}

	err = os.Link(src, dst)
	switch {
	case err == nil:
		if err := os.Remove(src); err != nil {
			_ = os.Remove(dst)
			return internalerrors.NewIOError("unlink", src, err)
		}
		return nil
	case errors.Is(err, fs.ErrExist):
		return &internalerrors.IOError{Op: "move", Path: dst, Err: ErrDestinationExists}
	case errors.Is(err, fs.ErrNotExist):
		return internalerrors.NewIOError("link", src, err)
	}

	// No hard links here. Re-check right before renaming; the window between
	// the check and the rename is the best this fallback can do.
	if _, err := os.Lstat(dst); err == nil {
		return &internalerrors.IOError{Op: "move", Path: dst, Err: ErrDestinationExists}
	}
	if err := os.Rename(src, dst); err != nil {
		return internalerrors.NewIOError("rename", src, err)
	}
	return nil
}

// IsDestinationExists reports whether err came from a move refused because
// the destination exists.
func IsDestinationExists(err error) bool {
	return errors.Is(err, ErrDestinationExists)
}
