// Package atomicfile writes files the way spec.md §4.8/§5 requires findings
// to be persisted: create-temp-then-rename, so a reader never observes a
// partially written decision/cluster/stats file. Adapted from syzkaller's
// pkg/osutil file helpers (MkdirAll/WriteFile), generalized to the
// temp+rename pattern the original osutil.CopyFiles uses for whole
// directories.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	DefaultDirPerm  = 0o755
	DefaultFilePerm = 0o644
)

// MkdirAll creates dir (and parents) with the default permissions used
// throughout the output directory tree.
func MkdirAll(dir string) error {
	return os.MkdirAll(dir, DefaultDirPerm)
}

// Write atomically replaces filename with data: it writes to a sibling
// temp file in the same directory (so the rename is same-filesystem, hence
// atomic on POSIX) and renames it into place.
func Write(filename string, data []byte) error {
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("could not create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("could not write temp file %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("could not close temp file %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("could not rename %s to %s: %w", tmpName, filename, err)
	}
	return nil
}

// IsExist reports whether name exists.
func IsExist(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// LinkOrCopy hard-links src to dst, falling back to a copy if the link
// fails (e.g. across filesystems), matching spec.md §4.8's
// "hard-linked/copied" wording for suspicious input preservation.
func LinkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("could not read %s: %w", src, err)
	}
	return Write(dst, data)
}
