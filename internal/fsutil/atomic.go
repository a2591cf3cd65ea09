// Package fsutil holds the small file helpers shared by the registry,
// config and calendar writers.
package fsutil

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces path with data:
//   - ensures the parent directory exists (0755),
//   - writes into a temp file in the same directory,
//   - fsyncs, applies perm and renames over path.
//
// Readers never observe a half-written file. pattern is the os.CreateTemp
// pattern used for the temp file name.
func WriteFileAtomic(path string, data []byte, perm os.FileMode, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// No-op after a successful rename.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
