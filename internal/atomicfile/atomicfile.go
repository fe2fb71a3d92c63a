// Package atomicfile writes files so that concurrent readers always see
// either the previous complete content or the new complete content, never
// a partial write. Grounded in the directory-rename pattern the teacher
// repo uses when installing an extension bundle (internal/apps/registry.go
// moves a fully-populated temp directory into place with os.Rename); here
// the same rename-for-atomicity idiom is applied to a single file, which
// spec.md's Site Profile Store and Snapshot Service invariants require but
// the original Python implementation (profile_merger.py's bare
// output_path.write_text) does not provide.
package atomicfile

import (
	"os"
	"path/filepath"
)

// Write atomically replaces path with data. It creates a temp file in the
// same directory as path (so the final os.Rename is same-filesystem and
// therefore atomic on POSIX and Windows), writes data, syncs, then renames
// it over path. On any failure the temp file is removed and path is left
// untouched.
func Write(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
