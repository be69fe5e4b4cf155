// Package atomicfile writes files through a temp-file-and-rename sequence so
// a reader never observes a partially written file at the canonical path.
package atomicfile

import (
	"os"
	"path/filepath"
)

// WriteFile writes data to path atomically. The temp file is synced on a
// best-effort basis before the rename; use WriteFileDurable when the rename
// itself must survive a crash.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return write(path, data, perm, false)
}

// WriteFileDurable writes data to path atomically and durably: the temp file
// is fsynced before the rename and the containing directory after it.
func WriteFileDurable(path string, data []byte, perm os.FileMode) error {
	return write(path, data, perm, true)
}

func write(path string, data []byte, perm os.FileMode, durable bool) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if durable {
		if err := tmp.Sync(); err != nil {
			return err
		}
	} else {
		_ = tmp.Sync()
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	if durable {
		return SyncDir(dir)
	}
	return nil
}

// EnsureDirDurable creates dir with its parents and fsyncs it and its parent
// so the new directory entries survive a crash.
func EnsureDirDurable(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	if err := SyncDir(dir); err != nil {
		return err
	}
	parent := filepath.Dir(dir)
	if parent != dir {
		return SyncDir(parent)
	}
	return nil
}

// SyncDir fsyncs a directory.
func SyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
