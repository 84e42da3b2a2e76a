package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Place copies src's bytes, permission bits and modification time into the
// placeholder created by Namer.Allocate and closes it.
//
// The bytes go to a hidden sibling that is renamed over the placeholder once
// complete, so the stored name never exposes partial content. On failure the
// sibling and the placeholder are both removed.
func Place(src string, placeholder *os.File) (written int64, err error) {
	dst := placeholder.Name()
	placeholder.Close()

	defer func() {
		if err != nil {
			os.Remove(dst)
		}
	}()

	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", src, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".partial-*")
	if err != nil {
		return 0, fmt.Errorf("create temp for %s: %w", dst, err)
	}
	tmpName := tmp.Name()

	written, err = io.Copy(tmp, in)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("close temp for %s: %w", dst, err)
	}

	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	// Access time is not portable; both stamps take the source mtime.
	if err := os.Chtimes(tmpName, info.ModTime(), info.ModTime()); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("chtimes %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("rename temp to %s: %w", dst, err)
	}
	return written, nil
}
