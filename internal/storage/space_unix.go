//go:build linux || darwin || freebsd

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Bavail is counted in the unit statfsBlockSize returns.
func probeDisk(dir string) (Capacity, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return Capacity{}, fmt.Errorf("statfs %s: %w", dir, err)
	}
	bsize := statfsBlockSize(&st)
	if bsize <= 0 {
		bsize = defaultBlockSize
	}
	return Capacity{
		Available: int64(st.Bavail) * bsize,
		BlockSize: bsize,
	}, nil
}
