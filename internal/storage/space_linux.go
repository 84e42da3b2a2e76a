//go:build linux

package storage

import "golang.org/x/sys/unix"

// statfsBlockSize returns the fragment size, the unit Linux counts free
// blocks in. Bsize is only the preferred I/O size.
func statfsBlockSize(st *unix.Statfs_t) int64 {
	if st.Frsize > 0 {
		return int64(st.Frsize)
	}
	return int64(st.Bsize)
}
