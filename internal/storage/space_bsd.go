//go:build darwin || freebsd

package storage

import "golang.org/x/sys/unix"

func statfsBlockSize(st *unix.Statfs_t) int64 {
	return int64(st.Bsize)
}
