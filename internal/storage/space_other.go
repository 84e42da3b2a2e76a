//go:build !(linux || darwin || freebsd || windows)

package storage

import (
	"fmt"
	"runtime"
)

func probeDisk(dir string) (Capacity, error) {
	return Capacity{}, fmt.Errorf("free space query for %s not supported on %s", dir, runtime.GOOS)
}
