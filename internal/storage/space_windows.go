//go:build windows

package storage

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var procGetDiskFreeSpaceW = windows.NewLazySystemDLL("kernel32.dll").NewProc("GetDiskFreeSpaceW")

func probeDisk(dir string) (Capacity, error) {
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return Capacity{}, fmt.Errorf("encode %s: %w", dir, err)
	}
	var freeToCaller, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &freeToCaller, &total, &totalFree); err != nil {
		return Capacity{}, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", dir, err)
	}
	bsize, err := clusterSize(p)
	if err != nil {
		return Capacity{}, fmt.Errorf("cluster size %s: %w", dir, err)
	}
	return Capacity{
		Available: int64(freeToCaller),
		BlockSize: bsize,
	}, nil
}

// clusterSize returns the allocation unit of the volume hosting dir.
// GetDiskFreeSpaceW wants the volume root, so it is resolved first.
func clusterSize(dir *uint16) (int64, error) {
	root := make([]uint16, windows.MAX_PATH+1)
	if err := windows.GetVolumePathName(dir, &root[0], uint32(len(root))); err != nil {
		return 0, err
	}
	var sectorsPerCluster, bytesPerSector, freeClusters, totalClusters uint32
	r, _, callErr := procGetDiskFreeSpaceW.Call(
		uintptr(unsafe.Pointer(&root[0])),
		uintptr(unsafe.Pointer(&sectorsPerCluster)),
		uintptr(unsafe.Pointer(&bytesPerSector)),
		uintptr(unsafe.Pointer(&freeClusters)),
		uintptr(unsafe.Pointer(&totalClusters)),
	)
	if r == 0 {
		return 0, callErr
	}
	size := int64(sectorsPerCluster) * int64(bytesPerSector)
	if size <= 0 {
		return defaultBlockSize, nil
	}
	return size, nil
}
