//go:build windows

package storage

import "testing"

func TestDiskSpaceReportsClusterSize(t *testing.T) {
	c, err := DiskSpace.Probe(t.TempDir())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	// Clusters are a power of two multiple of the 512-byte sector.
	if c.BlockSize < 512 || c.BlockSize&(c.BlockSize-1) != 0 {
		t.Errorf("block size = %d, want a power of two >= 512", c.BlockSize)
	}
}
