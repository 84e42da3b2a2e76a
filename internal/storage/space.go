package storage

// defaultBlockSize is used where the platform does not report an allocation unit.
const defaultBlockSize = 4096

// Capacity is what a target directory's volume can still take.
type Capacity struct {
	Available int64 // bytes usable by this process
	BlockSize int64 // allocation unit of the volume
}

// SpaceProbe reports the capacity of the volume hosting a directory.
//
// The answer is a snapshot: concurrent writers, local or external, can consume
// the space between the probe and the write. Backends use it for admission
// control only, never as a reservation.
type SpaceProbe interface {
	Probe(dir string) (Capacity, error)
}

// SpaceProbeFunc adapts a function to SpaceProbe.
type SpaceProbeFunc func(dir string) (Capacity, error)

func (f SpaceProbeFunc) Probe(dir string) (Capacity, error) { return f(dir) }

// DiskSpace queries the operating system.
var DiskSpace SpaceProbe = SpaceProbeFunc(probeDisk)

// Available returns the free bytes on the volume hosting dir.
func Available(dir string) (int64, error) {
	c, err := DiskSpace.Probe(dir)
	if err != nil {
		return 0, err
	}
	return c.Available, nil
}

// Required rounds size up to the next multiple of blockSize, the space a file
// of that length actually occupies. A non-positive blockSize leaves size as is.
func Required(size, blockSize int64) int64 {
	if size <= 0 {
		return 0
	}
	if blockSize <= 0 {
		return size
	}
	blocks := size / blockSize
	if size%blockSize != 0 {
		blocks++
	}
	return blocks * blockSize
}
