package device

import (
	"context"

	"github.com/neko940709/mapd-core-stream/common"
)

// MemoryLevel says where a join hash table lives during a query.
type MemoryLevel int

const (
	CPULevel MemoryLevel = iota
	GPULevel
)

func (l MemoryLevel) String() string {
	switch l {
	case CPULevel:
		return "CPU"
	case GPULevel:
		return "GPU"
	}
	return "unknown"
}

// Ptr is an opaque address in some device's memory. The zero Ptr is never a
// valid allocation and is what a CPU-resident table reports as its device
// buffer.
type Ptr uint64

const NullPtr Ptr = 0

// Properties describes one device as reported by its driver.
type Properties struct {
	ID           common.DeviceID
	Name         string
	GlobalMem    int64
	ComputeMajor int
	ComputeMinor int
	NumSMs       int
	WarpSize     int
}

// Manager owns device memory and the copies between host and devices.
// Implementations must be safe for concurrent use: the replicator issues
// allocations and copies for different devices in parallel.
type Manager interface {
	DeviceCount() int
	Properties(device common.DeviceID) (Properties, error)
	// Allocate reserves size bytes on device. A failure because the device is
	// full is reported with code OutOfDeviceMemory.
	Allocate(ctx context.Context, device common.DeviceID, size int) (Ptr, error)
	Free(ptr Ptr) error
	CopyHostToDevice(ctx context.Context, dst Ptr, src []byte) error
	CopyDeviceToHost(ctx context.Context, dst []byte, src Ptr) error
}
