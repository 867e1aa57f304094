package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/neko940709/mapd-core-stream/common"
	"github.com/neko940709/mapd-core-stream/logutil"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// PageSize is the allocation granularity of a simulated device arena.
const PageSize = 4096

type hostDevice struct {
	props Properties

	mu    sync.Mutex
	pages *Bitmap
	hint  int
	used  int64
}

type allocation struct {
	device common.DeviceID
	pages  []int
	data   []byte
}

// HostManager simulates a set of accelerators in host memory. Each device has
// a fixed capacity carved into pages; allocations claim whole pages and fail
// with OutOfDeviceMemory once the device is full. It lets the device code
// paths run on machines without accelerators.
type HostManager struct {
	devices     []*hostDevice
	allocations *xsync.MapOf[Ptr, *allocation]
	nextPtr     atomic.Uint64
	logger      *zap.Logger
}

var _ Manager = (*HostManager)(nil)

// NewHostManager creates deviceCount simulated devices of memoryPerDevice
// bytes each.
func NewHostManager(deviceCount int, memoryPerDevice int64, logger *zap.Logger) *HostManager {
	common.Assert(deviceCount >= 0, "negative device count %d", deviceCount)
	if logger == nil {
		logger = logutil.BgLogger()
	}
	numPages := int(memoryPerDevice / PageSize)
	m := &HostManager{
		devices:     make([]*hostDevice, deviceCount),
		allocations: xsync.NewMapOf[Ptr, *allocation](),
		logger:      logger,
	}
	for i := range m.devices {
		m.devices[i] = &hostDevice{
			props: Properties{
				ID:           common.DeviceID(i),
				Name:         fmt.Sprintf("host-sim-%d", i),
				GlobalMem:    int64(numPages) * PageSize,
				ComputeMajor: 7,
				ComputeMinor: 0,
				NumSMs:       1,
				WarpSize:     32,
			},
			pages: NewBitmap(numPages),
		}
	}
	return m
}

func (m *HostManager) DeviceCount() int {
	return len(m.devices)
}

func (m *HostManager) device(id common.DeviceID) (*hostDevice, error) {
	if int(id) < 0 || int(id) >= len(m.devices) {
		return nil, common.NewJoinError(common.NoSuchObjectError, "no %s (have %d devices)", id, len(m.devices))
	}
	return m.devices[id], nil
}

func (m *HostManager) Properties(id common.DeviceID) (Properties, error) {
	d, err := m.device(id)
	if err != nil {
		return Properties{}, err
	}
	return d.props, nil
}

func pagesFor(size int) int {
	if size <= 0 {
		return 0
	}
	return (common.Align8(size) + PageSize - 1) / PageSize
}

func (m *HostManager) Allocate(ctx context.Context, id common.DeviceID, size int) (Ptr, error) {
	if err := ctx.Err(); err != nil {
		return NullPtr, err
	}
	d, err := m.device(id)
	if err != nil {
		return NullPtr, err
	}
	want := pagesFor(size)

	d.mu.Lock()
	claimed := make([]int, 0, want)
	for len(claimed) < want {
		p := d.pages.FindFirstZero(d.hint)
		if p == -1 {
			break
		}
		d.pages.SetBit(p, true)
		d.hint = p + 1
		claimed = append(claimed, p)
	}
	if len(claimed) < want {
		for _, p := range claimed {
			d.pages.SetBit(p, false)
		}
		used := d.used
		d.mu.Unlock()
		m.logger.Debug("device allocation failed",
			zap.Stringer("device", id), zap.Int("size", size), zap.Int64("used", used))
		return NullPtr, common.NewJoinError(common.OutOfDeviceMemory,
			"cannot allocate %d bytes on %s (%d of %d bytes in use)", size, id, used, d.props.GlobalMem)
	}
	d.used += int64(want) * PageSize
	d.mu.Unlock()

	ptr := Ptr(m.nextPtr.Add(1))
	m.allocations.Store(ptr, &allocation{device: id, pages: claimed, data: make([]byte, size)})
	return ptr, nil
}

func (m *HostManager) Free(ptr Ptr) error {
	a, ok := m.allocations.LoadAndDelete(ptr)
	if !ok {
		return errors.Newf("free of unknown device pointer %#x", uint64(ptr))
	}
	d := m.devices[a.device]
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range a.pages {
		d.pages.SetBit(p, false)
	}
	d.used -= int64(len(a.pages)) * PageSize
	if len(a.pages) > 0 && a.pages[0] < d.hint {
		d.hint = a.pages[0]
	}
	return nil
}

func (m *HostManager) lookup(ptr Ptr, n int) (*allocation, error) {
	a, ok := m.allocations.Load(ptr)
	if !ok {
		return nil, errors.Newf("unknown device pointer %#x", uint64(ptr))
	}
	if n > len(a.data) {
		return nil, errors.Newf("copy of %d bytes overruns %d byte allocation", n, len(a.data))
	}
	return a, nil
}

func (m *HostManager) CopyHostToDevice(ctx context.Context, dst Ptr, src []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a, err := m.lookup(dst, len(src))
	if err != nil {
		return err
	}
	copy(a.data, src)
	return nil
}

func (m *HostManager) CopyDeviceToHost(ctx context.Context, dst []byte, src Ptr) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a, err := m.lookup(src, len(dst))
	if err != nil {
		return err
	}
	copy(dst, a.data)
	return nil
}

// UsedBytes returns the page-rounded bytes currently allocated on a device.
func (m *HostManager) UsedBytes(id common.DeviceID) int64 {
	d, err := m.device(id)
	if err != nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

// LiveAllocations returns the number of allocations not yet freed.
func (m *HostManager) LiveAllocations() int {
	return m.allocations.Size()
}
