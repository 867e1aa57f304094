package device

import (
	"context"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/neko940709/mapd-core-stream/common"
)

// Buffer owns one device allocation and frees it on Release. Release is
// idempotent so error paths can release unconditionally.
type Buffer struct {
	mgr      Manager
	ptr      Ptr
	device   common.DeviceID
	size     int
	released atomic.Bool
}

// Alloc allocates size bytes on device and wraps the allocation.
func Alloc(ctx context.Context, mgr Manager, device common.DeviceID, size int) (*Buffer, error) {
	ptr, err := mgr.Allocate(ctx, device, size)
	if err != nil {
		return nil, err
	}
	return &Buffer{mgr: mgr, ptr: ptr, device: device, size: size}, nil
}

func (b *Buffer) Ptr() Ptr {
	return b.ptr
}

func (b *Buffer) Device() common.DeviceID {
	return b.device
}

func (b *Buffer) Size() int {
	return b.size
}

// UploadInt32s copies vals into the start of the buffer.
func (b *Buffer) UploadInt32s(ctx context.Context, vals []int32) error {
	src := Int32Bytes(vals)
	if len(src) > b.size {
		return errors.Newf("upload of %d bytes into %d byte buffer", len(src), b.size)
	}
	return b.mgr.CopyHostToDevice(ctx, b.ptr, src)
}

// DownloadInt32s reads the buffer back as int32 values.
func (b *Buffer) DownloadInt32s(ctx context.Context) ([]int32, error) {
	out := make([]int32, b.size/4)
	if err := b.mgr.CopyDeviceToHost(ctx, Int32Bytes(out), b.ptr); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Buffer) Release() error {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return nil
	}
	return b.mgr.Free(b.ptr)
}

// Int32Bytes views vals as raw bytes without copying.
func Int32Bytes(vals []int32) []byte {
	if len(vals) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), len(vals)*4)
}
