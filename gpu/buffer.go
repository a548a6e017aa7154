// Package gpu is the thin contract layer over the external GPU kernel
// library: device buffer allocation and the primitive operations (matmul,
// softmax, norm, SiLU, elementwise add/mul, KV-head repetition, RoPE,
// dequantizers) that the kernels themselves implement. This package never
// computes; it only encodes operations onto a command buffer and submits
// it for the external kernel library to execute.
package gpu

import (
	"fmt"
	"unsafe"

	"github.com/google/uuid"
	"github.com/llamacore/llamacore/fs/ggml"
)

// addPointer offsets a raw device pointer by byteOffset bytes. Safe only
// within the bounds of the allocation it came from, which View's caller
// guarantees.
func addPointer(ptr unsafe.Pointer, byteOffset uint64) unsafe.Pointer {
	if ptr == nil {
		return nil
	}
	return unsafe.Add(ptr, byteOffset)
}

// StorageClass is where a buffer's bytes physically live.
type StorageClass int

const (
	// StorageDevicePrivate is fastest for the GPU but not host-visible.
	StorageDevicePrivate StorageClass = iota
	// StorageHostShared is visible to both host and device without a copy.
	StorageHostShared
	// StorageHostManaged falls back further still, for platforms with no
	// unified memory.
	StorageHostManaged
)

func (s StorageClass) String() string {
	switch s {
	case StorageDevicePrivate:
		return "device-private"
	case StorageHostShared:
		return "host-shared"
	case StorageHostManaged:
		return "host-managed"
	default:
		return "unknown"
	}
}

// relaxed returns the next storage class a failed allocation should retry
// with: private falls back to shared, shared falls back to managed.
// Managed has nowhere further to fall back to.
func (s StorageClass) relaxed() (StorageClass, bool) {
	switch s {
	case StorageDevicePrivate:
		return StorageHostShared, true
	case StorageHostShared:
		return StorageHostManaged, true
	default:
		return s, false
	}
}

// Buffer is an opaque handle to a GPU-allocated region: an element type,
// an element count, a storage class, and a label for introspection. It is
// owned by exactly one record (a cache entry, a model field, or a per-pass
// scratch pool) and is released when that owner drops it.
type Buffer struct {
	handle  *deviceMemory
	Type    ggml.ElementType
	Count   uint64
	Storage StorageClass
	Label   string

	// owned is false for views produced by View: they share another
	// buffer's allocation and must not free it.
	owned bool
}

// Bytes returns the buffer's host-visible bytes. Only valid for
// StorageHostShared and StorageHostManaged buffers; device-private buffers
// have no host-visible representation.
func (b *Buffer) Bytes() []byte {
	if b.handle == nil {
		return nil
	}
	return b.handle.bytes
}

// Release frees the underlying device allocation. Safe to call once; the
// owning cache or scratch pool is responsible for calling it exactly once.
// A no-op on views (see View): the underlying buffer they share owns the
// allocation.
func (b *Buffer) Release() {
	if b.handle != nil && b.owned {
		freeDeviceMemory(b.handle)
	}
	b.handle = nil
}

// View returns a buffer sharing b's underlying allocation starting at
// elementOffset for elementCount elements, at b's element type. Used by the
// KV cache to address a single layer/position slot within one large
// allocation without a separate device allocation per slot. The returned
// buffer does not own the allocation; Release on it is a no-op.
func (b *Buffer) View(elementOffset, elementCount uint64) *Buffer {
	// elementByteCount rounds a zero count up to one byte for allocation
	// purposes; an offset of zero elements must stay at byte zero.
	var byteOffset uint64
	if elementOffset > 0 {
		byteOffset = elementByteCount(b.Type, elementOffset)
	}
	view := &deviceMemory{ptr: addPointer(b.handle.ptr, byteOffset)}
	if b.handle.bytes != nil {
		end := byteOffset + elementByteCount(b.Type, elementCount)
		view.bytes = b.handle.bytes[byteOffset:end]
	}
	return &Buffer{handle: view, Type: b.Type, Count: elementCount, Storage: b.Storage, Label: b.Label + "-view"}
}

func newLabel(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
