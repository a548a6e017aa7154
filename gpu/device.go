package gpu

/*
#cgo LDFLAGS: -lllamacore_kernels
#include <stdint.h>
#include <stdlib.h>
#include "llamacore_kernels.h"
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/llamacore/llamacore/fs/ggml"
)

// Device owns a single command queue: the serial submission point all of
// this process's command buffers are encoded against.
type Device struct {
	queue unsafe.Pointer
}

// NewDevice opens the default GPU device and its command queue.
func NewDevice() (*Device, error) {
	q := C.lk_queue_create()
	if q == nil {
		return nil, fmt.Errorf("gpu: failed to create command queue")
	}
	return &Device{queue: unsafe.Pointer(q)}, nil
}

// Close releases the command queue.
func (d *Device) Close() {
	if d.queue != nil {
		C.lk_queue_destroy(d.queue)
		d.queue = nil
	}
}

// deviceMemory is the Go-side handle to a kernel-allocated buffer, plus
// the host-visible byte slice when the storage class permits one.
type deviceMemory struct {
	ptr   unsafe.Pointer
	bytes []byte
}

// Allocate requests count elements of the given type in the requested
// storage class. Allocation is a resource error per the error taxonomy:
// callers retry once with a relaxed storage class on failure (see
// AllocateWithFallback).
func (d *Device) Allocate(elementType ggml.ElementType, count uint64, storage StorageClass, labelPrefix string) (*Buffer, error) {
	label := newLabel(labelPrefix)
	cLabel := C.CString(label)
	defer C.free(unsafe.Pointer(cLabel))

	byteCount := elementByteCount(elementType, count)

	raw := C.lk_buffer_alloc(d.queue, C.uint64_t(byteCount), C.int(storage), cLabel)
	if raw == nil {
		return nil, fmt.Errorf("gpu: allocation refused for %d bytes (%s, %s)", byteCount, elementType, storage)
	}

	mem := &deviceMemory{ptr: unsafe.Pointer(raw)}
	if storage != StorageDevicePrivate {
		if hostPtr := C.lk_buffer_host_ptr(raw); hostPtr != nil {
			mem.bytes = unsafe.Slice((*byte)(hostPtr), byteCount)
		}
	}

	return &Buffer{handle: mem, Type: elementType, Count: count, Storage: storage, Label: label, owned: true}, nil
}

// AllocateWithFallback implements the single relaxed-storage-class retry
// the error taxonomy specifies for resource errors: private falls back to
// shared, shared falls back to managed.
func (d *Device) AllocateWithFallback(elementType ggml.ElementType, count uint64, storage StorageClass, labelPrefix string) (*Buffer, error) {
	buf, err := d.Allocate(elementType, count, storage, labelPrefix)
	if err == nil {
		return buf, nil
	}

	relaxed, ok := storage.relaxed()
	if !ok {
		return nil, err
	}
	return d.Allocate(elementType, count, relaxed, labelPrefix)
}

// elementByteCount is the allocation size for count elements of t. A
// zero-element request still allocates a single byte, standing in as a
// placeholder buffer the caller can hold and release like any other.
func elementByteCount(t ggml.ElementType, count uint64) uint64 {
	blocks := (count + t.BlockSize() - 1) / t.BlockSize()
	if n := blocks * t.BlockBytes(); n > 0 {
		return n
	}
	return 1
}

func freeDeviceMemory(mem *deviceMemory) {
	if mem.ptr != nil {
		C.lk_buffer_free(mem.ptr)
		mem.ptr = nil
	}
}
