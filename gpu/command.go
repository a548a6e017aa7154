package gpu

/*
#include "llamacore_kernels.h"
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// CommandBuffer accumulates encoded operations for submission to the
// device's queue. Operations encoded onto the same buffer execute in
// submission order unless they write disjoint regions and the kernel
// library chooses to overlap them; ordering between command buffers is
// serial per queue.
type CommandBuffer struct {
	ptr unsafe.Pointer
}

// NewCommandBuffer opens a command buffer against the device's queue.
func (d *Device) NewCommandBuffer() (*CommandBuffer, error) {
	raw := C.lk_command_buffer_create(d.queue)
	if raw == nil {
		return nil, fmt.Errorf("gpu: command buffer creation refused")
	}
	return &CommandBuffer{ptr: unsafe.Pointer(raw)}, nil
}

// Commit submits the accumulated operations without waiting for them to
// complete. GPU submissions are non-blocking; callers that need to observe
// completion call Wait.
func (cb *CommandBuffer) Commit() {
	C.lk_command_buffer_commit(cb.ptr)
}

// Wait blocks until every operation encoded on this buffer has completed,
// returning an execution error if the kernel library reported one. This is
// the forward pass's optional synchronous wait_until_complete.
func (cb *CommandBuffer) Wait() error {
	if !bool(C.lk_command_buffer_wait(cb.ptr)) {
		return fmt.Errorf("gpu: command buffer completion reported an error")
	}
	return nil
}

// Close releases the command buffer. Safe to call after Wait.
func (cb *CommandBuffer) Close() {
	if cb.ptr != nil {
		C.lk_command_buffer_destroy(cb.ptr)
		cb.ptr = nil
	}
}
