package engine

import (
	"fmt"

	"github.com/llamacore/llamacore/fs/ggml"
	"github.com/llamacore/llamacore/gpu"
)

// pool tracks the buffers allocated for one forward pass so they can all
// be released together, win or lose. Scratch buffers are never shared
// across passes.
type pool struct {
	device  *gpu.Device
	buffers []*gpu.Buffer
}

func newPool(device *gpu.Device) *pool {
	return &pool{device: device}
}

func (p *pool) alloc(elementType ggml.ElementType, count uint64, label string) (*gpu.Buffer, error) {
	buf, err := p.device.AllocateWithFallback(elementType, count, gpu.StorageDevicePrivate, label)
	if err != nil {
		return nil, fmt.Errorf("engine: allocating %s: %w", label, err)
	}
	p.buffers = append(p.buffers, buf)
	return buf, nil
}

func (p *pool) release() {
	for _, b := range p.buffers {
		b.Release()
	}
	p.buffers = nil
}

// gatherHead extracts a contiguous [seqLen, headDim] matrix for head out
// of src, whose layout interleaves heads between sequence positions
// (sequence slowest, head middle, head-dim fastest — repeat_kv's output
// layout). One Copy per sequence position; there is no strided primitive
// to do this in a single call.
func gatherHead(cb *gpu.CommandBuffer, p *pool, src *gpu.Buffer, head, numHeads, headDim, seqLen uint32, label string) (*gpu.Buffer, error) {
	dst, err := p.alloc(src.Type, uint64(seqLen)*uint64(headDim), label)
	if err != nil {
		return nil, err
	}

	for s := uint32(0); s < seqLen; s++ {
		srcOffset := uint64(s)*uint64(numHeads)*uint64(headDim) + uint64(head)*uint64(headDim)
		srcView := src.View(srcOffset, uint64(headDim))
		dstView := dst.View(uint64(s)*uint64(headDim), uint64(headDim))
		if err := gpu.Copy(cb, srcView, dstView, headDim, fmt.Sprintf("%s-row%d", label, s)); err != nil {
			return nil, err
		}
	}

	return dst, nil
}
