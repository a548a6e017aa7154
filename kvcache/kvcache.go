// Package kvcache implements the engine's key/value cache: two flat
// device buffers of shape [num_layers, max_sequence_length, num_kv_heads,
// head_dim] in F16, single-writer (the engine), addressed by a current
// position counter that advances one slot per successful forward pass.
package kvcache

import (
	"errors"
	"fmt"

	"github.com/llamacore/llamacore/fs/ggml"
	"github.com/llamacore/llamacore/gpu"
)

// ErrPositionExhausted is returned when a forward pass is attempted at or
// beyond max_sequence_length.
var ErrPositionExhausted = errors.New("kvcache: position exceeds max sequence length")

// Cache is the engine's single-sequence KV store.
type Cache struct {
	K *gpu.Buffer
	V *gpu.Buffer

	numLayers         uint32
	maxSequenceLength uint32
	numKVHeads        uint32
	headDim           uint32

	currentPosition uint32
}

// New allocates the K and V buffers, preferring device-private storage
// with the standard fallback-to-shared retry.
func New(device *gpu.Device, numLayers, maxSequenceLength, numKVHeads, headDim uint32) (*Cache, error) {
	count := uint64(numLayers) * uint64(maxSequenceLength) * uint64(numKVHeads) * uint64(headDim)

	k, err := device.AllocateWithFallback(ggml.ElementTypeF16, count, gpu.StorageDevicePrivate, "kv-cache-k")
	if err != nil {
		return nil, fmt.Errorf("kvcache: allocating K: %w", err)
	}
	v, err := device.AllocateWithFallback(ggml.ElementTypeF16, count, gpu.StorageDevicePrivate, "kv-cache-v")
	if err != nil {
		k.Release()
		return nil, fmt.Errorf("kvcache: allocating V: %w", err)
	}

	return &Cache{
		K: k, V: v,
		numLayers:         numLayers,
		maxSequenceLength: maxSequenceLength,
		numKVHeads:        numKVHeads,
		headDim:           headDim,
	}, nil
}

// CurrentPosition is the next slot a forward pass will write to.
func (c *Cache) CurrentPosition() uint32 { return c.currentPosition }

// Reset sets the position counter back to zero without clearing cache
// contents; stale entries beyond the next write are never read because a
// pass writes slot current_position before reading, and reads only ever
// span [0, current_position].
func (c *Cache) Reset() { c.currentPosition = 0 }

// CheckCapacity fails if the current position cannot host one more write.
func (c *Cache) CheckCapacity() error {
	if c.currentPosition >= c.maxSequenceLength {
		return ErrPositionExhausted
	}
	return nil
}

// Advance increments the position counter after a successful forward pass.
func (c *Cache) Advance() { c.currentPosition++ }

// LayerSlot returns the K and V views for layer l, position p: a
// num_kv_heads*head_dim-element window into the flat cache buffers, ready
// to be the destination of a Copy from the layer's freshly RoPE'd K/V.
func (c *Cache) LayerSlot(layer, position uint32) (k, v *gpu.Buffer) {
	slotElements := uint64(c.numKVHeads) * uint64(c.headDim)
	offset := (uint64(layer)*uint64(c.maxSequenceLength) + uint64(position)) * slotElements
	return c.K.View(offset, slotElements), c.V.View(offset, slotElements)
}

// LayerHistory returns the K and V views for layer l spanning positions
// [0, seqLen): the window repeat_kv and attention read from.
func (c *Cache) LayerHistory(layer, seqLen uint32) (k, v *gpu.Buffer) {
	slotElements := uint64(c.numKVHeads) * uint64(c.headDim)
	offset := uint64(layer) * uint64(c.maxSequenceLength) * slotElements
	count := uint64(seqLen) * slotElements
	return c.K.View(offset, count), c.V.View(offset, count)
}

// Release frees the K and V allocations.
func (c *Cache) Release() {
	c.K.Release()
	c.V.Release()
}
