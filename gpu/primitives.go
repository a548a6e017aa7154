package gpu

/*
#include "llamacore_kernels.h"
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// RopeScalingType is the closed variant over rotary-embedding frequency
// schedules a model's hyperparameters may select.
type RopeScalingType int

const (
	RopeScalingNone RopeScalingType = iota
	RopeScalingLinear
	RopeScalingYarn
)

// RopeParams parameterizes the rope primitive's frequency schedule. Only
// the fields relevant to Type are consulted by the kernel.
type RopeParams struct {
	Type                   RopeScalingType
	DimCount               uint32
	FreqBase               float32
	Factor                 float32
	OriginalContextLength  uint32
	BetaFast               float32
	BetaSlow               float32
}

func op(ok C.bool, label string) error {
	if !bool(ok) {
		return fmt.Errorf("gpu: primitive %q failed", label)
	}
	return nil
}

// MatMul records C = alpha*op(A)*op(B) + beta*C, with optional transposes
// of A and/or B, onto cb.
func MatMul(cb *CommandBuffer, a, b, c *Buffer, rowsA, colsA, rowsB, colsB uint32, transposeA, transposeB bool, alpha, beta float32, label string) error {
	ok := C.lk_matmul(cb.ptr, a.handle.ptr, b.handle.ptr, c.handle.ptr,
		C.uint32_t(rowsA), C.uint32_t(colsA), C.uint32_t(rowsB), C.uint32_t(colsB),
		C.bool(transposeA), C.bool(transposeB), C.float(alpha), C.float(beta))
	return op(ok, label)
}

// SoftmaxRowwise applies a numerically stable per-row softmax in place
// from in to out.
func SoftmaxRowwise(cb *CommandBuffer, in, out *Buffer, rows, cols uint32, label string) error {
	ok := C.lk_softmax_rowwise(cb.ptr, in.handle.ptr, out.handle.ptr, C.uint32_t(rows), C.uint32_t(cols))
	return op(ok, label)
}

// RMSNorm computes out = weight ⊙ in / sqrt(mean(in^2) + eps) row-wise.
func RMSNorm(cb *CommandBuffer, in, weight, out *Buffer, rows, cols uint32, eps float32, label string) error {
	ok := C.lk_rms_norm(cb.ptr, in.handle.ptr, weight.handle.ptr, out.handle.ptr, C.uint32_t(rows), C.uint32_t(cols), C.float(eps))
	return op(ok, label)
}

// SiLU computes out = x * sigmoid(x) elementwise with an F32 intermediate.
func SiLU(cb *CommandBuffer, in, out *Buffer, n uint32, label string) error {
	ok := C.lk_silu(cb.ptr, in.handle.ptr, out.handle.ptr, C.uint32_t(n))
	return op(ok, label)
}

// ElemAdd computes c = a + b elementwise.
func ElemAdd(cb *CommandBuffer, a, b, c *Buffer, n uint32, label string) error {
	ok := C.lk_elem_add(cb.ptr, a.handle.ptr, b.handle.ptr, c.handle.ptr, C.uint32_t(n))
	return op(ok, label)
}

// ElemMul computes c = a * b elementwise.
func ElemMul(cb *CommandBuffer, a, b, c *Buffer, n uint32, label string) error {
	ok := C.lk_elem_mul(cb.ptr, a.handle.ptr, b.handle.ptr, c.handle.ptr, C.uint32_t(n))
	return op(ok, label)
}

// RepeatKV replicates each of n_kv_heads source heads across its n_groups
// destination heads: for destination head h, its source head is
// floor(h / n_groups). Sequence index is slowest, head index middle,
// head-dim fastest.
func RepeatKV(cb *CommandBuffer, src, dst *Buffer, nKVHeads, nGroups, headDim, seqLen uint32, label string) error {
	ok := C.lk_repeat_kv(cb.ptr, src.handle.ptr, dst.handle.ptr,
		C.uint32_t(nKVHeads), C.uint32_t(nGroups), C.uint32_t(headDim), C.uint32_t(seqLen))
	return op(ok, label)
}

// RoPE applies rotary positional embedding in place to buf, viewed as
// seqLen rows of nHeads*headDim, rotating only the first DimCount
// dimensions of each head. freqs is an optional per-pair frequency factor
// buffer; pass nil to use the schedule derived from params alone.
func RoPE(cb *CommandBuffer, buf *Buffer, freqs *Buffer, params RopeParams, posOffset, seqLen, nHeads, headDim uint32, label string) error {
	var freqsPtr unsafe.Pointer
	if freqs != nil {
		freqsPtr = freqs.handle.ptr
	}

	ok := C.lk_rope(cb.ptr, buf.handle.ptr, freqsPtr,
		C.int(params.Type), C.uint32_t(params.DimCount), C.float(params.FreqBase),
		C.float(params.Factor), C.uint32_t(params.OriginalContextLength),
		C.float(params.BetaFast), C.float(params.BetaSlow),
		C.uint32_t(posOffset), C.uint32_t(seqLen), C.uint32_t(nHeads), C.uint32_t(headDim))
	return op(ok, label)
}

// DequantQ4KToF16 dequantizes a Q4_K-encoded byte run into F16 elements.
func DequantQ4KToF16(cb *CommandBuffer, src, dst *Buffer, n uint32, label string) error {
	ok := C.lk_dequant_q4k_to_f16(cb.ptr, src.handle.ptr, dst.handle.ptr, C.uint32_t(n))
	return op(ok, label)
}

// DequantQ4KToF32 dequantizes a Q4_K-encoded byte run into F32 elements.
func DequantQ4KToF32(cb *CommandBuffer, src, dst *Buffer, n uint32, label string) error {
	ok := C.lk_dequant_q4k_to_f32(cb.ptr, src.handle.ptr, dst.handle.ptr, C.uint32_t(n))
	return op(ok, label)
}

// DequantQ6KToF16 dequantizes a Q6_K-encoded byte run into F16 elements.
func DequantQ6KToF16(cb *CommandBuffer, src, dst *Buffer, n uint32, label string) error {
	ok := C.lk_dequant_q6k_to_f16(cb.ptr, src.handle.ptr, dst.handle.ptr, C.uint32_t(n))
	return op(ok, label)
}

// DequantQ6KToF32 dequantizes a Q6_K-encoded byte run into F32 elements.
func DequantQ6KToF32(cb *CommandBuffer, src, dst *Buffer, n uint32, label string) error {
	ok := C.lk_dequant_q6k_to_f32(cb.ptr, src.handle.ptr, dst.handle.ptr, C.uint32_t(n))
	return op(ok, label)
}

// Copy blit-copies n elements from src to dst. This is the forward pass's
// embedding lookup, residual save, and KV-cache write step; it has no
// corresponding row in spec.md's primitive table because it does no
// arithmetic, but every one of those steps is still a GPU command encoded
// on the same queue as the rest of the pass.
func Copy(cb *CommandBuffer, src, dst *Buffer, n uint32, label string) error {
	ok := C.lk_copy(cb.ptr, src.handle.ptr, dst.handle.ptr, C.uint32_t(n))
	return op(ok, label)
}

// ConvertF16F32 widens F16 elements to F32.
func ConvertF16F32(cb *CommandBuffer, src, dst *Buffer, n uint32, label string) error {
	ok := C.lk_convert_f16_f32(cb.ptr, src.handle.ptr, dst.handle.ptr, C.uint32_t(n))
	return op(ok, label)
}
