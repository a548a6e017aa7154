// Package weights implements the weight materializer: it turns a parsed
// container's on-disk tensor bytes into GPU buffers at a caller-requested
// element type, caching both the raw on-disk view and each distinct
// conversion so that repeated requests for the same tensor, or for the
// same tensor at the same target precision, are free after the first.
package weights

import (
	"fmt"
	"sync"

	"github.com/llamacore/llamacore/envconfig"
	"github.com/llamacore/llamacore/fs/ggml"
	"github.com/llamacore/llamacore/gpu"
)

// Materializer owns the two-tier buffer cache described above. It is safe
// for concurrent use; C5's per-layer fan-out calls Get from multiple
// goroutines against the same Materializer.
type Materializer struct {
	file       *ggml.File
	device     *gpu.Device
	validation envconfig.ValidationLevel

	mu        sync.Mutex
	raw       map[string]*gpu.Buffer
	processed map[string]processedKey
}

type processedKey struct {
	buffers map[ggml.ElementType]*gpu.Buffer
}

// New builds a Materializer over an already-open container and device.
func New(file *ggml.File, device *gpu.Device, validation envconfig.ValidationLevel) *Materializer {
	return &Materializer{
		file:       file,
		device:     device,
		validation: validation,
		raw:        make(map[string]*gpu.Buffer),
		processed:  make(map[string]processedKey),
	}
}

// Get returns a buffer holding name's data at target's element type,
// materializing and caching it if this is the first request for that
// (name, target) pair. The mutex is held only for cache lookups and
// insertions; the (potentially slow) conversion work runs outside it, so
// two goroutines racing on the same cold key may both materialize and the
// second insertion wins — the results are equivalent, so this is
// tolerated rather than serialized.
func (m *Materializer) Get(name string, target ggml.ElementType) (*gpu.Buffer, error) {
	if buf, ok := m.lookupProcessed(name, target); ok {
		return buf, nil
	}

	rawBuf, err := m.getRaw(name)
	if err != nil {
		return nil, err
	}

	if rawBuf.Count == 0 {
		// Zero-element tensors carry no data to convert or validate; the
		// placeholder stands in for every target type.
		m.insertProcessed(name, target, rawBuf)
		return rawBuf, nil
	}

	if rawBuf.Type == target {
		// getRaw already validated this buffer once at materialization time;
		// no conversion runs here, so there is nothing new to check.
		m.insertProcessed(name, target, rawBuf)
		return rawBuf, nil
	}

	converted, err := m.convert(rawBuf, target, name)
	if err != nil {
		return nil, err
	}

	if err := validate(converted, m.validation); err != nil {
		converted.Release()
		return nil, fmt.Errorf("%w: tensor %q -> %s", err, name, target)
	}

	m.insertProcessed(name, target, converted)
	return converted, nil
}

func (m *Materializer) lookupProcessed(name string, target ggml.ElementType) (*gpu.Buffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.processed[name]
	if !ok {
		return nil, false
	}
	buf, ok := key.buffers[target]
	return buf, ok
}

func (m *Materializer) insertProcessed(name string, target ggml.ElementType, buf *gpu.Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.processed[name]
	if !ok {
		key = processedKey{buffers: make(map[ggml.ElementType]*gpu.Buffer)}
	}
	key.buffers[target] = buf
	m.processed[name] = key
}

// getRaw returns the raw, on-disk-precision buffer for name, materializing
// it from the container's mapped bytes on first request. F64 tensors are
// pre-converted to F32 on the host here, since the device never handles F64
// directly; the raw cache entry's Type is already F32 in that case.
func (m *Materializer) getRaw(name string) (*gpu.Buffer, error) {
	m.mu.Lock()
	buf, ok := m.raw[name]
	m.mu.Unlock()
	if ok {
		return buf, nil
	}

	tensor, ok := m.file.Tensors.ByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTensorNotFound, name)
	}

	data, err := m.file.TensorData(name)
	if err != nil {
		return nil, err
	}

	var fresh *gpu.Buffer
	switch {
	case tensor.Elements() == 0:
		fresh, err = m.device.AllocateWithFallback(ggml.ElementTypeF32, 0, gpu.StorageHostShared, "raw-empty-"+name)
	case tensor.Type == ggml.ElementTypeF64:
		fresh, err = m.materializeF64(data, tensor, name)
	default:
		fresh, err = m.materializeRawBytes(data, tensor, name)
	}
	if err != nil {
		return nil, err
	}

	if err := validate(fresh, m.validation); err != nil {
		fresh.Release()
		return nil, fmt.Errorf("%w: tensor %q", err, name)
	}

	m.mu.Lock()
	if existing, ok := m.raw[name]; ok {
		fresh.Release()
		fresh = existing
	} else {
		m.raw[name] = fresh
	}
	m.mu.Unlock()

	return fresh, nil
}

func (m *Materializer) materializeRawBytes(data []byte, tensor ggml.Tensor, name string) (*gpu.Buffer, error) {
	buf, err := m.device.AllocateWithFallback(tensor.Type, tensor.Elements(), gpu.StorageHostShared, "raw-"+name)
	if err != nil {
		return nil, fmt.Errorf("weights: allocating raw buffer for %q: %w", name, err)
	}
	host := buf.Bytes()
	if host == nil || len(host) < len(data) {
		buf.Release()
		return nil, fmt.Errorf("weights: raw buffer for %q has no host-visible region", name)
	}
	copy(host, data)
	return buf, nil
}

func (m *Materializer) materializeF64(data []byte, tensor ggml.Tensor, name string) (*gpu.Buffer, error) {
	n := tensor.Elements()
	buf, err := m.device.AllocateWithFallback(ggml.ElementTypeF32, n, gpu.StorageHostShared, "raw-f32-"+name)
	if err != nil {
		return nil, fmt.Errorf("weights: allocating F64->F32 raw buffer for %q: %w", name, err)
	}
	host := buf.Bytes()
	if host == nil {
		buf.Release()
		return nil, fmt.Errorf("weights: raw buffer for %q has no host-visible region", name)
	}
	for i := uint64(0); i < n; i++ {
		bits := leUint64(data[i*8 : i*8+8])
		f := float64frombits(bits)
		putLEFloat32(host[i*4:i*4+4], float32(f))
	}
	return buf, nil
}

// convert dispatches name's raw buffer through the primitive the on-disk
// type to target requires, synchronously waiting for completion since
// materialization happens at load time, not on the per-token hot path.
func (m *Materializer) convert(raw *gpu.Buffer, target ggml.ElementType, name string) (*gpu.Buffer, error) {
	kernel, err := conversionKernel(raw.Type, target)
	if err != nil {
		return nil, fmt.Errorf("%w: tensor %q from %s to %s", err, name, raw.Type, target)
	}

	out, err := m.device.AllocateWithFallback(target, raw.Count, gpu.StorageHostShared, "converted-"+name)
	if err != nil {
		return nil, fmt.Errorf("weights: allocating converted buffer for %q: %w", name, err)
	}

	cb, err := m.device.NewCommandBuffer()
	if err != nil {
		out.Release()
		return nil, err
	}
	defer cb.Close()

	label := fmt.Sprintf("dequant-%s", name)
	if err := kernel(cb, raw, out, uint32(raw.Count), label); err != nil {
		out.Release()
		return nil, fmt.Errorf("weights: converting %q: %w", name, err)
	}

	cb.Commit()
	if err := cb.Wait(); err != nil {
		out.Release()
		return nil, fmt.Errorf("weights: converting %q: %w", name, err)
	}

	return out, nil
}

type conversionFunc func(cb *gpu.CommandBuffer, src, dst *gpu.Buffer, n uint32, label string) error

// conversionKernel returns the primitive for the one allowed conversion
// from a quantized or F16 on-disk type to an F16/F32 target. Anything
// else — including F32 to F16, which spec.md declines to support — is an
// unsupported conversion.
func conversionKernel(from, to ggml.ElementType) (conversionFunc, error) {
	switch {
	case from == ggml.ElementTypeQ4_K_S && to == ggml.ElementTypeF16,
		from == ggml.ElementTypeQ4_K_M && to == ggml.ElementTypeF16:
		return gpu.DequantQ4KToF16, nil
	case from == ggml.ElementTypeQ4_K_S && to == ggml.ElementTypeF32,
		from == ggml.ElementTypeQ4_K_M && to == ggml.ElementTypeF32:
		return gpu.DequantQ4KToF32, nil
	case from == ggml.ElementTypeQ6_K && to == ggml.ElementTypeF16:
		return gpu.DequantQ6KToF16, nil
	case from == ggml.ElementTypeQ6_K && to == ggml.ElementTypeF32:
		return gpu.DequantQ6KToF32, nil
	case from == ggml.ElementTypeF16 && to == ggml.ElementTypeF32:
		return gpu.ConvertF16F32, nil
	default:
		return nil, ErrUnsupportedTensorType
	}
}
