package weights

import (
	"encoding/binary"
	"math"

	"github.com/llamacore/llamacore/envconfig"
	"github.com/llamacore/llamacore/fs/ggml"
	"github.com/llamacore/llamacore/gpu"
	"github.com/x448/float16"
)

// validate scans a materialized buffer for NaN/Inf per the configured
// validation level. Only F16 and F32 buffers are checked; buffers of other
// element types (the raw quantized buffers getRaw passes in) pass without
// inspection.
func validate(buf *gpu.Buffer, level envconfig.ValidationLevel) error {
	if level == envconfig.ValidationNone || buf.Count == 0 {
		return nil
	}

	data := buf.Bytes()
	if data == nil {
		// Device-private storage has no host-visible bytes to inspect;
		// validation is only meaningful for host-shared/host-managed
		// buffers, which is what the materializer always allocates.
		return nil
	}

	check := func(i uint64) bool {
		switch buf.Type {
		case ggml.ElementTypeF16:
			bits := binary.LittleEndian.Uint16(data[i*2 : i*2+2])
			f := float16.Frombits(bits).Float32()
			return math.IsNaN(float64(f)) || math.IsInf(float64(f), 0)
		case ggml.ElementTypeF32:
			bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
			f := math.Float32frombits(bits)
			return math.IsNaN(float64(f)) || math.IsInf(float64(f), 0)
		default:
			return false
		}
	}

	switch level {
	case envconfig.ValidationFull:
		for i := uint64(0); i < buf.Count; i++ {
			if check(i) {
				return ErrDequantizationFailed
			}
		}
	case envconfig.ValidationPartial:
		sample := uint64(envconfig.ValidationSampleSize)
		for i := uint64(0); i < min(sample, buf.Count); i++ {
			if check(i) {
				return ErrDequantizationFailed
			}
		}
		for i := max(buf.Count, sample) - sample; i < buf.Count; i++ {
			if check(i) {
				return ErrDequantizationFailed
			}
		}
	}

	return nil
}
