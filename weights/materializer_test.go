package weights

import (
	"errors"
	"testing"

	"github.com/llamacore/llamacore/fs/ggml"
)

func TestConversionKernelSupportedPairs(t *testing.T) {
	pairs := []struct {
		from ggml.ElementType
		to   ggml.ElementType
	}{
		{ggml.ElementTypeQ4_K_S, ggml.ElementTypeF16},
		{ggml.ElementTypeQ4_K_S, ggml.ElementTypeF32},
		{ggml.ElementTypeQ4_K_M, ggml.ElementTypeF16},
		{ggml.ElementTypeQ4_K_M, ggml.ElementTypeF32},
		{ggml.ElementTypeQ6_K, ggml.ElementTypeF16},
		{ggml.ElementTypeQ6_K, ggml.ElementTypeF32},
		{ggml.ElementTypeF16, ggml.ElementTypeF32},
	}
	for _, p := range pairs {
		if _, err := conversionKernel(p.from, p.to); err != nil {
			t.Errorf("conversionKernel(%s, %s) returned error: %v", p.from, p.to, err)
		}
	}
}

func TestConversionKernelRejectsUnsupportedPairs(t *testing.T) {
	pairs := []struct {
		from ggml.ElementType
		to   ggml.ElementType
	}{
		{ggml.ElementTypeF32, ggml.ElementTypeF16},
		{ggml.ElementTypeF16, ggml.ElementTypeF16},
		{ggml.ElementTypeQ4_K_S, ggml.ElementTypeQ6_K},
	}
	for _, p := range pairs {
		_, err := conversionKernel(p.from, p.to)
		if !errors.Is(err, ErrUnsupportedTensorType) {
			t.Errorf("conversionKernel(%s, %s) = %v, want ErrUnsupportedTensorType", p.from, p.to, err)
		}
	}
}

func TestF64RoundTripThroughHelpers(t *testing.T) {
	want := 3.14159265358979
	buf := make([]byte, 8)
	putLEFloat64(buf, want)
	got := float64frombits(leUint64(buf))
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}

	f32buf := make([]byte, 4)
	putLEFloat32(f32buf, float32(got))
	gotF32 := leFloat32(f32buf)
	if gotF32 != float32(want) {
		t.Fatalf("got %v, want %v", gotF32, float32(want))
	}
}
