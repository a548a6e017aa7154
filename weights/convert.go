package weights

import (
	"encoding/binary"
	"math"
)

func leUint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

func float64frombits(bits uint64) float64 {
	return math.Float64frombits(bits)
}

func putLEFloat32(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
}

func leFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func putLEFloat64(b []byte, f float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(f))
}
