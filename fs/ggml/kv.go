package ggml

import (
	"fmt"
	"log/slog"
)

// KV is the fully decoded metadata mapping: string key to one of the tagged
// value types (scalars and the *array[T] variants from array.go).
type KV map[string]any

// Architecture returns the value of general.architecture, the prefix most
// other keys are resolved relative to.
func (kv KV) Architecture() string {
	return kv.String("general.architecture", "unknown")
}

// Alignment returns the resolved tensor-data alignment, defaulting to 32
// per the container format.
func (kv KV) Alignment() uint64 {
	return uint64(kv.Uint("general.alignment", 32))
}

func (kv KV) String(key string, defaultValue ...string) string {
	v, _ := keyValue(kv, key, append(defaultValue, "")...)
	return v
}

func (kv KV) Uint(key string, defaultValue ...uint32) uint32 {
	v, _ := keyValue(kv, key, append(defaultValue, 0)...)
	return v
}

func (kv KV) Float(key string, defaultValue ...float32) float32 {
	v, _ := keyValue(kv, key, append(defaultValue, 0)...)
	return v
}

func (kv KV) Bool(key string, defaultValue ...bool) bool {
	v, _ := keyValue(kv, key, append(defaultValue, false)...)
	return v
}

// NewStrings wraps values as the array type Strings expects, for callers
// (tests, metadata builders) assembling a KV outside the decoder.
func NewStrings(values []string) any { return &array[string]{size: len(values), values: values} }

// NewUints is NewStrings for []uint32.
func NewUints(values []uint32) any { return &array[uint32]{size: len(values), values: values} }

// NewFloats is NewStrings for []float32.
func NewFloats(values []float32) any { return &array[float32]{size: len(values), values: values} }

func (kv KV) Strings(key string, defaultValue ...[]string) []string {
	a, _ := keyValue(kv, key, &array[string]{values: append(defaultValue, []string(nil))[0]})
	return a.values
}

func (kv KV) Uints(key string, defaultValue ...[]uint32) []uint32 {
	a, _ := keyValue(kv, key, &array[uint32]{values: append(defaultValue, []uint32(nil))[0]})
	return a.values
}

func (kv KV) Floats(key string, defaultValue ...[]float32) []float32 {
	a, _ := keyValue(kv, key, &array[float32]{values: append(defaultValue, []float32(nil))[0]})
	return a.values
}

// Require fetches a fully qualified key (e.g. "llama.embedding_length")
// that C2 treats as mandatory: its absence or a type mismatch is a fatal
// format error, not a silently-applied default.
func Require[T valueTypes](kv KV, key string) (T, error) {
	raw, ok := kv[key]
	if !ok {
		return *new(T), fmt.Errorf("%w: %s", ErrMissingMetadata, key)
	}
	v, ok := raw.(T)
	if !ok {
		return *new(T), fmt.Errorf("%w: %s expected %T, got %T", ErrInvalidMetadataType, key, v, raw)
	}
	return v, nil
}

type valueTypes interface {
	uint8 | int8 | uint16 | int16 |
		uint32 | int32 | uint64 | int64 |
		string | float32 | float64 | bool
}

type arrayValueTypes interface {
	*array[uint8] | *array[int8] | *array[uint16] | *array[int16] |
		*array[uint32] | *array[int32] | *array[uint64] | *array[int64] |
		*array[string] | *array[float32] | *array[float64] | *array[bool]
}

func keyValue[T valueTypes | arrayValueTypes](kv KV, key string, defaultValue ...T) (T, bool) {
	if val, ok := kv[key].(T); ok {
		return val, true
	}

	slog.Debug("metadata key not found, using default", "key", key)
	return defaultValue[0], false
}
