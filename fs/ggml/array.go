package ggml

import (
	"encoding/json"
	"fmt"
	"io"
)

// array is a homogeneous metadata array value.
type array[T any] struct {
	size   int
	values []T
}

func (a *array[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.values)
}

func newArray[T any](size int) *array[T] {
	return &array[T]{size: size, values: make([]T, size)}
}

func readGGUFArray(llm *gguf, r io.Reader) (any, error) {
	t, err := readGGUF[uint32](llm, r)
	if err != nil {
		return nil, err
	}

	n, err := readGGUF[uint64](llm, r)
	if err != nil {
		return nil, err
	}
	if llm.maxArraySize >= 0 && n > uint64(llm.maxArraySize) {
		return nil, fmt.Errorf("%w: array length %d exceeds ceiling %d", ErrInvalidSize, n, llm.maxArraySize)
	}

	switch t {
	case ggufTypeUint8:
		return readTypedArray[uint8](llm, r, int(n))
	case ggufTypeInt8:
		return readTypedArray[int8](llm, r, int(n))
	case ggufTypeUint16:
		return readTypedArray[uint16](llm, r, int(n))
	case ggufTypeInt16:
		return readTypedArray[int16](llm, r, int(n))
	case ggufTypeUint32:
		return readTypedArray[uint32](llm, r, int(n))
	case ggufTypeInt32:
		return readTypedArray[int32](llm, r, int(n))
	case ggufTypeUint64:
		return readTypedArray[uint64](llm, r, int(n))
	case ggufTypeInt64:
		return readTypedArray[int64](llm, r, int(n))
	case ggufTypeFloat32:
		return readTypedArray[float32](llm, r, int(n))
	case ggufTypeFloat64:
		return readTypedArray[float64](llm, r, int(n))
	case ggufTypeBool:
		return readTypedArray[bool](llm, r, int(n))
	case ggufTypeString:
		a := newArray[string](int(n))
		for i := range a.size {
			s, err := readGGUFString(llm, r)
			if err != nil {
				return nil, err
			}
			a.values[i] = s
		}
		return a, nil
	default:
		return nil, fmt.Errorf("%w: array element tag %d", ErrUnsupportedType, t)
	}
}

func readTypedArray[T any](llm *gguf, r io.Reader, n int) (any, error) {
	a := newArray[T](n)
	for i := range a.size {
		v, err := readGGUF[T](llm, r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOutOfBounds, err)
		}
		a.values[i] = v
	}
	return a, nil
}
