package ggml

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	ggufTypeUint8 uint32 = iota
	ggufTypeInt8
	ggufTypeUint16
	ggufTypeInt16
	ggufTypeUint32
	ggufTypeInt32
	ggufTypeFloat32
	ggufTypeBool
	ggufTypeString
	ggufTypeArray
	ggufTypeUint64
	ggufTypeInt64
	ggufTypeFloat64
)

const (
	maxStringLength = 1_000_000_000
	maxArrayLength  = 5_000_000
	maxTensorRank   = 16
)

// containerGGUF carries the magic-validated header: version and the
// version-appropriate tensor/metadata counts (v1 uses 32-bit counts, v2+
// use 64-bit).
type containerGGUF struct {
	byteOrder binary.ByteOrder
	version   uint32

	v1 struct {
		NumTensor uint32
		NumKV     uint32
	}
	v2v3 struct {
		NumTensor uint64
		NumKV     uint64
	}

	maxArraySize int
}

func (c *containerGGUF) numTensor() uint64 {
	if c.version == 1 {
		return uint64(c.v1.NumTensor)
	}
	return c.v2v3.NumTensor
}

func (c *containerGGUF) numKV() uint64 {
	if c.version == 1 {
		return uint64(c.v1.NumKV)
	}
	return c.v2v3.NumKV
}

// gguf is the mutable decode state: the container header plus the KV map
// and tensor descriptors being filled in by decode.
type gguf struct {
	*containerGGUF

	kv      KV
	tensors []Tensor

	scratch [16 << 10]byte
}

// decodeContainer reads the magic and version/count header. The returned
// container has byteOrder and counts populated; decode still needs to be
// called to read KV pairs and tensor descriptors.
func decodeContainer(r io.Reader, maxArraySize int) (*containerGGUF, error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutOfBounds, err)
	}

	const littleEndianMagic = 0x46554747 // "GGUF" little-endian
	const bigEndianMagic = 0x47475546    // "GGUF" big-endian

	switch magic {
	case littleEndianMagic:
		// fall through, byteOrder set below
	case bigEndianMagic:
		return nil, fmt.Errorf("%w: big-endian GGUF container", ErrUnsupportedByteOrder)
	default:
		return nil, fmt.Errorf("%w: got %#x", ErrInvalidMagic, magic)
	}

	c := &containerGGUF{byteOrder: binary.LittleEndian, maxArraySize: maxArraySize}
	if err := binary.Read(r, c.byteOrder, &c.version); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutOfBounds, err)
	}

	var err error
	if c.version == 1 {
		err = binary.Read(r, c.byteOrder, &c.v1)
	} else {
		err = binary.Read(r, c.byteOrder, &c.v2v3)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutOfBounds, err)
	}

	return c, nil
}

// decode reads the metadata KV pairs and tensor descriptors following the
// header, and resolves the tensor-data start offset as the first multiple
// of the resolved alignment at or after r's position once the descriptors
// are read. r itself is left at the end of the descriptor table.
func decode(r io.ReadSeeker, c *containerGGUF) (KV, Tensors, error) {
	llm := &gguf{containerGGUF: c, kv: make(KV)}

	for i := uint64(0); i < llm.numKV(); i++ {
		key, err := readGGUFString(llm, r)
		if err != nil {
			return nil, Tensors{}, fmt.Errorf("failed to read metadata key %d: %w", i, err)
		}

		tag, err := readGGUF[uint32](llm, r)
		if err != nil {
			return nil, Tensors{}, fmt.Errorf("failed to read metadata tag for %q: %w", key, err)
		}

		v, err := readGGUFValue(llm, r, tag)
		if err != nil {
			return nil, Tensors{}, fmt.Errorf("failed to read metadata value for %q: %w", key, err)
		}
		llm.kv[key] = v
	}

	if err := llm.decodeTensors(r); err != nil {
		return nil, Tensors{}, err
	}

	alignment := llm.kv.Alignment()

	offset, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, Tensors{}, fmt.Errorf("%w: %w", ErrOutOfBounds, err)
	}

	dataStart := uint64(offset) + padding(uint64(offset), alignment)

	return llm.kv, Tensors{Items: llm.tensors, DataStart: dataStart}, nil
}

func readGGUFValue(llm *gguf, r io.Reader, tag uint32) (any, error) {
	switch tag {
	case ggufTypeUint8:
		return readGGUF[uint8](llm, r)
	case ggufTypeInt8:
		return readGGUF[int8](llm, r)
	case ggufTypeUint16:
		return readGGUF[uint16](llm, r)
	case ggufTypeInt16:
		return readGGUF[int16](llm, r)
	case ggufTypeUint32:
		return readGGUF[uint32](llm, r)
	case ggufTypeInt32:
		return readGGUF[int32](llm, r)
	case ggufTypeUint64:
		return readGGUF[uint64](llm, r)
	case ggufTypeInt64:
		return readGGUF[int64](llm, r)
	case ggufTypeFloat32:
		return readGGUF[float32](llm, r)
	case ggufTypeFloat64:
		return readGGUF[float64](llm, r)
	case ggufTypeBool:
		b, err := readGGUF[uint8](llm, r)
		if err != nil {
			return nil, err
		}
		if b > 1 {
			return nil, fmt.Errorf("%w: bool value %d", ErrInvalidSize, b)
		}
		return b == 1, nil
	case ggufTypeString:
		return readGGUFString(llm, r)
	case ggufTypeArray:
		return readGGUFArray(llm, r)
	default:
		return nil, fmt.Errorf("%w: metadata tag %d", ErrUnsupportedType, tag)
	}
}

// decodeTensors reads the tensor-count descriptors: name, rank, shape,
// type tag, relative offset.
func (llm *gguf) decodeTensors(r io.Reader) error {
	for i := uint64(0); i < llm.numTensor(); i++ {
		name, err := readGGUFString(llm, r)
		if err != nil {
			return fmt.Errorf("failed to read tensor name at index %d: %w", i, err)
		}

		rank, err := readGGUF[uint32](llm, r)
		if err != nil {
			return fmt.Errorf("failed to read rank for tensor %q: %w", name, err)
		}
		if rank > maxTensorRank {
			return fmt.Errorf("%w: tensor %q rank %d", ErrInvalidRank, name, rank)
		}

		shape := make([]uint64, rank)
		for d := range shape {
			shape[d], err = readGGUF[uint64](llm, r)
			if err != nil {
				return fmt.Errorf("failed to read shape dim %d for tensor %q: %w", d, name, err)
			}
		}

		tag, err := readGGUF[uint32](llm, r)
		if err != nil {
			return fmt.Errorf("failed to read type tag for tensor %q: %w", name, err)
		}
		elementType, err := parseElementType(tag)
		if err != nil {
			return fmt.Errorf("tensor %q: %w", name, err)
		}

		offset, err := readGGUF[uint64](llm, r)
		if err != nil {
			return fmt.Errorf("failed to read offset for tensor %q: %w", name, err)
		}

		llm.tensors = append(llm.tensors, Tensor{
			Name:   name,
			Shape:  shape,
			Type:   elementType,
			Offset: offset,
		})
	}
	return nil
}

func padding(offset, alignment uint64) uint64 {
	if alignment == 0 {
		return 0
	}
	rem := offset % alignment
	if rem == 0 {
		return 0
	}
	return alignment - rem
}

func readGGUF[T any](llm *gguf, r io.Reader) (T, error) {
	var t T
	err := binary.Read(r, llm.byteOrder, &t)
	if err != nil {
		return t, fmt.Errorf("%w: %w", ErrOutOfBounds, err)
	}
	return t, nil
}

func readGGUFString(llm *gguf, r io.Reader) (string, error) {
	if llm.version == 1 {
		return readGGUFV1String(llm, r)
	}

	length, err := readGGUF[uint64](llm, r)
	if err != nil {
		return "", err
	}
	if length > maxStringLength {
		return "", fmt.Errorf("%w: string length %d", ErrInvalidSize, length)
	}

	var buf []byte
	if length <= uint64(len(llm.scratch)) {
		buf = llm.scratch[:length]
	} else {
		buf = make([]byte, length)
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: %w", ErrOutOfBounds, err)
	}
	return string(buf), nil
}

func readGGUFV1String(llm *gguf, r io.Reader) (string, error) {
	length, err := readGGUF[uint64](llm, r)
	if err != nil {
		return "", err
	}
	if length > maxStringLength || length == 0 {
		return "", fmt.Errorf("%w: v1 string length %d", ErrInvalidSize, length)
	}

	var b bytes.Buffer
	if _, err := io.CopyN(&b, r, int64(length)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrOutOfBounds, err)
	}
	// v1 strings are null-terminated
	b.Truncate(b.Len() - 1)
	return b.String(), nil
}

