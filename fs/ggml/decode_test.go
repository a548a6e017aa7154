package ggml

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint64(len(s)))
	buf.WriteString(s)
}

// buildMinimalContainer writes a minimal v3 GGUF buffer with the given KV pairs
// (already tag-encoded by the caller) and tensor descriptors.
func buildMinimalContainer(t *testing.T, numKV, numTensors uint64, kvBody, tensorBody []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(0x46554747))
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	binary.Write(&buf, binary.LittleEndian, numTensors)
	binary.Write(&buf, binary.LittleEndian, numKV)
	buf.Write(kvBody)
	buf.Write(tensorBody)
	return buf.Bytes()
}

func TestDecodeContainerRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(0xdeadbeef))
	_, err := decodeContainer(bytes.NewReader(buf.Bytes()), maxArrayLength)
	if !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestDecodeContainerRejectsBigEndian(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(0x47475546))
	_, err := decodeContainer(bytes.NewReader(buf.Bytes()), maxArrayLength)
	if !errors.Is(err, ErrUnsupportedByteOrder) {
		t.Fatalf("expected ErrUnsupportedByteOrder, got %v", err)
	}
}

func TestDecodeParsesMetadataAndTensors(t *testing.T) {
	var kvBody bytes.Buffer
	writeString(&kvBody, "general.alignment")
	binary.Write(&kvBody, binary.LittleEndian, ggufTypeUint32)
	binary.Write(&kvBody, binary.LittleEndian, uint32(32))

	var tensorBody bytes.Buffer
	writeString(&tensorBody, "token_embd.weight")
	binary.Write(&tensorBody, binary.LittleEndian, uint32(2)) // rank
	binary.Write(&tensorBody, binary.LittleEndian, uint64(4)) // dim0
	binary.Write(&tensorBody, binary.LittleEndian, uint64(8)) // dim1
	binary.Write(&tensorBody, binary.LittleEndian, uint32(tagF32))
	binary.Write(&tensorBody, binary.LittleEndian, uint64(0))

	raw := buildMinimalContainer(t, 1, 1, kvBody.Bytes(), tensorBody.Bytes())

	r := bytes.NewReader(raw)
	c, err := decodeContainer(r, maxArrayLength)
	if err != nil {
		t.Fatalf("decodeContainer: %v", err)
	}

	kv, tensors, err := decode(r, c)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got := kv.Alignment(); got != 32 {
		t.Errorf("alignment = %d, want 32", got)
	}

	tensor, ok := tensors.ByName("token_embd.weight")
	if !ok {
		t.Fatalf("tensor not found")
	}
	if tensor.Type != ElementTypeF32 {
		t.Errorf("type = %v, want F32", tensor.Type)
	}
	if got, want := tensor.Elements(), uint64(32); got != want {
		t.Errorf("elements = %d, want %d", got, want)
	}
	if got, want := tensor.ByteSize(), uint64(128); got != want {
		t.Errorf("byte size = %d, want %d", got, want)
	}
	if tensors.DataStart%32 != 0 {
		t.Errorf("data start %d not aligned to 32", tensors.DataStart)
	}
}

func TestDecodeRejectsExcessiveRank(t *testing.T) {
	var tensorBody bytes.Buffer
	writeString(&tensorBody, "bad")
	binary.Write(&tensorBody, binary.LittleEndian, uint32(17))

	raw := buildMinimalContainer(t, 0, 1, nil, tensorBody.Bytes())
	r := bytes.NewReader(raw)
	c, err := decodeContainer(r, maxArrayLength)
	if err != nil {
		t.Fatalf("decodeContainer: %v", err)
	}
	_, _, err = decode(r, c)
	if !errors.Is(err, ErrInvalidRank) {
		t.Fatalf("expected ErrInvalidRank, got %v", err)
	}
}

func TestDecodeRejectsUnknownTypeTag(t *testing.T) {
	var tensorBody bytes.Buffer
	writeString(&tensorBody, "t")
	binary.Write(&tensorBody, binary.LittleEndian, uint32(1))
	binary.Write(&tensorBody, binary.LittleEndian, uint64(1))
	binary.Write(&tensorBody, binary.LittleEndian, uint32(999))
	binary.Write(&tensorBody, binary.LittleEndian, uint64(0))

	raw := buildMinimalContainer(t, 0, 1, nil, tensorBody.Bytes())
	r := bytes.NewReader(raw)
	c, err := decodeContainer(r, maxArrayLength)
	if err != nil {
		t.Fatalf("decodeContainer: %v", err)
	}
	_, _, err = decode(r, c)
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestByteSizeQuantizedBlocks(t *testing.T) {
	tensor := Tensor{Name: "blk.0.attn_q.weight", Shape: []uint64{256, 4}, Type: ElementTypeQ4_K_M}
	if got, want := tensor.ByteSize(), uint64(4*144); got != want {
		t.Errorf("byte size = %d, want %d", got, want)
	}

	// Partial final block still rounds up to a whole block.
	tensor2 := Tensor{Name: "x", Shape: []uint64{300}, Type: ElementTypeQ6_K}
	if got, want := tensor2.ByteSize(), uint64(2*210); got != want {
		t.Errorf("byte size = %d, want %d", got, want)
	}
}

func TestRequireMissingAndWrongType(t *testing.T) {
	kv := KV{"llama.block_count": uint32(32)}

	if _, err := Require[uint32](kv, "llama.embedding_length"); !errors.Is(err, ErrMissingMetadata) {
		t.Fatalf("expected ErrMissingMetadata, got %v", err)
	}
	if _, err := Require[string](kv, "llama.block_count"); !errors.Is(err, ErrInvalidMetadataType) {
		t.Fatalf("expected ErrInvalidMetadataType, got %v", err)
	}
	v, err := Require[uint32](kv, "llama.block_count")
	if err != nil || v != 32 {
		t.Fatalf("Require = %d, %v; want 32, nil", v, err)
	}
}
