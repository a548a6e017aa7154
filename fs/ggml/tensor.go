package ggml

import "fmt"

// Tensor is a parsed descriptor: name, shape, element type, and the relative
// offset of its data within the tensor-data region. It carries no bytes of
// its own; byte access goes through File.TensorData.
type Tensor struct {
	Name   string
	Shape  []uint64
	Type   ElementType
	Offset uint64
}

// Elements is the product of the shape dimensions.
func (t Tensor) Elements() uint64 {
	n := uint64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// ByteSize is the on-disk footprint of the tensor's data given its element
// type's block geometry: ceil(element_count / block_size) * block_bytes.
func (t Tensor) ByteSize() uint64 {
	blockSize := t.Type.BlockSize()
	blocks := (t.Elements() + blockSize - 1) / blockSize
	return blocks * t.Type.BlockBytes()
}

func (t Tensor) String() string {
	return fmt.Sprintf("%s %v %s", t.Name, t.Shape, t.Type)
}

// Tensors is the ordered sequence of tensor descriptors parsed from a
// container, plus the absolute start offset of the tensor-data region.
type Tensors struct {
	Items      []Tensor
	DataStart  uint64
}

// ByName finds a tensor descriptor by exact name, the only lookup the
// materializer needs.
func (ts Tensors) ByName(name string) (Tensor, bool) {
	for _, t := range ts.Items {
		if t.Name == name {
			return t, true
		}
	}
	return Tensor{}, false
}
