package ggml

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// File is the immutable, parsed view of a container artifact: decoded
// metadata, tensor descriptors, and a memory-mapped region backing
// zero-copy byte access to tensor data.
type File struct {
	KV      KV
	Tensors Tensors

	path string
	data []byte
}

// Options configures parsing limits independent of the container's own
// declared values, set from LLAMA_MAX_ARRAY_SIZE.
type Options struct {
	MaxArraySize int
}

// DefaultOptions mirrors spec.md's array-length ceiling.
func DefaultOptions() Options {
	return Options{MaxArraySize: maxArrayLength}
}

// Open memory-maps path and parses its GGUF header, metadata, and tensor
// descriptors. The returned File keeps the mapping alive; Close unmaps it.
func Open(path string, opts Options) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: empty container file", ErrOutOfBounds)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	container, err := decodeContainer(newByteReader(data), opts.MaxArraySize)
	if err != nil {
		unix.Munmap(data)
		return nil, err
	}

	kv, tensors, err := decode(newByteSeeker(data, magicAndHeaderSize(container)), container)
	if err != nil {
		unix.Munmap(data)
		return nil, err
	}

	if last, ok := lastTensor(tensors); ok {
		end := tensors.DataStart + last.Offset + last.ByteSize()
		if end > uint64(size) {
			unix.Munmap(data)
			return nil, fmt.Errorf("%w: tensor %q ends at %d, file is %d bytes", ErrOutOfBounds, last.Name, end, size)
		}
		if uint64(size) > end {
			slog.Warn("container has trailing bytes beyond the last tensor", "path", path, "trailing", uint64(size)-end)
		}
	}

	return &File{KV: kv, Tensors: tensors, path: path, data: data}, nil
}

// Close unmaps the underlying file region. The File must not be used
// afterward.
func (f *File) Close() error {
	if f.data == nil {
		return nil
	}
	err := unix.Munmap(f.data)
	f.data = nil
	return err
}

// TensorData returns the zero-copy byte slice for a named tensor's data,
// or an empty slice if the tensor has no elements.
func (f *File) TensorData(name string) ([]byte, error) {
	t, ok := f.Tensors.ByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: tensor %q not found", ErrOutOfBounds, name)
	}
	if t.Elements() == 0 {
		return []byte{}, nil
	}

	start := f.Tensors.DataStart + t.Offset
	end := start + t.ByteSize()
	if end > uint64(len(f.data)) {
		return nil, fmt.Errorf("%w: tensor %q data range [%d,%d) exceeds mapped region of %d bytes", ErrOutOfBounds, name, start, end, len(f.data))
	}
	return f.data[start:end], nil
}

func lastTensor(ts Tensors) (Tensor, bool) {
	if len(ts.Items) == 0 {
		return Tensor{}, false
	}
	last := ts.Items[0]
	for _, t := range ts.Items[1:] {
		if t.Offset > last.Offset {
			last = t
		}
	}
	return last, true
}

// magicAndHeaderSize reports how many bytes decodeContainer already
// consumed (magic + version + counts), so decode can continue reading
// from the same logical cursor via a fresh seeker over the same buffer.
func magicAndHeaderSize(c *containerGGUF) int {
	size := 4 + 4 // magic + version
	if c.version == 1 {
		size += 4 + 4
	} else {
		size += 8 + 8
	}
	return size
}
