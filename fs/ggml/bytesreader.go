package ggml

import (
	"fmt"
	"io"
)

// byteSeeker is an io.ReadSeeker over a memory-mapped byte slice, used so
// the decoder reads directly from the mapping instead of copying the file
// into a buffered reader first.
type byteSeeker struct {
	data []byte
	pos  int64
}

func newByteReader(data []byte) *byteSeeker {
	return &byteSeeker{data: data}
}

func newByteSeeker(data []byte, offset int) *byteSeeker {
	return &byteSeeker{data: data, pos: int64(offset)}
}

func (b *byteSeeker) Read(p []byte) (int, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *byteSeeker) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = b.pos + offset
	case io.SeekEnd:
		target = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("byteSeeker: invalid whence %d", whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("%w: negative seek offset", ErrOutOfBounds)
	}
	b.pos = target
	return b.pos, nil
}
