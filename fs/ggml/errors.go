package ggml

import "errors"

// Format errors: malformed or unsupported container structure. Fatal to the
// parse operation in progress; never retried.
var (
	ErrInvalidMagic          = errors.New("ggml: invalid magic")
	ErrUnsupportedByteOrder  = errors.New("ggml: unsupported byte order")
	ErrInvalidSize           = errors.New("ggml: invalid size")
	ErrInvalidRank           = errors.New("ggml: invalid tensor rank")
	ErrUnsupportedType       = errors.New("ggml: unsupported element type")
	ErrOutOfBounds           = errors.New("ggml: truncated or out-of-bounds data")
	ErrMissingMetadata       = errors.New("ggml: missing metadata key")
	ErrInvalidMetadataType   = errors.New("ggml: metadata key has unexpected type")
	ErrUnknownRopeScalingType = errors.New("ggml: unknown rope scaling type")
)
