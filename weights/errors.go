package weights

import "errors"

var (
	ErrTensorNotFound        = errors.New("weights: tensor not found in container")
	ErrUnsupportedTensorType = errors.New("weights: unsupported on-disk type to target precision conversion")
	ErrDequantizationFailed  = errors.New("weights: dequantized buffer contains NaN or Inf")
)
