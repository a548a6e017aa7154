package engine

import "errors"

var ErrTokenOutOfRange = errors.New("engine: token id out of range")
