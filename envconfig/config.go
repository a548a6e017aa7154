// Package envconfig exposes the environment-variable-driven knobs this
// engine reads at startup: where containers live, what precision weights
// materialize to, how hard dequantization output is validated, and the
// parsing/threading limits that bound load-time resource use.
package envconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Precision is the closed variant over compute precisions the materializer
// can target, read from LLAMA_COMPUTE_DTYPE.
type Precision string

const (
	PrecisionF16 Precision = "f16"
	PrecisionF32 Precision = "f32"
)

// ValidationLevel is the closed variant over NaN/Inf validation strictness,
// read from LLAMA_VALIDATION.
type ValidationLevel string

const (
	ValidationNone    ValidationLevel = "none"
	ValidationPartial ValidationLevel = "partial"
	ValidationFull    ValidationLevel = "full"
)

// Models returns the directory containing container artifacts.
// Configurable via LLAMA_MODELS. Default: $HOME/.llamacore/models
func Models() string {
	if s := Var("LLAMA_MODELS"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	return filepath.Join(home, ".llamacore", "models")
}

// ComputeDType returns the target precision for projection weights.
// Configurable via LLAMA_COMPUTE_DTYPE. Default: f16.
func ComputeDType() Precision {
	switch strings.ToLower(Var("LLAMA_COMPUTE_DTYPE")) {
	case "f32":
		return PrecisionF32
	case "", "f16":
		return PrecisionF16
	default:
		slog.Warn("unknown compute dtype, using default", "value", Var("LLAMA_COMPUTE_DTYPE"), "default", PrecisionF16)
		return PrecisionF16
	}
}

// Validation returns the dequantization validation level.
// Configurable via LLAMA_VALIDATION. Default: partial.
func Validation() ValidationLevel {
	switch strings.ToLower(Var("LLAMA_VALIDATION")) {
	case "none":
		return ValidationNone
	case "full":
		return ValidationFull
	case "", "partial":
		return ValidationPartial
	default:
		slog.Warn("unknown validation level, using default", "value", Var("LLAMA_VALIDATION"), "default", ValidationPartial)
		return ValidationPartial
	}
}

// ValidationSampleSize is the head/tail sample count used by partial
// validation. Not independently configurable; fixed at a size small enough
// to be cheap on every materialization.
const ValidationSampleSize = 256

// MaxArraySize caps the length of a metadata array the container reader
// will allocate storage for. Configurable via LLAMA_MAX_ARRAY_SIZE.
// Default: 5,000,000.
func MaxArraySize() int {
	return int(Uint64("LLAMA_MAX_ARRAY_SIZE", 5_000_000)())
}

// NumThreads is the worker count used for concurrent per-layer weight
// materialization. Configurable via LLAMA_NUM_THREADS. Default: 0, meaning
// the caller should use GOMAXPROCS.
func NumThreads() int {
	return int(Uint64("LLAMA_NUM_THREADS", 0)())
}

// LogLevel returns the log level. Configurable via LLAMA_DEBUG.
// 0/false = INFO (default), 1/true = DEBUG, 2 = TRACE.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("LLAMA_DEBUG"); s != "" {
		if b, err := strconv.ParseBool(s); err == nil && b {
			level = slog.LevelDebug
		} else if i, err := strconv.ParseInt(s, 10, 64); err == nil && i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var returns an environment variable's value with surrounding whitespace
// and quoting stripped.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
