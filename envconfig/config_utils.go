package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// Uint64 returns a function that reads key as a uint64, falling back to
// defaultValue when unset or unparseable.
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// EnvVar is one entry in the configuration surface exposed by AsMap, used
// for diagnostics and the CLI's --help output.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every configuration knob with its current value and a
// human-readable description.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"LLAMA_MODELS":         {"LLAMA_MODELS", Models(), "Directory containing container artifacts"},
		"LLAMA_COMPUTE_DTYPE":  {"LLAMA_COMPUTE_DTYPE", ComputeDType(), "Target precision for projection weights (f16|f32, default f16)"},
		"LLAMA_VALIDATION":     {"LLAMA_VALIDATION", Validation(), "Dequantization validation level (none|partial|full, default partial)"},
		"LLAMA_MAX_ARRAY_SIZE": {"LLAMA_MAX_ARRAY_SIZE", MaxArraySize(), "Ceiling on metadata array length (default 5000000)"},
		"LLAMA_NUM_THREADS":    {"LLAMA_NUM_THREADS", NumThreads(), "Worker count for concurrent weight materialization (0 = GOMAXPROCS)"},
		"LLAMA_DEBUG":          {"LLAMA_DEBUG", LogLevel(), "Log level (0/false=info, 1/true=debug, 2=trace)"},
	}
}

// Values returns every configuration knob's current value stringified, for
// log-at-startup diagnostics.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
