package model

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/llamacore/llamacore/envconfig"
	"github.com/llamacore/llamacore/fs/ggml"
	"github.com/llamacore/llamacore/gpu"
	"github.com/llamacore/llamacore/weights"
)

// TransformerBlock groups one layer's materialized weights: a pair of
// norm weights and the attention and feed-forward projections, per
// spec.md's transformer-block record.
type TransformerBlock struct {
	AttentionNormWeight *gpu.Buffer
	FFNNormWeight       *gpu.Buffer

	AttentionQ      *gpu.Buffer
	AttentionK      *gpu.Buffer
	AttentionV      *gpu.Buffer
	AttentionOutput *gpu.Buffer

	FFNGate *gpu.Buffer
	FFNUp   *gpu.Buffer
	FFNDown *gpu.Buffer
}

// Model is the assembled record the inference engine runs against: the
// hyperparameters plus every materialized weight buffer, grouped by layer.
type Model struct {
	Hyperparameters *Hyperparameters

	TokenEmbeddings        *gpu.Buffer
	FinalNormWeight        *gpu.Buffer
	OutputProjectionWeight *gpu.Buffer
	RopeFrequencies        *gpu.Buffer // optional; nil if absent

	Layers []TransformerBlock
}

// Load resolves hyperparameters from file's metadata and materializes
// every weight tensor the model record needs through m, dispatching
// per-layer requests concurrently and reassembling them in layer order.
func Load(file *ggml.File, m *weights.Materializer) (*Model, error) {
	hp, err := ResolveHyperparameters(file.KV)
	if err != nil {
		return nil, err
	}

	compute := computeElementType()

	// The embedding lookup is a blit, not a matmul, so its source must
	// already match the F16 activation precision every other primitive
	// assumes (see the F16/F32 columns in spec.md's primitive table):
	// materializing it at the compute precision would silently corrupt
	// the lookup whenever LLAMA_COMPUTE_DTYPE=f32.
	tokenEmbeddings, err := m.Get("token_embd.weight", ggml.ElementTypeF16)
	if err != nil {
		return nil, fmt.Errorf("model: loading token embeddings: %w", err)
	}

	finalNorm, err := m.Get("output_norm.weight", ggml.ElementTypeF32)
	if err != nil {
		return nil, fmt.Errorf("model: loading final norm: %w", err)
	}

	outputProjection, err := m.Get("output.weight", compute)
	if err != nil {
		if !errors.Is(err, weights.ErrTensorNotFound) {
			return nil, fmt.Errorf("model: loading output projection: %w", err)
		}
		// llama.cpp ties the output projection to the token embedding
		// matrix when a dedicated output.weight tensor is absent.
		outputProjection, err = m.Get("token_embd.weight", compute)
		if err != nil {
			return nil, fmt.Errorf("model: loading output projection: %w", err)
		}
	}

	ropeFrequencies, err := m.Get("rope_freqs.weight", ggml.ElementTypeF32)
	if err != nil {
		if !errors.Is(err, weights.ErrTensorNotFound) {
			return nil, fmt.Errorf("model: loading rope frequencies: %w", err)
		}
		ropeFrequencies = nil
	}

	layers := make([]TransformerBlock, hp.NumLayers)
	var g errgroup.Group
	if n := envconfig.NumThreads(); n > 0 {
		g.SetLimit(n)
	} else {
		g.SetLimit(runtime.GOMAXPROCS(0))
	}
	for i := range layers {
		g.Go(func() error {
			block, err := loadLayer(m, uint32(i), compute)
			if err != nil {
				return err
			}
			layers[i] = block
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Model{
		Hyperparameters:        hp,
		TokenEmbeddings:        tokenEmbeddings,
		FinalNormWeight:        finalNorm,
		OutputProjectionWeight: outputProjection,
		RopeFrequencies:        ropeFrequencies,
		Layers:                 layers,
	}, nil
}

func loadLayer(m *weights.Materializer, i uint32, compute ggml.ElementType) (TransformerBlock, error) {
	name := func(suffix string) string { return fmt.Sprintf("blk.%d.%s", i, suffix) }

	get := func(suffix string, target ggml.ElementType) (*gpu.Buffer, error) {
		buf, err := m.Get(name(suffix), target)
		if err != nil {
			return nil, fmt.Errorf("model: loading layer %d tensor %q: %w", i, suffix, err)
		}
		return buf, nil
	}

	attnNorm, err := get("attn_norm.weight", ggml.ElementTypeF32)
	if err != nil {
		return TransformerBlock{}, err
	}
	ffnNorm, err := get("ffn_norm.weight", ggml.ElementTypeF32)
	if err != nil {
		return TransformerBlock{}, err
	}
	q, err := get("attn_q.weight", compute)
	if err != nil {
		return TransformerBlock{}, err
	}
	k, err := get("attn_k.weight", compute)
	if err != nil {
		return TransformerBlock{}, err
	}
	v, err := get("attn_v.weight", compute)
	if err != nil {
		return TransformerBlock{}, err
	}
	o, err := get("attn_output.weight", compute)
	if err != nil {
		return TransformerBlock{}, err
	}
	gate, err := get("ffn_gate.weight", compute)
	if err != nil {
		return TransformerBlock{}, err
	}
	up, err := get("ffn_up.weight", compute)
	if err != nil {
		return TransformerBlock{}, err
	}
	down, err := get("ffn_down.weight", compute)
	if err != nil {
		return TransformerBlock{}, err
	}

	return TransformerBlock{
		AttentionNormWeight: attnNorm,
		FFNNormWeight:       ffnNorm,
		AttentionQ:          q,
		AttentionK:          k,
		AttentionV:          v,
		AttentionOutput:     o,
		FFNGate:             gate,
		FFNUp:               up,
		FFNDown:             down,
	}, nil
}

func computeElementType() ggml.ElementType {
	if envconfig.ComputeDType() == envconfig.PrecisionF32 {
		return ggml.ElementTypeF32
	}
	return ggml.ElementTypeF16
}
