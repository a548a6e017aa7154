// Package model resolves a container's metadata into a typed
// configuration (C2) and assembles materialized tensors into the model
// record the inference engine runs against (C5).
package model

import (
	"errors"
	"fmt"

	"github.com/llamacore/llamacore/fs/ggml"
)

var (
	ErrInvalidHyperparameters = errors.New("model: hyperparameters fail an invariant")
)

// RopeScaling is the resolved rotary-embedding frequency schedule.
type RopeScaling struct {
	Type                  string
	Factor                float32
	OriginalContextLength uint32
	Finetuned             bool
	BetaFast              float32
	BetaSlow              float32
}

// Hyperparameters is the immutable-after-load configuration C2 resolves
// from a container's metadata.
type Hyperparameters struct {
	Architecture string

	EmbeddingDim      uint32
	HiddenDim         uint32
	NumLayers         uint32
	NumHeads          uint32
	NumKVHeads        uint32
	HeadDim           uint32 // derived: EmbeddingDim / NumHeads
	NumQueryGroups    uint32 // derived: NumHeads / NumKVHeads
	VocabSize         uint32
	MaxSequenceLength uint32
	RMSNormEps        float32

	RopeDimCount uint32
	RopeFreqBase float32
	RopeScaling  RopeScaling
}

// ResolveHyperparameters reads the well-known llama.* and rope.* metadata
// keys for kv's architecture, applying defaults where spec.md permits and
// failing fast on missing or mistyped required keys.
func ResolveHyperparameters(kv ggml.KV) (*Hyperparameters, error) {
	arch := kv.Architecture()
	key := func(suffix string) string { return arch + "." + suffix }

	embeddingDim, err := ggml.Require[uint32](kv, key("embedding_length"))
	if err != nil {
		return nil, err
	}
	hiddenDim, err := ggml.Require[uint32](kv, key("feed_forward_length"))
	if err != nil {
		return nil, err
	}
	numLayers, err := ggml.Require[uint32](kv, key("block_count"))
	if err != nil {
		return nil, err
	}
	numHeads, err := ggml.Require[uint32](kv, key("attention.head_count"))
	if err != nil {
		return nil, err
	}
	numKVHeads, err := ggml.Require[uint32](kv, key("attention.head_count_kv"))
	if err != nil {
		return nil, err
	}
	maxSeqLen, err := ggml.Require[uint32](kv, key("context_length"))
	if err != nil {
		return nil, err
	}
	rmsNormEps, err := ggml.Require[float32](kv, key("attention.layer_norm_rms_epsilon"))
	if err != nil {
		return nil, err
	}
	vocabSize, err := ggml.Require[uint32](kv, key("vocab_size"))
	if err != nil {
		return nil, err
	}

	if numHeads == 0 || embeddingDim%numHeads != 0 {
		return nil, fmt.Errorf("%w: embedding_dim %d not divisible by num_heads %d", ErrInvalidHyperparameters, embeddingDim, numHeads)
	}
	if numKVHeads == 0 || numHeads%numKVHeads != 0 {
		return nil, fmt.Errorf("%w: num_heads %d not divisible by num_kv_heads %d", ErrInvalidHyperparameters, numHeads, numKVHeads)
	}

	headDim := embeddingDim / numHeads
	numQueryGroups := numHeads / numKVHeads

	ropeDimCount := kv.Uint(key("rope.dimension_count"), headDim)
	ropeFreqBase := kv.Float(key("rope.freq_base"), 500000)

	scalingType := kv.String(key("rope.scaling.type"), "none")
	switch scalingType {
	case "none", "linear", "yarn":
	default:
		return nil, fmt.Errorf("%w: %q", ggml.ErrUnknownRopeScalingType, scalingType)
	}

	scaling := RopeScaling{
		Type:                  scalingType,
		Factor:                kv.Float(key("rope.scaling.factor"), 1),
		OriginalContextLength: kv.Uint(key("rope.scaling.original_context_length"), maxSeqLen),
		Finetuned:             kv.Bool(key("rope.scaling.finetuned"), false),
		BetaFast:              kv.Float(key("rope.scaling.beta_fast"), 32),
		BetaSlow:              kv.Float(key("rope.scaling.beta_slow"), 1),
	}

	return &Hyperparameters{
		Architecture:      arch,
		EmbeddingDim:      embeddingDim,
		HiddenDim:         hiddenDim,
		NumLayers:         numLayers,
		NumHeads:          numHeads,
		NumKVHeads:        numKVHeads,
		HeadDim:           headDim,
		NumQueryGroups:    numQueryGroups,
		VocabSize:         vocabSize,
		MaxSequenceLength: maxSeqLen,
		RMSNormEps:        rmsNormEps,
		RopeDimCount:      ropeDimCount,
		RopeFreqBase:      ropeFreqBase,
		RopeScaling:       scaling,
	}, nil
}
