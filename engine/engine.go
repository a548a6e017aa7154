// Package engine implements the per-token forward pass: embedding
// lookup, per-layer attention (with grouped-query repetition and rotary
// position embedding) and SwiGLU feed-forward, residual connections, and
// an incrementally written key/value cache, expressed as a sequence of
// GPU command submissions on one command buffer per token.
package engine

import (
	"fmt"
	"math"

	"github.com/llamacore/llamacore/fs/ggml"
	"github.com/llamacore/llamacore/gpu"
	"github.com/llamacore/llamacore/kvcache"
	"github.com/llamacore/llamacore/model"
)

// Engine owns a model record, a command queue, and the KV cache that
// survives across forward passes. It is single-writer: only one Forward
// call should be in flight at a time.
type Engine struct {
	model  *model.Model
	device *gpu.Device
	cache  *kvcache.Cache
}

// New constructs an Engine over an assembled model, allocating the KV
// cache sized to the model's hyperparameters.
func New(m *model.Model, device *gpu.Device) (*Engine, error) {
	hp := m.Hyperparameters
	cache, err := kvcache.New(device, hp.NumLayers, hp.MaxSequenceLength, hp.NumKVHeads, hp.HeadDim)
	if err != nil {
		return nil, err
	}
	return &Engine{model: m, device: device, cache: cache}, nil
}

// Reset rewinds the position counter to zero without clearing cache
// contents.
func (e *Engine) Reset() { e.cache.Reset() }

// CurrentPosition is the position the next Forward call will write to.
func (e *Engine) CurrentPosition() uint32 { return e.cache.CurrentPosition() }

// Forward runs one token through the model, writing this step's K/V into
// the cache and returning an F32 logits buffer of length vocab_size. On
// any failure the position is left unchanged and the caller may retry;
// the returned buffer is owned by the caller, who must Release it.
func (e *Engine) Forward(token int32) (*gpu.Buffer, error) {
	hp := e.model.Hyperparameters

	if token < 0 || uint32(token) >= hp.VocabSize {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrTokenOutOfRange, token, hp.VocabSize)
	}
	if err := e.cache.CheckCapacity(); err != nil {
		return nil, err
	}

	position := e.cache.CurrentPosition()

	cb, err := e.device.NewCommandBuffer()
	if err != nil {
		return nil, err
	}
	defer cb.Close()

	scratch := newPool(e.device)
	defer scratch.release()

	logits, err := e.runLayers(cb, scratch, token, position)
	if err != nil {
		return nil, err
	}

	cb.Commit()
	if err := cb.Wait(); err != nil {
		logits.Release()
		return nil, fmt.Errorf("engine: forward pass at position %d: %w", position, err)
	}

	e.cache.Advance()
	return logits, nil
}

func (e *Engine) runLayers(cb *gpu.CommandBuffer, scratch *pool, token int32, position uint32) (*gpu.Buffer, error) {
	hp := e.model.Hyperparameters

	// Activations are always F16: every primitive except matmul is
	// specified over F16 buffers (see spec.md's primitive contract table),
	// and matmul tolerates F16 activations against F16/F32 weights.
	hiddenState, err := scratch.alloc(ggml.ElementTypeF16, uint64(hp.EmbeddingDim), "hidden-state")
	if err != nil {
		return nil, err
	}

	embeddingRow := e.model.TokenEmbeddings.View(uint64(token)*uint64(hp.EmbeddingDim), uint64(hp.EmbeddingDim))
	if err := gpu.Copy(cb, embeddingRow, hiddenState, hp.EmbeddingDim, "embed-lookup"); err != nil {
		return nil, err
	}

	for l, layer := range e.model.Layers {
		if err := e.runLayer(cb, scratch, hiddenState, layer, uint32(l), position); err != nil {
			return nil, fmt.Errorf("engine: layer %d: %w", l, err)
		}
	}

	finalNorm, err := scratch.alloc(ggml.ElementTypeF16, uint64(hp.EmbeddingDim), "final-norm")
	if err != nil {
		return nil, err
	}
	if err := gpu.RMSNorm(cb, hiddenState, e.model.FinalNormWeight, finalNorm, 1, hp.EmbeddingDim, hp.RMSNormEps, "final-norm"); err != nil {
		return nil, err
	}

	logits, err := e.device.AllocateWithFallback(ggml.ElementTypeF32, uint64(hp.VocabSize), gpu.StorageHostShared, "logits")
	if err != nil {
		return nil, fmt.Errorf("engine: allocating logits: %w", err)
	}
	if err := gpu.MatMul(cb, finalNorm, e.model.OutputProjectionWeight, logits,
		1, hp.EmbeddingDim, hp.VocabSize, hp.EmbeddingDim, false, true, 1, 0, "output-projection"); err != nil {
		logits.Release()
		return nil, err
	}

	return logits, nil
}

func (e *Engine) runLayer(cb *gpu.CommandBuffer, scratch *pool, hiddenState *gpu.Buffer, layer model.TransformerBlock, l, position uint32) error {
	hp := e.model.Hyperparameters
	ct := ggml.ElementTypeF16

	residual1, err := scratch.alloc(ct, uint64(hp.EmbeddingDim), "residual-1")
	if err != nil {
		return err
	}
	if err := gpu.Copy(cb, hiddenState, residual1, hp.EmbeddingDim, "save-residual-1"); err != nil {
		return err
	}

	norm1, err := scratch.alloc(ct, uint64(hp.EmbeddingDim), "attn-norm")
	if err != nil {
		return err
	}
	if err := gpu.RMSNorm(cb, hiddenState, layer.AttentionNormWeight, norm1, 1, hp.EmbeddingDim, hp.RMSNormEps, "attn-norm"); err != nil {
		return err
	}

	q, err := scratch.alloc(ct, uint64(hp.EmbeddingDim), "q")
	if err != nil {
		return err
	}
	kvLen := uint64(hp.NumKVHeads) * uint64(hp.HeadDim)
	k, err := scratch.alloc(ct, kvLen, "k")
	if err != nil {
		return err
	}
	v, err := scratch.alloc(ct, kvLen, "v")
	if err != nil {
		return err
	}

	if err := gpu.MatMul(cb, norm1, layer.AttentionQ, q, 1, hp.EmbeddingDim, hp.EmbeddingDim, hp.EmbeddingDim, false, true, 1, 0, "attn-q-proj"); err != nil {
		return err
	}
	if err := gpu.MatMul(cb, norm1, layer.AttentionK, k, 1, hp.EmbeddingDim, uint32(kvLen), hp.EmbeddingDim, false, true, 1, 0, "attn-k-proj"); err != nil {
		return err
	}
	if err := gpu.MatMul(cb, norm1, layer.AttentionV, v, 1, hp.EmbeddingDim, uint32(kvLen), hp.EmbeddingDim, false, true, 1, 0, "attn-v-proj"); err != nil {
		return err
	}

	ropeParams := ropeParamsFor(hp)
	if err := gpu.RoPE(cb, q, e.model.RopeFrequencies, ropeParams, position, 1, hp.NumHeads, hp.HeadDim, "rope-q"); err != nil {
		return err
	}
	if err := gpu.RoPE(cb, k, e.model.RopeFrequencies, ropeParams, position, 1, hp.NumKVHeads, hp.HeadDim, "rope-k"); err != nil {
		return err
	}

	kSlot, vSlot := e.cache.LayerSlot(l, position)
	if err := gpu.Copy(cb, k, kSlot, uint32(kvLen), "kv-write-k"); err != nil {
		return err
	}
	if err := gpu.Copy(cb, v, vSlot, uint32(kvLen), "kv-write-v"); err != nil {
		return err
	}

	attnOutput, err := scratch.alloc(ct, uint64(hp.EmbeddingDim), "attn-output")
	if err != nil {
		return err
	}
	if err := e.attend(cb, scratch, layer, q, l, position, attnOutput); err != nil {
		return err
	}

	attnProj, err := scratch.alloc(ct, uint64(hp.EmbeddingDim), "attn-proj")
	if err != nil {
		return err
	}
	if err := gpu.MatMul(cb, attnOutput, layer.AttentionOutput, attnProj, 1, hp.EmbeddingDim, hp.EmbeddingDim, hp.EmbeddingDim, false, true, 1, 0, "attn-out-proj"); err != nil {
		return err
	}
	if err := gpu.ElemAdd(cb, residual1, attnProj, hiddenState, hp.EmbeddingDim, "attn-residual-add"); err != nil {
		return err
	}

	residual2, err := scratch.alloc(ct, uint64(hp.EmbeddingDim), "residual-2")
	if err != nil {
		return err
	}
	if err := gpu.Copy(cb, hiddenState, residual2, hp.EmbeddingDim, "save-residual-2"); err != nil {
		return err
	}

	norm2, err := scratch.alloc(ct, uint64(hp.EmbeddingDim), "ffn-norm")
	if err != nil {
		return err
	}
	if err := gpu.RMSNorm(cb, hiddenState, layer.FFNNormWeight, norm2, 1, hp.EmbeddingDim, hp.RMSNormEps, "ffn-norm"); err != nil {
		return err
	}

	gate, err := scratch.alloc(ct, uint64(hp.HiddenDim), "ffn-gate")
	if err != nil {
		return err
	}
	up, err := scratch.alloc(ct, uint64(hp.HiddenDim), "ffn-up")
	if err != nil {
		return err
	}
	if err := gpu.MatMul(cb, norm2, layer.FFNGate, gate, 1, hp.EmbeddingDim, hp.HiddenDim, hp.EmbeddingDim, false, true, 1, 0, "ffn-gate-proj"); err != nil {
		return err
	}
	if err := gpu.MatMul(cb, norm2, layer.FFNUp, up, 1, hp.EmbeddingDim, hp.HiddenDim, hp.EmbeddingDim, false, true, 1, 0, "ffn-up-proj"); err != nil {
		return err
	}
	if err := gpu.SiLU(cb, gate, gate, hp.HiddenDim, "ffn-silu"); err != nil {
		return err
	}
	if err := gpu.ElemMul(cb, gate, up, up, hp.HiddenDim, "ffn-gate-mul"); err != nil {
		return err
	}

	ffnDown, err := scratch.alloc(ct, uint64(hp.EmbeddingDim), "ffn-down")
	if err != nil {
		return err
	}
	if err := gpu.MatMul(cb, up, layer.FFNDown, ffnDown, 1, hp.HiddenDim, hp.EmbeddingDim, hp.HiddenDim, false, true, 1, 0, "ffn-down-proj"); err != nil {
		return err
	}
	return gpu.ElemAdd(cb, residual2, ffnDown, hiddenState, hp.EmbeddingDim, "ffn-residual-add")
}

// attend computes causal self-attention for the current position: scores
// against every cached position up to and including this one, softmax,
// and a value-weighted sum, per head, writing directly into out.
func (e *Engine) attend(cb *gpu.CommandBuffer, scratch *pool, layer model.TransformerBlock, q *gpu.Buffer, l, position uint32, out *gpu.Buffer) error {
	hp := e.model.Hyperparameters
	seqLen := position + 1

	kHist, vHist := e.cache.LayerHistory(l, seqLen)

	kRep, err := scratch.alloc(kHist.Type, uint64(seqLen)*uint64(hp.NumHeads)*uint64(hp.HeadDim), "k-repeated")
	if err != nil {
		return err
	}
	vRep, err := scratch.alloc(vHist.Type, uint64(seqLen)*uint64(hp.NumHeads)*uint64(hp.HeadDim), "v-repeated")
	if err != nil {
		return err
	}
	if err := gpu.RepeatKV(cb, kHist, kRep, hp.NumKVHeads, hp.NumQueryGroups, hp.HeadDim, seqLen, "repeat-k"); err != nil {
		return err
	}
	if err := gpu.RepeatKV(cb, vHist, vRep, hp.NumKVHeads, hp.NumQueryGroups, hp.HeadDim, seqLen, "repeat-v"); err != nil {
		return err
	}

	scores, err := scratch.alloc(q.Type, uint64(hp.NumHeads)*uint64(seqLen), "scores")
	if err != nil {
		return err
	}

	scale := float32(1 / math.Sqrt(float64(hp.HeadDim)))

	for h := uint32(0); h < hp.NumHeads; h++ {
		qh := q.View(uint64(h)*uint64(hp.HeadDim), uint64(hp.HeadDim))
		kh, err := gatherHead(cb, scratch, kRep, h, hp.NumHeads, hp.HeadDim, seqLen, fmt.Sprintf("gather-k-head%d", h))
		if err != nil {
			return err
		}
		scoresRow := scores.View(uint64(h)*uint64(seqLen), uint64(seqLen))
		if err := gpu.MatMul(cb, qh, kh, scoresRow, 1, hp.HeadDim, seqLen, hp.HeadDim, false, true, scale, 0, fmt.Sprintf("attn-scores-head%d", h)); err != nil {
			return err
		}
	}

	if err := gpu.SoftmaxRowwise(cb, scores, scores, hp.NumHeads, seqLen, "attn-softmax"); err != nil {
		return err
	}

	for h := uint32(0); h < hp.NumHeads; h++ {
		vh, err := gatherHead(cb, scratch, vRep, h, hp.NumHeads, hp.HeadDim, seqLen, fmt.Sprintf("gather-v-head%d", h))
		if err != nil {
			return err
		}
		scoresRow := scores.View(uint64(h)*uint64(seqLen), uint64(seqLen))
		outHead := out.View(uint64(h)*uint64(hp.HeadDim), uint64(hp.HeadDim))
		if err := gpu.MatMul(cb, scoresRow, vh, outHead, 1, seqLen, seqLen, hp.HeadDim, false, false, 1, 0, fmt.Sprintf("attn-output-head%d", h)); err != nil {
			return err
		}
	}

	return nil
}

func ropeParamsFor(hp *model.Hyperparameters) gpu.RopeParams {
	t := gpu.RopeScalingNone
	switch hp.RopeScaling.Type {
	case "linear":
		t = gpu.RopeScalingLinear
	case "yarn":
		t = gpu.RopeScalingYarn
	}
	return gpu.RopeParams{
		Type:                  t,
		DimCount:              hp.RopeDimCount,
		FreqBase:              hp.RopeFreqBase,
		Factor:                hp.RopeScaling.Factor,
		OriginalContextLength: hp.RopeScaling.OriginalContextLength,
		BetaFast:              hp.RopeScaling.BetaFast,
		BetaSlow:              hp.RopeScaling.BetaSlow,
	}
}

// Release frees the KV cache. The engine must not be used afterward.
func (e *Engine) Release() { e.cache.Release() }
