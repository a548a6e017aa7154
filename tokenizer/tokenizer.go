// Package tokenizer implements byte-pair-encoding tokenization sourced
// entirely from a container's own metadata: vocabulary, merge table, and
// the special token ids, with no external vocabulary files.
package tokenizer

import (
	"fmt"
	"strings"

	"github.com/llamacore/llamacore/fs/ggml"
)

const unknownToken = "<unk>"

// Tokenizer holds the vocabulary, merge ranks, and special token ids
// resolved from a container's tokenizer.ggml.* metadata. Immutable after
// construction.
type Tokenizer struct {
	vocab   []string
	reverse map[string]int32

	// mergeRank maps "left right" (space-joined, the pair as it appears
	// mid-merge) to the vocabulary index of the merged token.
	mergeRank map[string]int32

	bosID int32
	eosID int32
}

// New resolves a Tokenizer from kv's tokenizer.ggml.* keys.
func New(kv ggml.KV) (*Tokenizer, error) {
	vocab := kv.Strings("tokenizer.ggml.tokens")
	if len(vocab) == 0 {
		return nil, ErrMissingVocabulary
	}

	if vocabSize := kv.Uint("tokenizer.ggml.vocab_size", uint32(len(vocab))); int(vocabSize) != len(vocab) {
		return nil, fmt.Errorf("%w: metadata says %d, vocabulary has %d entries", ErrVocabSizeMismatch, vocabSize, len(vocab))
	}

	reverse := make(map[string]int32, len(vocab))
	for id, tok := range vocab {
		reverse[tok] = int32(id)
	}

	mergeRank := make(map[string]int32)
	for _, m := range kv.Strings("tokenizer.ggml.merges") {
		left, right, ok := strings.Cut(m, " ")
		if !ok {
			continue
		}
		merged := left + right
		if id, ok := reverse[merged]; ok {
			mergeRank[left+" "+right] = id
		}
	}

	bos := int32(kv.Uint("tokenizer.ggml.bos_token_id", 1))
	eos := int32(kv.Uint("tokenizer.ggml.eos_token_id", 2))

	return &Tokenizer{
		vocab:     vocab,
		reverse:   reverse,
		mergeRank: mergeRank,
		bosID:     bos,
		eosID:     eos,
	}, nil
}

// VocabSize is the number of entries in the vocabulary.
func (t *Tokenizer) VocabSize() int { return len(t.vocab) }

// BOS and EOS are the resolved special token ids.
func (t *Tokenizer) BOS() int32 { return t.bosID }
func (t *Tokenizer) EOS() int32 { return t.eosID }
