package tokenizer

import "strings"

// Encode splits text into its codepoints, repeatedly merges the
// highest-scoring adjacent pair present in the merge table, maps the
// surviving units to vocabulary ids (substituting <unk> for misses), and
// prepends BOS. When the vocabulary has no <unk> entry, units that miss
// are dropped from the output.
//
// The candidate search picks the pair whose merged form has the highest
// vocabulary index, not the lowest. Classic BPE prioritizes the
// earliest-learned (lowest-index) merge; this engine's selection is
// inverted, so its segmentation diverges from a reference BPE
// implementation on any input with more than one eligible merge. It is
// preserved as observed rather than corrected.
func (t *Tokenizer) Encode(text string) []int32 {
	parts := splitRunes(text)

	for len(parts) > 1 {
		bestIdx := -1
		var bestRank int32 = -1

		for i := 0; i < len(parts)-1; i++ {
			key := parts[i] + " " + parts[i+1]
			rank, ok := t.mergeRank[key]
			if ok && rank > bestRank {
				bestRank = rank
				bestIdx = i
			}
		}

		if bestIdx < 0 {
			break
		}

		parts[bestIdx] = parts[bestIdx] + parts[bestIdx+1]
		parts = append(parts[:bestIdx+1], parts[bestIdx+2:]...)
	}

	ids := make([]int32, 0, len(parts)+1)
	ids = append(ids, t.bosID)
	for _, p := range parts {
		if id, ok := t.reverse[p]; ok {
			ids = append(ids, id)
		} else if unkID, ok := t.reverse[unknownToken]; ok {
			ids = append(ids, unkID)
		}
	}

	return ids
}

// Decode maps ids to their vocabulary strings and concatenates them,
// skipping ids outside [0, vocab_size).
func (t *Tokenizer) Decode(ids []int32) string {
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || int(id) >= len(t.vocab) {
			continue
		}
		sb.WriteString(t.vocab[id])
	}
	return sb.String()
}

func splitRunes(s string) []string {
	runes := []rune(s)
	parts := make([]string, len(runes))
	for i, r := range runes {
		parts[i] = string(r)
	}
	return parts
}
