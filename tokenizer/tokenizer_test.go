package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llamacore/llamacore/fs/ggml"
)

func testKV(tokens, merges []string, bos, eos uint32) ggml.KV {
	return ggml.KV{
		"tokenizer.ggml.tokens":       toAny(tokens),
		"tokenizer.ggml.merges":       toAny(merges),
		"tokenizer.ggml.bos_token_id": bos,
		"tokenizer.ggml.eos_token_id": eos,
	}
}

func toAny(ss []string) any {
	return ggml.NewStrings(ss)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tokens := []string{"<unk>", "a", "b", "c", "ab", "abc"}
	merges := []string{"a b", "ab c"}
	kv := testKV(tokens, merges, 0, 0)

	tok, err := New(kv)
	require.NoError(t, err)

	ids := tok.Encode("abc")
	want := []int32{0, 5} // BOS(0) is also <unk> here, then "abc" merged fully
	assert.Equal(t, want, ids)

	decoded := tok.Decode(ids[1:])
	assert.Equal(t, "abc", decoded)
}

func TestEncodeUnknownFallback(t *testing.T) {
	tokens := []string{"<unk>", "a"}
	kv := testKV(tokens, nil, 0, 0)

	tok, err := New(kv)
	require.NoError(t, err)

	ids := tok.Encode("z")
	require.Len(t, ids, 2)
	assert.Equal(t, int32(0), ids[1])
}

func TestDecodeSkipsOutOfRangeIDs(t *testing.T) {
	tokens := []string{"a", "b"}
	kv := testKV(tokens, nil, 0, 0)

	tok, err := New(kv)
	require.NoError(t, err)

	got := tok.Decode([]int32{-1, 0, 5, 1})
	assert.Equal(t, "ab", got)
}

func TestMissingVocabulary(t *testing.T) {
	kv := ggml.KV{}
	_, err := New(kv)
	assert.Error(t, err)
}
