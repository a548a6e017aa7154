package tokenizer

import "errors"

var (
	ErrMissingVocabulary = errors.New("tokenizer: container carries no vocabulary")
	ErrVocabSizeMismatch = errors.New("tokenizer: vocab_size metadata disagrees with vocabulary length")
)
