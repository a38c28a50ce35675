// Package tokenizer turns text prompts into T5 SentencePiece ids.
package tokenizer

import (
	"errors"
	"fmt"

	gosp "github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
)

// Tokenizer encodes text into token ids.
type Tokenizer interface {
	Encode(text string) ([]int64, error)
}

// ErrEmptyPath is returned when NewSentencePieceTokenizer is called with an empty path.
var ErrEmptyPath = errors.New("tokenizer model path must not be empty")

// T5EOSTokenID is the end-of-sequence id of the T5 spiece.model shipped with
// MusicGen checkpoints.
const T5EOSTokenID int64 = 1

// SentencePieceTokenizer implements Tokenizer using a pure-Go UNIGRAM SentencePiece model.
type SentencePieceTokenizer struct {
	proc gosp.Sentencepiece
	eos  int64
}

// Option configures a SentencePieceTokenizer.
type Option func(*SentencePieceTokenizer)

// WithEOS appends id to every encoded sequence, as the T5 encoder expects.
func WithEOS(id int64) Option {
	return func(t *SentencePieceTokenizer) { t.eos = id }
}

// NewSentencePieceTokenizer loads a SentencePiece model from the given path.
func NewSentencePieceTokenizer(modelPath string, opts ...Option) (*SentencePieceTokenizer, error) {
	if modelPath == "" {
		return nil, ErrEmptyPath
	}

	proc, err := gosp.NewSentencepieceFromFile(modelPath, false)
	if err != nil {
		return nil, fmt.Errorf("load sentencepiece model %q: %w", modelPath, err)
	}

	t := &SentencePieceTokenizer{proc: proc, eos: -1}
	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// NewT5Tokenizer loads a T5 spiece.model and appends the EOS id.
func NewT5Tokenizer(modelPath string) (*SentencePieceTokenizer, error) {
	return NewSentencePieceTokenizer(modelPath, WithEOS(T5EOSTokenID))
}

// Encode tokenizes text and returns SentencePiece token IDs as int64.
// Empty text yields only the EOS id when one is configured.
func (t *SentencePieceTokenizer) Encode(text string) ([]int64, error) {
	var ids []int64
	if text != "" {
		pieces := t.proc.TokenizeToIDs(text)
		ids = make([]int64, 0, len(pieces)+1)
		for _, id := range pieces {
			ids = append(ids, int64(id))
		}
	}

	if t.eos >= 0 {
		ids = append(ids, t.eos)
	}

	if ids == nil {
		ids = []int64{}
	}

	return ids, nil
}
