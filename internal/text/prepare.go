package text

import (
	"fmt"
)

// Tokenizer is the minimal interface required by PreparePrompt.
// It is satisfied by tokenizer.Tokenizer from the tokenizer package.
type Tokenizer interface {
	Encode(text string) ([]int64, error)
}

// Prompt holds a normalized prompt and its token ids.
type Prompt struct {
	Text      string  // normalized prompt text
	TokenIDs  []int64 // SentencePiece token IDs, EOS included when the tokenizer appends one
	Truncated bool    // true when TokenIDs was cut to maxTokens
}

// NumTokens returns len(TokenIDs).
func (p Prompt) NumTokens() int {
	return len(p.TokenIDs)
}

// PreparePrompt normalizes input and tokenizes it. When maxTokens > 0 and the
// prompt is longer, the ids are cut to maxTokens keeping the final id, so a
// trailing EOS survives truncation.
func PreparePrompt(input string, tok Tokenizer, maxTokens int) (Prompt, error) {
	s, err := NormalizePrompt(input)
	if err != nil {
		return Prompt{}, err
	}

	ids, err := tok.Encode(s)
	if err != nil {
		return Prompt{}, fmt.Errorf("encode prompt %q: %w", s, err)
	}

	if len(ids) == 0 {
		return Prompt{}, fmt.Errorf("encode prompt %q: %w", s, ErrEmptyText)
	}

	p := Prompt{Text: s, TokenIDs: ids}
	if maxTokens > 0 && len(ids) > maxTokens {
		last := ids[len(ids)-1]
		p.TokenIDs = append(ids[:maxTokens-1:maxTokens-1], last)
		p.Truncated = true
	}

	return p, nil
}
