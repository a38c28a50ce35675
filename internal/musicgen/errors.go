package musicgen

import "errors"

// ErrContract matches every error that signals a broken invariant between
// the decode loop and the graphs it drives. Runs abort on these.
var ErrContract = errors.New("musicgen: contract violation")

type contractError struct {
	msg string
}

func (e *contractError) Error() string { return e.msg }

func (e *contractError) Is(target error) bool { return target == ErrContract }

var (
	// ErrTokenArity is returned when a push does not carry one token per codebook.
	ErrTokenArity error = &contractError{"token count does not match codebook count"}
	// ErrMissingOutput is returned when a graph output is absent or was already taken.
	ErrMissingOutput error = &contractError{"graph output missing or already taken"}
	// ErrLogitsShape is returned when logits are not [batch, seq, vocab].
	ErrLogitsShape error = &contractError{"logits must be rank 3 [batch, seq, vocab]"}
	// ErrTokenShape is returned when a token stream is not a whole number of frames.
	ErrTokenShape error = &contractError{"token count is not a multiple of the codebook count"}
	// ErrUnsupportedDType is returned when a graph output has an unexpected element type.
	ErrUnsupportedDType error = &contractError{"unsupported output element type"}
	// ErrCacheShape is returned when a present tensor does not extend the cached one.
	ErrCacheShape error = &contractError{"kv cache tensor shape changed unexpectedly"}
)

var (
	ErrInvalidCodebooks = errors.New("musicgen: codebook count must be positive")
	ErrInvalidLayers    = errors.New("musicgen: decoder layer count must be positive")
	ErrEmptyPrompt      = errors.New("musicgen: prompt is empty")
)
