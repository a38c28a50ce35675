package musicgen

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/example/go-musicgen/internal/onnx"
	"github.com/example/go-musicgen/internal/text"
	"github.com/example/go-musicgen/internal/tokenizer"
)

// embeddingCacheSize bounds the number of prompts kept by a TextEncoder.
const embeddingCacheSize = 32

type encodedPrompt struct {
	hidden *onnx.Tensor
	mask   *onnx.Tensor
}

// TextEncoder turns a prompt into T5 hidden states and an attention mask.
// Results are cached by a hash of the token ids so repeated prompts skip
// the encoder graph.
type TextEncoder struct {
	tok       tokenizer.Tokenizer
	runner    onnx.GraphRunner
	maxTokens int
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[uint64]encodedPrompt
}

func NewTextEncoder(tok tokenizer.Tokenizer, runner onnx.GraphRunner, maxTokens int, logger *slog.Logger) *TextEncoder {
	if logger == nil {
		logger = slog.Default()
	}

	return &TextEncoder{
		tok:       tok,
		runner:    runner,
		maxTokens: maxTokens,
		logger:    logger,
		cache:     make(map[uint64]encodedPrompt),
	}
}

// Encode returns encoder_hidden_states [1, T, D] and encoder_attention_mask
// [1, T] for prompt.
func (e *TextEncoder) Encode(ctx context.Context, prompt string) (hidden, mask *onnx.Tensor, err error) {
	p, err := text.PreparePrompt(prompt, e.tok, e.maxTokens)
	if err != nil {
		return nil, nil, fmt.Errorf("text encoder: %w", err)
	}

	if p.Truncated {
		e.logger.Warn("prompt truncated", "max_tokens", e.maxTokens)
	}

	key := hashTokenIDs(p.TokenIDs)

	e.mu.Lock()
	cached, ok := e.cache[key]
	e.mu.Unlock()

	if ok {
		e.logger.Debug("text embedding cache hit", "tokens", p.NumTokens())
		return cached.hidden, cached.mask, nil
	}

	n := int64(len(p.TokenIDs))

	ids, err := onnx.NewTensor(p.TokenIDs, []int64{1, n})
	if err != nil {
		return nil, nil, fmt.Errorf("text encoder: input_ids: %w", err)
	}

	ones := make([]int64, n)
	for i := range ones {
		ones[i] = 1
	}

	mask, err = onnx.NewTensor(ones, []int64{1, n})
	if err != nil {
		return nil, nil, fmt.Errorf("text encoder: attention_mask: %w", err)
	}

	out, err := e.runner.Run(ctx, map[string]*onnx.Tensor{
		inputTextIDs:  ids,
		inputTextMask: mask,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("text encoder: %w", err)
	}

	hidden, ok = out[outputLastHiddenState]
	if !ok {
		return nil, nil, fmt.Errorf("text encoder: %w: %q", ErrMissingOutput, outputLastHiddenState)
	}

	// The decoder is fed float32 states; half-precision encoders are widened.
	if hidden.DType() == onnx.DTypeFloat16 {
		data, err := onnx.WidenFloat32(hidden)
		if err != nil {
			return nil, nil, fmt.Errorf("text encoder: %w", err)
		}

		hidden, err = onnx.NewTensor(data, hidden.Shape())
		if err != nil {
			return nil, nil, fmt.Errorf("text encoder: %w", err)
		}
	}

	if hidden.DType() != onnx.DTypeFloat32 {
		return nil, nil, fmt.Errorf("text encoder: %w: %s", ErrUnsupportedDType, hidden.DType())
	}

	e.mu.Lock()
	if len(e.cache) >= embeddingCacheSize {
		clear(e.cache)
	}
	e.cache[key] = encodedPrompt{hidden: hidden, mask: mask}
	e.mu.Unlock()

	e.logger.Debug("prompt encoded", "tokens", n, "hidden_shape", hidden.Shape())

	return hidden, mask, nil
}

func hashTokenIDs(ids []int64) uint64 {
	h := xxhash.New()

	var buf [8]byte
	for _, id := range ids {
		binary.LittleEndian.PutUint64(buf[:], uint64(id))
		_, _ = h.Write(buf[:])
	}

	return h.Sum64()
}
