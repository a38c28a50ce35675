package musicgen

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/go-musicgen/internal/onnx"
)

// AudioCodec turns de-delayed token frames into PCM with the EnCodec
// decoder graph.
type AudioCodec struct {
	runner    onnx.GraphRunner
	codebooks int
}

func NewAudioCodec(runner onnx.GraphRunner, codebooks int) (*AudioCodec, error) {
	if runner == nil {
		return nil, errors.New("audio codec: runner is required")
	}

	if codebooks <= 0 {
		return nil, fmt.Errorf("audio codec: %w: got %d", ErrInvalidCodebooks, codebooks)
	}

	return &AudioCodec{runner: runner, codebooks: codebooks}, nil
}

// Decode flattens frames, reshapes the S tokens from [S/N, N] to
// [1, 1, N, S/N] and returns the decoded mono samples. Empty input returns
// empty output without running the graph.
func (c *AudioCodec) Decode(ctx context.Context, frames [][]int64) ([]float32, error) {
	var total int
	for _, f := range frames {
		total += len(f)
	}

	if total == 0 {
		return []float32{}, nil
	}

	if total%c.codebooks != 0 {
		return nil, fmt.Errorf("audio codec: %w: %d tokens for %d codebooks", ErrTokenShape, total, c.codebooks)
	}

	flat := make([]int64, 0, total)
	for _, f := range frames {
		flat = append(flat, f...)
	}

	codes, err := codesTensor(flat, c.codebooks)
	if err != nil {
		return nil, fmt.Errorf("audio codec: %w", err)
	}

	out, err := c.runner.Run(ctx, map[string]*onnx.Tensor{inputAudioCodes: codes})
	if err != nil {
		return nil, fmt.Errorf("audio codec: %w", err)
	}

	values, ok := out[outputAudioValues]
	if !ok || values == nil {
		return nil, fmt.Errorf("audio codec: %w: %q", ErrMissingOutput, outputAudioValues)
	}

	switch values.DType() {
	case onnx.DTypeFloat32, onnx.DTypeFloat16:
		pcm, err := onnx.WidenFloat32(values)
		if err != nil {
			return nil, fmt.Errorf("audio codec: %w", err)
		}

		return pcm, nil
	default:
		return nil, fmt.Errorf("audio codec: %w: %s", ErrUnsupportedDType, values.DType())
	}
}

// codesTensor transposes time-major tokens [S/N, N] into the codec layout
// [1, 1, N, S/N].
func codesTensor(flat []int64, codebooks int) (*onnx.Tensor, error) {
	frames := len(flat) / codebooks

	codes := make([]int64, len(flat))
	for t := range frames {
		for k := range codebooks {
			codes[k*frames+t] = flat[t*codebooks+k]
		}
	}

	return onnx.NewTensor(codes, []int64{1, 1, int64(codebooks), int64(frames)})
}
