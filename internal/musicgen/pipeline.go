package musicgen

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/go-musicgen/internal/onnx"
	"github.com/example/go-musicgen/internal/tokenizer"
)

// Pipeline wires the text encoder, decoder and audio codec of one model.
type Pipeline struct {
	Config  ModelConfig
	Encoder *TextEncoder
	Decoder *Decoder
	Codec   *AudioCodec
}

// NewPipeline looks up the three MusicGen graphs in engine.
func NewPipeline(engine *onnx.Engine, tok tokenizer.Tokenizer, cfg ModelConfig, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	textRunner, err := engine.Runner(GraphTextEncoder)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	decRunner, err := engine.Runner(GraphDecoder)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	codecRunner, err := engine.Runner(GraphAudioCodec)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	dec, err := NewDecoder(decRunner, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	codec, err := NewAudioCodec(codecRunner, cfg.Codebooks)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &Pipeline{
		Config:  cfg,
		Encoder: NewTextEncoder(tok, textRunner, cfg.MaxTextTokens, logger),
		Decoder: dec,
		Codec:   codec,
	}, nil
}

// Generate encodes prompt, runs the decoder and decodes the frames to PCM at
// Config.SampleRate. A canceled run still decodes the frames produced so far
// and returns them with the context error.
func (p *Pipeline) Generate(ctx context.Context, prompt string, opts GenerateOptions) ([]float32, *Result, error) {
	hidden, mask, err := p.Encoder.Encode(ctx, prompt)
	if err != nil {
		return nil, nil, err
	}

	res, genErr := p.Decoder.Generate(ctx, hidden, mask, opts)
	if res == nil {
		return nil, nil, genErr
	}

	// The codec graph must still run after a cancel, so it gets a live context.
	codecCtx := ctx
	if genErr != nil {
		codecCtx = context.WithoutCancel(ctx)
	}

	pcm, err := p.Codec.Decode(codecCtx, res.Frames)
	if err != nil {
		return nil, res, err
	}

	return pcm, res, genErr
}
