package musicgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/example/go-musicgen/internal/onnx"
)

// RunState tracks where a Decoder is in a generation run.
type RunState int

const (
	StateStart RunState = iota
	StateFirstStep
	StateCached
	StateTerminated
)

func (s RunState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateFirstStep:
		return "first-step"
	case StateCached:
		return "stepping-with-cache"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// StopReason says why a run ended.
type StopReason int

const (
	StopMaxTokens StopReason = iota
	StopEndToken
	StopCanceled
)

func (r StopReason) String() string {
	switch r {
	case StopMaxTokens:
		return "max-tokens"
	case StopEndToken:
		return "end-token"
	case StopCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// GenerateOptions controls one decode run.
type GenerateOptions struct {
	MaxTokens     int     // decoder steps; must be positive
	EndToken      int64   // stop when every codebook samples it; negative disables
	GuidanceScale float64 // classifier-free guidance; <= 1 disables
	Temperature   float64 // <= 0 selects greedy decoding
	TopK          int     // <= 0 keeps the full vocabulary
	Seed          uint64

	// OnFrame receives each de-delayed frame as soon as it is complete.
	OnFrame func(frame []int64)
	// OnStep is called after every decoder step with the step count so far.
	OnStep func(step, maxTokens int)
}

// Result is the outcome of a decode run.
type Result struct {
	RunID  string
	Frames [][]int64
	Steps  int
	Reason StopReason
}

// Decoder drives the merged MusicGen decoder graph autoregressively. A
// Decoder runs one generation at a time.
type Decoder struct {
	runner onnx.GraphRunner
	cfg    ModelConfig
	logger *slog.Logger

	mu    sync.Mutex
	state RunState
	cache *KVCache
}

func NewDecoder(runner onnx.GraphRunner, cfg ModelConfig, logger *slog.Logger) (*Decoder, error) {
	if runner == nil {
		return nil, errors.New("decoder: runner is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}

	cache, err := NewKVCache(cfg.Layers)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Decoder{
		runner: runner,
		cfg:    cfg,
		logger: logger,
		state:  StateStart,
		cache:  cache,
	}, nil
}

// State returns the state of the current or last run.
func (d *Decoder) State() RunState {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

func (d *Decoder) setState(s RunState) {
	d.state = s
}

// Generate samples tokens until MaxTokens steps, an all-codebook end token,
// or ctx cancellation. hidden and mask are the text encoder outputs for a
// single prompt. On cancellation the partial result is returned with the
// context error. The KV cache is dropped whenever a run ends.
func (d *Decoder) Generate(ctx context.Context, hidden, mask *onnx.Tensor, opts GenerateOptions) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if opts.MaxTokens <= 0 {
		return nil, fmt.Errorf("decoder: max tokens must be positive, got %d", opts.MaxTokens)
	}

	if hidden == nil || mask == nil {
		return nil, errors.New("decoder: encoder hidden states and mask are required")
	}

	n := d.cfg.Codebooks
	res := &Result{RunID: uuid.NewString(), Reason: StopMaxTokens}
	log := d.logger.With("run_id", res.RunID)

	d.cache.Reset()
	d.setState(StateStart)

	defer func() {
		d.cache.Reset()
		d.setState(StateTerminated)
	}()

	pattern, err := NewDelayPattern(n)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}

	batch := 1
	scale := float32(opts.GuidanceScale)
	if opts.GuidanceScale > 1 {
		batch = 2

		hidden, mask, err = withUnconditional(hidden, mask)
		if err != nil {
			return nil, fmt.Errorf("decoder: guidance batch: %w", err)
		}
	}

	inputs := NewStepInputs()
	inputs.SetEncoderHiddenStates(hidden)
	inputs.SetEncoderAttentionMask(mask)
	if err := inputs.SetUseCacheBranch(false); err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}

	sampler := NewSampler(opts.Seed, opts.Temperature, opts.TopK)
	ids := make([]int64, 0, batch*n)
	sampled := make([]int64, n)

	log.Info("generation started",
		"max_tokens", opts.MaxTokens,
		"codebooks", n,
		"guidance_scale", opts.GuidanceScale,
		"temperature", opts.Temperature,
		"top_k", opts.TopK,
	)

	d.setState(StateFirstStep)

	for step := range opts.MaxTokens {
		if err := ctx.Err(); err != nil {
			res.Reason = StopCanceled
			log.Info("generation canceled", "steps", res.Steps)
			return res, err
		}

		ids = pattern.AppendLastDelayedMasked(ids[:0], d.cfg.PadTokenID)
		for range batch - 1 {
			ids = append(ids, ids[:n]...)
		}

		inputIDs, err := onnx.NewTensor(ids, []int64{int64(batch * n), 1})
		if err != nil {
			return nil, fmt.Errorf("decoder step %d: input_ids: %w", step, err)
		}
		inputs.SetInputIDs(inputIDs)

		raw, err := d.runner.Run(ctx, inputs.Map())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				res.Reason = StopCanceled
				log.Info("generation canceled", "steps", res.Steps)
				return res, ctxErr
			}

			return nil, fmt.Errorf("decoder step %d: %w", step, err)
		}

		out := NewStepOutputs(raw)

		logits, err := out.TakeLogits()
		if err != nil {
			return nil, fmt.Errorf("decoder step %d: %w", step, err)
		}

		if logits.Batch() != batch*n {
			return nil, fmt.Errorf("decoder step %d: %w: batch %d, want %d", step, ErrLogitsShape, logits.Batch(), batch*n)
		}

		if batch == 2 {
			logits, err = logits.Guided(n, scale)
			if err != nil {
				return nil, fmt.Errorf("decoder step %d: %w", step, err)
			}
		}

		if err := d.cache.Update(out); err != nil {
			return nil, fmt.Errorf("decoder step %d: %w", step, err)
		}

		if step == 0 {
			inputs.RemoveEncoderHiddenStates()
			if err := inputs.SetUseCacheBranch(true); err != nil {
				return nil, fmt.Errorf("decoder: %w", err)
			}

			d.setState(StateCached)
		}

		d.cache.Bind(inputs)

		allEnd := opts.EndToken >= 0
		for k := range n {
			sampled[k] = sampler.Sample(logits.Last(k))
			allEnd = allEnd && sampled[k] == opts.EndToken
		}

		if err := pattern.Push(sampled...); err != nil {
			return nil, fmt.Errorf("decoder step %d: %w", step, err)
		}

		res.Steps = step + 1

		if frame, ok := pattern.LastDeDelayed(); ok {
			res.Frames = append(res.Frames, frame)
			if opts.OnFrame != nil {
				opts.OnFrame(frame)
			}
		}

		if opts.OnStep != nil {
			opts.OnStep(res.Steps, opts.MaxTokens)
		}

		log.Debug("decoder step", "step", step, "tokens", sampled)

		if allEnd {
			res.Reason = StopEndToken
			break
		}
	}

	log.Info("generation complete", "steps", res.Steps, "frames", len(res.Frames), "reason", res.Reason.String())

	return res, nil
}

// withUnconditional appends an all-zero prompt to the batch for
// classifier-free guidance.
func withUnconditional(hidden, mask *onnx.Tensor) (*onnx.Tensor, *onnx.Tensor, error) {
	zeroHidden, err := onnx.ZerosLike(hidden)
	if err != nil {
		return nil, nil, err
	}

	zeroMask, err := onnx.ZerosLike(mask)
	if err != nil {
		return nil, nil, err
	}

	hidden, err = onnx.ConcatTensorsDim0(hidden, zeroHidden)
	if err != nil {
		return nil, nil, err
	}

	mask, err = onnx.ConcatTensorsDim0(mask, zeroMask)
	if err != nil {
		return nil, nil, err
	}

	return hidden, mask, nil
}
