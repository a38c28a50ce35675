package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"github.com/example/go-musicgen/internal/audio"
	"github.com/example/go-musicgen/internal/config"
	"github.com/example/go-musicgen/internal/musicgen"
	"github.com/example/go-musicgen/internal/onnx"
	"github.com/example/go-musicgen/internal/tokenizer"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// generator is the part of musicgen.Pipeline the command drives.
type generator interface {
	Generate(ctx context.Context, prompt string, opts musicgen.GenerateOptions) ([]float32, *musicgen.Result, error)
}

// newGenerator loads the model graphs. Tests replace it with a fake.
var newGenerator = loadPipeline

func loadPipeline(cfg config.Config, modelCfg musicgen.ModelConfig) (generator, func(), error) {
	fp16 := cfg.Generate.Model == config.ModelSmallFP16

	sm, err := onnx.NewSessionManager(cfg.Paths.ModelDir, musicgen.DefaultGraphs(fp16))
	if err != nil {
		return nil, nil, err
	}

	engine, err := onnx.NewEngine(cfg.Runtime, sm)
	if err != nil {
		return nil, nil, err
	}

	tok, err := tokenizer.NewT5Tokenizer(filepath.Join(cfg.Paths.ModelDir, musicgen.TokenizerFile))
	if err != nil {
		engine.Close()
		return nil, nil, err
	}

	p, err := musicgen.NewPipeline(engine, tok, modelCfg, slog.Default())
	if err != nil {
		engine.Close()
		return nil, nil, err
	}

	return p, engine.Close, nil
}

func newGenerateCmd() *cobra.Command {
	var prompt string
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate music from a text prompt",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				prompt = args[0]
			}

			input, err := readPrompt(prompt, cmd.InOrStdin())
			if err != nil {
				return err
			}

			return runGenerate(cmd.Context(), cfg, input, generateIO{
				Stdout:   cmd.OutOrStdout(),
				Progress: progressWriter(cmd.ErrOrStderr(), noProgress),
			})
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Text prompt (if empty, read from stdin)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")

	return cmd
}

type generateIO struct {
	Stdout   io.Writer
	Progress io.Writer // nil disables the progress bar
}

func progressWriter(w io.Writer, disabled bool) io.Writer {
	if disabled {
		return nil
	}

	return w
}

func runGenerate(ctx context.Context, cfg config.Config, prompt string, gio generateIO) error {
	modelCfg, err := musicgen.LoadModelConfig(cfg.Paths.ModelDir)
	if err != nil {
		return err
	}

	format, err := outputFormat(cfg.Audio, modelCfg)
	if err != nil {
		return err
	}

	steps := generateSteps(cfg.Generate, modelCfg)
	if steps <= 0 {
		return fmt.Errorf("nothing to generate: secs=%d max_tokens=%d", cfg.Generate.Secs, cfg.Generate.MaxTokens)
	}

	gen, closeGen, err := newGenerator(cfg, modelCfg)
	if err != nil {
		return err
	}
	defer closeGen()

	seed := resolveSeed(cfg.Generate.Seed)
	opts := musicgen.GenerateOptions{
		MaxTokens:     steps,
		EndToken:      cfg.Generate.EndToken,
		GuidanceScale: cfg.Generate.GuidanceScale,
		Temperature:   cfg.Generate.Temperature,
		TopK:          cfg.Generate.TopK,
		Seed:          seed,
	}

	var bar *progressbar.ProgressBar
	if gio.Progress != nil {
		bar = progressbar.NewOptions(steps,
			progressbar.OptionSetWriter(gio.Progress),
			progressbar.OptionSetDescription("Generating"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("tok"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
		opts.OnStep = func(step, _ int) { _ = bar.Set(step) }
	}

	slog.Info("generating", "model", cfg.Generate.Model, "steps", steps, "seed", seed)

	pcm, res, err := gen.Generate(ctx, prompt, opts)
	if bar != nil {
		_ = bar.Finish()
	}

	if err != nil {
		if !errors.Is(err, context.Canceled) || len(pcm) == 0 {
			return fmt.Errorf("generate: %w", err)
		}

		slog.Warn("generation interrupted; keeping partial audio", "steps", res.Steps)
	}

	if res != nil {
		slog.Info("generation finished", "run_id", res.RunID, "steps", res.Steps, "frames", len(res.Frames), "reason", res.Reason.String())
	}

	samples, err := audio.Resample(pcm, modelCfg.SampleRate, format.SampleRate)
	if err != nil {
		return err
	}

	if format.SampleRate != modelCfg.SampleRate {
		slog.Debug("resampled output", "from", modelCfg.SampleRate, "to", format.SampleRate, "samples", len(samples))
	}

	samples = postProcess(samples, cfg.Audio, format.SampleRate)
	samples = upmix(samples, format.Channels)

	if err := writeOutput(cfg.Paths.Output, samples, format, gio.Stdout); err != nil {
		return err
	}

	if cfg.Audio.Play {
		return playSamples(ctx, samples, format)
	}

	return nil
}

// readPrompt returns the prompt flag, or stdin when it is empty.
func readPrompt(prompt string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(prompt) != "" {
		return prompt, nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}

	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("empty prompt: pass it as an argument, via --prompt or on stdin")
	}

	return string(data), nil
}

// generateSteps converts the requested seconds to decoder steps, capped by
// max_tokens. A non-positive secs uses max_tokens alone.
func generateSteps(g config.GenerateConfig, m musicgen.ModelConfig) int {
	if g.Secs <= 0 {
		return g.MaxTokens
	}

	steps := m.TokensForSecs(g.Secs)
	if g.MaxTokens > 0 {
		steps = min(steps, g.MaxTokens)
	}

	return steps
}

// resolveSeed maps the "random" seed 0 to a fresh random value.
func resolveSeed(seed int64) uint64 {
	if seed != 0 {
		return uint64(seed)
	}

	return rand.Uint64()
}

// outputFormat builds the output format from the audio section. The codec
// produces mono at the model rate; a different configured rate is reached
// by resampling.
func outputFormat(a config.AudioConfig, m musicgen.ModelConfig) (audio.Format, error) {
	sf, err := audio.ParseSampleFormat(a.SampleFormat)
	if err != nil {
		return audio.Format{}, err
	}

	rate := m.SampleRate
	if a.SampleRate > 0 {
		rate = a.SampleRate
	}

	f := audio.Format{SampleRate: rate, Channels: max(a.Channels, 1), SampleFormat: sf}

	return f, f.Validate()
}

func postProcess(samples []float32, a config.AudioConfig, sampleRate int) []float32 {
	if a.Normalize {
		samples = audio.PeakNormalize(samples)
	}

	if a.FadeMS > 0 {
		samples = audio.FadeIn(samples, sampleRate, a.FadeMS)
		samples = audio.FadeOut(samples, sampleRate, a.FadeMS)
	}

	return samples
}

// upmix duplicates mono samples across channels.
func upmix(mono []float32, channels int) []float32 {
	if channels <= 1 {
		return mono
	}

	out := make([]float32, 0, len(mono)*channels)
	for _, s := range mono {
		for range channels {
			out = append(out, s)
		}
	}

	return out
}

// writeOutput writes a WAV file, or to stdout when path is "-". An empty
// path disables file output.
func writeOutput(path string, samples []float32, f audio.Format, stdout io.Writer) error {
	switch path {
	case "":
		return nil
	case "-":
		data, err := audio.EncodeWAV(samples, f)
		if err != nil {
			return err
		}

		if _, err := stdout.Write(data); err != nil {
			return fmt.Errorf("write WAV to stdout: %w", err)
		}

		return nil
	default:
		if err := audio.WriteWAVFile(path, samples, f); err != nil {
			return err
		}

		slog.Info("wrote audio", "path", path, "format", f.SampleFormat.String(), "samples", len(samples))

		return nil
	}
}
