package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/go-musicgen/internal/bench"
	"github.com/example/go-musicgen/internal/musicgen"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var (
		prompt       string
		runs         int
		format       string
		rtfThreshold float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark generation latency and realtime factor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if strings.TrimSpace(prompt) == "" {
				return errors.New("--prompt is required for bench")
			}
			if runs < 1 {
				return errors.New("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return errors.New("--format must be 'table' or 'json'")
			}

			modelCfg, err := musicgen.LoadModelConfig(cfg.Paths.ModelDir)
			if err != nil {
				return err
			}

			gen, closeGen, err := newGenerator(cfg, modelCfg)
			if err != nil {
				return err
			}
			defer closeGen()

			// A fixed seed keeps every run on the same token path.
			seed := resolveSeed(cfg.Generate.Seed)
			opts := musicgen.GenerateOptions{
				MaxTokens:     generateSteps(cfg.Generate, modelCfg),
				EndToken:      cfg.Generate.EndToken,
				GuidanceScale: cfg.Generate.GuidanceScale,
				Temperature:   cfg.Generate.Temperature,
				TopK:          cfg.Generate.TopK,
				Seed:          seed,
			}

			results := make([]bench.RunResult, 0, runs)
			for i := range runs {
				start := time.Now()
				pcm, res, err := gen.Generate(cmd.Context(), prompt, opts)
				if err != nil {
					return fmt.Errorf("bench run %d: %w", i+1, err)
				}

				results = append(results, bench.NewRunResult(i, time.Since(start), len(pcm), modelCfg.SampleRate, res.Steps))
			}

			stats := bench.ComputeStats(results)

			switch format {
			case "json":
				if err := bench.FormatJSON(results, stats, cmd.OutOrStdout()); err != nil {
					return err
				}
			default:
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			return bench.CheckRTFThreshold(stats.MeanRTF, rtfThreshold)
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt to generate on every run")
	cmd.Flags().IntVar(&runs, "runs", 3, "Number of generation runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format (table|json)")
	cmd.Flags().Float64Var(&rtfThreshold, "rtf-threshold", 0, "Fail when mean RTF exceeds this value (0 disables)")

	return cmd
}
