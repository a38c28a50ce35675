package main

import (
	"fmt"
	"strings"

	"github.com/example/go-musicgen/internal/config"
	"github.com/example/go-musicgen/internal/model"
	"github.com/example/go-musicgen/internal/musicgen"
	"github.com/example/go-musicgen/internal/onnx"
	"github.com/spf13/cobra"
)

func newModelVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the configured model directory is complete and loadable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			summary, err := verifyModelDir(cfg.Paths.ModelDir, cfg.Generate.Model)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "model %s ok: %s\n", cfg.Generate.Model, summary)

			return nil
		},
	}
}

// verifyModelDir checks pinned files, the graph list and the model config.
func verifyModelDir(dir, variant string) (string, error) {
	missing, err := model.MissingFiles(dir, variant)
	if err != nil {
		return "", err
	}

	if len(missing) > 0 {
		return "", fmt.Errorf("model files missing in %s: %s", dir, strings.Join(missing, ", "))
	}

	if _, err := onnx.NewSessionManager(dir, musicgen.DefaultGraphs(variant == config.ModelSmallFP16)); err != nil {
		return "", fmt.Errorf("resolve graphs: %w", err)
	}

	return modelSummary(dir)
}

func modelSummary(dir string) (string, error) {
	mc, err := musicgen.LoadModelConfig(dir)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%d codebooks, %d layers, vocab %d, %d Hz", mc.Codebooks, mc.Layers, mc.VocabSize, mc.SampleRate), nil
}
