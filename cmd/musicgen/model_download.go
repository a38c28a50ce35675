package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/example/go-musicgen/internal/model"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const progressThrottle = 100 * time.Millisecond

func newModelDownloadCmd() *cobra.Command {
	var outDir string
	var hfToken string
	var force bool
	var baseURL string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download MusicGen ONNX graphs and tokenizer from Hugging Face",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if outDir == "" {
				outDir = cfg.Paths.ModelDir
			}

			if hfToken == "" {
				hfToken = os.Getenv("HF_TOKEN")
			}

			bars := &downloadBars{w: cmd.ErrOrStderr()}
			defer bars.finish()

			err = model.Download(cmd.Context(), model.DownloadOptions{
				Variant:  cfg.Generate.Model,
				OutDir:   outDir,
				HFToken:  hfToken,
				Force:    force,
				BaseURL:  baseURL,
				Progress: bars.start,
			})
			if err != nil {
				return fmt.Errorf("model download failed: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "model %s ready in %s\n", cfg.Generate.Model, outDir)

			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "out-dir", "", "Directory where model files are stored (defaults to --model-dir)")
	cmd.Flags().StringVar(&hfToken, "hf-token", "", "Hugging Face token (falls back to HF_TOKEN env var)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-download files that already exist")
	cmd.Flags().StringVar(&baseURL, "base-url", model.DefaultBaseURL, "Hugging Face hub base URL")

	return cmd
}

// downloadBars shows one byte progress bar per file.
type downloadBars struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func (d *downloadBars) start(f model.ModelFile) model.ProgressFunc {
	d.finish()

	name := f.Filename
	return func(downloaded, total int64) {
		if d.bar == nil {
			if total <= 0 {
				total = -1
			}

			d.bar = progressbar.NewOptions64(total,
				progressbar.OptionSetWriter(d.w),
				progressbar.OptionSetDescription(name),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetWidth(30),
				progressbar.OptionThrottle(progressThrottle),
				progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(d.w) }),
			)
		}

		_ = d.bar.Set64(downloaded)
	}
}

func (d *downloadBars) finish() {
	if d.bar != nil {
		_ = d.bar.Finish()
		d.bar = nil
	}
}
