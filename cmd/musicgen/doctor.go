package main

import (
	"errors"
	"fmt"

	"github.com/example/go-musicgen/internal/audio"
	"github.com/example/go-musicgen/internal/doctor"
	"github.com/example/go-musicgen/internal/model"
	"github.com/example/go-musicgen/internal/onnx"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	var skipDevice bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime, model and audio device checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "model: %s\n", cfg.Generate.Model)

			dcfg := doctor.Config{
				Runtime: func() (string, string, error) {
					info, err := onnx.DetectRuntime(cfg.Runtime)
					if err == nil && info.Source != "" {
						info.LibraryPath += ", from " + info.Source
					}

					return info.Version, info.LibraryPath, err
				},
				APIVersion:   cfg.Runtime.APIVersion,
				ModelDir:     cfg.Paths.ModelDir,
				Model:        cfg.Generate.Model,
				MissingFiles: model.MissingFiles,
				ModelSummary: modelSummary,
				OutputDevice: func() error {
					f := audio.DefaultFormat()
					f.SampleRate = cfg.Audio.SampleRate
					_, err := openOutput(f)
					return err
				},
				SkipOutputDevice: skipDevice,
			}

			result := doctor.Run(dcfg, out)
			if result.Failed() {
				for _, f := range result.Failures() {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().BoolVar(&skipDevice, "skip-device", false, "Skip the audio output device probe")

	return cmd
}
