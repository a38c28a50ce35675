package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/example/go-musicgen/internal/audio"
	"github.com/spf13/cobra"
)

// openOutput opens the default device. Tests replace it.
var openOutput = audio.OpenOutput

func newPlayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play <file.wav>",
		Short: "Play a WAV file on the default output device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			buf, _, err := audio.DecodeWAV(data)
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			return playSamples(cmd.Context(), buf.Data, audio.Format{
				SampleRate:   buf.Format.SampleRate,
				Channels:     buf.Format.NumChannels,
				SampleFormat: audio.F32,
			})
		},
	}
}

// playSamples blocks until samples finish playing or ctx is canceled.
// Cancellation is not an error.
func playSamples(ctx context.Context, samples []float32, f audio.Format) error {
	out, err := openOutput(audio.Format{SampleRate: f.SampleRate, Channels: f.Channels, SampleFormat: audio.F32})
	if err != nil {
		return err
	}

	buf, err := audio.NewPlaybackBuffer(samples, out.Format())
	if err != nil {
		return err
	}

	stream, err := out.Play(buf)
	if err != nil {
		return err
	}

	waitErr := stream.Wait(ctx)
	if err := stream.Close(); err != nil {
		return err
	}

	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}

	return nil
}
