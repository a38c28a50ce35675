package audio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type fakePlayer struct {
	src     io.Reader
	played  bool
	paused  int
	closed  int
	closeFn func() error
}

func (p *fakePlayer) Play()  { p.played = true }
func (p *fakePlayer) Pause() { p.paused++ }

func (p *fakePlayer) Close() error {
	p.closed++
	if p.closeFn != nil {
		return p.closeFn()
	}

	return nil
}

func fakeOutput(f Format) (*Output, *fakePlayer) {
	fp := &fakePlayer{}

	return &Output{
		format: f,
		newPlayer: func(r io.Reader) player {
			fp.src = r
			return fp
		},
	}, fp
}

func TestOutputPlayWaitsForDuration(t *testing.T) {
	out, fp := fakeOutput(DefaultFormat())

	buf, err := NewPlaybackBuffer(make([]float32, 640), DefaultFormat()) // 20 ms
	if err != nil {
		t.Fatalf("NewPlaybackBuffer: %v", err)
	}

	start := time.Now()
	s, err := out.Play(buf)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	defer s.Close()

	if !fp.played || fp.src != buf {
		t.Fatal("player was not started on the buffer")
	}

	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("Wait returned after %v, want >= 20ms", elapsed)
	}
}

func TestStreamWaitCanceled(t *testing.T) {
	out, fp := fakeOutput(DefaultFormat())

	buf, err := NewPlaybackBuffer(make([]float32, 32000*60), DefaultFormat())
	if err != nil {
		t.Fatalf("NewPlaybackBuffer: %v", err)
	}

	s, err := out.Play(buf)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait err = %v, want deadline exceeded", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if fp.closed != 1 || fp.paused == 0 {
		t.Fatalf("closed = %d, paused = %d", fp.closed, fp.paused)
	}
}

func TestStreamCloseError(t *testing.T) {
	out, fp := fakeOutput(DefaultFormat())
	fp.closeFn = func() error { return errors.New("device gone") }

	buf, _ := NewPlaybackBuffer(make([]float32, 10), DefaultFormat())

	s, err := out.Play(buf)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	if err := s.Close(); err == nil {
		t.Fatal("expected close error")
	}

	if err := s.Close(); err == nil || fp.closed != 1 {
		t.Fatalf("second Close = %v, closed = %d", err, fp.closed)
	}
}

func TestOutputPlayFormatMismatch(t *testing.T) {
	out, _ := fakeOutput(DefaultFormat())

	buf, _ := NewPlaybackBuffer(make([]float32, 10), Format{SampleRate: 48000, Channels: 1, SampleFormat: F32})
	if _, err := out.Play(buf); err == nil {
		t.Fatal("expected format mismatch error")
	}

	if _, err := out.Play(nil); err == nil {
		t.Fatal("expected error for nil buffer")
	}
}

func TestOpenOutputInvalidFormat(t *testing.T) {
	if _, err := OpenOutput(Format{}); err == nil {
		t.Fatal("expected error for zero format")
	}
}
