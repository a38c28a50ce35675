package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// ErrNoOutputDevice is returned when the default audio device cannot be opened.
var ErrNoOutputDevice = errors.New("no audio output device")

type player interface {
	Play()
	Pause()
	Close() error
}

// oto allows a single context per process, so it is opened once and shared.
var (
	otoMu     sync.Mutex
	otoCtx    *oto.Context
	otoFormat Format
)

// Output plays PlaybackBuffers on the default device.
type Output struct {
	format    Format
	newPlayer func(io.Reader) player
}

// OpenOutput opens the default output device for float32 samples in f.
func OpenOutput(f Format) (*Output, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	ctx, err := sharedContext(f)
	if err != nil {
		return nil, err
	}

	return &Output{
		format:    f,
		newPlayer: func(r io.Reader) player { return ctx.NewPlayer(r) },
	}, nil
}

func sharedContext(f Format) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil {
		if otoFormat.SampleRate != f.SampleRate || otoFormat.Channels != f.Channels {
			return nil, fmt.Errorf("%w: device already open at %d Hz x%d", ErrNoOutputDevice, otoFormat.SampleRate, otoFormat.Channels)
		}

		return otoCtx, nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoOutputDevice, err)
	}
	<-ready

	otoCtx, otoFormat = ctx, f

	return ctx, nil
}

func (o *Output) Format() Format {
	return o.format
}

// Play starts buf on the device. The returned Stream must be closed.
func (o *Output) Play(buf *PlaybackBuffer) (*Stream, error) {
	if buf == nil {
		return nil, errors.New("nil playback buffer")
	}

	bf := buf.Format()
	if bf.SampleRate != o.format.SampleRate || bf.Channels != o.format.Channels {
		return nil, fmt.Errorf("buffer format %d Hz x%d does not match output %d Hz x%d",
			bf.SampleRate, bf.Channels, o.format.SampleRate, o.format.Channels)
	}

	p := o.newPlayer(buf)
	p.Play()

	return &Stream{
		player:   p,
		buf:      buf,
		deadline: time.Now().Add(buf.Duration()),
	}, nil
}

// Stream is one clip playing on an Output.
type Stream struct {
	player   player
	buf      *PlaybackBuffer
	deadline time.Time

	closeOnce sync.Once
	closeErr  error
}

// Wait blocks until the clip's duration has elapsed or ctx is done. On
// cancellation the player is stopped and ctx.Err() returned.
func (s *Stream) Wait(ctx context.Context) error {
	timer := time.NewTimer(time.Until(s.deadline))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		s.player.Pause()
		return errors.Join(ctx.Err(), s.Close())
	}
}

// Remaining reports the samples not yet handed to the device.
func (s *Stream) Remaining() int {
	return s.buf.Remaining()
}

// Close stops and releases the player. Safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.player.Pause()
		s.closeErr = s.player.Close()
	})

	return s.closeErr
}
