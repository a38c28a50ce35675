package audio

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"
)

// PlaybackBuffer hands a fixed clip to an audio callback. It takes ownership
// of the sample slice. One goroutine reads; any goroutine may poll
// Remaining and Exhausted.
type PlaybackBuffer struct {
	samples  []float32
	format   Format
	cursor   atomic.Int64
	duration time.Duration
}

func NewPlaybackBuffer(samples []float32, f Format) (*PlaybackBuffer, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	frames := int64(len(samples) / f.Channels)
	ms := frames * 1000 / int64(f.SampleRate)

	return &PlaybackBuffer{
		samples:  samples,
		format:   f,
		duration: time.Duration(ms) * time.Millisecond,
	}, nil
}

// Fill copies the next samples into out and zero-fills whatever is left once
// the clip is exhausted. It returns the number of real samples copied.
func (b *PlaybackBuffer) Fill(out []float32) int {
	n := copy(out, b.advance(len(out)))
	clear(out[n:])

	return n
}

// Read implements io.Reader over little-endian float32 samples with the
// same cursor as Fill. It never returns io.EOF: after the clip it yields
// silence.
func (b *PlaybackBuffer) Read(p []byte) (int, error) {
	count := len(p) / 4
	next := b.advance(count)

	for i, v := range next {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	clear(p[len(next)*4 : count*4])

	return count * 4, nil
}

// advance moves the cursor past up to n samples and returns them.
func (b *PlaybackBuffer) advance(n int) []float32 {
	pos := int(b.cursor.Load())
	n = min(n, len(b.samples)-pos)
	b.cursor.Store(int64(pos + n))

	return b.samples[pos : pos+n]
}

// Remaining is the number of samples not yet handed out.
func (b *PlaybackBuffer) Remaining() int {
	return len(b.samples) - int(b.cursor.Load())
}

func (b *PlaybackBuffer) Exhausted() bool {
	return b.Remaining() == 0
}

// Duration is the clip length, truncated to whole milliseconds.
func (b *PlaybackBuffer) Duration() time.Duration {
	return b.duration
}

func (b *PlaybackBuffer) Format() Format {
	return b.format
}
