package audio

import (
	"errors"
	"fmt"
	"strings"
)

// SampleFormat is the on-disk sample encoding of a WAV file.
type SampleFormat int

const (
	F32 SampleFormat = iota
	F64
	I8 // unsigned 8-bit PCM
	I16
	I32
)

// ErrUnsupportedFormat is returned for sample formats or WAV layouts this
// package cannot read or write.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// WAV format tags.
const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

func (f SampleFormat) String() string {
	switch f {
	case F32:
		return "f32"
	case F64:
		return "f64"
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	default:
		return fmt.Sprintf("SampleFormat(%d)", int(f))
	}
}

func (f SampleFormat) BitsPerSample() int {
	switch f {
	case I8:
		return 8
	case I16:
		return 16
	case F32, I32:
		return 32
	case F64:
		return 64
	default:
		return 0
	}
}

func (f SampleFormat) IsFloat() bool {
	return f == F32 || f == F64
}

func (f SampleFormat) wavTag() uint16 {
	if f.IsFloat() {
		return wavFormatFloat
	}

	return wavFormatPCM
}

// ParseSampleFormat accepts f32, f64, i8, i16 and i32 (case-insensitive).
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f32", "float32", "":
		return F32, nil
	case "f64", "float64":
		return F64, nil
	case "i8", "u8", "pcm8":
		return I8, nil
	case "i16", "pcm16":
		return I16, nil
	case "i32", "pcm32":
		return I32, nil
	default:
		return 0, fmt.Errorf("%w: sample format %q (want f32|f64|i8|i16|i32)", ErrUnsupportedFormat, s)
	}
}

// Format describes interleaved PCM audio.
type Format struct {
	SampleRate   int
	Channels     int
	SampleFormat SampleFormat
}

// DefaultFormat is MusicGen's native output: 32 kHz mono float32.
func DefaultFormat() Format {
	return Format{SampleRate: 32000, Channels: 1, SampleFormat: F32}
}

func (f Format) Validate() error {
	if f.SampleRate < 1 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}

	if f.Channels < 1 || f.Channels > 0xFFFF {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}

	if f.SampleFormat.BitsPerSample() == 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.SampleFormat)
	}

	return nil
}

// BlockAlign is the size in bytes of one frame across all channels.
func (f Format) BlockAlign() int {
	return f.Channels * f.SampleFormat.BitsPerSample() / 8
}
