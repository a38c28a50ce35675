package audio

import (
	"fmt"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// EncodePCM16 encodes float32 samples as 16-bit PCM through the wav encoder.
// It is the compact alternative to EncodeWAV for players that reject IEEE
// float WAV files.
func EncodePCM16(samples []float32, sampleRate, channels int) ([]byte, error) {
	f := Format{SampleRate: sampleRate, Channels: channels, SampleFormat: I16}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	sw := &seekBuffer{}
	enc := wav.NewEncoder(sw, sampleRate, 16, channels, wavFormatPCM)

	buf := &goaudio.Float32Buffer{
		Data:           samples,
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("writing PCM: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing encoder: %w", err)
	}

	return sw.Bytes(), nil
}

// seekBuffer is an in-memory io.WriteSeeker.
type seekBuffer struct {
	data []byte
	pos  int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if end := s.pos + len(p); end > len(s.data) {
		s.data = append(s.data, make([]byte, end-len(s.data))...)
	}

	n := copy(s.data[s.pos:], p)
	s.pos += n

	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case 0: // io.SeekStart
		newPos = offset
	case 1: // io.SeekCurrent
		newPos = int64(s.pos) + offset
	case 2: // io.SeekEnd
		newPos = int64(len(s.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}

	if newPos < 0 {
		return 0, fmt.Errorf("seek before start")
	}

	s.pos = int(newPos)

	return newPos, nil
}

func (s *seekBuffer) Bytes() []byte {
	return s.data
}
