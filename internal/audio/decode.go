package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// DecodeWAV reads a RIFF/WAVE file into float32 samples. The header is
// parsed by the wav decoder; sample bytes are read from the data chunk
// directly so float formats come back bit-identical.
func DecodeWAV(data []byte) (*goaudio.Float32Buffer, SampleFormat, error) {
	if len(data) == 0 {
		return nil, 0, errors.New("empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid WAV file")
	}

	sf, err := sampleFormatOf(dec.WavAudioFormat, int(dec.BitDepth))
	if err != nil {
		return nil, 0, err
	}

	if err := dec.FwdToPCM(); err != nil {
		return nil, 0, fmt.Errorf("seek to PCM data: %w", err)
	}

	if dec.PCMChunk == nil {
		return nil, 0, errors.New("WAV has no data chunk")
	}

	raw := make([]byte, dec.PCMChunk.Size)
	if _, err := io.ReadFull(dec.PCMChunk, raw); err != nil {
		return nil, 0, fmt.Errorf("reading PCM data: %w", err)
	}

	width := sf.BitsPerSample() / 8
	if len(raw)%width != 0 {
		return nil, 0, fmt.Errorf("data chunk of %d bytes is not a multiple of %d", len(raw), width)
	}

	return &goaudio.Float32Buffer{
		Data: decodeSamples(raw, sf),
		Format: &goaudio.Format{
			SampleRate:  int(dec.SampleRate),
			NumChannels: int(dec.NumChans),
		},
		SourceBitDepth: int(dec.BitDepth),
	}, sf, nil
}

func sampleFormatOf(tag uint16, bits int) (SampleFormat, error) {
	switch {
	case tag == wavFormatFloat && bits == 32:
		return F32, nil
	case tag == wavFormatFloat && bits == 64:
		return F64, nil
	case tag == wavFormatPCM && bits == 8:
		return I8, nil
	case tag == wavFormatPCM && bits == 16:
		return I16, nil
	case tag == wavFormatPCM && bits == 32:
		return I32, nil
	default:
		return 0, fmt.Errorf("%w: format tag %d with %d bits", ErrUnsupportedFormat, tag, bits)
	}
}

func decodeSamples(raw []byte, f SampleFormat) []float32 {
	n := len(raw) / (f.BitsPerSample() / 8)
	out := make([]float32, n)

	switch f {
	case F32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case F64:
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:])))
		}
	case I8:
		for i := range out {
			out[i] = float32(int(raw[i])-128) / 127
		}
	case I16:
		for i := range out {
			out[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32767
		}
	case I32:
		for i := range out {
			out[i] = float32(float64(int32(binary.LittleEndian.Uint32(raw[i*4:]))) / math.MaxInt32)
		}
	}

	return out
}
