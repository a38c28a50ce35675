package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	wavHeaderSize    = 44
	riffSizeOffset   = 4
	dataSizeOffset   = 40
	maxWAVDataLength = math.MaxUint32 - (wavHeaderSize - 8)
)

// WAVWriter streams samples into a RIFF/WAVE container. The header is
// written up front with zero sizes and patched by Finalize, so the output is
// only a valid file once Finalize has run.
type WAVWriter struct {
	w         io.WriteSeeker
	format    Format
	dataBytes int64
	finalized bool
	buf       []byte
}

func NewWAVWriter(w io.WriteSeeker, f Format) (*WAVWriter, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	ww := &WAVWriter{w: w, format: f}
	if err := ww.writeHeader(); err != nil {
		return nil, fmt.Errorf("write WAV header: %w", err)
	}

	return ww, nil
}

func (w *WAVWriter) writeHeader() error {
	var (
		bits       = w.format.SampleFormat.BitsPerSample()
		blockAlign = w.format.BlockAlign()
		byteRate   = w.format.SampleRate * blockAlign
	)

	var hdr [wavHeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 0)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], w.format.SampleFormat.wavTag())
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(w.format.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(w.format.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(bits))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], 0)

	_, err := w.w.Write(hdr[:])

	return err
}

// WriteSamples appends interleaved samples. Integer formats clamp to [-1, 1].
func (w *WAVWriter) WriteSamples(samples []float32) error {
	if w.finalized {
		return errors.New("write after WAV finalize")
	}

	if len(samples)%w.format.Channels != 0 {
		return fmt.Errorf("%d samples is not a whole number of %d-channel frames", len(samples), w.format.Channels)
	}

	size := len(samples) * w.format.SampleFormat.BitsPerSample() / 8
	if w.dataBytes+int64(size) > maxWAVDataLength {
		return fmt.Errorf("WAV data exceeds %d bytes", int64(maxWAVDataLength))
	}

	if cap(w.buf) < size {
		w.buf = make([]byte, size)
	}
	buf := w.buf[:size]

	encodeSamples(buf, samples, w.format.SampleFormat)

	n, err := w.w.Write(buf)
	w.dataBytes += int64(n)
	if err != nil {
		return fmt.Errorf("write WAV samples: %w", err)
	}

	return nil
}

// Finalize patches the RIFF and data chunk sizes. It is safe to call more
// than once; later calls are no-ops.
func (w *WAVWriter) Finalize() error {
	if w.finalized {
		return nil
	}
	w.finalized = true

	var b [4]byte

	binary.LittleEndian.PutUint32(b[:], uint32(w.dataBytes+wavHeaderSize-8))
	if err := w.patch(riffSizeOffset, b[:]); err != nil {
		return fmt.Errorf("patch RIFF size: %w", err)
	}

	binary.LittleEndian.PutUint32(b[:], uint32(w.dataBytes))
	if err := w.patch(dataSizeOffset, b[:]); err != nil {
		return fmt.Errorf("patch data size: %w", err)
	}

	if _, err := w.w.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek WAV end: %w", err)
	}

	return nil
}

func (w *WAVWriter) patch(offset int64, b []byte) error {
	if _, err := w.w.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	_, err := w.w.Write(b)

	return err
}

// DataBytes returns the number of sample bytes written so far.
func (w *WAVWriter) DataBytes() int64 {
	return w.dataBytes
}

func encodeSamples(dst []byte, samples []float32, f SampleFormat) {
	switch f {
	case F32:
		for i, s := range samples {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
		}
	case F64:
		for i, s := range samples {
			binary.LittleEndian.PutUint64(dst[i*8:], math.Float64bits(float64(s)))
		}
	case I8:
		for i, s := range samples {
			dst[i] = uint8(int(clamp(s)*127) + 128)
		}
	case I16:
		for i, s := range samples {
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(clamp(s)*32767)))
		}
	case I32:
		for i, s := range samples {
			binary.LittleEndian.PutUint32(dst[i*4:], uint32(int32(clamp(s)*math.MaxInt32)))
		}
	}
}

func clamp(s float32) float64 {
	return math.Max(-1.0, math.Min(1.0, float64(s)))
}

// EncodeWAV encodes interleaved samples as a finalized WAV byte slice.
func EncodeWAV(samples []float32, f Format) ([]byte, error) {
	sw := &seekBuffer{}

	w, err := NewWAVWriter(sw, f)
	if err != nil {
		return nil, err
	}

	writeErr := w.WriteSamples(samples)
	if err := errors.Join(writeErr, w.Finalize()); err != nil {
		return nil, err
	}

	return sw.Bytes(), nil
}

// WriteWAVFile writes samples to path through a temporary file that is
// finalized, synced and renamed into place. On failure no file is left at
// path or at the temporary location.
func WriteWAVFile(path string, samples []float32, f Format) (err error) {
	tmp := path + ".tmp"

	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	defer func() {
		if err != nil {
			_ = file.Close()
			_ = os.Remove(tmp)
		}
	}()

	w, err := NewWAVWriter(file, f)
	if err != nil {
		return err
	}

	writeErr := w.WriteSamples(samples)
	if err = errors.Join(writeErr, w.Finalize()); err != nil {
		return err
	}

	if err = file.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp, err)
	}

	if err = file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}

	if err = os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}

	return nil
}
