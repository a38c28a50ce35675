package testutil

import (
	"encoding/binary"
	"errors"
	"testing"
)

// WAVHeader is the header layout a test expects.
type WAVHeader struct {
	FormatTag  uint16 // 1 = PCM, 3 = IEEE float
	Channels   uint16
	SampleRate uint32
	BitDepth   uint16
}

// MusicGenWAV is the default generator output: 32 kHz mono float32.
var MusicGenWAV = WAVHeader{FormatTag: 3, Channels: 1, SampleRate: 32000, BitDepth: 32}

// AssertValidWAV checks the RIFF/WAVE header against want and that the data
// chunk holds at least one frame.
func AssertValidWAV(tb testing.TB, data []byte, want WAVHeader) {
	tb.Helper()

	if len(data) < 44 {
		tb.Fatalf("WAV data too short: %d bytes", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		tb.Fatalf("WAV: missing RIFF header (got %q)", string(data[0:4]))
	}

	if string(data[8:12]) != "WAVE" {
		tb.Fatalf("WAV: missing WAVE marker (got %q)", string(data[8:12]))
	}

	if string(data[12:16]) != "fmt " {
		tb.Fatalf("WAV: missing fmt chunk (got %q)", string(data[12:16]))
	}

	if got := binary.LittleEndian.Uint16(data[20:22]); got != want.FormatTag {
		tb.Fatalf("WAV: format tag %d, want %d", got, want.FormatTag)
	}

	if got := binary.LittleEndian.Uint16(data[22:24]); got != want.Channels {
		tb.Fatalf("WAV: %d channels, want %d", got, want.Channels)
	}

	if got := binary.LittleEndian.Uint32(data[24:28]); got != want.SampleRate {
		tb.Fatalf("WAV: sample rate %d, want %d", got, want.SampleRate)
	}

	if got := binary.LittleEndian.Uint16(data[34:36]); got != want.BitDepth {
		tb.Fatalf("WAV: %d-bit depth, want %d", got, want.BitDepth)
	}

	dataSize, err := findDataChunkSize(data)
	if err != nil {
		tb.Fatalf("WAV: %v", err)
	}

	if blockAlign := binary.LittleEndian.Uint16(data[32:34]); blockAlign == 0 || dataSize/uint32(blockAlign) == 0 {
		tb.Fatal("WAV: data chunk contains zero frames")
	}
}

// AssertWAVDurationApprox asserts that the WAV audio duration falls within
// [minSec, maxSec], using the sample rate and block align from the header.
func AssertWAVDurationApprox(tb testing.TB, data []byte, minSec, maxSec float64) {
	tb.Helper()

	if len(data) < 44 {
		tb.Fatalf("WAV data too short: %d bytes", len(data))
	}

	dataSize, err := findDataChunkSize(data)
	if err != nil {
		tb.Fatalf("WAV duration check: %v", err)
	}

	sampleRate := binary.LittleEndian.Uint32(data[24:28])
	blockAlign := binary.LittleEndian.Uint16(data[32:34])
	if sampleRate == 0 || blockAlign == 0 {
		tb.Fatalf("WAV: invalid header (rate %d, block align %d)", sampleRate, blockAlign)
	}

	durationSec := float64(dataSize/uint32(blockAlign)) / float64(sampleRate)
	if durationSec < minSec || durationSec > maxSec {
		tb.Fatalf("WAV duration %.3fs out of expected range [%.3fs, %.3fs]", durationSec, minSec, maxSec)
	}
}

// findDataChunkSize walks the WAV chunk list to locate the "data" sub-chunk
// and returns its size in bytes.
func findDataChunkSize(data []byte) (uint32, error) {
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])

		size := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		if id == "data" {
			return size, nil
		}

		offset += 8 + int(size)
		// Pad to even boundary.
		if size%2 != 0 {
			offset++
		}
	}

	return 0, errors.New("data chunk not found in WAV")
}
