package audio

import (
	"fmt"

	"github.com/cwbudde/algo-dsp/dsp/resample"
	"github.com/cwbudde/algo-dsp/dsp/signal"
)

// PeakNormalize scales samples in place so the peak amplitude reaches 1.0.
// Silent or empty input is returned unchanged.
func PeakNormalize(samples []float32) []float32 {
	if len(samples) == 0 {
		return samples
	}

	scaled, err := signal.Normalize(toFloat64(samples), 1)
	if err != nil {
		return samples
	}

	for i, v := range scaled {
		samples[i] = float32(v)
	}

	return samples
}

// Resample converts mono samples from inRate to outRate with a polyphase
// FIR. Equal rates return samples as is.
func Resample(samples []float32, inRate, outRate int) ([]float32, error) {
	if inRate == outRate || len(samples) == 0 {
		return samples, nil
	}

	r, err := resample.NewForRates(float64(inRate), float64(outRate), resample.WithQuality(resample.QualityBest))
	if err != nil {
		return nil, fmt.Errorf("resample %d Hz to %d Hz: %w", inRate, outRate, err)
	}

	out := r.Process(toFloat64(samples))

	res := make([]float32, len(out))
	for i, v := range out {
		res[i] = float32(v)
	}

	return res, nil
}

// FadeIn applies a linear fade-in ramp over ms milliseconds of mono audio.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := rampLen(len(samples), sampleRate, ms)
	for i := range n {
		samples[i] *= float32(i) / float32(n)
	}

	return samples
}

// FadeOut applies a linear fade-out ramp over ms milliseconds of mono audio.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := rampLen(len(samples), sampleRate, ms)
	start := len(samples) - n
	for i := range n {
		samples[start+i] *= float32(n-1-i) / float32(n)
	}

	return samples
}

func rampLen(total, sampleRate int, ms float64) int {
	if sampleRate <= 0 || ms <= 0 {
		return 0
	}

	return min(total, int(float64(sampleRate)*ms/1000))
}

func toFloat64(samples []float32) []float64 {
	out := make([]float64, len(samples))
	for i, v := range samples {
		out[i] = float64(v)
	}

	return out
}
