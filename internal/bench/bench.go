// Package bench provides benchmarking primitives for the musicgen bench command.
package bench

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and audio metadata for a single generation run.
type RunResult struct {
	Index         int
	Cold          bool // true for the first run (sessions and caches still cold)
	Duration      time.Duration
	AudioDuration time.Duration
	Steps         int
	RTF           float64
}

// TokensPerSec is the decoder step throughput of the run.
func (r RunResult) TokensPerSec() float64 {
	if r.Duration <= 0 {
		return 0
	}

	return float64(r.Steps) / r.Duration.Seconds()
}

// NewRunResult fills in the derived fields for one run.
func NewRunResult(index int, elapsed time.Duration, samples, sampleRate, steps int) RunResult {
	audioDur := AudioDuration(samples, sampleRate)

	return RunResult{
		Index:         index,
		Cold:          index == 0,
		Duration:      elapsed,
		AudioDuration: audioDur,
		Steps:         steps,
		RTF:           CalcRTF(elapsed, audioDur),
	}
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min     time.Duration
	Max     time.Duration
	Mean    time.Duration
	MeanRTF float64
}

// ComputeStats calculates min, max and mean over the runs.
func ComputeStats(runs []RunResult) Stats {
	if len(runs) == 0 {
		return Stats{}
	}

	mn, mx := runs[0].Duration, runs[0].Duration
	var sum time.Duration
	var rtf float64
	for _, r := range runs {
		mn = min(mn, r.Duration)
		mx = max(mx, r.Duration)
		sum += r.Duration
		rtf += r.RTF
	}

	return Stats{
		Min:     mn,
		Max:     mx,
		Mean:    sum / time.Duration(len(runs)),
		MeanRTF: rtf / float64(len(runs)),
	}
}

// ---------------------------------------------------------------------------
// RTF helpers
// ---------------------------------------------------------------------------

// CalcRTF returns generation_duration / audio_duration.
// Returns 0 if audioDur is zero to avoid division by zero.
func CalcRTF(genDur, audioDur time.Duration) float64 {
	if audioDur <= 0 {
		return 0
	}
	return float64(genDur) / float64(audioDur)
}

// AudioDuration is the playback length of mono samples at sampleRate.
func AudioDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}

	return time.Duration(int64(samples) * int64(time.Second) / int64(sampleRate))
}

// CheckRTFThreshold returns an error if meanRTF > threshold.
// A threshold of 0 disables the gate.
func CheckRTFThreshold(meanRTF, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if meanRTF > threshold {
		return fmt.Errorf("mean RTF %.3f exceeds threshold %.3f", meanRTF, threshold)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %10s  %8s  %8s\n", "Run", "Cold", "MS", "Audio(ms)", "Tok/s", "RTF")
	fmt.Fprintln(sb, strings.Repeat("-", 56))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %10.1f  %10.1f  %8.1f  %8.3f\n",
			r.Index+1,
			cold,
			float64(r.Duration.Milliseconds()),
			float64(r.AudioDuration.Milliseconds()),
			r.TokensPerSec(),
			r.RTF,
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 56))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (min)\n", "", "", float64(stats.Min.Milliseconds()))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (mean, rtf %.3f)\n", "", "", float64(stats.Mean.Milliseconds()), stats.MeanRTF)
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (max)\n", "", "", float64(stats.Max.Milliseconds()))

	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index        int     `json:"index"`
	Cold         bool    `json:"cold"`
	DurationMS   float64 `json:"duration_ms"`
	AudioMS      float64 `json:"audio_ms"`
	Steps        int     `json:"steps"`
	TokensPerSec float64 `json:"tokens_per_sec"`
	RTF          float64 `json:"rtf"`
}

type jsonStats struct {
	MinMS   float64 `json:"min_ms"`
	MeanMS  float64 `json:"mean_ms"`
	MaxMS   float64 `json:"max_ms"`
	MeanRTF float64 `json:"mean_rtf"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) error {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:   float64(stats.Min.Milliseconds()),
			MeanMS:  float64(stats.Mean.Milliseconds()),
			MaxMS:   float64(stats.Max.Milliseconds()),
			MeanRTF: stats.MeanRTF,
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:        r.Index,
			Cold:         r.Cold,
			DurationMS:   float64(r.Duration.Milliseconds()),
			AudioMS:      float64(r.AudioDuration.Milliseconds()),
			Steps:        r.Steps,
			TokensPerSec: r.TokensPerSec(),
			RTF:          r.RTF,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jr)
}
