// Package doctor provides environment preflight checks for musicgen.
package doctor

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// RuntimeFunc returns the detected ONNX Runtime version and library path.
type RuntimeFunc func() (version, path string, err error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// Runtime locates the ONNX Runtime shared library.
	Runtime RuntimeFunc
	// APIVersion is the ORT C API version the runners request. ORT 1.x
	// serves API versions up to its minor number.
	APIVersion int

	// ModelDir and Model name the checkpoint to verify.
	ModelDir string
	Model    string
	// MissingFiles lists the pinned files absent from ModelDir.
	MissingFiles func(dir, model string) ([]string, error)
	// ModelSummary loads the model config and returns a one-line description.
	ModelSummary func(dir string) (string, error)

	// OutputDevice opens the default audio device.
	OutputDevice func() error
	// SkipOutputDevice skips the device probe (headless hosts).
	SkipOutputDevice bool
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- ONNX Runtime -----------------------------------------------------
	if cfg.Runtime != nil {
		ver, path, err := cfg.Runtime()
		switch {
		case err != nil:
			res.fail(fmt.Sprintf("onnx runtime: %v", err))
			fmt.Fprintf(w, "%s onnx runtime: not found (%v)\n", FailMark, err)
		default:
			if verErr := checkORTVersion(ver, cfg.APIVersion); verErr != nil {
				res.fail(fmt.Sprintf("onnx runtime: %v", verErr))
				fmt.Fprintf(w, "%s onnx runtime %s (%s): %v\n", FailMark, ver, path, verErr)
			} else {
				fmt.Fprintf(w, "%s onnx runtime: %s (%s)\n", PassMark, ver, path)
			}
		}
	}

	// ---- model files ------------------------------------------------------
	if cfg.MissingFiles != nil {
		missing, err := cfg.MissingFiles(cfg.ModelDir, cfg.Model)
		switch {
		case err != nil:
			res.fail(fmt.Sprintf("model files: %v", err))
			fmt.Fprintf(w, "%s model files: %v\n", FailMark, err)
		case len(missing) > 0:
			res.fail(fmt.Sprintf("model files missing in %s: %s", cfg.ModelDir, strings.Join(missing, ", ")))
			fmt.Fprintf(w, "%s model files: %d missing in %s (run `musicgen model download`)\n", FailMark, len(missing), cfg.ModelDir)
		default:
			fmt.Fprintf(w, "%s model files: %s (%s)\n", PassMark, cfg.ModelDir, cfg.Model)
		}
	}

	// ---- model config -----------------------------------------------------
	if cfg.ModelSummary != nil {
		summary, err := cfg.ModelSummary(cfg.ModelDir)
		if err != nil {
			res.fail(fmt.Sprintf("model config: %v", err))
			fmt.Fprintf(w, "%s model config: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s model config: %s\n", PassMark, summary)
		}
	}

	// ---- output device ----------------------------------------------------
	switch {
	case cfg.SkipOutputDevice:
		fmt.Fprintf(w, "%s output device: skipped\n", PassMark)
	case cfg.OutputDevice != nil:
		if err := cfg.OutputDevice(); err != nil {
			res.fail(fmt.Sprintf("output device: %v", err))
			fmt.Fprintf(w, "%s output device: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s output device: ok\n", PassMark)
		}
	}

	return res
}

// checkORTVersion returns an error if ver is too old to serve apiVersion.
// An unknown version is accepted; the runner reports the mismatch at load.
func checkORTVersion(ver string, apiVersion int) error {
	if ver == "" || ver == "unknown" {
		return nil
	}

	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}

	if major != 1 {
		return fmt.Errorf("requires ONNX Runtime 1.x, got %d", major)
	}

	if minor < apiVersion {
		return fmt.Errorf("API version %d requires ONNX Runtime >=1.%d, got 1.%d", apiVersion, apiVersion, minor)
	}

	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}

	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}

	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}

	return major, minor, nil
}
