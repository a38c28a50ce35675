// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireONNXRuntime(t)
//	    dir := testutil.RequireModelDir(t, "small")
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-musicgen/internal/model"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks (in order): the MUSICGEN_ORT_LIB env var, then the
// ORT_LIBRARY_PATH env var, then common system library paths.
func RequireONNXRuntime(tb testing.TB) {
	tb.Helper()

	for _, env := range []string{"MUSICGEN_ORT_LIB", "ORT_LIBRARY_PATH"} {
		if p := os.Getenv(env); p != "" {
			if _, err := os.Stat(p); err == nil {
				return
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
			return
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set MUSICGEN_ORT_LIB or ORT_LIBRARY_PATH")
}

// RequireModelDir returns the model directory for variant, or skips the test
// when any pinned file is missing. MUSICGEN_MODEL_DIR overrides the default
// models/musicgen-<variant> under the repository root.
func RequireModelDir(tb testing.TB, variant string) string {
	tb.Helper()

	dir := os.Getenv("MUSICGEN_MODEL_DIR")
	if dir == "" {
		dir = filepath.Join(RepoRoot(), "models", "musicgen-"+variant)
	}

	missing, err := model.MissingFiles(dir, variant)
	if err != nil {
		tb.Skipf("model %q: %v", variant, err)
		return ""
	}

	if len(missing) > 0 {
		tb.Skipf("model files missing in %s: %s; run `musicgen model download`", dir, strings.Join(missing, ", "))
		return ""
	}

	return dir
}

// RepoRoot walks up from the working directory to the directory holding
// go.mod. It falls back to "." when none is found.
func RepoRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}

		dir = parent
	}
}
