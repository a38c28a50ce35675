package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	goruntime "runtime"
	"sync"
	"sync/atomic"

	"github.com/example/go-musicgen/internal/config"
)

// ErrRuntimeNotFound is returned when no ONNX Runtime library can be located.
var ErrRuntimeNotFound = errors.New("onnx runtime library not found")

// Library sources reported in RuntimeInfo.Source.
const (
	SourceConfig  = "config"
	SourceEnv     = "env"
	SourceSystem  = "system"
	envORTLib     = "MUSICGEN_ORT_LIB"
	envORTLibPath = "ORT_LIBRARY_PATH"
)

// RuntimeInfo describes the resolved ORT shared library.
type RuntimeInfo struct {
	LibraryPath string
	Version     string
	Source      string
	Initialized bool
}

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

var (
	bootstrapOnce sync.Once
	bootstrapInfo RuntimeInfo
	errBootstrap  error
	shutdownFlag  atomic.Bool
)

// systemLibraries are probed, per GOOS, when nothing is configured.
var systemLibraries = map[string][]string{
	"linux": {
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/usr/lib/aarch64-linux-gnu/libonnxruntime.so",
	},
	"darwin": {
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	},
	"windows": {
		"C:/onnxruntime/lib/onnxruntime.dll",
	},
}

// Bootstrap resolves the ORT shared library once per process and exports its
// path as MUSICGEN_ORT_LIB for child processes. Later calls return the first
// result regardless of cfg.
func Bootstrap(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	bootstrapOnce.Do(func() {
		info, err := DetectRuntime(cfg)
		if err != nil {
			errBootstrap = err
			return
		}

		if err := os.Setenv(envORTLib, info.LibraryPath); err != nil {
			errBootstrap = fmt.Errorf("set %s: %w", envORTLib, err)
			return
		}

		info.Initialized = true
		bootstrapInfo = info

		slog.Debug("onnx runtime resolved", "path", info.LibraryPath, "version", info.Version, "source", info.Source)
	})

	if errBootstrap != nil {
		return RuntimeInfo{}, errBootstrap
	}

	return bootstrapInfo, nil
}

// Shutdown marks the runtime as released. Runners own their ORT handles and
// close them individually, so this only guards against double shutdown.
func Shutdown() error {
	if !bootstrapInfo.Initialized || shutdownFlag.Swap(true) {
		return nil
	}

	bootstrapInfo.Initialized = false

	return nil
}

// DetectRuntime locates the ORT library: the configured path first, then
// MUSICGEN_ORT_LIB and ORT_LIBRARY_PATH, then the platform's usual install
// locations.
func DetectRuntime(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	path, source := resolveLibraryPath(cfg.ORTLibraryPath)
	if path == "" {
		return RuntimeInfo{LibraryPath: "not found", Version: "unknown"},
			fmt.Errorf("%w: set --ort-lib, %s or %s", ErrRuntimeNotFound, envORTLib, envORTLibPath)
	}

	if _, err := os.Stat(path); err != nil {
		return RuntimeInfo{LibraryPath: path, Version: "unknown", Source: source},
			fmt.Errorf("onnx runtime library path check failed: %w", err)
	}

	inferred := inferVersionFromPath(path)

	version := cfg.ORTVersion
	if version == "" {
		version = os.Getenv("ORT_VERSION")
	}

	switch {
	case version == "":
		version = inferred
	case inferred != "" && inferred != version:
		slog.Warn("onnx runtime version mismatch", "configured", version, "library", inferred, "path", path)
	}

	if version == "" {
		version = "unknown"
	}

	return RuntimeInfo{LibraryPath: path, Version: version, Source: source}, nil
}

func resolveLibraryPath(configured string) (path, source string) {
	if configured != "" {
		return configured, SourceConfig
	}

	for _, env := range []string{envORTLib, envORTLibPath} {
		if p := os.Getenv(env); p != "" {
			return p, SourceEnv
		}
	}

	for _, c := range systemLibraries[goruntime.GOOS] {
		if _, err := os.Stat(c); err == nil {
			return c, SourceSystem
		}
	}

	return "", ""
}

func inferVersionFromPath(path string) string {
	name := filepath.Base(path)
	if m := versionPattern.FindStringSubmatch(name); len(m) == 2 {
		return m[1]
	}

	return ""
}
