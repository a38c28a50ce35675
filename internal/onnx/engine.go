package onnx

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/example/go-musicgen/internal/config"
)

// GraphRunner is the minimal runner contract consumed by the generation
// pipeline. It lets tests and alternate runtimes stand in for ORT.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Name() string
	Close()
}

// ErrGraphNotFound is returned when a named graph has no runner.
var ErrGraphNotFound = errors.New("graph not found")

// Engine owns one GraphRunner per loaded graph.
type Engine struct {
	runners map[string]GraphRunner
}

// NewEngine bootstraps ORT and opens every session in sm on one shared
// runtime.
func NewEngine(cfg config.RuntimeConfig, sm *SessionManager) (*Engine, error) {
	info, err := Bootstrap(cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap onnx runtime: %w", err)
	}

	h, err := newHost(RunnerConfig{
		LibraryPath: info.LibraryPath,
		APIVersion:  uint32(cfg.APIVersion),
	})
	if err != nil {
		return nil, err
	}

	// Hold the host while graphs open so a failure part way through
	// releases it exactly once.
	h.acquire()
	defer h.release()

	e := &Engine{runners: make(map[string]GraphRunner)}
	for _, s := range sm.Sessions() {
		r, err := openRunner(h, s)
		if err != nil {
			e.Close()
			return nil, err
		}

		e.runners[s.Name] = r
	}

	return e, nil
}

// NewEngineWithRunners builds an Engine from externally provided graph runners.
func NewEngineWithRunners(runners map[string]GraphRunner) *Engine {
	internal := make(map[string]GraphRunner, len(runners))
	maps.Copy(internal, runners)

	return &Engine{runners: internal}
}

// Runner returns the runner registered under name.
func (e *Engine) Runner(name string) (GraphRunner, error) {
	r, ok := e.runners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGraphNotFound, name)
	}

	return r, nil
}

// Graphs lists the registered graph names in sorted order.
func (e *Engine) Graphs() []string {
	return slices.Sorted(maps.Keys(e.runners))
}

// Close releases every runner. Safe to call multiple times.
func (e *Engine) Close() {
	for name, r := range e.runners {
		r.Close()
		delete(e.runners, name)
	}
}
