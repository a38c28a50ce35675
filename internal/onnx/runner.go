package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

const defaultAPIVersion = 23

// ErrUnknownInput is returned when a caller binds a name the graph does not declare.
var ErrUnknownInput = errors.New("unknown graph input")

// RunnerConfig holds ORT library settings for creating runners.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// host is one ORT runtime and env shared by every graph of an Engine.
// It is released when the last runner closes.
type host struct {
	mu      sync.Mutex
	refs    int
	runtime *ort.Runtime
	env     *ort.Env
}

func newHost(cfg RunnerConfig) (*host, error) {
	if cfg.APIVersion == 0 {
		cfg.APIVersion = defaultAPIVersion
	}

	rt, err := ort.NewRuntime(cfg.LibraryPath, cfg.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("load ort %s (api %d): %w", cfg.LibraryPath, cfg.APIVersion, err)
	}

	env, err := rt.NewEnv("musicgen", ort.LoggingLevelWarning)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("create ort env: %w", err)
	}

	return &host{runtime: rt, env: env}, nil
}

func (h *host) acquire() {
	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
}

func (h *host) release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.refs--
	if h.refs > 0 || h.runtime == nil {
		return
	}

	h.env.Close()
	_ = h.runtime.Close()
	h.env, h.runtime = nil, nil
}

// Runner executes one ONNX graph.
type Runner struct {
	name    string
	host    *host
	session *ort.Session
	inputs  map[string]struct{}
	outputs []string
}

// NewRunner opens meta on its own ORT runtime. Engines share one runtime
// across graphs instead.
func NewRunner(meta Session, cfg RunnerConfig) (*Runner, error) {
	h, err := newHost(cfg)
	if err != nil {
		return nil, err
	}

	r, err := openRunner(h, meta)
	if err != nil {
		h.acquire()
		h.release()

		return nil, err
	}

	return r, nil
}

func openRunner(h *host, meta Session) (*Runner, error) {
	session, err := h.runtime.NewSession(h.env, meta.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("open graph %q (%s): %w", meta.Name, meta.Path, err)
	}

	h.acquire()

	r := &Runner{name: meta.Name, host: h, session: session}
	if len(meta.Inputs) > 0 {
		r.inputs = make(map[string]struct{}, len(meta.Inputs))
		for _, n := range meta.Inputs {
			r.inputs[n.Name] = struct{}{}
		}
	}
	for _, n := range meta.Outputs {
		r.outputs = append(r.outputs, n.Name)
	}

	slog.Debug("graph ready", "graph", meta.Name, "path", meta.Path)

	return r, nil
}

// Run executes the graph. Only the keys present in inputs are bound, so
// optional inputs are left to the graph's defaults. When the graph's
// outputs are declared, a missing one is an error.
func (r *Runner) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if r.session == nil {
		return nil, fmt.Errorf("run %q: runner closed", r.name)
	}

	bound := make(map[string]*ort.Value, len(inputs))
	defer closeORTValues(bound)

	for name, t := range inputs {
		if r.inputs != nil {
			if _, ok := r.inputs[name]; !ok {
				return nil, fmt.Errorf("%w %q for graph %q", ErrUnknownInput, name, r.name)
			}
		}

		v, err := tensorToORT(r.host.runtime, t)
		if err != nil {
			return nil, fmt.Errorf("bind %q: %w", name, err)
		}

		bound[name] = v
	}

	start := time.Now()

	raw, err := r.session.Run(ctx, bound)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", r.name, err)
	}
	defer closeORTValues(raw)

	slog.Debug("graph run", "graph", r.name, "inputs", len(bound), "elapsed", time.Since(start))

	results := make(map[string]*Tensor, len(raw))
	for name, v := range raw {
		t, err := ortToTensor(v)
		if err != nil {
			return nil, fmt.Errorf("read %q output %q: %w", r.name, name, err)
		}

		results[name] = t
	}

	for _, name := range r.outputs {
		if _, ok := results[name]; !ok {
			return nil, fmt.Errorf("graph %q did not produce %q", r.name, name)
		}
	}

	return results, nil
}

// Close releases the session and drops the runner's hold on the shared
// runtime. Safe to call multiple times.
func (r *Runner) Close() {
	if r.session == nil {
		return
	}

	r.session.Close()
	r.session = nil
	r.host.release()
}

// Name returns the graph name.
func (r *Runner) Name() string {
	return r.name
}

func tensorToORT(rt *ort.Runtime, t *Tensor) (*ort.Value, error) {
	switch data := t.data.(type) {
	case []float32:
		return ort.NewTensorValue(rt, data, t.Shape())
	case []int64:
		return ort.NewTensorValue(rt, data, t.Shape())
	case []bool:
		return ort.NewTensorValue(rt, data, t.Shape())
	default:
		return nil, fmt.Errorf("%w: cannot bind %s", ErrDType, t.dtype)
	}
}

func ortToTensor(v *ort.Value) (*Tensor, error) {
	elemType, err := v.GetTensorElementType()
	if err != nil {
		return nil, fmt.Errorf("element type: %w", err)
	}

	switch elemType {
	case ort.ONNXTensorElementDataTypeFloat:
		data, shape, err := ort.GetTensorData[float32](v)
		if err != nil {
			return nil, err
		}

		return NewTensor(data, shape)
	case ort.ONNXTensorElementDataTypeFloat16:
		// raw half-precision bit patterns
		data, shape, err := ort.GetTensorData[uint16](v)
		if err != nil {
			return nil, err
		}

		return NewFloat16Tensor(data, shape)
	case ort.ONNXTensorElementDataTypeInt64:
		data, shape, err := ort.GetTensorData[int64](v)
		if err != nil {
			return nil, err
		}

		return NewTensor(data, shape)
	case ort.ONNXTensorElementDataTypeBool:
		data, shape, err := ort.GetTensorData[bool](v)
		if err != nil {
			return nil, err
		}

		return NewBoolTensor(data, shape)
	default:
		return nil, fmt.Errorf("%w: ORT element type %d", ErrDType, elemType)
	}
}

func closeORTValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
