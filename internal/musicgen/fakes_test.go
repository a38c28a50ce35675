package musicgen

import (
	"context"
	"maps"
	"sync"
	"testing"

	"github.com/example/go-musicgen/internal/onnx"
)

// fakeRunner implements onnx.GraphRunner and records every input set.
type fakeRunner struct {
	name string
	fn   func(ctx context.Context, call int, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error)

	mu    sync.Mutex
	calls []map[string]*onnx.Tensor
}

func (f *fakeRunner) Run(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, maps.Clone(inputs))
	f.mu.Unlock()

	return f.fn(ctx, call, inputs)
}

func (f *fakeRunner) Name() string { return f.name }

func (f *fakeRunner) Close() {}

func (f *fakeRunner) Calls() []map[string]*onnx.Tensor {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]map[string]*onnx.Tensor(nil), f.calls...)
}

// fakeDecoder emulates the merged decoder: present tensors whose sequence
// axis grows by one per call, and logits that peak at pick(call, row).
type fakeDecoder struct {
	layers int
	vocab  int
	encLen int64
	pick   func(call, row int) int64

	// Optional hooks to corrupt the output of a given call.
	mutate func(call int, out map[string]*onnx.Tensor)
}

func (d fakeDecoder) runner(t *testing.T) *fakeRunner {
	t.Helper()

	return &fakeRunner{
		name: GraphDecoder,
		fn: func(_ context.Context, call int, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
			batch := int(inputs[inputIDs].Dim(0))

			logits := make([]float32, batch*d.vocab)
			for row := range batch {
				logits[row*d.vocab+int(d.pick(call, row))] = 10
			}

			out := map[string]*onnx.Tensor{
				outputLogits: mustTensor(t, logits, []int64{int64(batch), 1, int64(d.vocab)}),
			}

			seq := int64(call + 1)
			for l := range d.layers {
				for r := range numCacheRoles {
					role := CacheRole(r)
					shape := []int64{1, 2, d.encLen, 4}
					if role.isDecoder() {
						shape = []int64{1, 2, seq, 4}
					}

					out[presentKeyName(l, role)] = zeros(t, shape)
				}
			}

			if d.mutate != nil {
				d.mutate(call, out)
			}

			return out, nil
		},
	}
}

func mustTensor[T ~int64 | ~float32](t *testing.T, data []T, shape []int64) *onnx.Tensor {
	t.Helper()

	tensor, err := onnx.NewTensor(data, shape)
	if err != nil {
		t.Fatalf("NewTensor(%v): %v", shape, err)
	}

	return tensor
}

func zeros(t *testing.T, shape []int64) *onnx.Tensor {
	t.Helper()

	n := int64(1)
	for _, d := range shape {
		n *= d
	}

	return mustTensor(t, make([]float32, n), shape)
}

// encoderOutputs returns hidden states [1, T, D] and an all-ones mask [1, T].
func encoderOutputs(t *testing.T, tokens, dim int64) (*onnx.Tensor, *onnx.Tensor) {
	t.Helper()

	hidden := make([]float32, tokens*dim)
	for i := range hidden {
		hidden[i] = 0.5
	}

	mask := make([]int64, tokens)
	for i := range mask {
		mask[i] = 1
	}

	return mustTensor(t, hidden, []int64{1, tokens, dim}), mustTensor(t, mask, []int64{1, tokens})
}

func smallConfig(layers int) ModelConfig {
	cfg := DefaultModelConfig()
	cfg.Layers = layers
	cfg.VocabSize = 16
	cfg.PadTokenID = 16

	return cfg
}

func boolValue(t *testing.T, tensor *onnx.Tensor) bool {
	t.Helper()

	v, err := onnx.ExtractBool(tensor)
	if err != nil || len(v) != 1 {
		t.Fatalf("use_cache_branch = %v, %v; want one bool", v, err)
	}

	return v[0]
}

func int64Values(t *testing.T, tensor *onnx.Tensor) []int64 {
	t.Helper()

	v, err := onnx.ExtractInt64(tensor)
	if err != nil {
		t.Fatalf("ExtractInt64: %v", err)
	}

	return v
}
