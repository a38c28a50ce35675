package musicgen

import (
	"fmt"

	"github.com/example/go-musicgen/internal/onnx"
)

// StepOutputs wraps the tensors returned by one decoder run. Each output
// can be taken exactly once.
type StepOutputs struct {
	tensors map[string]*onnx.Tensor
}

func NewStepOutputs(tensors map[string]*onnx.Tensor) *StepOutputs {
	return &StepOutputs{tensors: tensors}
}

// TakeLogits removes the logits output.
func (o *StepOutputs) TakeLogits() (*Logits, error) {
	t, err := o.take(outputLogits)
	if err != nil {
		return nil, err
	}

	return NewLogits(t)
}

// Take removes the present tensor for layer and role.
func (o *StepOutputs) Take(layer int, role CacheRole) (*onnx.Tensor, error) {
	if role < 0 || int(role) >= numCacheRoles {
		return nil, fmt.Errorf("%w: invalid cache role %d", ErrMissingOutput, role)
	}

	return o.take(presentKeyName(layer, role))
}

// Len returns the number of outputs not yet taken.
func (o *StepOutputs) Len() int {
	return len(o.tensors)
}

func (o *StepOutputs) take(name string) (*onnx.Tensor, error) {
	t, ok := o.tensors[name]
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: %q", ErrMissingOutput, name)
	}

	delete(o.tensors, name)

	return t, nil
}

// discard drops name if present. Outputs the cache does not keep go through
// here so Len reflects only what callers left unread.
func (o *StepOutputs) discard(name string) {
	delete(o.tensors, name)
}
