package musicgen

import (
	"github.com/example/go-musicgen/internal/onnx"
)

// Decoder graph input names.
const (
	inputIDs              = "input_ids"
	inputHiddenStates     = "encoder_hidden_states"
	inputAttentionMask    = "encoder_attention_mask"
	inputUseCacheBranch   = "use_cache_branch"
	outputLogits          = "logits"
	outputAudioValues     = "audio_values"
	inputAudioCodes       = "audio_codes"
	inputTextIDs          = "input_ids"
	inputTextMask         = "attention_mask"
	outputLastHiddenState = "last_hidden_state"
)

// StepInputs is the named tensor set sent to the merged decoder graph.
// Only keys that are set are sent.
type StepInputs struct {
	tensors        map[string]*onnx.Tensor
	useCacheBranch bool
}

func NewStepInputs() *StepInputs {
	return &StepInputs{tensors: make(map[string]*onnx.Tensor)}
}

func (s *StepInputs) SetInputIDs(t *onnx.Tensor) {
	s.set(inputIDs, t)
}

func (s *StepInputs) SetEncoderHiddenStates(t *onnx.Tensor) {
	s.set(inputHiddenStates, t)
}

// RemoveEncoderHiddenStates drops the encoder states; once the cache holds
// the cross-attention tensors the graph must not receive them again.
func (s *StepInputs) RemoveEncoderHiddenStates() {
	delete(s.tensors, inputHiddenStates)
}

func (s *StepInputs) SetEncoderAttentionMask(t *onnx.Tensor) {
	s.set(inputAttentionMask, t)
}

// SetUseCacheBranch sets the shape [1] bool selector of the merged graph.
func (s *StepInputs) SetUseCacheBranch(v bool) error {
	t, err := onnx.NewBoolTensor([]bool{v}, []int64{1})
	if err != nil {
		return err
	}

	s.useCacheBranch = v
	s.set(inputUseCacheBranch, t)

	return nil
}

func (s *StepInputs) UseCacheBranch() bool {
	return s.useCacheBranch
}

// Has reports whether name is bound.
func (s *StepInputs) Has(name string) bool {
	_, ok := s.tensors[name]
	return ok
}

// Map returns the bound tensors for a graph run.
func (s *StepInputs) Map() map[string]*onnx.Tensor {
	return s.tensors
}

func (s *StepInputs) set(name string, t *onnx.Tensor) {
	s.tensors[name] = t
}
