package musicgen

import (
	"errors"
	"testing"

	"github.com/example/go-musicgen/internal/onnx"
)

func presentSet(t *testing.T, layers int, seq, encLen int64) map[string]*onnx.Tensor {
	t.Helper()

	out := make(map[string]*onnx.Tensor)
	for l := range layers {
		for r := range numCacheRoles {
			role := CacheRole(r)
			shape := []int64{1, 2, encLen, 4}
			if role.isDecoder() {
				shape = []int64{1, 2, seq, 4}
			}

			out[presentKeyName(l, role)] = zeros(t, shape)
		}
	}

	return out
}

func TestCacheKeyNames(t *testing.T) {
	tests := []struct {
		layer   int
		role    CacheRole
		past    string
		present string
	}{
		{0, DecoderKey, "past_key_values.0.decoder.key", "present.0.decoder.key"},
		{3, DecoderValue, "past_key_values.3.decoder.value", "present.3.decoder.value"},
		{11, EncoderKey, "past_key_values.11.encoder.key", "present.11.encoder.key"},
		{23, EncoderValue, "past_key_values.23.encoder.value", "present.23.encoder.value"},
	}

	for _, tt := range tests {
		if got := pastKeyName(tt.layer, tt.role); got != tt.past {
			t.Errorf("pastKeyName(%d, %s) = %q, want %q", tt.layer, tt.role, got, tt.past)
		}

		if got := presentKeyName(tt.layer, tt.role); got != tt.present {
			t.Errorf("presentKeyName(%d, %s) = %q, want %q", tt.layer, tt.role, got, tt.present)
		}
	}

	if got := CacheRole(9).String(); got != "CacheRole(9)" {
		t.Errorf("String() = %q", got)
	}
}

func TestNewKVCache_RejectsNonPositive(t *testing.T) {
	if _, err := NewKVCache(0); !errors.Is(err, ErrInvalidLayers) {
		t.Fatalf("err = %v, want ErrInvalidLayers", err)
	}
}

func TestKVCache_UpdateBindReset(t *testing.T) {
	c, err := NewKVCache(2)
	if err != nil {
		t.Fatal(err)
	}

	if c.Filled() || c.Layers() != 2 {
		t.Fatalf("new cache Filled = %v Layers = %d", c.Filled(), c.Layers())
	}

	out := NewStepOutputs(presentSet(t, 2, 1, 5))
	if err := c.Update(out); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if out.Len() != 0 {
		t.Errorf("Update left %d outputs untaken", out.Len())
	}

	if !c.Filled() || c.Get(1, EncoderValue) == nil {
		t.Fatal("cache not filled after Update")
	}

	in := NewStepInputs()
	c.Bind(in)

	if len(in.Map()) != 2*numCacheRoles {
		t.Fatalf("Bind added %d tensors, want %d", len(in.Map()), 2*numCacheRoles)
	}

	if !in.Has("past_key_values.1.decoder.value") {
		t.Error("missing past_key_values.1.decoder.value")
	}

	if err := c.Update(NewStepOutputs(presentSet(t, 2, 2, 5))); err != nil {
		t.Fatalf("second Update: %v", err)
	}

	if got := c.Get(0, DecoderKey).Dim(decoderSeqAxis); got != 2 {
		t.Errorf("decoder seq = %d, want 2", got)
	}

	c.Reset()

	if c.Filled() || c.Get(0, DecoderKey) != nil {
		t.Error("Reset did not drop tensors")
	}

	if c.Get(-1, DecoderKey) != nil || c.Get(5, DecoderKey) != nil || c.Get(0, CacheRole(7)) != nil {
		t.Error("Get out of range should return nil")
	}
}

func TestKVCache_ShapeCheck(t *testing.T) {
	tests := []struct {
		name    string
		seq     int64
		encLen  int64
		wantErr bool
	}{
		{"decoder grows by one", 2, 5, false},
		{"decoder unchanged", 1, 5, true},
		{"decoder grows by two", 3, 5, true},
		{"encoder presents ignored", 2, 6, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := NewKVCache(1)
			if err := c.Update(NewStepOutputs(presentSet(t, 1, 1, 5))); err != nil {
				t.Fatal(err)
			}

			before := c.Get(0, DecoderKey)

			err := c.Update(NewStepOutputs(presentSet(t, 1, tt.seq, tt.encLen)))
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Update: %v", err)
				}

				return
			}

			if !errors.Is(err, ErrCacheShape) {
				t.Fatalf("err = %v, want ErrCacheShape", err)
			}

			if c.Get(0, DecoderKey) != before {
				t.Error("failed Update modified the cache")
			}
		})
	}
}

func TestKVCache_EncoderFixedAfterFirstStep(t *testing.T) {
	c, _ := NewKVCache(2)
	if err := c.Update(NewStepOutputs(presentSet(t, 2, 1, 5))); err != nil {
		t.Fatal(err)
	}

	key, value := c.Get(1, EncoderKey), c.Get(1, EncoderValue)

	// Placeholder encoder presents on the cached branch.
	out := presentSet(t, 2, 2, 5)
	for l := range 2 {
		out[presentKeyName(l, EncoderKey)] = zeros(t, []int64{1, 1, 1, 1})
	}
	delete(out, presentKeyName(1, EncoderValue))

	outputs := NewStepOutputs(out)
	if err := c.Update(outputs); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if c.Get(1, EncoderKey) != key || c.Get(1, EncoderValue) != value {
		t.Error("encoder cache replaced after the first step")
	}

	if got := c.Get(1, DecoderKey).Dim(decoderSeqAxis); got != 2 {
		t.Errorf("decoder seq = %d, want 2", got)
	}

	if outputs.Len() != 0 {
		t.Errorf("%d present outputs left unread", outputs.Len())
	}
}

func TestKVCache_ShapeCheckRank(t *testing.T) {
	c, _ := NewKVCache(1)
	if err := c.Update(NewStepOutputs(presentSet(t, 1, 1, 5))); err != nil {
		t.Fatal(err)
	}

	out := presentSet(t, 1, 2, 5)
	out[presentKeyName(0, DecoderKey)] = zeros(t, []int64{2, 8})

	if err := c.Update(NewStepOutputs(out)); !errors.Is(err, ErrCacheShape) {
		t.Fatalf("err = %v, want ErrCacheShape", err)
	}
}

func TestStepOutputs_TakeOnce(t *testing.T) {
	out := NewStepOutputs(presentSet(t, 1, 1, 2))

	if _, err := out.Take(0, DecoderKey); err != nil {
		t.Fatalf("first Take: %v", err)
	}

	_, err := out.Take(0, DecoderKey)
	if !errors.Is(err, ErrMissingOutput) || !errors.Is(err, ErrContract) {
		t.Fatalf("second Take err = %v, want ErrMissingOutput", err)
	}

	if _, err := out.Take(4, DecoderKey); !errors.Is(err, ErrMissingOutput) {
		t.Fatalf("unknown layer err = %v, want ErrMissingOutput", err)
	}

	if _, err := out.Take(0, CacheRole(-1)); !errors.Is(err, ErrMissingOutput) {
		t.Fatalf("invalid role err = %v, want ErrMissingOutput", err)
	}

	if _, err := out.TakeLogits(); !errors.Is(err, ErrMissingOutput) {
		t.Fatalf("TakeLogits err = %v, want ErrMissingOutput", err)
	}
}

func TestKVCache_UpdateMissingPresent(t *testing.T) {
	c, _ := NewKVCache(2)

	out := presentSet(t, 2, 1, 2)
	delete(out, presentKeyName(1, EncoderKey))

	if err := c.Update(NewStepOutputs(out)); !errors.Is(err, ErrMissingOutput) {
		t.Fatalf("err = %v, want ErrMissingOutput", err)
	}

	if c.Filled() {
		t.Error("failed Update marked cache filled")
	}
}

func TestStepInputs(t *testing.T) {
	in := NewStepInputs()
	hidden, mask := encoderOutputs(t, 2, 4)

	in.SetEncoderHiddenStates(hidden)
	in.SetEncoderAttentionMask(mask)

	if err := in.SetUseCacheBranch(false); err != nil {
		t.Fatal(err)
	}

	if in.UseCacheBranch() || boolValue(t, in.Map()[inputUseCacheBranch]) {
		t.Error("use_cache_branch should be false")
	}

	in.RemoveEncoderHiddenStates()
	if in.Has(inputHiddenStates) {
		t.Error("encoder_hidden_states still bound")
	}

	if err := in.SetUseCacheBranch(true); err != nil {
		t.Fatal(err)
	}

	if !in.UseCacheBranch() || !boolValue(t, in.Map()[inputUseCacheBranch]) {
		t.Error("use_cache_branch should be true")
	}

	if got := in.Map()[inputUseCacheBranch].Shape(); len(got) != 1 || got[0] != 1 {
		t.Errorf("use_cache_branch shape = %v, want [1]", got)
	}
}
