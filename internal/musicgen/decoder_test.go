package musicgen

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/example/go-musicgen/internal/onnx"
)

func newTestDecoder(t *testing.T, runner onnx.GraphRunner, layers int) *Decoder {
	t.Helper()

	d, err := NewDecoder(runner, smallConfig(layers), nil)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	return d
}

func greedy(maxTokens int) GenerateOptions {
	return GenerateOptions{MaxTokens: maxTokens, EndToken: -1, Temperature: 0}
}

func TestDecoderGenerate_CacheBranchAcrossRun(t *testing.T) {
	const layers = 2

	fake := fakeDecoder{layers: layers, vocab: 16, encLen: 3, pick: func(call, row int) int64 { return int64(row) }}.runner(t)
	d := newTestDecoder(t, fake, layers)
	hidden, mask := encoderOutputs(t, 3, 8)

	res, err := d.Generate(context.Background(), hidden, mask, greedy(5))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	calls := fake.Calls()
	if len(calls) != 5 {
		t.Fatalf("decoder ran %d times, want 5", len(calls))
	}

	for step, in := range calls {
		_, hasHidden := in[inputHiddenStates]
		if _, ok := in[inputAttentionMask]; !ok {
			t.Errorf("step %d: missing encoder_attention_mask", step)
		}

		if _, ok := in[inputIDs]; !ok {
			t.Errorf("step %d: missing input_ids", step)
		}

		var past int
		for name := range in {
			if strings.HasPrefix(name, "past_key_values.") {
				past++
			}
		}

		flag := boolValue(t, in[inputUseCacheBranch])

		if step == 0 {
			if flag || !hasHidden || past != 0 {
				t.Errorf("step 0: use_cache_branch=%v hidden=%v past=%d; want false, true, 0", flag, hasHidden, past)
			}

			continue
		}

		if !flag || hasHidden || past != layers*numCacheRoles {
			t.Errorf("step %d: use_cache_branch=%v hidden=%v past=%d; want true, false, %d", step, flag, hasHidden, past, layers*numCacheRoles)
		}

		// The cache bound for step k comes from step k-1 outputs.
		if got := in[pastKeyName(1, DecoderKey)].Dim(decoderSeqAxis); got != int64(step) {
			t.Errorf("step %d: past decoder seq len = %d, want %d", step, got, step)
		}
	}

	if res.Steps != 5 || res.Reason != StopMaxTokens {
		t.Errorf("Steps = %d Reason = %s; want 5 max-tokens", res.Steps, res.Reason)
	}

	if len(res.Frames) != 2 {
		t.Errorf("frames = %d, want 2", len(res.Frames))
	}

	if res.RunID == "" {
		t.Error("RunID is empty")
	}

	if d.State() != StateTerminated {
		t.Errorf("State = %s, want terminated", d.State())
	}

	if d.cache.Filled() || d.cache.Get(0, DecoderKey) != nil {
		t.Error("cache not reset after run")
	}
}

func TestDecoderGenerate_DelayPatternFeedback(t *testing.T) {
	fake := fakeDecoder{
		layers: 1, vocab: 16, encLen: 2,
		pick: func(call, row int) int64 { return int64(call*4+row) % 16 },
	}.runner(t)
	d := newTestDecoder(t, fake, 1)
	hidden, mask := encoderOutputs(t, 2, 4)

	var streamed [][]int64
	opts := greedy(5)
	opts.OnFrame = func(frame []int64) { streamed = append(streamed, frame) }

	res, err := d.Generate(context.Background(), hidden, mask, opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	wantIDs := [][]int64{
		{16, 16, 16, 16},
		{0, 16, 16, 16},
		{4, 5, 16, 16},
		{8, 9, 10, 16},
		{12, 13, 14, 15},
	}

	for step, in := range fake.Calls() {
		if got := int64Values(t, in[inputIDs]); !slices.Equal(got, wantIDs[step]) {
			t.Errorf("step %d input_ids = %v, want %v", step, got, wantIDs[step])
		}

		if shape := in[inputIDs].Shape(); !slices.Equal(shape, []int64{4, 1}) {
			t.Errorf("step %d input_ids shape = %v, want [4 1]", step, shape)
		}
	}

	wantFrames := [][]int64{{0, 5, 10, 15}, {4, 9, 14, 3}}
	if len(res.Frames) != len(wantFrames) {
		t.Fatalf("frames = %v, want %v", res.Frames, wantFrames)
	}

	for i := range wantFrames {
		if !slices.Equal(res.Frames[i], wantFrames[i]) {
			t.Errorf("frame %d = %v, want %v", i, res.Frames[i], wantFrames[i])
		}

		if !slices.Equal(streamed[i], wantFrames[i]) {
			t.Errorf("OnFrame %d = %v, want %v", i, streamed[i], wantFrames[i])
		}
	}
}

func TestDecoderGenerate_StopsOnEndToken(t *testing.T) {
	const end = 7

	fake := fakeDecoder{
		layers: 1, vocab: 16, encLen: 2,
		pick: func(call, row int) int64 {
			if call == 2 {
				return end
			}

			return 1
		},
	}.runner(t)
	d := newTestDecoder(t, fake, 1)
	hidden, mask := encoderOutputs(t, 2, 4)

	var steps []int
	opts := greedy(50)
	opts.EndToken = end
	opts.OnStep = func(step, maxTokens int) { steps = append(steps, step) }

	res, err := d.Generate(context.Background(), hidden, mask, opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if res.Reason != StopEndToken || res.Steps != 3 {
		t.Errorf("Reason = %s Steps = %d; want end-token after 3", res.Reason, res.Steps)
	}

	if !slices.Equal(steps, []int{1, 2, 3}) {
		t.Errorf("OnStep calls = %v", steps)
	}
}

func TestDecoderGenerate_PartialEndTokenContinues(t *testing.T) {
	const end = 7

	fake := fakeDecoder{
		layers: 1, vocab: 16, encLen: 2,
		pick: func(call, row int) int64 {
			if row == 0 {
				return end
			}

			return 1
		},
	}.runner(t)
	d := newTestDecoder(t, fake, 1)
	hidden, mask := encoderOutputs(t, 2, 4)

	opts := greedy(6)
	opts.EndToken = end

	res, err := d.Generate(context.Background(), hidden, mask, opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if res.Reason != StopMaxTokens || res.Steps != 6 {
		t.Errorf("Reason = %s Steps = %d; want max-tokens after 6", res.Reason, res.Steps)
	}
}

func TestDecoderGenerate_Cancel(t *testing.T) {
	fake := fakeDecoder{layers: 1, vocab: 16, encLen: 2, pick: func(int, int) int64 { return 3 }}.runner(t)
	d := newTestDecoder(t, fake, 1)
	hidden, mask := encoderOutputs(t, 2, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := greedy(100)
	opts.OnStep = func(step, _ int) {
		if step == 2 {
			cancel()
		}
	}

	res, err := d.Generate(ctx, hidden, mask, opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	if res == nil || res.Reason != StopCanceled || res.Steps != 2 {
		t.Fatalf("result = %+v; want canceled after 2 steps", res)
	}

	if len(fake.Calls()) != 2 {
		t.Errorf("decoder ran %d times after cancel, want 2", len(fake.Calls()))
	}

	if d.State() != StateTerminated || d.cache.Filled() {
		t.Errorf("State = %s filled = %v; want terminated and empty", d.State(), d.cache.Filled())
	}
}

func TestDecoderGenerate_ClassifierFreeGuidance(t *testing.T) {
	const cond, uncond = 3, 9

	dec := fakeDecoder{layers: 1, vocab: 16, encLen: 2, pick: func(int, int) int64 { return 0 }}
	dec.mutate = func(call int, out map[string]*onnx.Tensor) {
		// Rows 0-3 are conditional, rows 4-7 unconditional.
		logits := make([]float32, 8*16)
		for row := range 8 {
			if row < 4 {
				logits[row*16+cond] = 2
			} else {
				logits[row*16+uncond] = 1
			}
		}

		out[outputLogits], _ = onnx.NewTensor(logits, []int64{8, 1, 16})
	}
	fake := dec.runner(t)

	d := newTestDecoder(t, fake, 1)
	hidden, mask := encoderOutputs(t, 2, 4)

	opts := greedy(4)
	opts.GuidanceScale = 3

	res, err := d.Generate(context.Background(), hidden, mask, opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	first := fake.Calls()[0]
	if got := first[inputIDs].Shape(); !slices.Equal(got, []int64{8, 1}) {
		t.Errorf("input_ids shape = %v, want [8 1]", got)
	}

	if got := first[inputHiddenStates].Shape(); !slices.Equal(got, []int64{2, 2, 4}) {
		t.Errorf("encoder_hidden_states shape = %v, want [2 2 4]", got)
	}

	states, _ := onnx.ExtractFloat32(first[inputHiddenStates])
	if states[0] != 0.5 || states[len(states)-1] != 0 {
		t.Errorf("unconditional half should be zeros: first=%v last=%v", states[0], states[len(states)-1])
	}

	maskVals := int64Values(t, first[inputAttentionMask])
	if !slices.Equal(maskVals, []int64{1, 1, 0, 0}) {
		t.Errorf("encoder_attention_mask = %v", maskVals)
	}

	if len(res.Frames) != 1 || !slices.Equal(res.Frames[0], []int64{cond, cond, cond, cond}) {
		t.Errorf("frames = %v; guidance should favour the conditional token", res.Frames)
	}
}

func TestDecoderGenerate_ContractViolations(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(call int, out map[string]*onnx.Tensor)
		guidance float64
		want     error
	}{
		{
			name: "missing present tensor",
			mutate: func(call int, out map[string]*onnx.Tensor) {
				delete(out, presentKeyName(0, EncoderValue))
			},
			want: ErrMissingOutput,
		},
		{
			name: "missing logits",
			mutate: func(call int, out map[string]*onnx.Tensor) {
				delete(out, outputLogits)
			},
			want: ErrMissingOutput,
		},
		{
			name: "rank 2 logits",
			mutate: func(call int, out map[string]*onnx.Tensor) {
				out[outputLogits], _ = onnx.NewTensor(make([]float32, 4*16), []int64{4, 16})
			},
			want: ErrLogitsShape,
		},
		{
			name: "decoder cache does not grow",
			mutate: func(call int, out map[string]*onnx.Tensor) {
				if call == 1 {
					out[presentKeyName(0, DecoderValue)], _ = onnx.NewTensor(make([]float32, 8), []int64{1, 2, 1, 4})
				}
			},
			want: ErrCacheShape,
		},
		{
			name: "guided run gets unguided logits",
			mutate: func(call int, out map[string]*onnx.Tensor) {
				out[outputLogits], _ = onnx.NewTensor(make([]float32, 4*16), []int64{4, 1, 16})
			},
			guidance: 3,
			want:     ErrLogitsShape,
		},
		{
			name: "unguided run gets guided logits",
			mutate: func(call int, out map[string]*onnx.Tensor) {
				out[outputLogits], _ = onnx.NewTensor(make([]float32, 8*16), []int64{8, 1, 16})
			},
			want: ErrLogitsShape,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := fakeDecoder{layers: 1, vocab: 16, encLen: 2, pick: func(int, int) int64 { return 1 }, mutate: tt.mutate}
			d := newTestDecoder(t, dec.runner(t), 1)
			hidden, mask := encoderOutputs(t, 2, 4)

			opts := greedy(5)
			opts.GuidanceScale = tt.guidance

			res, err := d.Generate(context.Background(), hidden, mask, opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}

			if !errors.Is(err, ErrContract) {
				t.Errorf("err = %v should match ErrContract", err)
			}

			if res != nil {
				t.Errorf("result = %+v, want nil on contract violation", res)
			}

			if d.State() != StateTerminated || d.cache.Filled() {
				t.Errorf("State = %s filled = %v; want terminated and empty", d.State(), d.cache.Filled())
			}
		})
	}
}

func TestDecoderGenerate_EncoderCacheFixedAfterFirstStep(t *testing.T) {
	tests := []struct {
		name  string
		shape []int64
	}{
		{"placeholder presents", []int64{1, 1, 1, 1}},
		{"same-shape presents", []int64{1, 2, 2, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := fakeDecoder{layers: 1, vocab: 16, encLen: 2, pick: func(int, int) int64 { return 1 }}
			dec.mutate = func(call int, out map[string]*onnx.Tensor) {
				if call > 0 {
					out[presentKeyName(0, EncoderKey)] = zeros(t, tt.shape)
					out[presentKeyName(0, EncoderValue)] = zeros(t, tt.shape)
				}
			}
			fake := dec.runner(t)

			var step0 *onnx.Tensor
			recorder := &fakeRunner{name: GraphDecoder, fn: func(ctx context.Context, call int, in map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
				out, err := fake.Run(ctx, in)
				if call == 0 && err == nil {
					step0 = out[presentKeyName(0, EncoderKey)]
				}

				return out, err
			}}

			d := newTestDecoder(t, recorder, 1)
			hidden, mask := encoderOutputs(t, 2, 4)

			if _, err := d.Generate(context.Background(), hidden, mask, greedy(4)); err != nil {
				t.Fatalf("Generate: %v", err)
			}

			for step, in := range recorder.Calls()[1:] {
				if in[pastKeyName(0, EncoderKey)] != step0 {
					t.Errorf("step %d: past encoder key is not the step 0 tensor", step+1)
				}
			}
		})
	}
}

func TestDecoderGenerate_RunnerError(t *testing.T) {
	boom := errors.New("ort failure")
	fake := &fakeRunner{fn: func(context.Context, int, map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
		return nil, boom
	}}

	d := newTestDecoder(t, fake, 1)
	hidden, mask := encoderOutputs(t, 2, 4)

	if _, err := d.Generate(context.Background(), hidden, mask, greedy(3)); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped runner error", err)
	}
}

func TestDecoderGenerate_InvalidOptions(t *testing.T) {
	fake := fakeDecoder{layers: 1, vocab: 16, encLen: 2, pick: func(int, int) int64 { return 1 }}.runner(t)
	d := newTestDecoder(t, fake, 1)
	hidden, mask := encoderOutputs(t, 2, 4)

	if _, err := d.Generate(context.Background(), hidden, mask, greedy(0)); err == nil {
		t.Error("expected error for zero max tokens")
	}

	if _, err := d.Generate(context.Background(), nil, mask, greedy(1)); err == nil {
		t.Error("expected error for nil hidden states")
	}

	if len(fake.Calls()) != 0 {
		t.Errorf("decoder ran %d times for invalid options", len(fake.Calls()))
	}
}

func TestNewDecoder_Validates(t *testing.T) {
	fake := &fakeRunner{}

	if _, err := NewDecoder(nil, DefaultModelConfig(), nil); err == nil {
		t.Error("expected error for nil runner")
	}

	cfg := DefaultModelConfig()
	cfg.Codebooks = 0
	if _, err := NewDecoder(fake, cfg, nil); !errors.Is(err, ErrInvalidCodebooks) {
		t.Errorf("err = %v, want ErrInvalidCodebooks", err)
	}

	cfg = DefaultModelConfig()
	cfg.Layers = 0
	if _, err := NewDecoder(fake, cfg, nil); !errors.Is(err, ErrInvalidLayers) {
		t.Errorf("err = %v, want ErrInvalidLayers", err)
	}
}
