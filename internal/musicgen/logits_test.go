package musicgen

import (
	"errors"
	"slices"
	"testing"

	"github.com/x448/float16"

	"github.com/example/go-musicgen/internal/onnx"
)

func TestNewLogits_Shape(t *testing.T) {
	tests := []struct {
		name  string
		shape []int64
	}{
		{"rank 1", []int64{8}},
		{"rank 2", []int64{2, 4}},
		{"rank 4", []int64{1, 2, 1, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLogits(zeros(t, tt.shape))
			if !errors.Is(err, ErrLogitsShape) {
				t.Fatalf("err = %v, want ErrLogitsShape", err)
			}
		})
	}

	if _, err := NewLogits(nil); !errors.Is(err, ErrLogitsShape) {
		t.Fatalf("nil err = %v, want ErrLogitsShape", err)
	}
}

func TestNewLogits_RejectsIntegerTensor(t *testing.T) {
	_, err := NewLogits(mustTensor(t, make([]int64, 4), []int64{1, 1, 4}))
	if !errors.Is(err, ErrUnsupportedDType) {
		t.Fatalf("err = %v, want ErrUnsupportedDType", err)
	}
}

func TestLogits_LastUsesFinalPosition(t *testing.T) {
	// [batch=2, seq=2, vocab=3]
	data := []float32{
		0, 0, 0, 1, 2, 3,
		0, 0, 0, 4, 5, 6,
	}

	l, err := NewLogits(mustTensor(t, data, []int64{2, 2, 3}))
	if err != nil {
		t.Fatal(err)
	}

	if l.Batch() != 2 || l.Seq() != 2 || l.Vocab() != 3 {
		t.Fatalf("dims = %d %d %d", l.Batch(), l.Seq(), l.Vocab())
	}

	if got := l.Last(1); !slices.Equal(got, []float32{4, 5, 6}) {
		t.Errorf("Last(1) = %v", got)
	}
}

func TestLogits_HalfPrecision(t *testing.T) {
	bits := make([]uint16, 4)
	for i, v := range []float32{0.5, -1, 2, 0} {
		bits[i] = float16.Fromfloat32(v).Bits()
	}

	tensor, err := onnx.NewFloat16Tensor(bits, []int64{1, 1, 4})
	if err != nil {
		t.Fatal(err)
	}

	l, err := NewLogits(tensor)
	if err != nil {
		t.Fatalf("NewLogits: %v", err)
	}

	if got := l.Last(0); !slices.Equal(got, []float32{0.5, -1, 2, 0}) {
		t.Errorf("Last(0) = %v", got)
	}
}

func TestLogits_Guided(t *testing.T) {
	// Two codebooks, vocab 2: cond rows then uncond rows.
	data := []float32{
		1, 0, // cond k=0
		0, 4, // cond k=1
		0, 0, // uncond k=0
		2, 2, // uncond k=1
	}

	l, err := NewLogits(mustTensor(t, data, []int64{4, 1, 2}))
	if err != nil {
		t.Fatal(err)
	}

	g, err := l.Guided(2, 3)
	if err != nil {
		t.Fatalf("Guided: %v", err)
	}

	if g.Batch() != 2 {
		t.Fatalf("Batch = %d, want 2", g.Batch())
	}

	if got := g.Last(0); !slices.Equal(got, []float32{3, 0}) {
		t.Errorf("k=0 = %v, want [3 0]", got)
	}

	if got := g.Last(1); !slices.Equal(got, []float32{-4, 8}) {
		t.Errorf("k=1 = %v, want [-4 8]", got)
	}

	if _, err := g.Guided(2, 3); !errors.Is(err, ErrLogitsShape) {
		t.Errorf("unbatched logits err = %v, want ErrLogitsShape", err)
	}

	if _, err := l.Guided(3, 3); !errors.Is(err, ErrLogitsShape) {
		t.Errorf("mismatched batch err = %v, want ErrLogitsShape", err)
	}
}
