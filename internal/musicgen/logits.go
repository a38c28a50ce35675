package musicgen

import (
	"fmt"

	"github.com/example/go-musicgen/internal/onnx"
)

// Logits is a dense [batch, seq, vocab] view over decoder scores. For the
// merged MusicGen decoder batch is codebooks times the guidance batch.
type Logits struct {
	data  []float32
	batch int
	seq   int
	vocab int
}

// NewLogits validates a rank-3 float tensor. Half-precision graphs are
// widened to float32.
func NewLogits(t *onnx.Tensor) (*Logits, error) {
	if t == nil || t.Rank() != 3 {
		var shape []int64
		if t != nil {
			shape = t.Shape()
		}

		return nil, fmt.Errorf("%w: got shape %v", ErrLogitsShape, shape)
	}

	data, err := onnx.WidenFloat32(t)
	if err != nil {
		return nil, fmt.Errorf("%w: logits: %v", ErrUnsupportedDType, err)
	}

	return &Logits{
		data:  data,
		batch: int(t.Dim(0)),
		seq:   int(t.Dim(1)),
		vocab: int(t.Dim(2)),
	}, nil
}

func (l *Logits) Batch() int { return l.batch }
func (l *Logits) Seq() int   { return l.seq }
func (l *Logits) Vocab() int { return l.vocab }

// Last returns the scores at the final sequence position of row b. The
// returned slice aliases the logits.
func (l *Logits) Last(b int) []float32 {
	off := (b*l.seq + l.seq - 1) * l.vocab
	return l.data[off : off+l.vocab]
}

// Guided folds a conditional/unconditional batch of 2*codebooks rows into
// codebooks rows as uncond + (cond-uncond)*scale, using the last position.
// Any other batch size is rejected.
func (l *Logits) Guided(codebooks int, scale float32) (*Logits, error) {
	if l.batch != 2*codebooks {
		return nil, fmt.Errorf("%w: guided batch %d, want %d", ErrLogitsShape, l.batch, 2*codebooks)
	}

	out := &Logits{
		data:  make([]float32, codebooks*l.vocab),
		batch: codebooks,
		seq:   1,
		vocab: l.vocab,
	}

	for k := range codebooks {
		cond := l.Last(k)
		uncond := l.Last(k + codebooks)
		dst := out.data[k*l.vocab : (k+1)*l.vocab]
		for i := range dst {
			dst[i] = uncond[i] + (cond[i]-uncond[i])*scale
		}
	}

	return out, nil
}
