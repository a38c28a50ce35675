package musicgen

import "fmt"

// DelayPattern records the tokens sampled for each codebook and exposes the
// two views the decode loop needs: the delayed frame fed back into the
// decoder, where codebook i starts i steps late, and the de-delayed frame
// that lines the codebooks back up in time for the audio codec.
type DelayPattern struct {
	seqs [][]int64
}

func NewDelayPattern(codebooks int) (*DelayPattern, error) {
	if codebooks <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCodebooks, codebooks)
	}

	return &DelayPattern{seqs: make([][]int64, codebooks)}, nil
}

func (d *DelayPattern) Codebooks() int {
	return len(d.seqs)
}

// Len returns the number of pushed steps.
func (d *DelayPattern) Len() int {
	return len(d.seqs[0])
}

// Push appends one token per codebook. A wrong count leaves the pattern
// untouched and returns ErrTokenArity.
func (d *DelayPattern) Push(ids ...int64) error {
	if len(ids) != len(d.seqs) {
		return fmt.Errorf("%w: want %d, got %d", ErrTokenArity, len(d.seqs), len(ids))
	}

	for i, id := range ids {
		d.seqs[i] = append(d.seqs[i], id)
	}

	return nil
}

// LastDelayedMasked returns the latest token of every codebook, with pad in
// place of codebook i while fewer than i+1 steps have been pushed.
func (d *DelayPattern) LastDelayedMasked(pad int64) []int64 {
	return d.AppendLastDelayedMasked(make([]int64, 0, len(d.seqs)), pad)
}

// AppendLastDelayedMasked is LastDelayedMasked writing into dst.
func (d *DelayPattern) AppendLastDelayedMasked(dst []int64, pad int64) []int64 {
	n := d.Len()
	for i, seq := range d.seqs {
		if n-i <= 0 {
			dst = append(dst, pad)
			continue
		}

		dst = append(dst, seq[len(seq)-1])
	}

	return dst
}

// LastDeDelayed returns the most recent time-aligned frame: value i is
// seq_i[len-N+i]. It reports false until N steps have been pushed.
func (d *DelayPattern) LastDeDelayed() ([]int64, bool) {
	n := len(d.seqs)
	l := d.Len()
	if l < n {
		return nil, false
	}

	out := make([]int64, n)
	for i, seq := range d.seqs {
		out[i] = seq[l-n+i]
	}

	return out, true
}
