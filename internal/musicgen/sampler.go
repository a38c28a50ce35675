package musicgen

import (
	"math"
	"math/rand/v2"
	"slices"
)

// Sampler draws token ids from logits with temperature and top-k filtering.
// It is not safe for concurrent use.
type Sampler struct {
	rng         *rand.Rand
	temperature float64
	topK        int

	idx   []int
	probs []float64
}

// NewSampler creates a sampler seeded with seed. Temperature <= 0 selects
// greedy decoding; topK <= 0 keeps the full vocabulary.
func NewSampler(seed uint64, temperature float64, topK int) *Sampler {
	return &Sampler{
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		temperature: temperature,
		topK:        topK,
	}
}

// Sample returns the chosen index into logits.
func (s *Sampler) Sample(logits []float32) int64 {
	if len(logits) == 0 {
		return 0
	}

	if s.temperature <= 0 {
		return int64(argmax(logits))
	}

	s.idx = s.idx[:0]
	for i := range logits {
		s.idx = append(s.idx, i)
	}

	k := len(logits)
	if s.topK > 0 && s.topK < k {
		k = s.topK
		slices.SortFunc(s.idx, func(a, b int) int {
			switch {
			case logits[a] > logits[b]:
				return -1
			case logits[a] < logits[b]:
				return 1
			default:
				return a - b
			}
		})
	}

	cand := s.idx[:k]

	maxLogit := math.Inf(-1)
	for _, i := range cand {
		maxLogit = max(maxLogit, float64(logits[i]))
	}

	s.probs = s.probs[:0]
	var sum float64
	for _, i := range cand {
		p := math.Exp((float64(logits[i]) - maxLogit) / s.temperature)
		s.probs = append(s.probs, p)
		sum += p
	}

	r := s.rng.Float64() * sum
	for j, p := range s.probs {
		r -= p
		if r < 0 {
			return int64(cand[j])
		}
	}

	return int64(cand[len(cand)-1])
}

func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}

	return best
}
