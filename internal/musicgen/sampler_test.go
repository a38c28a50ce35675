package musicgen

import "testing"

func TestSampler_Greedy(t *testing.T) {
	s := NewSampler(1, 0, 0)

	if got := s.Sample([]float32{0.1, 3, -2, 2.9}); got != 1 {
		t.Fatalf("Sample = %d, want 1", got)
	}

	if got := s.Sample(nil); got != 0 {
		t.Fatalf("Sample(nil) = %d, want 0", got)
	}
}

func TestSampler_TopOneIsArgmax(t *testing.T) {
	s := NewSampler(7, 1.5, 1)
	logits := []float32{0, 0.2, 0.1, 0.19}

	for range 100 {
		if got := s.Sample(logits); got != 1 {
			t.Fatalf("Sample = %d, want 1", got)
		}
	}
}

func TestSampler_TopKNeverLeavesCandidates(t *testing.T) {
	s := NewSampler(3, 1, 2)
	logits := []float32{5, 0, 4.5, 0, 0, 0}

	seen := map[int64]int{}
	for range 500 {
		seen[s.Sample(logits)]++
	}

	for id := range seen {
		if id != 0 && id != 2 {
			t.Fatalf("sampled %d outside top-2 %v", id, seen)
		}
	}

	if seen[0] == 0 || seen[2] == 0 {
		t.Fatalf("expected both top-2 tokens, got %v", seen)
	}
}

func TestSampler_SeedIsDeterministic(t *testing.T) {
	logits := make([]float32, 64)
	for i := range logits {
		logits[i] = float32(i%7) * 0.3
	}

	a := NewSampler(42, 1, 0)
	b := NewSampler(42, 1, 0)

	for i := range 200 {
		if x, y := a.Sample(logits), b.Sample(logits); x != y {
			t.Fatalf("draw %d differs: %d vs %d", i, x, y)
		}
	}
}
