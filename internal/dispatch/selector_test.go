package dispatch

import "testing"

func TestRoundRobinSelectorCycles(t *testing.T) {
	s, err := NewWorkerSelector(RoundRobin, 3)
	if err != nil {
		t.Fatal(err)
	}
	got := []int{s.Next(), s.Next(), s.Next(), s.Next()}
	want := []int{0, 1, 2, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestLeastConnectionsSelectorPrefersIdleWorker(t *testing.T) {
	s, err := NewWorkerSelector(LeastConnections, 2)
	if err != nil {
		t.Fatal(err)
	}
	first := s.Next()
	second := s.Next()
	if first == second {
		t.Fatalf("expected distinct workers for two in-flight requests, got %d twice", first)
	}
	s.Release(first)
	third := s.Next()
	if third != first {
		t.Fatalf("expected released worker %d to be reselected, got %d", first, third)
	}
}

func TestWeightedRoundRobinSelectorHonoursWeights(t *testing.T) {
	sel := newWeightedRoundRobinSelector(2, []int{3, 1})
	counts := make(map[int]int)
	for i := 0; i < 8; i++ {
		counts[sel.Next()]++
	}
	if counts[0] <= counts[1] {
		t.Fatalf("expected worker 0 (weight 3) to be selected more than worker 1 (weight 1), got %v", counts)
	}
}

func TestNewWorkerSelectorRejectsZeroWorkers(t *testing.T) {
	if _, err := NewWorkerSelector(RoundRobin, 0); err == nil {
		t.Fatal("expected error for zero workers")
	}
}
