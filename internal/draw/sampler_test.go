package draw

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/lottery-system/internal/model"
)

func makeEntries(n int) []model.Entry {
	entries := make([]model.Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, model.Entry{UserID: fmt.Sprintf("u%d", i), LotteryID: "L"})
	}
	return entries
}

func TestSample_Size(t *testing.T) {
	tests := []struct {
		name string
		n    int
		k    int
		want int
	}{
		{name: "k less than n", n: 10, k: 3, want: 3},
		{name: "k equals n", n: 4, k: 4, want: 4},
		{name: "k greater than n", n: 2, k: 5, want: 2},
		{name: "zero capacity", n: 5, k: 0, want: 0},
		{name: "negative capacity", n: 5, k: -1, want: 0},
		{name: "nobody registered", n: 0, k: 3, want: 0},
	}

	s := NewSampler(rand.NewPCG(1, 2))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Sample(makeEntries(tt.n), tt.k)
			require.NotNil(t, got)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestSample_DistinctAndFromInput(t *testing.T) {
	entries := makeEntries(20)
	s := NewSampler(rand.NewPCG(7, 7))

	for trial := 0; trial < 100; trial++ {
		got := s.Sample(entries, 8)

		seen := make(map[string]bool, len(got))
		for _, e := range got {
			require.False(t, seen[e.UserID], "duplicate winner %s", e.UserID)
			seen[e.UserID] = true
			assert.Contains(t, entries, e)
		}
	}
}

func TestSample_DoesNotMutateInput(t *testing.T) {
	entries := makeEntries(6)
	orig := append([]model.Entry(nil), entries...)

	_ = NewSampler(rand.NewPCG(3, 4)).Sample(entries, 3)

	assert.Equal(t, orig, entries)
}

func TestSample_Deterministic(t *testing.T) {
	entries := makeEntries(10)

	a := NewSampler(rand.NewPCG(42, 0)).Sample(entries, 4)
	b := NewSampler(rand.NewPCG(42, 0)).Sample(entries, 4)

	assert.Equal(t, a, b)
}

func TestSample_Uniform(t *testing.T) {
	const (
		n      = 5
		k      = 2
		trials = 50000
	)

	entries := makeEntries(n)
	counts := make(map[string]int, n)

	for seed := uint64(0); seed < trials; seed++ {
		s := NewSampler(rand.NewPCG(seed, seed*31+1))
		for _, e := range s.Sample(entries, k) {
			counts[e.UserID]++
		}
	}

	want := float64(k) / float64(n)
	for _, e := range entries {
		freq := float64(counts[e.UserID]) / trials
		assert.InDelta(t, want, freq, 0.02, "user %s selected with frequency %v", e.UserID, freq)
	}
}

func TestSample_UniformOverSubsets(t *testing.T) {
	const trials = 30000

	entries := makeEntries(4)
	s := NewSampler(rand.NewPCG(11, 13))
	counts := make(map[string]int)

	for i := 0; i < trials; i++ {
		got := s.Sample(entries, 2)
		a, b := got[0].UserID, got[1].UserID
		if a > b {
			a, b = b, a
		}
		counts[a+","+b]++
	}

	// C(4,2) = 6 подмножеств
	require.Len(t, counts, 6)
	for subset, c := range counts {
		assert.InDelta(t, 1.0/6, float64(c)/trials, 0.02, "subset %s", subset)
	}
}

func TestSample_DefaultSource(t *testing.T) {
	got := NewSampler(nil).Sample(makeEntries(3), 2)
	assert.Len(t, got, 2)
}
