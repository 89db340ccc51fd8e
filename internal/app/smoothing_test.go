package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSmoother(t *testing.T) {
	s := NewSmoother(0.6)

	assert.Equal(t, []float64{0.2, 0.8}, s.Update([]float64{0.2, 0.8}), "first vector seeds the average")

	got := s.Update([]float64{1, 0})
	assert.InDelta(t, 0.6*0.2+0.4*1, got[0], 1e-12)
	assert.InDelta(t, 0.6*0.8, got[1], 1e-12)

	got[0] = 42
	again := s.Update([]float64{1, 0})
	assert.NotEqual(t, 42.0, again[0], "returned slices are copies")

	// A different class count restarts.
	assert.Equal(t, []float64{0.1, 0.2, 0.7}, s.Update([]float64{0.1, 0.2, 0.7}))

	s.Reset()
	assert.Equal(t, []float64{0.5, 0.5}, s.Update([]float64{0.5, 0.5}))
}

func TestSmootherAlphaBounds(t *testing.T) {
	s := NewSmoother(-1)
	s.Update([]float64{1, 0})
	assert.Equal(t, []float64{0, 1}, s.Update([]float64{0, 1}), "alpha 0 follows the input")

	s = NewSmoother(5)
	s.Update([]float64{1, 0})
	got := s.Update([]float64{0, 1})
	assert.Greater(t, got[0], 0.9)
}

func TestDecide(t *testing.T) {
	labels := []string{"A", "B", "C"}

	for _, tc := range []struct {
		name  string
		p     []float64
		want  string
		value float64
		ok    bool
	}{
		{"confident", []float64{0.1, 0.8, 0.1}, "B", 0.8, true},
		{"at threshold", []float64{0.7, 0.2, 0.1}, "A", 0.7, true},
		{"below threshold", []float64{0.4, 0.35, 0.25}, "", 0.4, false},
		{"tie picks lowest index", []float64{0, 0.75, 0.75}, "B", 0.75, true},
		{"empty", nil, "", -1, false},
		{"index without label", []float64{0, 0, 0, 1}, "", 1, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			label, v, ok := Decide(labels, tc.p, 0.7)
			assert.Equal(t, tc.want, label)
			assert.Equal(t, tc.value, v)
			assert.Equal(t, tc.ok, ok)
		})
	}
}
