package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSelector_ValidNames(t *testing.T) {
	for name := range ValidSelectors {
		sel := NewSelector(name)
		assert.NotNil(t, sel, name)
	}
	assert.Equal(t, "tree", NewSelector("").Name())
	assert.False(t, IsValidSelector("heap"))
	assert.Panics(t, func() { NewSelector("heap") })
}

func TestSelector_FirstCumulativeExceeding(t *testing.T) {
	rates := []float64{0, 2, 0, 1, 3, 0}
	// cumulative: 0 2 2 3 6 6
	tests := []struct {
		target float64
		want   int
	}{
		{0, 1},
		{1.999, 1},
		{2, 3},
		{2.5, 3},
		{3, 4},
		{5.999, 4},
	}
	for _, name := range []string{"linear", "tree"} {
		sel := NewSelector(name)
		sel.Reset(rates)
		assert.Equal(t, 6.0, sel.Total(), name)
		for _, tt := range tests {
			assert.Equal(t, tt.want, sel.Select(tt.target), "%s target %v", name, tt.target)
		}
	}
}

func TestSelector_NeverPicksZeroRate(t *testing.T) {
	// GIVEN trailing zero-rate channels
	rates := []float64{1, 1, 0, 0, 0}
	for _, name := range []string{"linear", "tree"} {
		sel := NewSelector(name)
		sel.Reset(rates)
		// WHEN the target sits on the rounding edge of the total
		got := sel.Select(sel.Total())
		// THEN the last positive channel is returned
		assert.Equal(t, 1, got, name)
	}
}

func TestSelector_EmptyTotal(t *testing.T) {
	for _, name := range []string{"linear", "tree"} {
		sel := NewSelector(name)
		sel.Reset([]float64{0, 0, 0})
		assert.Equal(t, 0.0, sel.Total())
		assert.Equal(t, -1, sel.Select(0), name)

		sel.Reset(nil)
		assert.Equal(t, 0.0, sel.Total())
		assert.Equal(t, -1, sel.Select(0), name)
	}
}

func TestSelector_UpdateKeepsTotal(t *testing.T) {
	// GIVEN linear and tree selectors over the same rates
	lin, tree := NewSelector("linear"), NewSelector("tree")
	rates := []float64{1, 2, 3, 4, 5, 6, 7}
	lin.Reset(rates)
	tree.Reset(rates)

	// WHEN a series of updates is applied
	for i, r := range []float64{0, 8, 0.5, 0, 2, 1, 0} {
		lin.Update(i, r)
		tree.Update(i, r)
	}

	// THEN both report the exact sum and agree on every selection
	assert.Equal(t, 11.5, lin.Total())
	assert.Equal(t, 11.5, tree.Total())
	for target := 0.0; target < 11.5; target += 0.25 {
		assert.Equal(t, lin.Select(target), tree.Select(target), "target %v", target)
	}
}

func TestTreeSelector_SingleChannel(t *testing.T) {
	sel := NewSelector("tree")
	sel.Reset([]float64{4})
	assert.Equal(t, 0, sel.Select(3.9))
	sel.Update(0, 0)
	assert.Equal(t, -1, sel.Select(0))
}
