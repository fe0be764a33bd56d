// Package testutil provides shared test fixtures and assertion helpers for
// the kernel and its collaborator packages.
package testutil

import (
	"math"
	"testing"

	"github.com/tetsim/tetsim/sim/mesh"
	"github.com/tetsim/tetsim/sim/model"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// MustBuild builds m or fails the test.
func MustBuild(t testing.TB, m *model.Model) *model.Built {
	t.Helper()
	b, err := m.Build()
	if err != nil {
		t.Fatalf("building model: %v", err)
	}
	return b
}

// MustChain builds a chain mesh of n unit-spaced cells in group "cyto".
// Volume h³, face area h² and spacing h make each tet a lattice cell.
func MustChain(t testing.TB, n int, h float64) *mesh.Mesh {
	t.Helper()
	m, err := mesh.Chain(n, h*h*h, h*h, h, "cyto")
	if err != nil {
		t.Fatalf("building chain: %v", err)
	}
	return m
}

// Bimolecular is A + B -> C with rate k in compartment "cyto".
func Bimolecular(k float64) *model.Model {
	return &model.Model{
		Species:   []string{"A", "B", "C"},
		Reactions: []model.ReactionRule{{Name: "bind", Reactants: []string{"A", "B"}, Products: []string{"C"}, Rate: k}},
		Compartments: []model.Compartment{
			{Name: "cyto", Reactions: []string{"bind"}},
		},
	}
}

// Diffusing is a single species X with diffusion coefficient d in "cyto".
func Diffusing(d float64) *model.Model {
	return &model.Model{
		Species:    []string{"X"},
		Diffusions: []model.DiffusionRule{{Name: "dX", Species: "X", Coefficient: d}},
		Compartments: []model.Compartment{
			{Name: "cyto", Diffusions: []string{"dX"}},
		},
	}
}

// Isomerisation is A <-> B with diffusion of both species in "cyto".
func Isomerisation(kf, kb, d float64) *model.Model {
	return &model.Model{
		Species: []string{"A", "B"},
		Reactions: []model.ReactionRule{
			{Name: "fwd", Reactants: []string{"A"}, Products: []string{"B"}, Rate: kf},
			{Name: "back", Reactants: []string{"B"}, Products: []string{"A"}, Rate: kb},
		},
		Diffusions: []model.DiffusionRule{
			{Name: "dA", Species: "A", Coefficient: d},
			{Name: "dB", Species: "B", Coefficient: d},
		},
		Compartments: []model.Compartment{
			{Name: "cyto", Reactions: []string{"fwd", "back"}, Diffusions: []string{"dA", "dB"}},
		},
	}
}
