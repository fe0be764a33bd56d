package sim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetsim/tetsim/sim/internal/testutil"
	"github.com/tetsim/tetsim/sim/mesh"
	"github.com/tetsim/tetsim/sim/model"
)

// unitVolume makes 1e3·V·N_A equal one, so reaction scales are 1.
const unitVolume = 1 / (1e3 * Avogadro)

// newTestEngine builds m on msh with the given key and selector or fails the test.
func newTestEngine(t *testing.T, m *model.Model, msh *mesh.Mesh, seed int64, selector string) *Engine {
	t.Helper()
	e, err := New(testutil.MustBuild(t, m), msh, Config{Key: NewSimulationKey(seed), Selector: selector})
	require.NoError(t, err)
	return e
}

// singleTet is one isolated tet of the given volume in group "cyto".
func singleTet(t *testing.T, volume float64) *mesh.Mesh {
	t.Helper()
	m, err := mesh.New([]mesh.Tet{{Volume: volume, Groups: []string{"cyto"}}})
	require.NoError(t, err)
	return m
}

// twoRegions is a 2-tet pair: tet 0 in group "left", tet 1 in group "right".
func twoRegions(t *testing.T, v0, v1 float64) *mesh.Mesh {
	t.Helper()
	m, err := mesh.New([]mesh.Tet{
		{Volume: v0, Faces: []mesh.Face{{Neighbor: 1, Area: 1, Distance: 1}}, Groups: []string{"left"}},
		{Volume: v1, Faces: []mesh.Face{{Neighbor: 0, Area: 1, Distance: 1}}, Groups: []string{"right"}},
	})
	require.NoError(t, err)
	return m
}

// twoCompartments diffuses X in "left" and, when rightDiffuses, in "right".
func twoCompartments(rightDiffuses bool) *model.Model {
	m := &model.Model{
		Species:    []string{"X"},
		Diffusions: []model.DiffusionRule{{Name: "dX", Species: "X", Coefficient: 1}},
		Compartments: []model.Compartment{
			{Name: "left", Diffusions: []string{"dX"}},
			{Name: "right"},
		},
	}
	if rightDiffuses {
		m.Compartments[1].Diffusions = []string{"dX"}
	}
	return m
}

func totalOf(e *Engine, s int) int64 {
	return e.Totals()[s]
}

func tetSeed(tet int, species string, n int64) Seeds {
	return Seeds{Tets: []TetCount{{Tet: tet, Species: species, Count: n}}}
}
