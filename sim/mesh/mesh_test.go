package mesh

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pair() []Tet {
	return []Tet{
		{Volume: 2, Faces: []Face{{Neighbor: 1, Area: 1, Distance: 0.5}}, Groups: []string{"left", "all"}},
		{Volume: 1, Faces: []Face{{Neighbor: Boundary}, {Neighbor: 0, Area: 1, Distance: 0.5}}, Groups: []string{"right", "all"}},
	}
}

func TestNew_Adjacency(t *testing.T) {
	m, err := New(pair())
	require.NoError(t, err)

	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 2.0, m.Volume(0))
	assert.Equal(t, []Neighbor{{Tet: 1, Face: 0, Area: 1, Distance: 0.5}}, m.Neighbors(0))
	// boundary faces are skipped but face numbering is preserved
	assert.Equal(t, []Neighbor{{Tet: 0, Face: 1, Area: 1, Distance: 0.5}}, m.Neighbors(1))
	assert.Equal(t, []int{0, 1}, m.GroupTets("all"))
	assert.Equal(t, []string{"all", "left", "right"}, m.GroupNames())
	assert.Equal(t, 3.0, m.TotalVolume(m.GroupTets("all")))
}

func TestNew_Inconsistencies(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ts []Tet)
		tet    int
	}{
		{"zero volume", func(ts []Tet) { ts[1].Volume = 0 }, 1},
		{"negative volume", func(ts []Tet) { ts[0].Volume = -1 }, 0},
		{"missing neighbor", func(ts []Tet) { ts[0].Faces[0].Neighbor = 7 }, 0},
		{"self neighbor", func(ts []Tet) { ts[0].Faces[0].Neighbor = 0 }, 0},
		{"zero area", func(ts []Tet) { ts[0].Faces[0].Area = 0 }, 0},
		{"asymmetric", func(ts []Tet) { ts[1].Faces = ts[1].Faces[:1] }, 0},
		{"area mismatch", func(ts []Tet) { ts[1].Faces[1].Area = 2 }, 0},
		{"duplicate neighbor on one side", func(ts []Tet) {
			ts[0].Faces = append(ts[0].Faces, Face{Neighbor: 1, Area: 1, Distance: 0.5})
		}, 0},
		{"duplicate neighbor on both sides", func(ts []Tet) {
			ts[0].Faces = append(ts[0].Faces, Face{Neighbor: 1, Area: 1, Distance: 0.5})
			ts[1].Faces = append(ts[1].Faces, Face{Neighbor: 0, Area: 1, Distance: 0.5})
		}, 0},
		{"too many faces", func(ts []Tet) {
			ts[1].Faces = append(ts[1].Faces, Face{Neighbor: Boundary}, Face{Neighbor: Boundary}, Face{Neighbor: Boundary})
		}, 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ts := pair()
			tt.mutate(ts)
			_, err := New(ts)
			var merr *InconsistencyError
			require.True(t, errors.As(err, &merr), "expected *InconsistencyError, got %v", err)
			assert.Equal(t, tt.tet, merr.Tet)
		})
	}
}

func TestNew_Empty(t *testing.T) {
	_, err := New(nil)
	var merr *InconsistencyError
	assert.True(t, errors.As(err, &merr))
}

func TestChain(t *testing.T) {
	m, err := Chain(3, 1, 1, 1, "cyto")
	require.NoError(t, err)
	assert.Len(t, m.Neighbors(0), 1)
	assert.Len(t, m.Neighbors(1), 2)
	assert.Equal(t, 0, m.Neighbors(1)[0].Tet)
	assert.Equal(t, 2, m.Neighbors(1)[1].Tet)
	assert.Equal(t, []int{0, 1, 2}, m.GroupTets("cyto"))

	single, err := Chain(1, 1, 1, 1, "cyto")
	require.NoError(t, err)
	assert.Empty(t, single.Neighbors(0))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tets:
  - volume: 1.0e-18
    groups: [cyto]
    faces:
      - {neighbor: 1, area: 1.0e-12, distance: 1.0e-6}
  - volume: 1.0e-18
    groups: [cyto]
    faces:
      - {neighbor: 0, area: 1.0e-12, distance: 1.0e-6}
`), 0o644))
	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("tets:\n  - volume: 1\n    colour: red\n"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}
