// Package mesh exposes the adjacency and geometric measures of a tetrahedral
// mesh: per-tet volume, the neighbour across each face with the shared-face
// area and inter-centroid distance, and the named element groups each tet
// belongs to. A Mesh is read-only after New.
package mesh

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Boundary marks a face with no neighbouring tetrahedron.
const Boundary = -1

// FacesPerTet is the number of faces of a tetrahedron.
const FacesPerTet = 4

// symmetryTol is the relative tolerance for the two sides of a shared face.
const symmetryTol = 1e-9

// Face describes one face of a tetrahedron.
type Face struct {
	Neighbor int     `yaml:"neighbor"` // Boundary (-1) for an outer face
	Area     float64 `yaml:"area"`     // shared-face area (m²)
	Distance float64 `yaml:"distance"` // distance between the two centroids (m)
}

// Tet is one tetrahedron as supplied by mesh import.
type Tet struct {
	Volume float64  `yaml:"volume"` // m³
	Faces  []Face   `yaml:"faces"`  // at most FacesPerTet, in face order
	Groups []string `yaml:"groups"`
}

// Neighbor is an interior face seen from its owning tetrahedron.
type Neighbor struct {
	Tet      int
	Face     int
	Area     float64
	Distance float64
}

// Mesh is an immutable, validated tetrahedral mesh.
type Mesh struct {
	tets      []Tet
	neighbors [][]Neighbor
	groups    map[string][]int
}

// Description is the YAML layout of a mesh file.
type Description struct {
	Tets []Tet `yaml:"tets"`
}

// New validates tets and builds the adjacency tables. Failures are
// *InconsistencyError.
func New(tets []Tet) (*Mesh, error) {
	if len(tets) == 0 {
		return nil, &InconsistencyError{Tet: -1, Face: -1, Reason: "mesh has no tetrahedra"}
	}
	m := &Mesh{
		tets:      make([]Tet, len(tets)),
		neighbors: make([][]Neighbor, len(tets)),
		groups:    make(map[string][]int),
	}
	for i, t := range tets {
		if math.IsNaN(t.Volume) || math.IsInf(t.Volume, 0) || t.Volume <= 0 {
			return nil, inconsistent(i, -1, "volume must be positive and finite, got %v", t.Volume)
		}
		if len(t.Faces) > FacesPerTet {
			return nil, inconsistent(i, -1, "%d faces listed, a tetrahedron has %d", len(t.Faces), FacesPerTet)
		}
		for f, face := range t.Faces {
			if face.Neighbor == Boundary {
				continue
			}
			if face.Neighbor < 0 || face.Neighbor >= len(tets) {
				return nil, inconsistent(i, f, "neighbor %d does not exist", face.Neighbor)
			}
			if face.Neighbor == i {
				return nil, inconsistent(i, f, "tetrahedron lists itself as neighbor")
			}
			for _, prev := range m.neighbors[i] {
				if prev.Tet == face.Neighbor {
					return nil, inconsistent(i, f, "neighbor %d already shares face %d", face.Neighbor, prev.Face)
				}
			}
			if !(face.Area > 0) || math.IsInf(face.Area, 0) {
				return nil, inconsistent(i, f, "shared-face area must be positive and finite, got %v", face.Area)
			}
			if !(face.Distance > 0) || math.IsInf(face.Distance, 0) {
				return nil, inconsistent(i, f, "centroid distance must be positive and finite, got %v", face.Distance)
			}
			m.neighbors[i] = append(m.neighbors[i], Neighbor{
				Tet: face.Neighbor, Face: f, Area: face.Area, Distance: face.Distance,
			})
		}
		m.tets[i] = Tet{
			Volume: t.Volume,
			Faces:  append([]Face(nil), t.Faces...),
			Groups: append([]string(nil), t.Groups...),
		}
		for _, g := range t.Groups {
			m.groups[g] = append(m.groups[g], i)
		}
	}
	if err := m.checkSymmetry(); err != nil {
		return nil, err
	}
	return m, nil
}

// checkSymmetry requires that every shared face is listed from both sides
// with the same area and distance.
func (m *Mesh) checkSymmetry() error {
	for i, ns := range m.neighbors {
		for _, n := range ns {
			back, ok := m.faceTowards(n.Tet, i)
			if !ok {
				return inconsistent(i, n.Face, "neighbor %d does not list %d back", n.Tet, i)
			}
			if !closeEnough(back.Area, n.Area) {
				return inconsistent(i, n.Face, "shared-face area %v differs from neighbor %d side %v", n.Area, n.Tet, back.Area)
			}
			if !closeEnough(back.Distance, n.Distance) {
				return inconsistent(i, n.Face, "centroid distance %v differs from neighbor %d side %v", n.Distance, n.Tet, back.Distance)
			}
		}
	}
	return nil
}

func (m *Mesh) faceTowards(from, to int) (Neighbor, bool) {
	for _, n := range m.neighbors[from] {
		if n.Tet == to {
			return n, true
		}
	}
	return Neighbor{}, false
}

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) <= symmetryTol*math.Max(math.Abs(a), math.Abs(b))
}

// Len is the number of tetrahedra.
func (m *Mesh) Len() int { return len(m.tets) }

// Volume returns the volume of tet t.
func (m *Mesh) Volume(t int) float64 { return m.tets[t].Volume }

// Neighbors returns the interior faces of tet t in face order.
// The slice is shared; callers must not modify it.
func (m *Mesh) Neighbors(t int) []Neighbor { return m.neighbors[t] }

// Groups returns the element groups tet t belongs to.
func (m *Mesh) Groups(t int) []string { return m.tets[t].Groups }

// GroupTets returns the tets of an element group in ascending index order.
func (m *Mesh) GroupTets(name string) []int { return m.groups[name] }

// GroupNames returns all element group names, sorted.
func (m *Mesh) GroupNames() []string {
	names := make([]string, 0, len(m.groups))
	for g := range m.groups {
		names = append(names, g)
	}
	sort.Strings(names)
	return names
}

// TotalVolume sums the volumes of the given tets.
func (m *Mesh) TotalVolume(tets []int) float64 {
	var v float64
	for _, t := range tets {
		v += m.tets[t].Volume
	}
	return v
}

// Load reads a YAML mesh description. Uses strict parsing.
func Load(path string) (*Mesh, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mesh: %w", err)
	}
	var desc Description
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&desc); err != nil {
		return nil, fmt.Errorf("parsing mesh: %w", err)
	}
	return New(desc.Tets)
}

// Chain builds n identical tets joined face-to-face along a line: face 0 of
// tet i faces tet i-1 and face 1 faces tet i+1. Every tet joins the given
// groups. With area = distance² and volume = distance³ each sub-volume behaves
// like a cell of a regular 1D lattice with spacing distance.
func Chain(n int, volume, area, distance float64, groups ...string) (*Mesh, error) {
	tets := make([]Tet, n)
	for i := range tets {
		prev, next := Face{Neighbor: Boundary}, Face{Neighbor: Boundary}
		if i > 0 {
			prev = Face{Neighbor: i - 1, Area: area, Distance: distance}
		}
		if i < n-1 {
			next = Face{Neighbor: i + 1, Area: area, Distance: distance}
		}
		tets[i] = Tet{
			Volume: volume,
			Faces:  []Face{prev, next, {Neighbor: Boundary}, {Neighbor: Boundary}},
			Groups: groups,
		}
	}
	return New(tets)
}
