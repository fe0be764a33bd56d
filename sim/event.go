package sim

import "fmt"

// EventKind discriminates the Event variant.
type EventKind uint8

const (
	// KindReaction fires a reaction rule inside one tetrahedron.
	KindReaction EventKind = iota
	// KindDiffusion moves one molecule across a shared face.
	KindDiffusion
)

func (k EventKind) String() string {
	switch k {
	case KindReaction:
		return "reaction"
	case KindDiffusion:
		return "diffusion"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is one stochastic event channel: a reaction rule in a tetrahedron, or
// a diffusion hop of one species from a tetrahedron to a face neighbour.
// Rule is a global reaction or diffusion index into model.Built. For
// reactions Dest and Species are -1.
type Event struct {
	Kind    EventKind
	Tet     int
	Dest    int
	Rule    int
	Species int
}

func (e Event) String() string {
	if e.Kind == KindDiffusion {
		return fmt.Sprintf("diffusion rule %d species %d tet %d -> %d", e.Rule, e.Species, e.Tet, e.Dest)
	}
	return fmt.Sprintf("reaction rule %d tet %d", e.Rule, e.Tet)
}
