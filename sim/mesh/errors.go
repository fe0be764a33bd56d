package mesh

import "fmt"

// InconsistencyError reports a broken mesh: a tetrahedron referencing a
// non-existent neighbour, a non-positive volume, or adjacency that does not
// agree from both sides. Face is -1 when the error is not tied to one face.
type InconsistencyError struct {
	Tet    int
	Face   int
	Reason string
}

func (e *InconsistencyError) Error() string {
	switch {
	case e.Tet < 0:
		return fmt.Sprintf("mesh: %s", e.Reason)
	case e.Face < 0:
		return fmt.Sprintf("mesh: tet %d: %s", e.Tet, e.Reason)
	default:
		return fmt.Sprintf("mesh: tet %d face %d: %s", e.Tet, e.Face, e.Reason)
	}
}

func inconsistent(tet, face int, format string, args ...any) *InconsistencyError {
	return &InconsistencyError{Tet: tet, Face: face, Reason: fmt.Sprintf(format, args...)}
}
