package sim

// StateStore holds the molecule count of every species in every tetrahedron
// as a dense tet-major array. Counts are never negative. Clamped entries keep
// their count through events; Add on a clamped entry is a no-op.
//
// Thread-safety: NOT thread-safe. The Engine serialises access.
type StateStore struct {
	nTets    int
	nSpecies int
	counts   []int64
	clamped  []bool
}

// NewStateStore returns an all-zero store.
func NewStateStore(nTets, nSpecies int) *StateStore {
	return &StateStore{
		nTets:    nTets,
		nSpecies: nSpecies,
		counts:   make([]int64, nTets*nSpecies),
		clamped:  make([]bool, nTets*nSpecies),
	}
}

func (s *StateStore) idx(t, sp int) int { return t*s.nSpecies + sp }

// Tets returns the number of tetrahedra.
func (s *StateStore) Tets() int { return s.nTets }

// Species returns the number of species.
func (s *StateStore) Species() int { return s.nSpecies }

// Get returns the count of species sp in tet t.
func (s *StateStore) Get(t, sp int) int64 { return s.counts[s.idx(t, sp)] }

// Set overwrites a count, ignoring the clamp. n must be non-negative.
func (s *StateStore) Set(t, sp int, n int64) { s.counts[s.idx(t, sp)] = n }

// Add applies delta unless the entry is clamped. A result below zero is
// refused with an *InvariantViolation and the count is left unchanged.
func (s *StateStore) Add(t, sp int, delta int64) error {
	i := s.idx(t, sp)
	if s.clamped[i] {
		return nil
	}
	if n := s.counts[i] + delta; n < 0 {
		return &InvariantViolation{Tet: t, Species: sp, Channel: -1, Count: s.counts[i], Delta: delta,
			Reason: "count would become negative"}
	}
	s.counts[i] += delta
	return nil
}

// CanAdd reports whether Add(t, sp, delta) would succeed.
func (s *StateStore) CanAdd(t, sp int, delta int64) bool {
	i := s.idx(t, sp)
	return s.clamped[i] || s.counts[i]+delta >= 0
}

// Clamp fixes or releases the count of species sp in tet t.
func (s *StateStore) Clamp(t, sp int, on bool) { s.clamped[s.idx(t, sp)] = on }

// Clamped reports whether the entry is clamped.
func (s *StateStore) Clamped(t, sp int) bool { return s.clamped[s.idx(t, sp)] }

// Totals returns the per-species sum over all tetrahedra.
func (s *StateStore) Totals() []int64 {
	tot := make([]int64, s.nSpecies)
	for t := 0; t < s.nTets; t++ {
		row := s.counts[t*s.nSpecies : (t+1)*s.nSpecies]
		for sp, n := range row {
			tot[sp] += n
		}
	}
	return tot
}

// Counts returns a copy of the dense tet-major count array.
func (s *StateStore) Counts() []int64 {
	return append([]int64(nil), s.counts...)
}

// Clone returns a deep copy.
func (s *StateStore) Clone() *StateStore {
	return &StateStore{
		nTets:    s.nTets,
		nSpecies: s.nSpecies,
		counts:   append([]int64(nil), s.counts...),
		clamped:  append([]bool(nil), s.clamped...),
	}
}

// Zero clears every count and clamp.
func (s *StateStore) Zero() {
	for i := range s.counts {
		s.counts[i] = 0
		s.clamped[i] = false
	}
}
