package sim

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
)

// Snapshot is a copy of the engine state at one instant. It is enough to
// continue a run with Restore on an engine bound to the same model and
// mesh. Random stream state is not captured: call Reseed after Restore to
// choose the continuation's draw sequence.
type Snapshot struct {
	Time        float64
	Steps       uint64
	Species     []string
	Tets        int
	Counts      []int64 // tet-major, len Tets*len(Species)
	Clamped     []bool
	Fingerprint string
}

// Count returns the count of species s in tet t.
func (s *Snapshot) Count(t, sp int) int64 { return s.Counts[t*len(s.Species)+sp] }

// Snapshot captures the current state.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &Snapshot{
		Time:        e.clock,
		Steps:       e.steps,
		Species:     append([]string(nil), e.built.Species...),
		Tets:        e.mesh.Len(),
		Counts:      e.store.Counts(),
		Clamped:     append([]bool(nil), e.store.clamped...),
		Fingerprint: e.Fingerprint(),
	}
}

// Restore replaces counts, clamps, clock and step counter with those of s
// and rebuilds every propensity. Runtime constant overrides and activation
// flags are left as they are.
func (e *Engine) Restore(s *Snapshot) error {
	if s.Fingerprint != e.Fingerprint() {
		return fmt.Errorf("snapshot fingerprint %s does not match engine %s", s.Fingerprint, e.Fingerprint())
	}
	if len(s.Counts) != e.store.Tets()*e.store.Species() || len(s.Clamped) != len(s.Counts) {
		return fmt.Errorf("snapshot holds %d entries, engine needs %d", len(s.Counts), e.store.Tets()*e.store.Species())
	}
	for i, n := range s.Counts {
		if n < 0 {
			return fmt.Errorf("snapshot entry %d has negative count %d", i, n)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loopActive() {
		return ErrRunning
	}
	copy(e.store.counts, s.Counts)
	copy(e.store.clamped, s.Clamped)
	e.clock, e.steps, e.failure, e.initialized = s.Time, s.Steps, nil, true
	if err := e.props.Rebuild(e.cfg.Workers); err != nil {
		return err
	}
	e.setStatus(Idle)
	return nil
}

// Fingerprint identifies the model and mesh structure an engine is bound
// to: species, compartments and their rules, and tet volumes.
func (e *Engine) Fingerprint() string {
	h := fnv.New64a()
	var buf [8]byte
	word := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	str := func(s string) {
		word(uint64(len(s)))
		h.Write([]byte(s))
	}
	for _, s := range e.built.Species {
		str(s)
	}
	for _, c := range e.built.Compartments {
		str(c.Name)
		str(c.Group)
		word(uint64(len(c.Reactions)))
		word(uint64(len(c.Diffusions)))
	}
	word(uint64(e.mesh.Len()))
	for t := 0; t < e.mesh.Len(); t++ {
		word(math.Float64bits(e.mesh.Volume(t)))
	}
	word(uint64(e.props.Len()))
	return fmt.Sprintf("%016x", h.Sum64())
}
