package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by Run and Step before any population was
	// set through Initialize, Restore, SetTetCount or SetCompCount.
	ErrNotInitialized = errors.New("simulation not initialized")
	// ErrInvalidTime is returned for an end time before the current clock or a negative advance.
	ErrInvalidTime = errors.New("invalid simulation time")
	// ErrIndexRange is returned for a tetrahedron, species, compartment or rule index out of range.
	ErrIndexRange = errors.New("index out of range")
	// ErrRunning is returned when an operation needs the event loop stopped.
	// A Run blocked on Pause is still live until it returns.
	ErrRunning = errors.New("simulation is running")
)

// InvariantViolation is a fatal internal-consistency failure: a count that
// would go negative, a propensity that is negative or non-finite, or a
// maintained propensity sum that disagrees with a recomputation. The engine
// halts and keeps its state for inspection. Tet, Species and Channel are -1
// when not applicable.
type InvariantViolation struct {
	Step    uint64
	Time    float64
	Tet     int
	Species int
	Channel int
	Count   int64
	Delta   int64
	Reason  string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation at step %d (t=%g, tet=%d, species=%d, channel=%d, count=%d, delta=%d): %s",
		e.Step, e.Time, e.Tet, e.Species, e.Channel, e.Count, e.Delta, e.Reason)
}

// RNGError reports a draw outside its contract. It is fatal: retrying or
// reseeding would break the single unbroken draw sequence a seed defines.
type RNGError struct {
	Subsystem string
	Draw      uint64 // 1-based index of the offending draw in the subsystem stream
	Value     float64
	Reason    string
}

func (e *RNGError) Error() string {
	return fmt.Sprintf("rng %s draw %d: %s (value %v)", e.Subsystem, e.Draw, e.Reason, e.Value)
}

func indexError(kind string, idx, n int) error {
	return fmt.Errorf("%s %d not in [0, %d): %w", kind, idx, n, ErrIndexRange)
}
