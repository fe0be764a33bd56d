package sim

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two simulations with the same SimulationKey, model, mesh and seed counts
// MUST produce identical event sequences.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemKinetics is the event stream: waiting times and event selection.
	// Uses the master seed directly.
	SubsystemKinetics = "kinetics"

	// SubsystemInjection distributes compartment-level counts across tets.
	SubsystemInjection = "injection"
)

// SubsystemTrajectory returns the subsystem name for ensemble trajectory i.
func SubsystemTrajectory(i int) string {
	return fmt.Sprintf("trajectory_%d", i)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemKinetics: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.DeriveSeed(name)))
	p.subsystems[name] = rng
	return rng
}

// DeriveSeed returns the seed ForSubsystem uses for name.
func (p *PartitionedRNG) DeriveSeed(name string) int64 {
	if name == SubsystemKinetics {
		return int64(p.key)
	}
	return int64(p.key) ^ fnv1a64(name)
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}

// === RNG adapter ===

// RNG is the draw interface the kernel consumes.
// Uniform01 returns a value in [0,1); Exponential returns a waiting time for
// the given rate. Both advance internal state on every call.
type RNG interface {
	Uniform01() float64
	Exponential(rate float64) float64
}

// Stream adapts a *rand.Rand to RNG.
type Stream struct {
	name string
	r    *rand.Rand
}

// NewStream wraps r as the named subsystem stream.
func NewStream(name string, r *rand.Rand) *Stream {
	return &Stream{name: name, r: r}
}

// Uniform01 implements RNG.
func (s *Stream) Uniform01() float64 { return s.r.Float64() }

// Exponential implements RNG.
func (s *Stream) Exponential(rate float64) float64 { return s.r.ExpFloat64() / rate }

// Name returns the subsystem name.
func (s *Stream) Name() string { return s.name }

// checkedRNG is the only place draws are counted. Every draw is validated
// and a bad one is reported as an *RNGError carrying its 1-based index.
type checkedRNG struct {
	subsystem string
	rng       RNG
	draws     uint64
}

func newCheckedRNG(subsystem string, rng RNG) *checkedRNG {
	return &checkedRNG{subsystem: subsystem, rng: rng}
}

// Draws returns the number of values drawn so far.
func (c *checkedRNG) Draws() uint64 { return c.draws }

// uniform draws from [0,1).
func (c *checkedRNG) uniform() (float64, error) {
	c.draws++
	u := c.rng.Uniform01()
	if math.IsNaN(u) || u < 0 || u >= 1 {
		return 0, &RNGError{Subsystem: c.subsystem, Draw: c.draws, Value: u, Reason: "uniform draw outside [0,1)"}
	}
	return u, nil
}

// exponential draws a waiting time and rejects negative or non-finite values.
func (c *checkedRNG) exponential(rate float64) (float64, error) {
	c.draws++
	tau := c.rng.Exponential(rate)
	if math.IsNaN(tau) || math.IsInf(tau, 0) || tau < 0 {
		return 0, &RNGError{Subsystem: c.subsystem, Draw: c.draws, Value: tau, Reason: "waiting time must be finite and non-negative"}
	}
	return tau, nil
}
