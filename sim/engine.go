package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tetsim/tetsim/sim/mesh"
	"github.com/tetsim/tetsim/sim/model"
)

// Status is the engine lifecycle state.
type Status int

const (
	Idle Status = iota
	Running
	Paused
	Terminated
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// DefaultTolerance is the relative tolerance of Verify.
const DefaultTolerance = 1e-9

// Config holds engine construction parameters.
type Config struct {
	Key         SimulationKey
	Selector    string  // one of ValidSelectors
	Workers     int     // goroutines for bulk propensity rebuilds; 0 means GOMAXPROCS
	VerifyEvery uint64  // recompute-and-compare every N events; 0 disables
	Tolerance   float64 // relative tolerance for Verify; 0 means DefaultTolerance
}

// TetCount seeds a species count in one tetrahedron.
type TetCount struct {
	Tet     int    `yaml:"tet"`
	Species string `yaml:"species"`
	Count   int64  `yaml:"count"`
}

// CompCount seeds a compartment-wide count, distributed over its tetrahedra
// in proportion to their volume.
type CompCount struct {
	Compartment string  `yaml:"compartment"`
	Species     string  `yaml:"species"`
	Count       float64 `yaml:"count"`
}

// Seeds is the initial population handed to Initialize. Compartment seeds
// are applied first, then tet seeds overwrite individual entries.
type Seeds struct {
	Compartments []CompCount `yaml:"compartments"`
	Tets         []TetCount  `yaml:"tets"`
}

// Engine runs the exact spatial SSA: one global stream of reaction and
// diffusion events over every tetrahedron, drawn with the Direct Method.
//
// All state is guarded by mu. Run holds the write lock for one event at a
// time so readers such as GetCount and GetTime may be called from other
// goroutines while a run is in progress.
type Engine struct {
	mu      sync.RWMutex
	built   *model.Built
	mesh    *mesh.Mesh
	cfg     Config
	tetComp []int
	compTet [][]int

	store    *StateStore
	props    *PropensityTable
	rng      *PartitionedRNG
	kinetics *checkedRNG
	inject   *checkedRNG

	clock       float64
	steps       uint64
	initialized bool
	failure     error

	ctrl    sync.Mutex
	status  Status
	active  bool // a Run or AdvanceSteps call has not returned, paused or not
	pausing bool
	resume  chan struct{}
}

// New binds a built model to a mesh. Every tetrahedron must belong to
// exactly one compartment group.
func New(built *model.Built, m *mesh.Mesh, cfg Config) (*Engine, error) {
	if !IsValidSelector(cfg.Selector) {
		return nil, fmt.Errorf("unknown selector %q", cfg.Selector)
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.Tolerance < 0 || math.IsNaN(cfg.Tolerance) {
		return nil, fmt.Errorf("tolerance must be positive, got %v", cfg.Tolerance)
	}
	tetComp, compTet, err := bindCompartments(built, m)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		built:   built,
		mesh:    m,
		cfg:     cfg,
		tetComp: tetComp,
		compTet: compTet,
		store:   NewStateStore(m.Len(), len(built.Species)),
	}
	e.props = NewPropensityTable(built, m, tetComp, e.store, NewSelector(cfg.Selector))
	e.seed(cfg.Key)
	if err := e.props.Rebuild(cfg.Workers); err != nil {
		return nil, err
	}
	logrus.Infof("engine: %d tets, %d species, %d channels, selector %s",
		m.Len(), len(built.Species), e.props.Len(), e.props.sel.Name())
	return e, nil
}

func bindCompartments(built *model.Built, m *mesh.Mesh) ([]int, [][]int, error) {
	tetComp := make([]int, m.Len())
	for i := range tetComp {
		tetComp[i] = -1
	}
	compTet := make([][]int, len(built.Compartments))
	for c, comp := range built.Compartments {
		tets := m.GroupTets(comp.Group)
		if len(tets) == 0 {
			return nil, nil, &model.ValidationError{
				Field:  fmt.Sprintf("compartments[%d].group", c),
				Reason: fmt.Sprintf("mesh has no element group %q", comp.Group),
			}
		}
		for _, t := range tets {
			if prev := tetComp[t]; prev >= 0 {
				return nil, nil, &mesh.InconsistencyError{Tet: t, Face: -1,
					Reason: fmt.Sprintf("in both compartment %q and %q", built.Compartments[prev].Name, comp.Name)}
			}
			tetComp[t] = c
		}
		compTet[c] = tets
	}
	for t, c := range tetComp {
		if c < 0 {
			return nil, nil, &mesh.InconsistencyError{Tet: t, Face: -1, Reason: "belongs to no compartment"}
		}
	}
	return tetComp, compTet, nil
}

func (e *Engine) seed(key SimulationKey) {
	e.rng = NewPartitionedRNG(key)
	e.kinetics = newCheckedRNG(SubsystemKinetics, NewStream(SubsystemKinetics, e.rng.ForSubsystem(SubsystemKinetics)))
	e.inject = newCheckedRNG(SubsystemInjection, NewStream(SubsystemInjection, e.rng.ForSubsystem(SubsystemInjection)))
}

// Model returns the bound model.
func (e *Engine) Model() *model.Built { return e.built }

// Mesh returns the bound mesh.
func (e *Engine) Mesh() *mesh.Mesh { return e.mesh }

// Compartment returns the compartment index of tet t.
func (e *Engine) Compartment(t int) int { return e.tetComp[t] }

// CompartmentTets returns the tets of compartment c.
func (e *Engine) CompartmentTets(c int) []int { return e.compTet[c] }

// Initialize zeroes the state, applies seeds and rebuilds every propensity.
func (e *Engine) Initialize(seeds Seeds) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loopActive() {
		return ErrRunning
	}
	e.store.Zero()
	e.clock, e.steps, e.failure = 0, 0, nil
	for i, cs := range seeds.Compartments {
		c, ok := e.built.CompartmentIndex(cs.Compartment)
		if !ok {
			return fmt.Errorf("seeds.compartments[%d]: unknown compartment %q", i, cs.Compartment)
		}
		s, ok := e.built.SpeciesIndex(cs.Species)
		if !ok {
			return fmt.Errorf("seeds.compartments[%d]: unknown species %q", i, cs.Species)
		}
		if err := e.setCompCountLocked(c, s, cs.Count); err != nil {
			return fmt.Errorf("seeds.compartments[%d]: %w", i, err)
		}
	}
	for i, ts := range seeds.Tets {
		s, ok := e.built.SpeciesIndex(ts.Species)
		if !ok {
			return fmt.Errorf("seeds.tets[%d]: unknown species %q", i, ts.Species)
		}
		if err := e.checkTetSpecies(ts.Tet, s); err != nil {
			return fmt.Errorf("seeds.tets[%d]: %w", i, err)
		}
		if ts.Count < 0 {
			return fmt.Errorf("seeds.tets[%d]: negative count %d", i, ts.Count)
		}
		e.store.Set(ts.Tet, s, ts.Count)
	}
	if err := e.props.Rebuild(e.cfg.Workers); err != nil {
		return err
	}
	e.initialized = true
	e.setStatus(Idle)
	return nil
}

// Run advances the simulation until the clock reaches until, or until the
// context is cancelled. It returns nil when the end time is reached or the
// total propensity drops to zero (the clock is then set to until). A
// cancelled run stops between events, leaves the engine Paused and returns
// ctx.Err(). A fatal error is returned and kept until Reset.
func (e *Engine) Run(ctx context.Context, until float64) error {
	if err := e.begin(until); err != nil {
		return err
	}
	defer e.end()
	start, steps0 := e.GetTime(), e.Steps()
	logrus.Infof("[t=%g] run until %g", start, until)
	for {
		if err := e.checkpoint(ctx); err != nil {
			return err
		}
		e.mu.Lock()
		fired, err := e.next(until)
		if err == nil && !fired {
			e.clock = until
		}
		if err != nil {
			e.failure = err
		}
		e.mu.Unlock()
		if err != nil {
			e.setStatus(Terminated)
			logrus.Errorf("[t=%g] run halted: %v", e.GetTime(), err)
			return err
		}
		if !fired {
			e.setStatus(Terminated)
			logrus.Infof("[t=%g] run ended after %d events", until, e.Steps()-steps0)
			return nil
		}
	}
}

// Advance runs for dt more units of simulated time.
func (e *Engine) Advance(ctx context.Context, dt float64) error {
	if dt < 0 || math.IsNaN(dt) {
		return fmt.Errorf("advance by %v: %w", dt, ErrInvalidTime)
	}
	return e.Run(ctx, e.GetTime()+dt)
}

// AdvanceSteps fires up to n events with no end time. It stops early when
// the total propensity is zero and reports how many events fired.
func (e *Engine) AdvanceSteps(ctx context.Context, n uint64) (uint64, error) {
	if err := e.begin(e.GetTime()); err != nil {
		return 0, err
	}
	defer e.end()
	var done uint64
	for done < n {
		if err := e.checkpoint(ctx); err != nil {
			return done, err
		}
		e.mu.Lock()
		fired, err := e.next(math.Inf(1))
		if err != nil {
			e.failure = err
		}
		e.mu.Unlock()
		if err != nil {
			e.setStatus(Terminated)
			return done, err
		}
		if !fired {
			break
		}
		done++
	}
	e.setStatus(Terminated)
	return done, nil
}

// Step fires a single event. It reports false when the total propensity is zero.
func (e *Engine) Step() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failure != nil {
		return false, e.failure
	}
	if !e.initialized {
		return false, ErrNotInitialized
	}
	if e.loopActive() {
		return false, ErrRunning
	}
	fired, err := e.next(math.Inf(1))
	if err != nil {
		e.failure = err
		e.setStatus(Terminated)
	}
	return fired, err
}

// begin validates a run request and moves to Running.
func (e *Engine) begin(until float64) error {
	e.mu.RLock()
	failure, initialized, clock := e.failure, e.initialized, e.clock
	e.mu.RUnlock()
	if failure != nil {
		return failure
	}
	if !initialized {
		return ErrNotInitialized
	}
	if math.IsNaN(until) || until < clock {
		return fmt.Errorf("end time %v before current time %v: %w", until, clock, ErrInvalidTime)
	}
	e.ctrl.Lock()
	defer e.ctrl.Unlock()
	if e.active {
		return ErrRunning
	}
	e.active = true
	e.status = Running
	return nil
}

// end releases the loop claimed by begin.
func (e *Engine) end() {
	e.ctrl.Lock()
	e.active = false
	e.ctrl.Unlock()
}

// loopActive reports whether an event loop is live. A loop blocked on a
// pause is live even though its status reads Paused.
func (e *Engine) loopActive() bool {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()
	return e.active
}

// checkpoint is the between-events control point: it honours cancellation
// and blocks while a pause is requested.
func (e *Engine) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		e.setStatus(Paused)
		return err
	}
	e.ctrl.Lock()
	if !e.pausing {
		e.ctrl.Unlock()
		return nil
	}
	e.status = Paused
	resume := e.resume
	e.ctrl.Unlock()

	logrus.Infof("[t=%g] paused after %d events", e.GetTime(), e.Steps())
	select {
	case <-resume:
	case <-ctx.Done():
		return ctx.Err()
	}
	e.setStatus(Running)
	logrus.Infof("[t=%g] resumed", e.GetTime())
	return nil
}

// next runs one iteration of the event loop bounded by until. It reports
// false when no event fires before until. Caller holds mu.
func (e *Engine) next(until float64) (bool, error) {
	a0 := e.props.Total()
	if math.IsNaN(a0) || math.IsInf(a0, 0) || a0 < 0 {
		return false, e.violation(-1, "total propensity %v is not a finite non-negative number", a0)
	}
	if a0 == 0 {
		return false, nil
	}
	tau, err := e.kinetics.exponential(a0)
	if err != nil {
		return false, err
	}
	if e.clock+tau > until {
		return false, nil
	}
	u, err := e.kinetics.uniform()
	if err != nil {
		return false, err
	}
	c := e.props.Select(u * a0)
	if c < 0 {
		return false, e.violation(-1, "no channel selected with total propensity %v", a0)
	}
	e.clock += tau
	if err := e.fire(c); err != nil {
		return false, err
	}
	e.steps++
	if e.cfg.VerifyEvery > 0 && e.steps%e.cfg.VerifyEvery == 0 {
		if err := e.verifyLocked(); err != nil {
			return false, err
		}
	}
	return true, nil
}

// fire applies channel c to the state and invalidates the touched tets.
// The state is left unchanged if any count would go negative.
func (e *Engine) fire(c int) error {
	ev := e.props.Event(c)
	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.Tracef("[t=%g] step %d: %s", e.clock, e.steps+1, ev)
	}
	switch ev.Kind {
	case KindReaction:
		update := e.built.Reactions[ev.Rule].Update
		for _, term := range update {
			if !e.store.CanAdd(ev.Tet, term.Species, int64(term.Coeff)) {
				return e.countViolation(c, ev.Tet, term.Species, int64(term.Coeff))
			}
		}
		for _, term := range update {
			if err := e.store.Add(ev.Tet, term.Species, int64(term.Coeff)); err != nil {
				return e.annotate(err, c)
			}
		}
		if err := e.props.Invalidate(ev.Tet); err != nil {
			return e.annotate(err, c)
		}
	case KindDiffusion:
		if !e.store.CanAdd(ev.Tet, ev.Species, -1) {
			return e.countViolation(c, ev.Tet, ev.Species, -1)
		}
		if err := e.store.Add(ev.Tet, ev.Species, -1); err != nil {
			return e.annotate(err, c)
		}
		if err := e.store.Add(ev.Dest, ev.Species, 1); err != nil {
			return e.annotate(err, c)
		}
		if err := e.props.Invalidate(ev.Tet); err != nil {
			return e.annotate(err, c)
		}
		if err := e.props.Invalidate(ev.Dest); err != nil {
			return e.annotate(err, c)
		}
	default:
		return e.violation(c, "unknown event kind %v", ev.Kind)
	}
	e.props.extent[c]++
	return nil
}

func (e *Engine) violation(channel int, format string, args ...any) *InvariantViolation {
	return &InvariantViolation{Step: e.steps, Time: e.clock, Tet: -1, Species: -1, Channel: channel,
		Reason: fmt.Sprintf(format, args...)}
}

func (e *Engine) countViolation(c, t, s int, delta int64) *InvariantViolation {
	return &InvariantViolation{Step: e.steps + 1, Time: e.clock, Tet: t, Species: s, Channel: c,
		Count: e.store.Get(t, s), Delta: delta,
		Reason: fmt.Sprintf("%s would make count negative", e.props.Event(c))}
}

// annotate stamps the step, time and channel onto an *InvariantViolation.
func (e *Engine) annotate(err error, c int) error {
	var iv *InvariantViolation
	if errors.As(err, &iv) {
		iv.Step, iv.Time = e.steps+1, e.clock
		if iv.Channel < 0 {
			iv.Channel = c
		}
	}
	return err
}

// Pause requests the event loop to stop before the next event. It takes
// effect on the running Run, or on the next one if none is active.
func (e *Engine) Pause() {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()
	if !e.pausing {
		e.pausing = true
		e.resume = make(chan struct{})
	}
}

// Resume releases a pause.
func (e *Engine) Resume() {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()
	if e.pausing {
		e.pausing = false
		close(e.resume)
	}
}

// Status returns the lifecycle state.
func (e *Engine) Status() Status {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()
	return e.status
}

func (e *Engine) setStatus(s Status) {
	e.ctrl.Lock()
	e.status = s
	e.ctrl.Unlock()
}

// Err returns the fatal error that halted the engine, if any.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.failure
}

// GetTime returns the simulation clock.
func (e *Engine) GetTime() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clock
}

// Steps returns the number of events fired since Initialize.
func (e *Engine) Steps() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.steps
}

// GetCount returns the count of species s in tet t.
func (e *Engine) GetCount(t, s int) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkTetSpecies(t, s); err != nil {
		return 0, err
	}
	return e.store.Get(t, s), nil
}

// Counts fills dst with the counts of the given (tet, species) points and
// returns the clock they were read at, under one consistent read lock.
func (e *Engine) Counts(points [][2]int, dst []int64) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i, p := range points {
		if err := e.checkTetSpecies(p[0], p[1]); err != nil {
			return 0, err
		}
		dst[i] = e.store.Get(p[0], p[1])
	}
	return e.clock, nil
}

// Totals returns the per-species total over the mesh.
func (e *Engine) Totals() []int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Totals()
}

// A0 returns the maintained total propensity.
func (e *Engine) A0() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.props.Total()
}

// Verify recomputes every propensity and their sum from scratch and
// compares them with the maintained values.
func (e *Engine) Verify() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.verifyLocked()
}

func (e *Engine) verifyLocked() error {
	if err := e.props.Verify(e.cfg.Tolerance); err != nil {
		var iv *InvariantViolation
		if errors.As(err, &iv) {
			iv.Step, iv.Time = e.steps, e.clock
		}
		return err
	}
	return nil
}

// Reset discards the state, clock, extents, runtime constant overrides and
// any fatal error. Initialize or Restore must follow before running.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loopActive() {
		return ErrRunning
	}
	e.store.Zero()
	e.props.ResetDefaults()
	e.clock, e.steps, e.failure, e.initialized = 0, 0, nil, false
	if err := e.props.Rebuild(e.cfg.Workers); err != nil {
		return err
	}
	e.ctrl.Lock()
	e.status = Idle
	if e.pausing {
		e.pausing = false
		close(e.resume)
	}
	e.ctrl.Unlock()
	return nil
}

// Reseed replaces every random stream with ones derived from key. This is
// the only way the draw sequence changes.
func (e *Engine) Reseed(key SimulationKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loopActive() {
		return ErrRunning
	}
	logrus.Warnf("[t=%g] reseeding with key %d; events from here on follow the new seed", e.clock, key)
	e.cfg.Key = key
	e.seed(key)
	return nil
}

// Key returns the active simulation key.
func (e *Engine) Key() SimulationKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Key
}

func (e *Engine) checkTetSpecies(t, s int) error {
	if t < 0 || t >= e.mesh.Len() {
		return indexError("tet", t, e.mesh.Len())
	}
	if s < 0 || s >= len(e.built.Species) {
		return indexError("species", s, len(e.built.Species))
	}
	return nil
}
