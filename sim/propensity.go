package sim

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/tetsim/tetsim/sim/mesh"
	"github.com/tetsim/tetsim/sim/model"
)

// Avogadro is the Avogadro constant (mol⁻¹).
const Avogadro = 6.02214076e23

// parallelThreshold is the tet count below which bulk rebuilds stay on one goroutine.
const parallelThreshold = 256

// ReactionScale converts a reaction rate constant in (M)^(1-order)/s to
// molecule-count units for a tetrahedron of the given volume (m³).
func ReactionScale(volume float64, order int) float64 {
	return math.Pow(1e3*volume*Avogadro, float64(1-order))
}

// DiffusionScale is the geometric factor A/(V·d) of a face: multiplied by
// the diffusion coefficient and the source count it gives the hop rate.
func DiffusionScale(volume, area, distance float64) float64 {
	return area / (volume * distance)
}

// binomial returns C(n, k) as a float64 for small k.
func binomial(n int64, k int) float64 {
	v := 1.0
	for i := 0; i < k; i++ {
		v *= float64(n-int64(i)) / float64(i+1)
	}
	return v
}

// PropensityTable owns the ordered channel array and its rates. Channels are
// laid out tet by tet; inside a tet the compartment's reactions come first,
// then for each diffusion rule one channel per eligible interior face.
// Rates are kept in the Selector, which maintains their running sum.
//
// Thread-safety: NOT thread-safe. Rebuild parallelises internally over
// disjoint tet ranges.
type PropensityTable struct {
	built   *model.Built
	mesh    *mesh.Mesh
	tetComp []int
	store   *StateStore
	sel     Selector

	tetStart []int // channels of tet t are [tetStart[t], tetStart[t+1])
	events   []Event
	k        []float64 // current rate constant or diffusion coefficient
	k0       []float64 // model default of k
	scale    []float64 // ReactionScale or DiffusionScale
	enabled  []bool    // per-tet activation
	open     []bool    // diffusion boundary activation; always true for reactions
	rates    []float64
	extent   []uint64
	scratch  []float64
}

// NewPropensityTable lays out the channels for every tetrahedron. tetComp
// maps each tet to its compartment index. Rates are zero until Rebuild.
func NewPropensityTable(built *model.Built, m *mesh.Mesh, tetComp []int, store *StateStore, sel Selector) *PropensityTable {
	p := &PropensityTable{
		built:    built,
		mesh:     m,
		tetComp:  tetComp,
		store:    store,
		sel:      sel,
		tetStart: make([]int, m.Len()+1),
	}
	for t := 0; t < m.Len(); t++ {
		p.tetStart[t] = len(p.events)
		comp := &built.Compartments[tetComp[t]]
		vol := m.Volume(t)
		for _, r := range comp.Reactions {
			rule := &built.Reactions[r]
			p.add(Event{Kind: KindReaction, Tet: t, Dest: -1, Rule: r, Species: -1},
				rule.Rate, ReactionScale(vol, rule.Order))
		}
		for _, d := range comp.Diffusions {
			rule := &built.Diffusions[d]
			for _, nb := range m.Neighbors(t) {
				if dc := tetComp[nb.Tet]; dc != tetComp[t] {
					if _, ok := built.Compartments[dc].DiffusionFor(rule.Species); !ok {
						continue
					}
				}
				p.add(Event{Kind: KindDiffusion, Tet: t, Dest: nb.Tet, Rule: d, Species: rule.Species},
					rule.Coefficient, DiffusionScale(vol, nb.Area, nb.Distance))
			}
		}
	}
	p.tetStart[m.Len()] = len(p.events)
	p.rates = make([]float64, len(p.events))
	p.extent = make([]uint64, len(p.events))
	p.scratch = make([]float64, len(p.events))
	sel.Reset(p.rates)
	return p
}

func (p *PropensityTable) add(ev Event, k, scale float64) {
	p.events = append(p.events, ev)
	p.k = append(p.k, k)
	p.k0 = append(p.k0, k)
	p.scale = append(p.scale, scale)
	p.enabled = append(p.enabled, true)
	p.open = append(p.open, true)
}

// Len is the number of channels.
func (p *PropensityTable) Len() int { return len(p.events) }

// Channels returns the half-open channel range of tet t.
func (p *PropensityTable) Channels(t int) (lo, hi int) {
	return p.tetStart[t], p.tetStart[t+1]
}

// Event returns the identity of channel c.
func (p *PropensityTable) Event(c int) Event { return p.events[c] }

// Rate returns the maintained rate of channel c.
func (p *PropensityTable) Rate(c int) float64 { return p.rates[c] }

// Total returns the maintained sum of all rates.
func (p *PropensityTable) Total() float64 { return p.sel.Total() }

// Select maps a target in [0, Total()) to a channel.
func (p *PropensityTable) Select(target float64) int { return p.sel.Select(target) }

// compute evaluates channel c from the current counts.
func (p *PropensityTable) compute(c int) float64 {
	base := p.scaledConstant(c)
	if base == 0 {
		return 0
	}
	ev := &p.events[c]
	if ev.Kind == KindDiffusion {
		return base * float64(p.store.Get(ev.Tet, ev.Species))
	}
	return base * p.combinations(c)
}

// scaledConstant is the count-unit constant of channel c, zero while the
// channel is switched off.
func (p *PropensityTable) scaledConstant(c int) float64 {
	if !p.enabled[c] || !p.open[c] {
		return 0
	}
	return p.k[c] * p.scale[c]
}

// combinations is h for reaction channel c: the number of distinct reactant
// sets present in its tet.
func (p *PropensityTable) combinations(c int) float64 {
	ev := &p.events[c]
	h := 1.0
	for _, term := range p.built.Reactions[ev.Rule].LHS {
		n := p.store.Get(ev.Tet, term.Species)
		if n < int64(term.Coeff) {
			return 0
		}
		h *= binomial(n, term.Coeff)
	}
	return h
}

func (p *PropensityTable) checkRate(c int, r float64) error {
	if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
		ev := p.events[c]
		return &InvariantViolation{Tet: ev.Tet, Species: ev.Species, Channel: c,
			Reason: fmt.Sprintf("propensity %v of %s is not a finite non-negative number", r, ev)}
	}
	return nil
}

// computeTet refreshes rates for tet t without touching the selector.
func (p *PropensityTable) computeTet(t int) error {
	for c := p.tetStart[t]; c < p.tetStart[t+1]; c++ {
		r := p.compute(c)
		if err := p.checkRate(c, r); err != nil {
			return err
		}
		p.rates[c] = r
	}
	return nil
}

// Invalidate recomputes every channel of tet t and pushes the new rates
// into the selector.
func (p *PropensityTable) Invalidate(t int) error {
	if err := p.computeTet(t); err != nil {
		return err
	}
	for c := p.tetStart[t]; c < p.tetStart[t+1]; c++ {
		p.sel.Update(c, p.rates[c])
	}
	return nil
}

// refresh recomputes a single channel.
func (p *PropensityTable) refresh(c int) error {
	r := p.compute(c)
	if err := p.checkRate(c, r); err != nil {
		return err
	}
	p.rates[c] = r
	p.sel.Update(c, r)
	return nil
}

// Rebuild recomputes every rate from scratch, splitting the mesh into chunks
// evaluated on up to workers goroutines (GOMAXPROCS when workers <= 0).
func (p *PropensityTable) Rebuild(workers int) error {
	n := p.mesh.Len()
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if n < parallelThreshold || workers == 1 {
		for t := 0; t < n; t++ {
			if err := p.computeTet(t); err != nil {
				return err
			}
		}
	} else {
		chunk := (n + workers - 1) / workers
		var g errgroup.Group
		g.SetLimit(workers)
		for lo := 0; lo < n; lo += chunk {
			lo, hi := lo, min(lo+chunk, n)
			g.Go(func() error {
				for t := lo; t < hi; t++ {
					if err := p.computeTet(t); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	p.sel.Reset(p.rates)
	return nil
}

// Verify recomputes every rate and the total from scratch and compares them
// with the maintained values. tol is relative.
func (p *PropensityTable) Verify(tol float64) error {
	for c := range p.events {
		fresh := p.compute(c)
		if math.Abs(fresh-p.rates[c]) > tol*math.Max(math.Abs(fresh), math.SmallestNonzeroFloat64) {
			ev := p.events[c]
			return &InvariantViolation{Tet: ev.Tet, Species: ev.Species, Channel: c,
				Reason: fmt.Sprintf("stale propensity for %s: maintained %v, recomputed %v", ev, p.rates[c], fresh)}
		}
		p.scratch[c] = fresh
	}
	want := floats.Sum(p.scratch)
	got := p.sel.Total()
	if math.Abs(want-got) > tol*math.Max(math.Abs(want), math.SmallestNonzeroFloat64) {
		return &InvariantViolation{Tet: -1, Species: -1, Channel: -1,
			Reason: fmt.Sprintf("propensity sum drifted: maintained %v, recomputed %v", got, want)}
	}
	return nil
}

// reactionChannel returns the channel of global reaction r in tet t.
func (p *PropensityTable) reactionChannel(t, r int) (int, bool) {
	for c := p.tetStart[t]; c < p.tetStart[t+1]; c++ {
		if ev := &p.events[c]; ev.Kind == KindReaction && ev.Rule == r {
			return c, true
		}
	}
	return 0, false
}

// diffusionChannels calls fn for every channel of global diffusion d in tet t.
func (p *PropensityTable) diffusionChannels(t, d int, fn func(c int)) bool {
	found := false
	for c := p.tetStart[t]; c < p.tetStart[t+1]; c++ {
		if ev := &p.events[c]; ev.Kind == KindDiffusion && ev.Rule == d {
			fn(c)
			found = true
		}
	}
	return found
}

// ResetDefaults restores model constants, activation flags and extents.
func (p *PropensityTable) ResetDefaults() {
	copy(p.k, p.k0)
	for c := range p.events {
		p.enabled[c] = true
		p.open[c] = true
		p.extent[c] = 0
	}
}
