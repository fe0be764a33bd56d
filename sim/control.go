package sim

import (
	"fmt"
	"math"
)

// Runtime control of populations, constants and activation. Every setter
// takes the write lock, so it applies atomically between two events even
// while Run is in progress, and leaves affected propensities up to date.

// maxCount bounds counts set through the control surface.
const maxCount = 1 << 53

// SetTetCount sets the count of species s in tet t.
func (e *Engine) SetTetCount(t, s int, n int64) error {
	if n < 0 {
		return fmt.Errorf("negative count %d", n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTetSpecies(t, s); err != nil {
		return err
	}
	e.store.Set(t, s, n)
	e.initialized = true
	return e.props.Invalidate(t)
}

// SetCompCount distributes n molecules of species s over compartment c in
// proportion to tet volume. Fractional shares, including a fractional n,
// are rounded up with probability equal to the fraction; molecules left
// over are placed in tets picked by volume.
func (e *Engine) SetCompCount(c, s int, n float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.setCompCountLocked(c, s, n); err != nil {
		return err
	}
	e.initialized = true
	for _, t := range e.compTet[c] {
		if err := e.props.Invalidate(t); err != nil {
			return err
		}
	}
	return nil
}

// setCompCountLocked writes counts only; caller refreshes propensities.
func (e *Engine) setCompCountLocked(c, s int, n float64) error {
	if err := e.checkCompSpecies(c, s); err != nil {
		return err
	}
	if math.IsNaN(n) || n < 0 || n > maxCount {
		return fmt.Errorf("compartment count %v outside [0, %d]", n, int64(maxCount))
	}
	tets := e.compTet[c]
	total := e.mesh.TotalVolume(tets)

	want, err := e.roundStochastic(n)
	if err != nil {
		return err
	}
	var placed int64
	for _, t := range tets {
		if placed == want {
			e.store.Set(t, s, 0)
			continue
		}
		k, err := e.roundStochastic(float64(want) * e.mesh.Volume(t) / total)
		if err != nil {
			return err
		}
		if placed+k > want {
			k = want - placed
		}
		placed += k
		e.store.Set(t, s, k)
	}
	for ; placed < want; placed++ {
		u, err := e.inject.uniform()
		if err != nil {
			return err
		}
		t := e.pickTetByVolume(tets, total, u)
		e.store.Set(t, s, e.store.Get(t, s)+1)
	}
	return nil
}

// roundStochastic rounds x down, then up by one with probability equal to its
// fractional part.
func (e *Engine) roundStochastic(x float64) (int64, error) {
	k := int64(math.Floor(x))
	frac := x - float64(k)
	if frac == 0 {
		return k, nil
	}
	u, err := e.inject.uniform()
	if err != nil {
		return 0, err
	}
	if u < frac {
		k++
	}
	return k, nil
}

func (e *Engine) pickTetByVolume(tets []int, total, u float64) int {
	target := u * total
	var cum float64
	for _, t := range tets {
		cum += e.mesh.Volume(t)
		if cum > target {
			return t
		}
	}
	return tets[len(tets)-1]
}

// GetCompCount returns the total count of species s over compartment c.
func (e *Engine) GetCompCount(c, s int) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkCompSpecies(c, s); err != nil {
		return 0, err
	}
	var n int64
	for _, t := range e.compTet[c] {
		n += e.store.Get(t, s)
	}
	return n, nil
}

// GetTetConc returns the molar concentration of species s in tet t.
func (e *Engine) GetTetConc(t, s int) (float64, error) {
	n, err := e.GetCount(t, s)
	if err != nil {
		return 0, err
	}
	return float64(n) / (1e3 * e.mesh.Volume(t) * Avogadro), nil
}

// GetCompConc returns the molar concentration of species s in compartment c.
func (e *Engine) GetCompConc(c, s int) (float64, error) {
	n, err := e.GetCompCount(c, s)
	if err != nil {
		return 0, err
	}
	return float64(n) / (1e3 * e.mesh.TotalVolume(e.compTet[c]) * Avogadro), nil
}

// SetCompConc sets a molar concentration of species s over compartment c.
func (e *Engine) SetCompConc(c, s int, conc float64) error {
	if c < 0 || c >= len(e.compTet) {
		return indexError("compartment", c, len(e.compTet))
	}
	return e.SetCompCount(c, s, conc*1e3*e.mesh.TotalVolume(e.compTet[c])*Avogadro)
}

// SetTetClamped fixes or releases the count of species s in tet t.
func (e *Engine) SetTetClamped(t, s int, on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTetSpecies(t, s); err != nil {
		return err
	}
	e.store.Clamp(t, s, on)
	return nil
}

// SetCompClamped clamps species s in every tet of compartment c.
func (e *Engine) SetCompClamped(c, s int, on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkCompSpecies(c, s); err != nil {
		return err
	}
	for _, t := range e.compTet[c] {
		e.store.Clamp(t, s, on)
	}
	return nil
}

// SetTetReacK overrides the rate constant of reaction r in tet t.
func (e *Engine) SetTetReacK(t, r int, k float64) error {
	if err := checkConstant(k); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.tetReaction(t, r)
	if err != nil {
		return err
	}
	e.props.k[c] = k
	return e.props.refresh(c)
}

// SetCompReacK overrides the rate constant of reaction r in compartment c.
func (e *Engine) SetCompReacK(comp, r int, k float64) error {
	if err := checkConstant(k); err != nil {
		return err
	}
	return e.eachCompReaction(comp, r, func(c int) { e.props.k[c] = k })
}

// SetTetReacActive switches reaction r in tet t on or off.
func (e *Engine) SetTetReacActive(t, r int, on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.tetReaction(t, r)
	if err != nil {
		return err
	}
	e.props.enabled[c] = on
	return e.props.refresh(c)
}

// SetCompReacActive switches reaction r on or off over compartment c.
func (e *Engine) SetCompReacActive(comp, r int, on bool) error {
	return e.eachCompReaction(comp, r, func(c int) { e.props.enabled[c] = on })
}

// SetTetDiffD overrides the coefficient of diffusion d for hops out of tet t.
func (e *Engine) SetTetDiffD(t, d int, coeff float64) error {
	if err := checkConstant(coeff); err != nil {
		return err
	}
	return e.eachTetDiffusion(t, d, func(c int) { e.props.k[c] = coeff })
}

// SetCompDiffD overrides the coefficient of diffusion d over compartment c.
func (e *Engine) SetCompDiffD(comp, d int, coeff float64) error {
	if err := checkConstant(coeff); err != nil {
		return err
	}
	return e.eachCompDiffusion(comp, d, func(c int) { e.props.k[c] = coeff })
}

// SetTetDiffActive switches diffusion d out of tet t on or off.
func (e *Engine) SetTetDiffActive(t, d int, on bool) error {
	return e.eachTetDiffusion(t, d, func(c int) { e.props.enabled[c] = on })
}

// SetCompDiffActive switches diffusion d on or off over compartment c.
func (e *Engine) SetCompDiffActive(comp, d int, on bool) error {
	return e.eachCompDiffusion(comp, d, func(c int) { e.props.enabled[c] = on })
}

// SetDiffBoundaryActive opens or closes the faces between compartments a
// and b to species s, in both directions. Boundaries start open.
func (e *Engine) SetDiffBoundaryActive(a, b, s int, on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkCompSpecies(a, s); err != nil {
		return err
	}
	if err := e.checkCompSpecies(b, s); err != nil {
		return err
	}
	if a == b {
		return fmt.Errorf("boundary needs two distinct compartments, got %d twice", a)
	}
	for _, comp := range [2]int{a, b} {
		other := a + b - comp
		for _, t := range e.compTet[comp] {
			lo, hi := e.props.Channels(t)
			for c := lo; c < hi; c++ {
				ev := e.props.events[c]
				if ev.Kind != KindDiffusion || ev.Species != s || e.tetComp[ev.Dest] != other {
					continue
				}
				e.props.open[c] = on
				if err := e.props.refresh(c); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ReacExtent returns how often reaction r has fired in compartment c.
func (e *Engine) ReacExtent(comp, r int) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkCompReaction(comp, r); err != nil {
		return 0, err
	}
	var n uint64
	for _, t := range e.compTet[comp] {
		c, _ := e.props.reactionChannel(t, r)
		n += e.props.extent[c]
	}
	return n, nil
}

// DiffExtent returns how many hops diffusion d has made out of tets of compartment c.
func (e *Engine) DiffExtent(comp, d int) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkCompDiffusion(comp, d); err != nil {
		return 0, err
	}
	var n uint64
	for _, t := range e.compTet[comp] {
		e.props.diffusionChannels(t, d, func(c int) { n += e.props.extent[c] })
	}
	return n, nil
}

// ResetCompReacExtent zeroes the firing count of reaction r in compartment c.
func (e *Engine) ResetCompReacExtent(comp, r int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkCompReaction(comp, r); err != nil {
		return err
	}
	for _, t := range e.compTet[comp] {
		c, _ := e.props.reactionChannel(t, r)
		e.props.extent[c] = 0
	}
	return nil
}

// GetTetVol returns the volume of tet t (m³).
func (e *Engine) GetTetVol(t int) (float64, error) {
	if t < 0 || t >= e.mesh.Len() {
		return 0, indexError("tet", t, e.mesh.Len())
	}
	return e.mesh.Volume(t), nil
}

// GetCompVol returns the summed tet volume of compartment c (m³).
func (e *Engine) GetCompVol(c int) (float64, error) {
	if c < 0 || c >= len(e.compTet) {
		return 0, indexError("compartment", c, len(e.compTet))
	}
	return e.mesh.TotalVolume(e.compTet[c]), nil
}

// GetTetAmount returns the amount of species s in tet t (mol).
func (e *Engine) GetTetAmount(t, s int) (float64, error) {
	n, err := e.GetCount(t, s)
	if err != nil {
		return 0, err
	}
	return float64(n) / Avogadro, nil
}

// SetTetAmount sets the amount of species s in tet t (mol). A fractional
// molecule is kept with probability equal to the fraction.
func (e *Engine) SetTetAmount(t, s int, mol float64) error {
	n := mol * Avogadro
	if math.IsNaN(n) || n < 0 || n > maxCount {
		return fmt.Errorf("tet amount %v mol outside [0, %d] molecules", mol, int64(maxCount))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTetSpecies(t, s); err != nil {
		return err
	}
	k, err := e.roundStochastic(n)
	if err != nil {
		return err
	}
	e.store.Set(t, s, k)
	e.initialized = true
	return e.props.Invalidate(t)
}

// GetCompAmount returns the amount of species s in compartment c (mol).
func (e *Engine) GetCompAmount(c, s int) (float64, error) {
	n, err := e.GetCompCount(c, s)
	if err != nil {
		return 0, err
	}
	return float64(n) / Avogadro, nil
}

// SetCompAmount distributes mol moles of species s over compartment c the
// way SetCompCount does.
func (e *Engine) SetCompAmount(c, s int, mol float64) error {
	return e.SetCompCount(c, s, mol*Avogadro)
}

// GetTetReacK returns the rate constant of reaction r in tet t.
func (e *Engine) GetTetReacK(t, r int) (float64, error) {
	return e.tetReacValue(t, r, func(c int) float64 { return e.props.k[c] })
}

// GetTetReacC returns the rate constant of reaction r in tet t scaled to
// molecule counts, zero while the reaction is switched off.
func (e *Engine) GetTetReacC(t, r int) (float64, error) {
	return e.tetReacValue(t, r, e.props.scaledConstant)
}

// GetTetReacH returns the number of distinct reactant combinations of
// reaction r present in tet t.
func (e *Engine) GetTetReacH(t, r int) (float64, error) {
	return e.tetReacValue(t, r, e.props.combinations)
}

// GetTetReacA returns the propensity of reaction r in tet t.
func (e *Engine) GetTetReacA(t, r int) (float64, error) {
	return e.tetReacValue(t, r, e.props.Rate)
}

// GetCompReacK returns the volume-weighted mean rate constant of reaction r
// over compartment c. It equals the per-tet value unless tets were
// overridden one by one.
func (e *Engine) GetCompReacK(comp, r int) (float64, error) {
	return e.compReacMean(comp, r, func(c int) float64 { return e.props.k[c] })
}

// GetCompReacC returns the volume-weighted mean scaled constant of reaction r
// over compartment c.
func (e *Engine) GetCompReacC(comp, r int) (float64, error) {
	return e.compReacMean(comp, r, e.props.scaledConstant)
}

// GetCompReacH returns the reactant combinations of reaction r summed over
// compartment c.
func (e *Engine) GetCompReacH(comp, r int) (float64, error) {
	return e.compReacSum(comp, r, e.props.combinations)
}

// GetCompReacA returns the propensity of reaction r summed over compartment c.
func (e *Engine) GetCompReacA(comp, r int) (float64, error) {
	return e.compReacSum(comp, r, e.props.Rate)
}

// GetTetDiffD returns the coefficient of diffusion d for hops out of tet t.
// A tet with no eligible face reports the model coefficient.
func (e *Engine) GetTetDiffD(t, d int) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkTetDiffusion(t, d); err != nil {
		return 0, err
	}
	coeff := e.built.Diffusions[d].Coefficient
	found := false
	e.props.diffusionChannels(t, d, func(c int) {
		if !found {
			coeff, found = e.props.k[c], true
		}
	})
	return coeff, nil
}

// GetTetDiffA returns the propensity of diffusion d out of tet t, summed
// over its faces.
func (e *Engine) GetTetDiffA(t, d int) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkTetDiffusion(t, d); err != nil {
		return 0, err
	}
	var a float64
	e.props.diffusionChannels(t, d, func(c int) { a += e.props.Rate(c) })
	return a, nil
}

func (e *Engine) tetReacValue(t, r int, fn func(c int) float64) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, err := e.tetReaction(t, r)
	if err != nil {
		return 0, err
	}
	return fn(c), nil
}

func (e *Engine) compReacSum(comp, r int, fn func(c int) float64) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkCompReaction(comp, r); err != nil {
		return 0, err
	}
	var sum float64
	for _, t := range e.compTet[comp] {
		c, _ := e.props.reactionChannel(t, r)
		sum += fn(c)
	}
	return sum, nil
}

func (e *Engine) compReacMean(comp, r int, fn func(c int) float64) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkCompReaction(comp, r); err != nil {
		return 0, err
	}
	var sum, vol float64
	for _, t := range e.compTet[comp] {
		c, _ := e.props.reactionChannel(t, r)
		v := e.mesh.Volume(t)
		sum += fn(c) * v
		vol += v
	}
	if vol == 0 {
		return 0, nil
	}
	return sum / vol, nil
}

func (e *Engine) tetReaction(t, r int) (int, error) {
	if t < 0 || t >= e.mesh.Len() {
		return 0, indexError("tet", t, e.mesh.Len())
	}
	if err := e.checkCompReaction(e.tetComp[t], r); err != nil {
		return 0, err
	}
	c, _ := e.props.reactionChannel(t, r)
	return c, nil
}

func (e *Engine) eachCompReaction(comp, r int, fn func(c int)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkCompReaction(comp, r); err != nil {
		return err
	}
	for _, t := range e.compTet[comp] {
		c, _ := e.props.reactionChannel(t, r)
		fn(c)
		if err := e.props.refresh(c); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) eachTetDiffusion(t, d int, fn func(c int)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTetDiffusion(t, d); err != nil {
		return err
	}
	e.props.diffusionChannels(t, d, fn)
	return e.props.Invalidate(t)
}

func (e *Engine) eachCompDiffusion(comp, d int, fn func(c int)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkCompDiffusion(comp, d); err != nil {
		return err
	}
	for _, t := range e.compTet[comp] {
		e.props.diffusionChannels(t, d, fn)
		if err := e.props.Invalidate(t); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) checkTetDiffusion(t, d int) error {
	if t < 0 || t >= e.mesh.Len() {
		return indexError("tet", t, e.mesh.Len())
	}
	return e.checkCompDiffusion(e.tetComp[t], d)
}

func (e *Engine) checkCompSpecies(c, s int) error {
	if c < 0 || c >= len(e.compTet) {
		return indexError("compartment", c, len(e.compTet))
	}
	if s < 0 || s >= len(e.built.Species) {
		return indexError("species", s, len(e.built.Species))
	}
	return nil
}

func (e *Engine) checkCompReaction(c, r int) error {
	if c < 0 || c >= len(e.compTet) {
		return indexError("compartment", c, len(e.compTet))
	}
	for _, rr := range e.built.Compartments[c].Reactions {
		if rr == r {
			return nil
		}
	}
	return fmt.Errorf("reaction %d not in compartment %q: %w", r, e.built.Compartments[c].Name, ErrIndexRange)
}

func (e *Engine) checkCompDiffusion(c, d int) error {
	if c < 0 || c >= len(e.compTet) {
		return indexError("compartment", c, len(e.compTet))
	}
	for _, dd := range e.built.Compartments[c].Diffusions {
		if dd == d {
			return nil
		}
	}
	return fmt.Errorf("diffusion %d not in compartment %q: %w", d, e.built.Compartments[c].Name, ErrIndexRange)
}

func checkConstant(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("constant must be finite and non-negative, got %v", v)
	}
	return nil
}
