package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsim/tetsim/sim/internal/testutil"
	"github.com/tetsim/tetsim/sim/model"
)

func TestBinomial(t *testing.T) {
	assert.Equal(t, 1.0, binomial(5, 0))
	assert.Equal(t, 5.0, binomial(5, 1))
	assert.Equal(t, 10.0, binomial(5, 2))
	assert.Equal(t, 10.0, binomial(5, 3))
	assert.Equal(t, 0.0, binomial(1, 2))
}

func TestPropensity_Bimolecular(t *testing.T) {
	// GIVEN A + B -> C in a tet whose molar scale is one
	e := newTestEngine(t, testutil.Bimolecular(3), singleTet(t, unitVolume), 1, "")
	require.NoError(t, e.Initialize(Seeds{Tets: []TetCount{{0, "A", 4}, {0, "B", 5}}}))

	// THEN the rate is k·nA·nB
	testutil.AssertFloat64Equal(t, "a0", 3*4*5, e.A0(), 1e-12)
}

func TestPropensity_DimerUsesBinomial(t *testing.T) {
	m := &model.Model{
		Species:      []string{"A", "D"},
		Reactions:    []model.ReactionRule{{Name: "dim", Reactants: []string{"A", "A"}, Products: []string{"D"}, Rate: 2}},
		Compartments: []model.Compartment{{Name: "cyto", Reactions: []string{"dim"}}},
	}
	e := newTestEngine(t, m, singleTet(t, unitVolume), 1, "")
	require.NoError(t, e.Initialize(tetSeed(0, "A", 10)))

	// c·n(n-1)/2
	testutil.AssertFloat64Equal(t, "a0", 2*10*9/2, e.A0(), 1e-12)

	require.NoError(t, e.SetTetCount(0, 0, 1))
	assert.Equal(t, 0.0, e.A0(), "a single molecule cannot dimerise")
}

func TestPropensity_ZeroOrderScalesWithVolume(t *testing.T) {
	m := &model.Model{
		Species:      []string{"A"},
		Reactions:    []model.ReactionRule{{Name: "src", Products: []string{"A"}, Rate: 1e-6}},
		Compartments: []model.Compartment{{Name: "cyto", Reactions: []string{"src"}}},
	}
	vol := 1e-18
	e := newTestEngine(t, m, singleTet(t, vol), 1, "")
	// k (M/s) · 1e3·V·N_A molecules per mole per litre
	testutil.AssertFloat64Equal(t, "a0", 1e-6*1e3*vol*Avogadro, e.A0(), 1e-12)
}

func TestPropensity_Diffusion(t *testing.T) {
	// GIVEN a chain of 3 cells with spacing 2 and D = 0.5
	msh := testutil.MustChain(t, 3, 2)
	e := newTestEngine(t, testutil.Diffusing(0.5), msh, 1, "")
	require.NoError(t, e.Initialize(tetSeed(1, "X", 10)))

	// THEN each face of the middle tet carries D·A/(V·d)·n = 0.5·4/(8·2)·10
	lo, hi := e.props.Channels(1)
	require.Equal(t, 2, hi-lo)
	for c := lo; c < hi; c++ {
		testutil.AssertFloat64Equal(t, "face rate", 0.5*4/(8*2)*10, e.props.Rate(c), 1e-12)
	}
	testutil.AssertFloat64Equal(t, "a0", 2*0.5*4/(8*2)*10, e.A0(), 1e-12)
}

func TestPropensity_ChannelOrder(t *testing.T) {
	// GIVEN reactions and diffusions on a 2-cell chain
	msh := testutil.MustChain(t, 2, 1)
	e := newTestEngine(t, testutil.Isomerisation(1, 1, 1), msh, 1, "")

	// THEN tet 0 lists its reactions, then one channel per diffusion rule and face
	var got []Event
	lo, hi := e.props.Channels(0)
	for c := lo; c < hi; c++ {
		got = append(got, e.props.Event(c))
	}
	assert.Equal(t, []Event{
		{Kind: KindReaction, Tet: 0, Dest: -1, Rule: 0, Species: -1},
		{Kind: KindReaction, Tet: 0, Dest: -1, Rule: 1, Species: -1},
		{Kind: KindDiffusion, Tet: 0, Dest: 1, Rule: 0, Species: 0},
		{Kind: KindDiffusion, Tet: 0, Dest: 1, Rule: 1, Species: 1},
	}, got)
	lo1, _ := e.props.Channels(1)
	assert.Equal(t, hi, lo1, "tet ranges are contiguous")
}

func TestPropensity_CrossCompartmentNeedsRuleAtDestination(t *testing.T) {
	// GIVEN X diffuses only in "left"
	e := newTestEngine(t, twoCompartments(false), twoRegions(t, 1, 1), 1, "")

	// THEN no channel crosses into "right"
	assert.Equal(t, 0, e.props.Len())

	// WHEN both sides diffuse X, one channel per direction exists
	e2 := newTestEngine(t, twoCompartments(true), twoRegions(t, 1, 1), 1, "")
	assert.Equal(t, 2, e2.props.Len())
}

func TestPropensity_VerifyDetectsStaleRate(t *testing.T) {
	// GIVEN a consistent table
	e := newTestEngine(t, testutil.Diffusing(1), testutil.MustChain(t, 4, 1), 1, "")
	require.NoError(t, e.Initialize(tetSeed(0, "X", 5)))
	require.NoError(t, e.Verify())

	// WHEN a count is changed behind the table's back
	e.store.Set(0, 0, 0)

	// THEN Verify reports the stale channel
	err := e.Verify()
	var iv *InvariantViolation
	require.True(t, errors.As(err, &iv), "got %v", err)
	assert.Equal(t, 0, iv.Tet)
}

func TestPropensity_ParallelRebuildMatchesSequential(t *testing.T) {
	// GIVEN a mesh above the parallel threshold
	msh := testutil.MustChain(t, 2*parallelThreshold, 1)
	built := testutil.MustBuild(t, testutil.Isomerisation(1, 2, 0.5))
	seeds := Seeds{Compartments: []CompCount{{"cyto", "A", 5000}, {"cyto", "B", 3000}}}

	par, err := New(built, msh, Config{Key: 9, Workers: 8})
	require.NoError(t, err)
	require.NoError(t, par.Initialize(seeds))
	seq, err := New(built, msh, Config{Key: 9, Workers: 1})
	require.NoError(t, err)
	require.NoError(t, seq.Initialize(seeds))

	// THEN every rate is identical
	require.Equal(t, seq.props.Len(), par.props.Len())
	for c := 0; c < seq.props.Len(); c++ {
		require.Equal(t, seq.props.Rate(c), par.props.Rate(c), "channel %d", c)
	}
	assert.Equal(t, seq.A0(), par.A0())
	assert.NoError(t, par.Verify())
}
