package snapshot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsim/tetsim/sim"
	"github.com/tetsim/tetsim/sim/internal/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSnapshot() *sim.Snapshot {
	return &sim.Snapshot{
		Time:        1.5,
		Steps:       42,
		Species:     []string{"A", "B"},
		Tets:        3,
		Counts:      []int64{0, 1, 300, 4, 1 << 40, 6},
		Clamped:     []bool{false, true, false, false, false, true},
		Fingerprint: "00000000deadbeef",
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	// GIVEN a fresh store
	s := openTestStore(t)
	ctx := context.Background()

	// WHEN a snapshot is saved and loaded back
	id, err := s.Save(ctx, "first", sampleSnapshot())
	require.NoError(t, err)
	got, err := s.Load(ctx, id)

	// THEN every field survives
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)
}

func TestStore_ListAndLatest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := sampleSnapshot()
	b := sampleSnapshot()
	b.Time, b.Steps = 3, 99
	c := sampleSnapshot()
	c.Fingerprint = "ffffffffffffffff"

	_, err := s.Save(ctx, "a", a)
	require.NoError(t, err)
	idB, err := s.Save(ctx, "b", b)
	require.NoError(t, err)
	idC, err := s.Save(ctx, "c", c)
	require.NoError(t, err)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].Label)
	assert.Equal(t, uint64(99), entries[1].Steps)
	assert.False(t, entries[2].Created.IsZero())

	// latest overall is c; latest for the shared fingerprint is b
	e, _, err := s.Latest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, idC, e.ID)
	e, snap, err := s.Latest(ctx, a.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, idB, e.ID)
	assert.Equal(t, 3.0, snap.Time)
}

func TestStore_NotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, 7)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.Latest(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, 7), ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.Save(ctx, "x", sampleSnapshot())
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Load(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReopenKeepsSnapshots(t *testing.T) {
	// GIVEN a store with one snapshot that was closed
	path := filepath.Join(t.TempDir(), "snapshots.db")
	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.Save(context.Background(), "kept", sampleSnapshot())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// WHEN it is reopened
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	// THEN the schema check passes and the snapshot is still there
	got, err := s.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.Count(1, 0))
}

func TestStore_EngineCheckpointContinues(t *testing.T) {
	// GIVEN an engine run halfway and checkpointed
	built := testutil.MustBuild(t, testutil.Isomerisation(2, 1, 1))
	msh := testutil.MustChain(t, 4, 1)
	newEngine := func() *sim.Engine {
		e, err := sim.New(built, msh, sim.Config{Key: sim.NewSimulationKey(11)})
		require.NoError(t, err)
		return e
	}
	ctx := context.Background()
	e := newEngine()
	require.NoError(t, e.Initialize(sim.Seeds{Compartments: []sim.CompCount{{Compartment: "cyto", Species: "A", Count: 200}}}))
	require.NoError(t, e.Run(ctx, 0.5))

	s := openTestStore(t)
	id, err := s.Save(ctx, "half", e.Snapshot())
	require.NoError(t, err)

	// WHEN a new engine restores it
	loaded, err := s.Load(ctx, id)
	require.NoError(t, err)
	f := newEngine()
	require.NoError(t, f.Restore(loaded))

	// THEN time, step count and populations carry over and the run continues
	assert.Equal(t, e.GetTime(), f.GetTime())
	assert.Equal(t, e.Steps(), f.Steps())
	assert.Equal(t, e.Totals(), f.Totals())
	require.NoError(t, f.Run(ctx, 1))
	totals := f.Totals()
	assert.Equal(t, int64(200), totals[0]+totals[1])
}
