package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetsim/tetsim/sim"
	"github.com/tetsim/tetsim/sim/snapshot"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

func inlineSetup(t *testing.T) *Setup {
	t.Helper()
	cfg, err := ParseSimConfig([]byte(inlineConfig))
	require.NoError(t, err)
	setup, err := cfg.Build()
	require.NoError(t, err)
	return setup
}

func TestRunSimulation_WritesTrace(t *testing.T) {
	// GIVEN the inline config sampled every 0.5 to t=1
	setup := inlineSetup(t)
	var buf bytes.Buffer

	// WHEN it runs
	tr, err := runSimulation(context.Background(), setup, runOptions{TraceOut: &buf})

	// THEN three samples of two points are written
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1}, tr.Times())
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 1+3*2)
	assert.Equal(t, "0,0,A@0,0,0,100", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "0,0,B_end,2,1,0"))
}

func TestRunSimulation_Deterministic(t *testing.T) {
	a, err := runSimulation(context.Background(), inlineSetup(t), runOptions{})
	require.NoError(t, err)
	b, err := runSimulation(context.Background(), inlineSetup(t), runOptions{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRunSimulation_CheckpointAndResume(t *testing.T) {
	// GIVEN a run to t=1 saved into a snapshot database
	db := filepath.Join(t.TempDir(), "snap.db")
	setup := inlineSetup(t)
	_, err := runSimulation(context.Background(), setup, runOptions{SnapshotDB: db, SaveLabel: "first"})
	require.NoError(t, err)

	// WHEN a second run resumes from the latest snapshot up to t=2
	second := inlineSetup(t)
	second.Config.EndTime = 2
	tr, err := runSimulation(context.Background(), second, runOptions{SnapshotDB: db, Resume: "latest"})
	require.NoError(t, err)

	// THEN sampling starts at the checkpoint and both snapshots are listed
	assert.Equal(t, []float64{1, 1.5, 2}, tr.Times())
	store, err := snapshot.Open(db)
	require.NoError(t, err)
	defer store.Close()
	entries, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Label)
	assert.Equal(t, 1.0, entries[0].Time)
	assert.Equal(t, 2.0, entries[1].Time)

	var buf bytes.Buffer
	require.NoError(t, printEntries(&buf, entries))
	assert.Contains(t, buf.String(), "first")
}

func TestResume_ReseedsContinuation(t *testing.T) {
	// GIVEN a snapshot saved at t=1 by a run with seed 7
	ctx := context.Background()
	db := filepath.Join(t.TempDir(), "snap.db")
	_, err := runSimulation(ctx, inlineSetup(t), runOptions{SnapshotDB: db})
	require.NoError(t, err)
	store, err := snapshot.Open(db)
	require.NoError(t, err)
	defer store.Close()

	continueFrom := func(reseed *int64, restoreOnly bool) *sim.Engine {
		setup := inlineSetup(t)
		e, err := sim.New(setup.Built, setup.Mesh, setup.Engine)
		require.NoError(t, err)
		if restoreOnly {
			_, snap, err := store.Latest(ctx, e.Fingerprint())
			require.NoError(t, err)
			require.NoError(t, e.Restore(snap))
		} else {
			require.NoError(t, resume(ctx, store, e, "latest", reseed))
		}
		require.NoError(t, e.Run(ctx, 2))
		return e
	}

	// WHEN resuming twice without --reseed
	a := continueFrom(nil, false)
	b := continueFrom(nil, false)

	// THEN both continue with the same derived key, not the original one
	_, snap, err := store.Latest(ctx, a.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, resumeKey(sim.NewSimulationKey(7), snap.Steps), a.Key())
	assert.NotEqual(t, sim.NewSimulationKey(7), a.Key())
	assert.Equal(t, a.Snapshot().Counts, b.Snapshot().Counts)

	// THEN a restore that keeps the original key follows different draws
	same := continueFrom(nil, true)
	assert.Equal(t, sim.NewSimulationKey(7), same.Key())
	assert.NotEqual(t, a.Snapshot().Counts, same.Snapshot().Counts)

	// WHEN --reseed is given THEN that key wins
	k := int64(123)
	assert.Equal(t, sim.NewSimulationKey(123), continueFrom(&k, false).Key())
}

func TestResumeKey_DependsOnStep(t *testing.T) {
	key := sim.NewSimulationKey(7)
	assert.Equal(t, resumeKey(key, 10), resumeKey(key, 10))
	assert.NotEqual(t, resumeKey(key, 10), resumeKey(key, 11))
	assert.NotEqual(t, resumeKey(key, 10), resumeKey(sim.NewSimulationKey(8), 10))
}

func TestRunSimulation_ResumeErrors(t *testing.T) {
	_, err := runSimulation(context.Background(), inlineSetup(t), runOptions{Resume: "latest"})
	assert.Error(t, err)

	db := filepath.Join(t.TempDir(), "empty.db")
	_, err = runSimulation(context.Background(), inlineSetup(t), runOptions{SnapshotDB: db, Resume: "latest"})
	assert.ErrorIs(t, err, snapshot.ErrNotFound)

	_, err = runSimulation(context.Background(), inlineSetup(t), runOptions{SnapshotDB: db, Resume: "abc"})
	assert.Error(t, err)
}

func TestRunEnsemble_WritesTracesAndSummary(t *testing.T) {
	// GIVEN three trajectories
	setup := inlineSetup(t)
	setup.Config.Trajectories = 3
	var traces, summary bytes.Buffer

	// WHEN the ensemble runs
	require.NoError(t, runEnsemble(context.Background(), setup, 2, &traces, &summary))

	// THEN all trajectories and one summary row per sample and point are written
	lines := strings.Split(strings.TrimSpace(traces.String()), "\n")
	assert.Len(t, lines, 1+3*3*2)
	lines = strings.Split(strings.TrimSpace(summary.String()), "\n")
	assert.Len(t, lines, 1+3*2)
	assert.Equal(t, "0,A@0,100,0,3", lines[1])
}

func TestDescribe(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, describe(&buf, inlineSetup(t)))
	out := buf.String()
	assert.Contains(t, out, "model: 2 species, 1 reactions, 1 diffusions")
	assert.Contains(t, out, "compartment cyto (group cyto): 3 tets")
	assert.Contains(t, out, "initial A: 300")
	assert.Contains(t, out, "fingerprint: ")
}

func TestSamplingInterval(t *testing.T) {
	assert.Equal(t, 0.25, samplingInterval(0.25, 0, 1))
	assert.Equal(t, 3.0, samplingInterval(0, 1, 4))
	assert.Equal(t, 1.0, samplingInterval(0, 2, 2))
}
