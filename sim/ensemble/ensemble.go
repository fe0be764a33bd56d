// Package ensemble runs many independent trajectories of one model and mesh
// and summarises them. Each trajectory owns its engine; they share only the
// immutable model and mesh.
package ensemble

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tetsim/tetsim/sim"
	"github.com/tetsim/tetsim/sim/mesh"
	"github.com/tetsim/tetsim/sim/model"
	"github.com/tetsim/tetsim/sim/trace"
)

// Config describes an ensemble.
type Config struct {
	Built  *model.Built
	Mesh   *mesh.Mesh
	Engine sim.Config // Key is the ensemble key; each trajectory derives its own
	Seeds  sim.Seeds

	Points   []trace.Point
	Interval float64
	Until    float64

	Trajectories int
	Parallelism  int // concurrent engines; 0 means GOMAXPROCS

	// Prepare, when set, runs on each engine after Initialize and before
	// sampling, e.g. to clamp a source or change a rate.
	Prepare func(i int, e *sim.Engine) error
}

// Result holds every trajectory in index order and their summary.
type Result struct {
	Keys         []sim.SimulationKey
	Trajectories []*trace.Trajectory
	Summary      *trace.Summary
}

// TrajectoryKey returns the key trajectory i of an ensemble keyed by key runs
// with. Trajectory i is reproducible on its own from this key.
func TrajectoryKey(key sim.SimulationKey, i int) sim.SimulationKey {
	return sim.NewSimulationKey(sim.NewPartitionedRNG(key).DeriveSeed(sim.SubsystemTrajectory(i)))
}

// Run executes cfg.Trajectories independent runs and returns them with their
// summary. The first failing trajectory cancels the rest.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.Trajectories <= 0 {
		return nil, fmt.Errorf("ensemble needs at least one trajectory, got %d", cfg.Trajectories)
	}
	if cfg.Built == nil || cfg.Mesh == nil {
		return nil, fmt.Errorf("ensemble needs a model and a mesh")
	}
	workers := cfg.Parallelism
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	res := &Result{
		Keys:         make([]sim.SimulationKey, cfg.Trajectories),
		Trajectories: make([]*trace.Trajectory, cfg.Trajectories),
	}
	for i := range res.Keys {
		res.Keys[i] = TrajectoryKey(cfg.Engine.Key, i)
	}

	logrus.Infof("ensemble: %d trajectories to t=%g on %d workers", cfg.Trajectories, cfg.Until, workers)
	begin := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < cfg.Trajectories; i++ {
		i := i
		g.Go(func() error {
			tr, err := runOne(gctx, cfg, i, res.Keys[i])
			if err != nil {
				return fmt.Errorf("trajectory %d: %w", i, err)
			}
			res.Trajectories[i] = tr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary, err := trace.Summarize(res.Trajectories)
	if err != nil {
		return nil, err
	}
	res.Summary = summary
	logrus.Infof("ensemble: done in %s", time.Since(begin).Round(time.Millisecond))
	return res, nil
}

func runOne(ctx context.Context, cfg Config, i int, key sim.SimulationKey) (*trace.Trajectory, error) {
	ecfg := cfg.Engine
	ecfg.Key = key
	// one goroutine per trajectory already saturates the pool
	ecfg.Workers = 1
	e, err := sim.New(cfg.Built, cfg.Mesh, ecfg)
	if err != nil {
		return nil, err
	}
	if err := e.Initialize(cfg.Seeds); err != nil {
		return nil, err
	}
	if cfg.Prepare != nil {
		if err := cfg.Prepare(i, e); err != nil {
			return nil, err
		}
	}
	logrus.Debugf("trajectory %d: key %d", i, key)
	return trace.Collect(ctx, e, cfg.Points, cfg.Interval, cfg.Until)
}
