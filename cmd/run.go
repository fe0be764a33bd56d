package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tetsim/tetsim/sim"
	"github.com/tetsim/tetsim/sim/observe"
	"github.com/tetsim/tetsim/sim/snapshot"
	"github.com/tetsim/tetsim/sim/trace"
)

var (
	resumeFrom      string        // Snapshot id or "latest"
	saveLabel       string        // Label of the snapshot saved at the end
	observeAddr     string        // Websocket listen address; empty disables
	observeInterval time.Duration // Wall-clock polling period of the observer
	reseedKey       int64         // Key the resumed run continues with; derived when unset
)

// runOptions are the run-only settings that do not belong in the config file.
type runOptions struct {
	TraceOut        io.Writer // nil skips the trace
	SnapshotDB      string
	Resume          string
	SaveLabel       string
	ObserveAddr     string
	ObserveInterval time.Duration
	Reseed          *int64 // key after --resume; nil derives one from the snapshot
}

// runCmd executes one trajectory and writes its trace
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one simulation and write its trace",
	Long: `Run one simulation and write its trace.

With --resume the run continues from a stored snapshot. The random streams
are then reseeded so the continuation is not a replay of the original run:
by default with a key derived from the config seed and the snapshot's step
count, or with --reseed when given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		setup, err := loadSetup(cmd)
		if err != nil {
			return err
		}
		out, closeOut, err := openOutput(cmd, traceOut)
		if err != nil {
			return err
		}
		defer closeOut()

		opts := runOptions{
			TraceOut:        out,
			SnapshotDB:      snapshotDB,
			Resume:          resumeFrom,
			SaveLabel:       saveLabel,
			ObserveAddr:     observeAddr,
			ObserveInterval: observeInterval,
		}
		if cmd.Flags().Changed("reseed") {
			k := reseedKey
			opts.Reseed = &k
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		_, err = runSimulation(ctx, setup, opts)
		return err
	},
}

// runSimulation builds an engine from setup, initialises or restores it,
// samples it to the end time and writes the trace. When a snapshot database
// is given the final state is saved there, also after an interrupted run.
func runSimulation(ctx context.Context, setup *Setup, opts runOptions) (*trace.Trajectory, error) {
	e, err := sim.New(setup.Built, setup.Mesh, setup.Engine)
	if err != nil {
		return nil, err
	}

	var store *snapshot.Store
	if opts.SnapshotDB != "" {
		if store, err = snapshot.Open(opts.SnapshotDB); err != nil {
			return nil, err
		}
		defer store.Close()
	}
	if opts.Resume != "" {
		if store == nil {
			return nil, fmt.Errorf("resuming needs a snapshot database")
		}
		if err := resume(ctx, store, e, opts.Resume, opts.Reseed); err != nil {
			return nil, err
		}
	} else if err := e.Initialize(setup.Config.Seeds); err != nil {
		return nil, err
	}

	if opts.ObserveAddr != "" {
		stopObserver, err := startObserver(ctx, e, setup.Points, opts.ObserveAddr, opts.ObserveInterval)
		if err != nil {
			return nil, err
		}
		defer stopObserver()
	}

	until := setup.Config.EndTime
	iv := samplingInterval(setup.Config.Interval, e.GetTime(), until)
	logrus.Infof("Starting run from t=%g to t=%g, sampling every %g", e.GetTime(), until, iv)
	begin := time.Now()

	tr, runErr := trace.Collect(ctx, e, setup.Points, iv, until)
	logrus.Infof("Run stopped at t=%g after %d events in %s", e.GetTime(), e.Steps(), time.Since(begin).Round(time.Millisecond))

	if opts.TraceOut != nil && tr != nil && len(tr.Points) > 0 {
		if err := trace.WriteCSV(opts.TraceOut, tr); err != nil {
			return tr, errors.Join(runErr, err)
		}
	}
	if store != nil && e.Err() == nil {
		label := opts.SaveLabel
		if label == "" {
			label = fmt.Sprintf("t=%g", e.GetTime())
		}
		// a cancelled ctx must not prevent the checkpoint
		id, err := store.Save(context.WithoutCancel(ctx), label, e.Snapshot())
		if err != nil {
			return tr, errors.Join(runErr, err)
		}
		logrus.Infof("Saved snapshot %d (%s)", id, label)
	}
	return tr, runErr
}

// resume restores e from a stored snapshot and reseeds it with reseed, or
// with a key derived from the current key and the snapshot's step count.
func resume(ctx context.Context, store *snapshot.Store, e *sim.Engine, from string, reseed *int64) error {
	var (
		snap *sim.Snapshot
		err  error
	)
	if from == "latest" {
		_, snap, err = store.Latest(ctx, e.Fingerprint())
	} else {
		id, perr := strconv.ParseInt(from, 10, 64)
		if perr != nil {
			return fmt.Errorf("--resume wants a snapshot id or \"latest\", got %q", from)
		}
		snap, err = store.Load(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("resuming from %s: %w", from, err)
	}
	if err := e.Restore(snap); err != nil {
		return err
	}
	key := resumeKey(e.Key(), snap.Steps)
	if reseed != nil {
		key = sim.NewSimulationKey(*reseed)
	}
	if err := e.Reseed(key); err != nil {
		return err
	}
	logrus.Infof("Resumed at t=%g, step %d, key %d", snap.Time, snap.Steps, key)
	return nil
}

// resumeKey is the key a continuation from step steps runs with by default.
// Resuming the same snapshot twice repeats itself; it never replays the
// draws the original run made from key.
func resumeKey(key sim.SimulationKey, steps uint64) sim.SimulationKey {
	return sim.NewSimulationKey(sim.NewPartitionedRNG(key).DeriveSeed(fmt.Sprintf("resume_%d", steps)))
}

func startObserver(ctx context.Context, e *sim.Engine, points []trace.Point, addr string, every time.Duration) (func(), error) {
	if every <= 0 {
		every = 100 * time.Millisecond
	}
	hub := observe.NewHub()
	srv := &http.Server{Addr: addr, Handler: hub}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("observer server: %v", err)
		}
	}()

	labels := make([]string, len(points))
	for i, p := range points {
		labels[i] = p.Label
	}
	pctx, cancel := context.WithCancel(ctx)
	go observe.Poll(pctx, hub, e, trace.Pairs(points), labels, every)
	logrus.Infof("Observer listening on %s", addr)

	return func() {
		cancel()
		shutdown, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		srv.Shutdown(shutdown)
		hub.Close()
	}, nil
}

// samplingInterval defaults to a single sample at each end of the run.
func samplingInterval(iv, start, until float64) float64 {
	if iv > 0 {
		return iv
	}
	if until > start {
		return until - start
	}
	return 1
}

func openOutput(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	switch path {
	case "":
		return nil, func() {}, nil
	case "-":
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return f, func() {
		if err := f.Close(); err != nil {
			logrus.Errorf("closing %s: %v", path, err)
		}
	}, nil
}

func init() {
	runCmd.Flags().StringVar(&resumeFrom, "resume", "", "Continue from a snapshot id or \"latest\" (needs --snapshot-db)")
	runCmd.Flags().Int64Var(&reseedKey, "reseed", 0, "Key to continue with after --resume (default: derived from the seed and the snapshot step)")
	runCmd.Flags().StringVar(&saveLabel, "save-label", "", "Label of the snapshot saved at the end (needs --snapshot-db)")
	runCmd.Flags().StringVar(&observeAddr, "observe", "", "Serve live counts over websocket on this address, e.g. :8080")
	runCmd.Flags().DurationVar(&observeInterval, "observe-interval", 100*time.Millisecond, "Wall-clock period between observer frames")
}
