package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/tetsim/tetsim/sim/ensemble"
	"github.com/tetsim/tetsim/sim/trace"
)

var (
	trajectories int    // Number of trajectories; overrides the config file when set
	parallelism  int    // Concurrent engines
	summaryOut   string // Summary CSV path; "-" for stdout, empty to skip
)

// ensembleCmd runs independent trajectories and summarises them
var ensembleCmd = &cobra.Command{
	Use:   "ensemble",
	Short: "Run independent trajectories in parallel and summarise them",
	RunE: func(cmd *cobra.Command, args []string) error {
		setup, err := loadSetup(cmd)
		if err != nil {
			return err
		}
		if summaryOut == "-" && traceOut == "-" {
			return fmt.Errorf("--trace-out and --summary-out cannot both be stdout")
		}
		traces, closeTraces, err := openOutput(cmd, traceOut)
		if err != nil {
			return err
		}
		defer closeTraces()
		summary, closeSummary, err := openOutput(cmd, summaryOut)
		if err != nil {
			return err
		}
		defer closeSummary()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runEnsemble(ctx, setup, parallelism, traces, summary)
	},
}

// runEnsemble runs the configured trajectories and writes all traces to
// traces and the per-sample summary to summary; either may be nil.
func runEnsemble(ctx context.Context, setup *Setup, workers int, traces, summary io.Writer) error {
	n := setup.Config.Trajectories
	if n == 0 {
		n = 1
	}
	res, err := ensemble.Run(ctx, ensemble.Config{
		Built:        setup.Built,
		Mesh:         setup.Mesh,
		Engine:       setup.Engine,
		Seeds:        setup.Config.Seeds,
		Points:       setup.Points,
		Interval:     samplingInterval(setup.Config.Interval, 0, setup.Config.EndTime),
		Until:        setup.Config.EndTime,
		Trajectories: n,
		Parallelism:  workers,
	})
	if err != nil {
		return err
	}
	if traces != nil {
		if err := trace.WriteCSV(traces, res.Trajectories...); err != nil {
			return err
		}
	}
	if summary != nil {
		return trace.WriteSummaryCSV(summary, res.Summary)
	}
	return nil
}

func init() {
	ensembleCmd.Flags().IntVar(&trajectories, "trajectories", 1, "Number of trajectories (overrides the config file)")
	ensembleCmd.Flags().IntVar(&parallelism, "parallel", 0, "Concurrent trajectories (0 = GOMAXPROCS)")
	ensembleCmd.Flags().StringVar(&summaryOut, "summary-out", "", "Summary CSV path (\"-\" for stdout, empty to skip)")
}
