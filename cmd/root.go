package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Shared CLI flags
	configPath string  // Simulation config YAML
	logLevel   string  // Log verbosity level
	seed       int64   // Master seed; overrides the config file when set
	selector   string  // Event selector; overrides the config file when set
	endTime    float64 // Simulated end time (s); overrides the config file when set
	interval   float64 // Trace sampling interval (s); overrides the config file when set

	// Output flags
	traceOut   string // Trace CSV path; "-" for stdout, empty to skip
	snapshotDB string // SQLite snapshot database
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "tetsim",
	Short: "Exact stochastic reaction-diffusion on tetrahedral meshes",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadSetup reads --config and applies flags the user set explicitly.
func loadSetup(cmd *cobra.Command) (*Setup, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := LoadSimConfig(configPath)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg.Build()
}

// applyFlagOverrides copies explicitly set flags over config file values.
// Flags left at their defaults never override the file.
func applyFlagOverrides(cmd *cobra.Command, cfg *SimConfig) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		s := seed
		cfg.Seed = &s
	}
	if flags.Changed("selector") {
		cfg.Selector = selector
	}
	if flags.Changed("end-time") {
		cfg.EndTime = endTime
	}
	if flags.Changed("interval") {
		cfg.Interval = interval
	}
	if flags.Changed("trajectories") {
		cfg.Trajectories = trajectories
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	for _, c := range []*cobra.Command{runCmd, ensembleCmd, validateCmd} {
		c.Flags().StringVar(&configPath, "config", "", "Simulation config YAML")
		c.Flags().Int64Var(&seed, "seed", 0, "Master seed (overrides the config file)")
		c.Flags().StringVar(&selector, "selector", "", "Event selector: linear or tree (overrides the config file)")
		c.Flags().Float64Var(&endTime, "end-time", 0, "Simulated end time in seconds (overrides the config file)")
		c.Flags().Float64Var(&interval, "interval", 0, "Trace sampling interval in seconds (overrides the config file)")
	}
	for _, c := range []*cobra.Command{runCmd, ensembleCmd} {
		c.Flags().StringVar(&traceOut, "trace-out", "-", "Trace CSV path (\"-\" for stdout, empty to skip)")
	}
	runCmd.Flags().StringVar(&snapshotDB, "snapshot-db", "", "SQLite snapshot database for checkpoints")

	rootCmd.AddCommand(runCmd, ensembleCmd, validateCmd, snapshotsCmd)
}
