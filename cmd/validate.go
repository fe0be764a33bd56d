package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tetsim/tetsim/sim"
)

// validateCmd checks a config without running it
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a config, its model and mesh, and print what would run",
	RunE: func(cmd *cobra.Command, args []string) error {
		setup, err := loadSetup(cmd)
		if err != nil {
			return err
		}
		return describe(cmd.OutOrStdout(), setup)
	},
}

// describe binds and seeds an engine and prints its layout.
func describe(w io.Writer, setup *Setup) error {
	e, err := sim.New(setup.Built, setup.Mesh, setup.Engine)
	if err != nil {
		return err
	}
	if err := e.Initialize(setup.Config.Seeds); err != nil {
		return err
	}
	b := setup.Built
	fmt.Fprintf(w, "model: %d species, %d reactions, %d diffusions\n", len(b.Species), len(b.Reactions), len(b.Diffusions))
	fmt.Fprintf(w, "mesh: %d tets, volume %g\n", setup.Mesh.Len(), setup.Mesh.TotalVolume(allTets(setup.Mesh.Len())))
	for c, comp := range b.Compartments {
		tets := e.CompartmentTets(c)
		fmt.Fprintf(w, "compartment %s (group %s): %d tets, volume %g, %d reactions, %d diffusions\n",
			comp.Name, comp.Group, len(tets), setup.Mesh.TotalVolume(tets), len(comp.Reactions), len(comp.Diffusions))
	}
	totals := e.Totals()
	for s, name := range b.Species {
		if totals[s] > 0 {
			fmt.Fprintf(w, "initial %s: %d\n", name, totals[s])
		}
	}
	fmt.Fprintf(w, "initial propensity: %g\n", e.A0())
	fmt.Fprintf(w, "end time: %g, %d trace points\n", setup.Config.EndTime, len(setup.Points))
	fmt.Fprintf(w, "fingerprint: %s\n", e.Fingerprint())
	return nil
}

func allTets(n int) []int {
	tets := make([]int, n)
	for i := range tets {
		tets[i] = i
	}
	return tets
}
