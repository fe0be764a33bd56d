package cmd

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetsim/tetsim/sim/snapshot"
)

// snapshotsCmd groups snapshot database maintenance
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List or delete saved snapshots",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSnapshotDB()
		if err != nil {
			return err
		}
		defer store.Close()
		entries, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		return printEntries(cmd.OutOrStdout(), entries)
	},
}

var snapshotsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid snapshot id %q", args[0])
		}
		store, err := openSnapshotDB()
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Delete(cmd.Context(), id)
	},
}

func openSnapshotDB() (*snapshot.Store, error) {
	if snapshotDB == "" {
		return nil, fmt.Errorf("--snapshot-db is required")
	}
	return snapshot.Open(snapshotDB)
}

func printEntries(w io.Writer, entries []snapshot.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tTIME\tSTEPS\tTETS\tFINGERPRINT\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%g\t%d\t%d\t%s\t%s\n",
			e.ID, e.Label, e.Time, e.Steps, e.Tets, e.Fingerprint, e.Created.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func init() {
	snapshotsCmd.PersistentFlags().StringVar(&snapshotDB, "snapshot-db", "", "SQLite snapshot database")
	snapshotsCmd.AddCommand(snapshotsListCmd, snapshotsDeleteCmd)
}
