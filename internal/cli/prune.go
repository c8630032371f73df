package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var keepFiles int

func init() {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete the oldest transcripts beyond the retention count",
		Args:  cobra.NoArgs,
		RunE:  runPrune,
	}
	cmd.Flags().IntVarP(&keepFiles, "keep", "k", 0, "Transcripts to keep (default logging.max_files)")
	RootCmd.AddCommand(cmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	removed := e.store.Prune()
	out := cmd.OutOrStdout()
	for _, name := range removed {
		fmt.Fprintf(out, "removed %s\n", name)
	}
	fmt.Fprintf(out, "%d transcripts removed\n", len(removed))
	return nil
}
