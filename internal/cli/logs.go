package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List recent transcripts",
		Args:  cobra.NoArgs,
		RunE:  runLogs,
	}
	cmd.Flags().IntP("limit", "l", 50, "Max transcripts to list")
	RootCmd.AddCommand(cmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	e, err := loadEnv()
	if err != nil {
		return err
	}
	infos, err := e.store.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED\tVERSIONS")
	now := time.Now()
	for i, info := range infos {
		if limit > 0 && i >= limit {
			break
		}
		versions, _ := e.store.Versions(info.Name)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n",
			info.Name,
			humanize.Bytes(uint64(info.Size)),
			humanize.RelTime(info.ModTime, now, "ago", "from now"),
			len(versions),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s transcripts in %s\n", humanize.Comma(int64(len(infos))), e.store.Dir())
	return nil
}
