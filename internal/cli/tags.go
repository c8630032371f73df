package cli

import (
	"encoding/json"
	"fmt"

	"github.com/af-corp/chatlog-relay/internal/tags"
	"github.com/af-corp/chatlog-relay/internal/transcript"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "tags [transcript...]",
		Short: "Report the tags declared in transcripts' system prompts",
		Long:  "Scans the named transcripts, or the most recent one when none are named, and prints the tag index as JSON.",
		RunE:  runTags,
	})
}

func runTags(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	names := args
	if len(names) == 0 {
		latest, err := e.store.Latest()
		if err != nil {
			return fmt.Errorf("no transcripts in %s", e.store.Dir())
		}
		names = []string{latest}
	}

	var sources []tags.Source
	for _, n := range names {
		file, err := transcript.FileName(n)
		if err != nil {
			return err
		}
		data, err := e.store.Read(file)
		if err != nil {
			return err
		}
		sources = append(sources, tags.Source{Name: file, Data: data})
	}

	idx, skipped := tags.NewScanner().Build(sources)
	for file, err := range skipped {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %v\n", file, err)
	}
	b, _ := json.MarshalIndent(idx, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
