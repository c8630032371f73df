package cli

import (
	"fmt"

	"github.com/af-corp/chatlog-relay/internal/render"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rewrite [transcript...]",
		Short: "Re-render transcripts with the current settings",
		RunE:  runRewrite,
	}
	cmd.Flags().Bool("latest", false, "Only re-render the most recent transcript")
	cmd.Flags().IntP("concurrency", "j", 0, "Parallel renders (default from config)")
	RootCmd.AddCommand(cmd)
}

func runRewrite(cmd *cobra.Command, args []string) error {
	latest, _ := cmd.Flags().GetBool("latest")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	e, err := loadEnv()
	if err != nil {
		return err
	}
	inv, err := e.invoker()
	if err != nil {
		return err
	}
	if concurrency <= 0 {
		concurrency = e.cfg.Renderer.Concurrency
	}

	req := render.RewriteRequest{Mode: render.RewriteAll, Files: args}
	if latest {
		req.Mode = render.RewriteLatest
	}
	report, err := inv.Rewrite(cmd.Context(), req, concurrency)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, res := range report.Results {
		if res.OK {
			fmt.Fprintf(out, "ok    %s\n", res.File)
			continue
		}
		failed++
		fmt.Fprintf(out, "FAIL  %s: %s\n", res.File, res.Error)
		if res.Stderr != "" {
			fmt.Fprintf(out, "      %s\n", res.Stderr)
		}
	}
	fmt.Fprintf(out, "%d rendered, %d failed\n", report.Rewritten-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d renders failed", failed)
	}
	return nil
}
