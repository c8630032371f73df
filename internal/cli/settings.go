package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the render settings",
		Long:  "Without flags prints the current settings. Flags update and persist them. A running relay keeps its in-memory settings until restarted.",
		Args:  cobra.NoArgs,
		RunE:  runSettings,
	}
	cmd.Flags().String("mode", "", "Render mode: default or custom")
	cmd.Flags().String("include", "", "Comma-separated tags to include")
	cmd.Flags().String("exclude", "", "Comma-separated tags to omit")
	RootCmd.AddCommand(cmd)
}

func runSettings(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	fields := map[string]any{}
	if cmd.Flags().Changed("mode") {
		v, _ := cmd.Flags().GetString("mode")
		fields["mode"] = v
	}
	if cmd.Flags().Changed("include") {
		v, _ := cmd.Flags().GetString("include")
		fields["include_tags"] = v
	}
	if cmd.Flags().Changed("exclude") {
		v, _ := cmd.Flags().GetString("exclude")
		fields["exclude_tags"] = v
	}

	current := e.settings.Get()
	if len(fields) > 0 {
		current, err = e.settings.Update(fields)
		if err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}
	b, _ := json.MarshalIndent(current, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
