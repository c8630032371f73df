// Package cli implements the relayctl commands, which work directly on the
// relay's transcript directory and render settings.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/af-corp/chatlog-relay/internal/config"
	"github.com/af-corp/chatlog-relay/internal/render"
	"github.com/af-corp/chatlog-relay/internal/transcript"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logDir     string
	verbose    bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "relayctl",
	Short:         "Inspect and maintain chatlog-relay transcripts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/relay.yaml", "Relay configuration file")
	RootCmd.PersistentFlags().StringVarP(&logDir, "dir", "d", "", "Transcript directory (overrides config)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")
}

// env bundles the components a command works with.
type env struct {
	cfg      *config.Config
	store    *transcript.Store
	settings *render.SettingsManager
	logger   *slog.Logger
}

func loadEnv() (*env, error) {
	var out io.Writer = io.Discard
	if verbose {
		out = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(out, nil))

	loader := config.NewLoader(configPath, logger)
	if err := loader.Load(); err != nil {
		return nil, err
	}
	cfg := loader.Config()
	if logDir != "" {
		cfg.Logging.Directory = logDir
	}
	if keepFiles > 0 {
		cfg.Logging.MaxFiles = keepFiles
	}

	settings := render.NewSettingsManager(cfg.Parser.SettingsPath, render.SettingsFromConfig(cfg.Parser), logger)
	if err := settings.Load(); err != nil {
		logger.Warn("failed to load render settings", "path", cfg.Parser.SettingsPath, "error", err)
	}
	return &env{
		cfg:      cfg,
		store:    transcript.NewStore(cfg.Logging.Directory, cfg.Logging.MaxFiles, logger),
		settings: settings,
		logger:   logger,
	}, nil
}

// invoker builds a render invoker from the configured command.
func (e *env) invoker() (*render.Invoker, error) {
	if len(e.cfg.Renderer.Command) == 0 {
		return nil, fmt.Errorf("renderer.command is not configured")
	}
	renderer := render.ExecRenderer{Command: e.cfg.Renderer.Command, Timeout: e.cfg.Renderer.Timeout}
	return render.NewInvoker(renderer, e.settings, e.store, nil, e.logger), nil
}
