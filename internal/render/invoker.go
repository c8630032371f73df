package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/af-corp/chatlog-relay/internal/telemetry"
	"github.com/af-corp/chatlog-relay/internal/transcript"
)

var ErrRenderFailed = errors.New("render failed")

// BuildArgs returns the renderer arguments for one transcript:
//
//	--preset <default|custom> [--include-tags a,b | --omit-tags c,d] --output-dir <dir> --suffix vN <path>
//
// Custom mode with both tag lists empty falls back to the default preset.
func BuildArgs(s Settings, outputDir string, version int, path string) []string {
	args := make([]string, 0, 10)
	include := NormalizeTags(s.IncludeTags)
	exclude := NormalizeTags(s.ExcludeTags)
	switch {
	case s.Mode == ModeCustom && len(include) > 0:
		args = append(args, "--preset", string(ModeCustom), "--include-tags", strings.Join(include, ","))
	case s.Mode == ModeCustom && len(exclude) > 0:
		args = append(args, "--preset", string(ModeCustom), "--omit-tags", strings.Join(exclude, ","))
	default:
		args = append(args, "--preset", string(ModeDefault))
	}
	return append(args, "--output-dir", outputDir, "--suffix", fmt.Sprintf("v%d", version), path)
}

// Outcome describes one renderer run.
type Outcome struct {
	File      string
	Version   int
	OutputDir string
	Args      []string
	Result    Result
	Duration  time.Duration
}

// Invoker renders transcripts with the current settings. Runs for the same
// transcript are serialized so each one claims a distinct version.
type Invoker struct {
	renderer Renderer
	settings *SettingsManager
	store    *transcript.Store
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	locks    keyedMutex
}

func NewInvoker(renderer Renderer, settings *SettingsManager, store *transcript.Store, metrics *telemetry.Metrics, logger *slog.Logger) *Invoker {
	return &Invoker{
		renderer: renderer,
		settings: settings,
		store:    store,
		metrics:  metrics,
		logger:   logger,
	}
}

// Render runs the renderer for one stored transcript. A non-zero exit returns
// the outcome together with an error wrapping ErrRenderFailed.
func (inv *Invoker) Render(ctx context.Context, name string) (*Outcome, error) {
	file, err := transcript.FileName(name)
	if err != nil {
		return nil, err
	}
	if !inv.store.Exists(file) {
		return nil, fmt.Errorf("%w: %s", transcript.ErrNotFound, file)
	}
	path, err := inv.store.Path(file)
	if err != nil {
		return nil, err
	}

	unlock := inv.locks.Lock(file)
	defer unlock()

	outDir := inv.store.ParsedDir(file)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", ErrRenderFailed, err)
	}
	version, err := transcript.NextVersion(outDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	out := &Outcome{
		File:      file,
		Version:   version,
		OutputDir: outDir,
		Args:      BuildArgs(inv.settings.Get(), outDir, version, path),
	}
	start := time.Now()
	res, err := inv.renderer.Render(ctx, out.Args)
	out.Duration = time.Since(start)
	out.Result = res

	switch {
	case err != nil:
		inv.metrics.RecordRender("error", out.Duration)
		return out, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	case res.TimedOut:
		inv.metrics.RecordRender("timeout", out.Duration)
		return out, fmt.Errorf("%w: timed out with exit code %d", ErrRenderFailed, res.ExitCode)
	case res.ExitCode != 0:
		inv.metrics.RecordRender("error", out.Duration)
		return out, fmt.Errorf("%w: exit code %d", ErrRenderFailed, res.ExitCode)
	}

	inv.metrics.RecordRender("ok", out.Duration)
	if s := strings.TrimSpace(res.Stdout); s != "" {
		inv.logger.Debug("renderer stdout", "file", file, "stdout", s)
	}
	if s := strings.TrimSpace(res.Stderr); s != "" {
		inv.logger.Warn("renderer stderr", "file", file, "stderr", s)
	}
	return out, nil
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
