// Package render drives the external transcript renderer: the process-wide
// tag-filter settings, the renderer invocation with per-transcript version
// numbering, and bulk rewrites.
package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/af-corp/chatlog-relay/internal/config"
	"github.com/spf13/cast"
)

type Mode string

const (
	ModeDefault Mode = "default"
	ModeCustom  Mode = "custom"
)

// Settings select which tags the renderer keeps. Under custom mode a
// non-empty IncludeTags wins over ExcludeTags.
type Settings struct {
	Mode        Mode     `json:"mode"`
	IncludeTags []string `json:"include_tags"`
	ExcludeTags []string `json:"exclude_tags"`
}

func DefaultSettings() Settings {
	return Settings{Mode: ModeDefault, IncludeTags: []string{}, ExcludeTags: []string{}}
}

// SettingsFromConfig builds the starting settings used when no settings
// document exists yet.
func SettingsFromConfig(cfg config.ParserConfig) Settings {
	return Settings{
		Mode:        NormalizeMode(cfg.Mode),
		IncludeTags: NormalizeTags(cfg.IncludeTags),
		ExcludeTags: NormalizeTags(cfg.ExcludeTags),
	}
}

// NormalizeMode lowercases v and forces anything but default/custom to default.
func NormalizeMode(v string) Mode {
	switch m := Mode(strings.ToLower(strings.TrimSpace(v))); m {
	case ModeDefault, ModeCustom:
		return m
	default:
		return ModeDefault
	}
}

// NormalizeTags accepts a comma-separated string or a sequence and returns the
// trimmed, non-empty entries. Anything else is an empty list.
func NormalizeTags(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []string:
		raw = t
	case []any:
		raw = make([]string, 0, len(t))
		for _, item := range t {
			raw = append(raw, cast.ToString(item))
		}
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (s Settings) clone() Settings {
	return Settings{
		Mode:        s.Mode,
		IncludeTags: append([]string{}, s.IncludeTags...),
		ExcludeTags: append([]string{}, s.ExcludeTags...),
	}
}

// SettingsManager holds the current Settings behind an atomic pointer and
// persists every change. Readers always see a whole value.
type SettingsManager struct {
	path    string
	current atomic.Pointer[Settings]
	writeMu sync.Mutex
	logger  *slog.Logger
}

func NewSettingsManager(path string, initial Settings, logger *slog.Logger) *SettingsManager {
	m := &SettingsManager{path: path, logger: logger}
	s := initial.clone()
	s.Mode = NormalizeMode(string(s.Mode))
	m.current.Store(&s)
	return m
}

func (m *SettingsManager) Path() string { return m.path }

// Get returns a copy of the current settings.
func (m *SettingsManager) Get() Settings {
	return m.current.Load().clone()
}

// Load reads the settings document, migrating legacy shapes. A migrated
// document is rewritten in the current shape. A missing document keeps the
// initial settings.
func (m *SettingsManager) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read render settings: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	loaded, kind, err := ParseDocument(data, m.Get())
	if err != nil {
		return err
	}
	m.current.Store(&loaded)

	if kind != KindCurrent {
		m.logger.Info("migrated legacy render settings", "path", m.path, "format", kind.String())
		if err := m.persist(loaded); err != nil {
			return err
		}
	}
	return nil
}

// Update applies the mode/include_tags/exclude_tags fields present in fields,
// publishes the result and persists it. The new settings are published even
// when persisting fails.
func (m *SettingsManager) Update(fields map[string]any) (Settings, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	next := m.Get()
	if v, ok := fields["mode"]; ok {
		next.Mode = NormalizeMode(cast.ToString(v))
	}
	if v, ok := fields["include_tags"]; ok {
		next.IncludeTags = NormalizeTags(v)
	}
	if v, ok := fields["exclude_tags"]; ok {
		next.ExcludeTags = NormalizeTags(v)
	}

	m.current.Store(&next)
	return next.clone(), m.persist(next)
}

// persist writes the document through a temp file and rename.
func (m *SettingsManager) persist(s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode render settings: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".render-settings-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp settings: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace render settings: %w", err)
	}
	return nil
}
