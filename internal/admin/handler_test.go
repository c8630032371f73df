package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/af-corp/chatlog-relay/internal/config"
	"github.com/af-corp/chatlog-relay/internal/render"
	"github.com/af-corp/chatlog-relay/internal/transcript"
	"github.com/af-corp/chatlog-relay/internal/types"
	"github.com/af-corp/chatlog-relay/internal/validate"
	"github.com/go-chi/chi/v5"
)

// versionWriter stands in for the external renderer and writes
// Character.<suffix>.txt into the requested output directory.
type versionWriter struct{}

func (versionWriter) Render(_ context.Context, args []string) (render.Result, error) {
	var dir, suffix string
	for i := 0; i < len(args)-1; i++ {
		switch args[i] {
		case "--output-dir":
			dir = args[i+1]
		case "--suffix":
			suffix = args[i+1]
		}
	}
	err := os.WriteFile(filepath.Join(dir, "Character."+suffix+".txt"), []byte("rendered "+suffix), 0o644)
	return render.Result{Stdout: "ok"}, err
}

type testEnv struct {
	store  *transcript.Store
	router chi.Router
}

func newTestEnv(t *testing.T, withRenderer bool) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultConfig()
	cfg.Server.Port = 5055

	store := transcript.NewStore(t.TempDir(), 0, logger)
	settings := render.NewSettingsManager(filepath.Join(t.TempDir(), "settings.json"), render.DefaultSettings(), logger)
	params := validate.NewParamStore(validate.ParamsFromConfig(cfg), cfg.Generation.Bounds)

	var invoker *render.Invoker
	if withRenderer {
		invoker = render.NewInvoker(versionWriter{}, settings, store, nil, logger)
	}

	h := NewHandler(store, settings, invoker, params, func() *config.Config { return cfg }, nil, "test")
	r := chi.NewRouter()
	h.Register(r)
	return &testEnv{store: store, router: r}
}

func (e *testEnv) seed(t *testing.T, name, body string, age time.Duration) {
	t.Helper()
	path := filepath.Join(e.store.Dir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

const systemTranscript = `{"messages":[{"role":"system","content":"<Persona> meets <Scenario>"},{"role":"user","content":"<ignored>"}]}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "healthy" || body["version"] != "test" {
		t.Errorf("unexpected body: %v", body)
	}
	cfg, _ := body["config"].(map[string]any)
	if cfg["port"] != float64(5055) {
		t.Errorf("expected port 5055, got %v", cfg["port"])
	}
	if _, ok := body["uptime_seconds"].(float64); !ok {
		t.Errorf("expected numeric uptime_seconds, got %v", body["uptime_seconds"])
	}
}

func TestParams_UpdateClamps(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/param", `{"temperature":5,"top_k":"12","max_tokens":"lots"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode[types.GenParams](t, rec)
	if got.Temperature != 2 {
		t.Errorf("expected temperature clamped to 2, got %v", got.Temperature)
	}
	if got.TopK != 12 {
		t.Errorf("expected top_k 12, got %d", got.TopK)
	}
	if got.MaxTokens != 1024 {
		t.Errorf("uncoercible max_tokens should be ignored, got %d", got.MaxTokens)
	}

	after := decode[types.GenParams](t, env.do(t, http.MethodGet, "/param", ""))
	if after != got {
		t.Errorf("GET /param = %+v, want %+v", after, got)
	}
}

func TestParams_BadBodyLeavesDefaults(t *testing.T) {
	env := newTestEnv(t, false)
	got := decode[types.GenParams](t, env.do(t, http.MethodPost, "/param", `not json`))
	if got.Temperature != 1.0 || got.MaxTokens != 1024 {
		t.Errorf("expected defaults, got %+v", got)
	}
}

func TestListLogs(t *testing.T) {
	env := newTestEnv(t, false)
	env.seed(t, "old.json", "{}", 2*time.Hour)
	env.seed(t, "new.json", "{}", time.Minute)
	env.seed(t, "notes.txt", "x", 0)

	body := decode[logsResponse](t, env.do(t, http.MethodGet, "/logs", ""))
	if body.Total != 2 {
		t.Fatalf("expected total 2, got %d", body.Total)
	}
	if len(body.Logs) != 2 || body.Logs[0] != "new.json" || body.Logs[1] != "old.json" {
		t.Errorf("expected newest first, got %v", body.Logs)
	}
	if len(body.Recent) != 2 {
		t.Errorf("expected recent to mirror logs, got %v", body.Recent)
	}
}

func TestListLogs_Empty(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/logs", "")
	if !strings.Contains(rec.Body.String(), `"logs":[]`) {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestGetLog(t *testing.T) {
	env := newTestEnv(t, false)
	env.seed(t, "chat.json", `{"model":"m"}`, 0)

	rec := env.do(t, http.MethodGet, "/logs/chat", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	if rec.Body.String() != `{"model":"m"}` {
		t.Errorf("expected verbatim document, got %s", rec.Body.String())
	}

	if rec := env.do(t, http.MethodGet, "/logs/missing.json", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing log, got %d", rec.Code)
	}
}

func TestDeleteLog(t *testing.T) {
	env := newTestEnv(t, false)
	env.seed(t, "chat.json", "{}", 0)

	if rec := env.do(t, http.MethodDelete, "/logs/chat.json", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.store.Exists("chat.json") {
		t.Error("expected transcript to be removed")
	}
	if rec := env.do(t, http.MethodDelete, "/logs/chat.json", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestRenameLog(t *testing.T) {
	env := newTestEnv(t, false)
	env.seed(t, "a.json", "{}", 0)
	env.seed(t, "b.json", "{}", 0)

	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"missing new_name", "/logs/a/rename", `{}`, http.StatusBadRequest},
		{"blank new_name", "/logs/a/rename", `{"new_name":"  "}`, http.StatusBadRequest},
		{"missing source", "/logs/zzz/rename", `{"new_name":"c"}`, http.StatusNotFound},
		{"destination exists", "/logs/a/rename", `{"new_name":"b"}`, http.StatusConflict},
		{"ok", "/logs/a/rename", `{"new_name":"Alice chat"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.target, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	if !env.store.Exists("Alice chat.json") || env.store.Exists("a.json") {
		t.Error("expected a.json to be renamed to Alice chat.json")
	}
}

func TestVersions_ListReadRename(t *testing.T) {
	env := newTestEnv(t, true)
	env.seed(t, "chat.json", systemTranscript, 0)

	empty := decode[versionsResponse](t, env.do(t, http.MethodGet, "/logs/chat/parsed", ""))
	if len(empty.Versions) != 0 || empty.Latest != "" {
		t.Fatalf("expected no versions yet, got %+v", empty)
	}

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/parser-rewrite", `{"mode":"latest"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("rewrite: expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	}

	list := decode[versionsResponse](t, env.do(t, http.MethodGet, "/logs/chat/parsed", ""))
	if len(list.Versions) != 2 {
		t.Fatalf("expected 2 versions, got %+v", list.Versions)
	}
	if list.Latest != "Character.v2.txt" {
		t.Errorf("expected latest Character.v2.txt, got %q", list.Latest)
	}
	if list.Dir != "chat" {
		t.Errorf("expected dir chat, got %q", list.Dir)
	}
	for _, v := range list.Versions {
		if v.Version == nil {
			t.Errorf("expected version number for %s", v.File)
		}
	}

	rec := env.do(t, http.MethodGet, "/logs/chat/parsed/Character.v1.txt", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "rendered v1" {
		t.Fatalf("expected v1 content, got %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain, got %q", ct)
	}
	if rec := env.do(t, http.MethodGet, "/logs/chat/parsed/nope.txt", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing version, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/logs/chat/parsed/rename", `{"old":"Character.v1.txt","new":"first draft"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("rename version: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	renamed := decode[map[string]string](t, rec)
	if renamed["new"] != "first draft.txt" {
		t.Errorf("expected .txt enforced, got %q", renamed["new"])
	}
	if rec := env.do(t, http.MethodPost, "/logs/chat/parsed/rename", `{"old":"Character.v2.txt","new":"first draft.txt"}`); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on existing destination, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/logs/chat/parsed/rename", `{"old":"Character.v2.txt"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without new, got %d", rec.Code)
	}
}

func TestParserSettings(t *testing.T) {
	env := newTestEnv(t, false)

	got := decode[render.Settings](t, env.do(t, http.MethodGet, "/parser-settings", ""))
	if got.Mode != render.ModeDefault {
		t.Errorf("expected default mode, got %q", got.Mode)
	}

	rec := env.do(t, http.MethodPost, "/parser-settings", `{"mode":"CUSTOM","include_tags":"Persona, Scenario"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got = decode[render.Settings](t, rec)
	if got.Mode != render.ModeCustom || len(got.IncludeTags) != 2 || got.IncludeTags[1] != "Scenario" {
		t.Errorf("unexpected settings: %+v", got)
	}
}

func TestRewrite_DisabledRenderer(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/parser-rewrite", `{}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestRewrite_ExplicitFiles(t *testing.T) {
	env := newTestEnv(t, true)
	env.seed(t, "a.json", systemTranscript, time.Hour)
	env.seed(t, "b.json", systemTranscript, 0)

	rec := env.do(t, http.MethodPost, "/parser-rewrite", `{"files":["a","missing"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	report := decode[render.RewriteReport](t, rec)
	if report.Rewritten != 1 || len(report.Results) != 1 || report.Results[0].File != "a.json" {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestTags(t *testing.T) {
	env := newTestEnv(t, false)
	env.seed(t, "a.json", systemTranscript, time.Hour)
	env.seed(t, "b.json", `{"messages":[{"role":"system","content":"<Lore>"}]}`, 0)
	env.seed(t, "broken.json", `{`, 2*time.Hour)

	t.Run("latest by default", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/parser-tags", "")
		body := decode[map[string]any](t, rec)
		files, _ := body["files"].([]any)
		if len(files) != 1 || files[0] != "b.json" {
			t.Errorf("expected only the newest transcript, got %v", body["files"])
		}
	})

	t.Run("repeated and csv names", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/parser-tags?file=a&files=b.json,a.json,nope", "")
		body := decode[map[string]any](t, rec)
		tags, _ := body["tags"].([]any)
		want := []string{"Lore", "Persona", "Scenario"}
		if len(tags) != len(want) {
			t.Fatalf("expected %v, got %v", want, tags)
		}
		for i, w := range want {
			if tags[i] != w {
				t.Errorf("tags[%d] = %v, want %s", i, tags[i], w)
			}
		}
	})

	t.Run("undecodable transcript skipped", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/parser-tags?file=broken", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := decode[map[string]any](t, rec)
		if files, _ := body["files"].([]any); len(files) != 0 {
			t.Errorf("expected no files, got %v", files)
		}
	})
}

func TestQueryNames(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/parser-tags?file=a&file=b&files=b,%20c,,a", nil)
	got := queryNames(req)
	want := []string{"a", "b", "c"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("queryNames = %v, want %v", got, want)
	}
}
