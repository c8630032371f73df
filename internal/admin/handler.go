// Package admin serves the transcript, rendering and parameter endpoints
// around the completion relay.
package admin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/af-corp/chatlog-relay/internal/config"
	"github.com/af-corp/chatlog-relay/internal/httputil"
	"github.com/af-corp/chatlog-relay/internal/render"
	"github.com/af-corp/chatlog-relay/internal/tags"
	"github.com/af-corp/chatlog-relay/internal/telemetry"
	"github.com/af-corp/chatlog-relay/internal/transcript"
	"github.com/af-corp/chatlog-relay/internal/validate"
	"github.com/go-chi/chi/v5"
)

const (
	recentLimit  = 50
	maxJSONBytes = 1 << 20
)

// Handler holds dependencies for the admin HTTP handlers.
type Handler struct {
	store     *transcript.Store
	settings  *render.SettingsManager
	invoker   *render.Invoker
	scanner   *tags.Scanner
	params    *validate.ParamStore
	cfg       func() *config.Config
	metrics   *telemetry.Metrics
	startedAt time.Time
	version   string
}

// NewHandler wires the admin handlers. A nil invoker disables rewrites.
func NewHandler(store *transcript.Store, settings *render.SettingsManager, invoker *render.Invoker, params *validate.ParamStore, cfg func() *config.Config, metrics *telemetry.Metrics, version string) *Handler {
	return &Handler{
		store:     store,
		settings:  settings,
		invoker:   invoker,
		scanner:   tags.NewScanner(),
		params:    params,
		cfg:       cfg,
		metrics:   metrics,
		startedAt: time.Now(),
		version:   version,
	}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startedAt).Seconds()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": float64(int64(uptime*1000)) / 1000,
		"version":        h.version,
		"config":         map[string]any{"port": h.cfg().Server.Port},
	})
}

// GetParams handles GET /param.
func (h *Handler) GetParams(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.params.Get())
}

// UpdateParams handles POST /param. Supplied fields are clamped into bounds;
// fields that cannot be coerced are ignored.
func (h *Handler) UpdateParams(w http.ResponseWriter, r *http.Request) {
	fields := decodeObject(r)
	updated := h.params.Update(fields)
	slog.Info("generation defaults updated",
		"temperature", updated.Temperature,
		"top_p", updated.TopP,
		"top_k", updated.TopK,
		"max_tokens", updated.MaxTokens,
	)
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// GetSettings handles GET /parser-settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.settings.Get())
}

// UpdateSettings handles POST /parser-settings. A persistence failure is
// logged; the new settings are in effect either way.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	updated, err := h.settings.Update(decodeObject(r))
	if err != nil {
		slog.Warn("failed to persist render settings", "path", h.settings.Path(), "error", err)
	}
	slog.Info("render settings updated",
		"mode", updated.Mode,
		"include_tags", updated.IncludeTags,
		"exclude_tags", updated.ExcludeTags,
	)
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// Rewrite handles POST /parser-rewrite.
func (h *Handler) Rewrite(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	if h.invoker == nil {
		httputil.WriteError(w, reqID, http.StatusServiceUnavailable, "server_error", "renderer_disabled", "Renderer is disabled")
		return
	}
	fields := decodeObject(r)
	mode, _ := fields["mode"].(string)
	if mode == "" {
		mode = render.RewriteAll
	}
	req := render.RewriteRequest{Mode: mode, Files: render.NormalizeTags(fields["files"])}

	report, err := h.invoker.Rewrite(r.Context(), req, h.cfg().Renderer.Concurrency)
	if err != nil {
		slog.Error("rewrite failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// decodeObject reads a JSON object body. Anything else decodes to an empty
// object.
func decodeObject(r *http.Request) map[string]any {
	fields := map[string]any{}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBytes))
	if err != nil || len(body) == 0 {
		return fields
	}
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return map[string]any{}
	}
	return fields
}

// writeStoreError maps transcript store errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, reqID string, err error) {
	switch {
	case errors.Is(err, transcript.ErrNotFound):
		httputil.WriteNotFoundError(w, reqID, err.Error())
	case errors.Is(err, transcript.ErrExists):
		httputil.WriteConflictError(w, reqID, err.Error())
	case errors.Is(err, transcript.ErrInvalidName):
		httputil.WriteBadRequestError(w, reqID, err.Error())
	default:
		slog.Error("transcript store failure", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, err.Error())
	}
}

// queryNames collects repeated ?file= values and comma-separated ?files=
// values, in order and without duplicates.
func queryNames(r *http.Request) []string {
	q := r.URL.Query()
	raw := append([]string{}, q["file"]...)
	if csv := strings.TrimSpace(q.Get("files")); csv != "" {
		raw = append(raw, strings.Split(csv, ",")...)
	}
	seen := make(map[string]bool)
	var out []string
	for _, n := range raw {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Register mounts the admin routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/param", h.GetParams)
	r.Post("/param", h.UpdateParams)

	r.Get("/logs", h.ListLogs)
	r.Route("/logs/{name}", func(r chi.Router) {
		r.Get("/", h.GetLog)
		r.Delete("/", h.DeleteLog)
		r.Post("/rename", h.RenameLog)
		r.Get("/parsed", h.ListVersions)
		r.Post("/parsed/rename", h.RenameVersion)
		r.Get("/parsed/{file}", h.GetVersion)
	})

	r.Get("/parser-settings", h.GetSettings)
	r.Post("/parser-settings", h.UpdateSettings)
	r.Post("/parser-rewrite", h.Rewrite)
	r.Get("/parser-tags", h.Tags)
}
