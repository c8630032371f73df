package admin

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/af-corp/chatlog-relay/internal/httputil"
	"github.com/af-corp/chatlog-relay/internal/tags"
	"github.com/af-corp/chatlog-relay/internal/transcript"
	"github.com/go-chi/chi/v5"
)

type logsResponse struct {
	Logs   []string `json:"logs"`
	Total  int      `json:"total"`
	Recent []string `json:"recent"`
}

// ListLogs handles GET /logs.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	infos, err := h.store.List()
	if err != nil {
		writeStoreError(w, reqID, err)
		return
	}
	names := make([]string, 0, min(len(infos), recentLimit))
	for _, info := range infos[:min(len(infos), recentLimit)] {
		names = append(names, info.Name)
	}
	httputil.WriteJSON(w, http.StatusOK, logsResponse{Logs: names, Total: len(infos), Recent: names})
}

// GetLog handles GET /logs/{name} and returns the stored document verbatim.
func (h *Handler) GetLog(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	data, err := h.store.Read(chi.URLParam(r, "name"))
	if err != nil {
		h.metrics.RecordTranscriptOp("read", "error")
		writeStoreError(w, reqID, err)
		return
	}
	h.metrics.RecordTranscriptOp("read", "ok")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// DeleteLog handles DELETE /logs/{name}.
func (h *Handler) DeleteLog(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	file, err := h.store.Delete(chi.URLParam(r, "name"))
	if err != nil {
		h.metrics.RecordTranscriptOp("delete", "error")
		writeStoreError(w, reqID, err)
		return
	}
	h.metrics.RecordTranscriptOp("delete", "ok")
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"deleted": file})
}

// RenameLog handles POST /logs/{name}/rename with {"new_name": ...}.
func (h *Handler) RenameLog(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	fields := decodeObject(r)
	newName, _ := fields["new_name"].(string)
	if strings.TrimSpace(newName) == "" {
		httputil.WriteBadRequestError(w, reqID, "new_name is required")
		return
	}

	oldFile, newFile, err := h.store.Rename(chi.URLParam(r, "name"), newName)
	if err != nil {
		h.metrics.RecordTranscriptOp("rename", "error")
		writeStoreError(w, reqID, err)
		return
	}
	h.metrics.RecordTranscriptOp("rename", "ok")
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"old": oldFile, "new": newFile})
}

type versionItem struct {
	ID      string  `json:"id"`
	File    string  `json:"file"`
	Size    int64   `json:"size"`
	MTime   float64 `json:"mtime"`
	Version *int    `json:"version"`
}

type versionsResponse struct {
	Versions []versionItem `json:"versions"`
	Latest   string        `json:"latest"`
	Dir      string        `json:"dir"`
}

// ListVersions handles GET /logs/{name}/parsed.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	name := chi.URLParam(r, "name")
	versions, err := h.store.Versions(name)
	if err != nil {
		writeStoreError(w, reqID, err)
		return
	}
	file, _ := transcript.FileName(name)

	resp := versionsResponse{Versions: make([]versionItem, 0, len(versions)), Dir: transcript.Stem(file)}
	for _, v := range versions {
		item := versionItem{
			ID:    v.Name,
			File:  v.Name,
			Size:  v.Size,
			MTime: float64(v.ModTime.UnixNano()) / 1e9,
		}
		if v.Number > 0 {
			n := v.Number
			item.Version = &n
		}
		resp.Versions = append(resp.Versions, item)
	}
	if latest, ok := transcript.LatestVersion(versions); ok {
		resp.Latest = latest.Name
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// GetVersion handles GET /logs/{name}/parsed/{file}.
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	data, err := h.store.ReadVersion(chi.URLParam(r, "name"), chi.URLParam(r, "file"))
	if err != nil {
		writeStoreError(w, reqID, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	// Renderers on some platforms emit a UTF-8 BOM.
	w.Write([]byte(strings.TrimPrefix(string(data), "\ufeff")))
}

// RenameVersion handles POST /logs/{name}/parsed/rename with {"old", "new"}.
func (h *Handler) RenameVersion(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	fields := decodeObject(r)
	oldFile, _ := fields["old"].(string)
	newFile, _ := fields["new"].(string)
	if strings.TrimSpace(oldFile) == "" || strings.TrimSpace(newFile) == "" {
		httputil.WriteBadRequestError(w, reqID, "old and new are required")
		return
	}

	from, to, err := h.store.RenameVersion(chi.URLParam(r, "name"), oldFile, newFile)
	if err != nil {
		writeStoreError(w, reqID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"old": from, "new": to})
}

// Tags handles GET /parser-tags. With no names given it scans the newest
// transcript.
func (h *Handler) Tags(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var targets []string
	if names := queryNames(r); len(names) > 0 {
		for _, n := range names {
			if file, err := transcript.FileName(n); err == nil && h.store.Exists(file) {
				targets = append(targets, file)
			}
		}
	} else if latest, err := h.store.Latest(); err == nil {
		targets = append(targets, latest)
	}

	sources := make([]tags.Source, 0, len(targets))
	for _, file := range targets {
		data, err := h.store.Read(file)
		if err != nil {
			continue
		}
		sources = append(sources, tags.Source{Name: file, Data: data})
	}

	idx, skipped := h.scanner.Build(sources)
	for file, err := range skipped {
		slog.Warn("skipping unreadable transcript", "request_id", reqID, "file", file, "error", err)
	}
	httputil.WriteJSON(w, http.StatusOK, idx)
}
