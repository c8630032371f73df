package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/af-corp/chatlog-relay/internal/config"
	"github.com/af-corp/chatlog-relay/internal/httputil"
	"github.com/af-corp/chatlog-relay/internal/telemetry"
	"github.com/af-corp/chatlog-relay/internal/types"
	"github.com/af-corp/chatlog-relay/internal/upstream"
	"github.com/af-corp/chatlog-relay/internal/validate"
)

const maxBodyBytes = 32 << 20

// Recorder persists the raw inbound payload. Its error is a warning only.
type Recorder interface {
	Record(ctx context.Context, payload types.Payload) (string, error)
}

// Upstream is the completion endpoint the relay forwards to.
type Upstream interface {
	Do(ctx context.Context, req *types.CompletionRequest, headers http.Header) (*upstream.Response, error)
	Stream(ctx context.Context, req *types.CompletionRequest, headers http.Header) (*upstream.Stream, error)
}

// Handler holds dependencies for the completion HTTP handlers.
type Handler struct {
	client   Upstream
	cfg      func() *config.Config
	params   *validate.ParamStore
	recorder Recorder
	metrics  *telemetry.Metrics
	version  string
}

func NewHandler(client Upstream, cfg func() *config.Config, params *validate.ParamStore, recorder Recorder, metrics *telemetry.Metrics, version string) *Handler {
	return &Handler{
		client:   client,
		cfg:      cfg,
		params:   params,
		recorder: recorder,
		metrics:  metrics,
		version:  version,
	}
}

// ChatCompletions handles POST /chat/completions and POST /openrouter-cc.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()

	if !isJSON(r.Header.Get("Content-Type")) {
		h.metrics.RecordCompletion("rejected", http.StatusUnsupportedMediaType, 0)
		httputil.WriteUnsupportedMediaTypeError(w, reqID, "Only application/json accepted")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	// An undecodable body is recorded as empty and then fails validation.
	payload := types.Payload{}
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		payload = types.Payload{}
	}

	if h.recorder != nil {
		file, err := h.recorder.Record(r.Context(), payload)
		if err != nil {
			slog.Warn("transcript pipeline degraded", "request_id", reqID, "file", file, "error", err)
		} else {
			slog.Debug("transcript recorded", "request_id", reqID, "file", file)
		}
	}

	cfg := h.cfg()
	req, err := validate.Validate(payload, h.params.Get(), validate.LimitsFromConfig(cfg))
	if err != nil {
		var vErr *validate.ValidationError
		if errors.As(err, &vErr) {
			h.metrics.RecordCompletion("rejected", http.StatusBadRequest, 0)
			httputil.WriteBadRequestError(w, reqID, vErr.Message)
			return
		}
		slog.Error("request validation failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Internal server error")
		return
	}
	req.RequestID = reqID
	req.ReceivedAt = receivedAt

	headers := AuthHeaders(cfg.Upstream.APIKey, r.Header.Get("Authorization"))

	if req.Stream {
		h.handleStream(w, r, req, headers)
		return
	}
	h.handleBuffered(w, r, req, headers)
}

func (h *Handler) handleBuffered(w http.ResponseWriter, r *http.Request, req *types.CompletionRequest, headers http.Header) {
	reqID := req.RequestID
	start := time.Now()
	resp, err := h.client.Do(r.Context(), req, headers)
	upstreamDur := time.Since(start)

	if err != nil {
		var upErr *upstream.UpstreamError
		if errors.As(err, &upErr) {
			msg := upErr.Message()
			if msg == "" {
				if upErr.Transport() {
					msg = "Upstream request failed"
				} else {
					msg = fmt.Sprintf("Upstream error: %d", upErr.StatusCode)
				}
			}
			slog.Error("upstream request failed",
				"request_id", reqID,
				"model", req.Model,
				"upstream_status", upErr.StatusCode,
				"error", err,
				"detail", msg,
			)
			h.metrics.RecordCompletion("buffered", http.StatusBadGateway, upstreamDur)
			httputil.WriteUpstreamError(w, reqID, msg)
			return
		}
		slog.Error("unexpected upstream failure", "request_id", reqID, "model", req.Model, "error", err)
		h.metrics.RecordCompletion("buffered", http.StatusInternalServerError, upstreamDur)
		httputil.WriteInternalError(w, reqID, "Internal server error")
		return
	}

	slog.Info("request completed",
		"request_id", reqID,
		"model", req.Model,
		"messages", len(req.Messages),
		"stream", false,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(req.ReceivedAt).Milliseconds(),
	)
	h.metrics.RecordCompletion("buffered", resp.StatusCode, upstreamDur)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

// handleStream always answers 200 with an event stream; upstream failures,
// including a non-2xx answer, become one terminal error event.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request, req *types.CompletionRequest, headers http.Header) {
	reqID := req.RequestID
	flusher, ok := startSSE(w, reqID)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		return
	}

	start := time.Now()
	stream, err := h.client.Stream(r.Context(), req, headers)
	if err != nil {
		slog.Error("streaming upstream request failed", "request_id", reqID, "model", req.Model, "error", err)
		h.metrics.RecordCompletion("stream", http.StatusBadGateway, time.Since(start))
		writeStreamError(w, flusher, reqID, streamCause(err))
		return
	}
	defer stream.Close()

	slog.Info("streaming started", "request_id", reqID, "model", req.Model, "messages", len(req.Messages))

	frames, err := pipeSSE(w, flusher, stream)
	upstreamDur := time.Since(start)
	switch {
	case r.Context().Err() != nil:
		slog.Info("client disconnected", "request_id", reqID, "frames", frames)
		h.metrics.RecordCompletion("stream", 499, upstreamDur)
	case err != nil:
		slog.Error("stream interrupted", "request_id", reqID, "frames", frames, "error", err)
		h.metrics.RecordCompletion("stream", http.StatusBadGateway, upstreamDur)
		writeStreamError(w, flusher, reqID, err)
	default:
		slog.Info("stream completed",
			"request_id", reqID,
			"model", req.Model,
			"stream", true,
			"frames", frames,
			"duration_ms", time.Since(req.ReceivedAt).Milliseconds(),
		)
		h.metrics.RecordCompletion("stream", http.StatusOK, upstreamDur)
	}
}

// streamCause prefers the upstream's own message for the error event.
func streamCause(err error) error {
	var upErr *upstream.UpstreamError
	if errors.As(err, &upErr) && upErr.Message() != "" {
		return errors.New(upErr.Message())
	}
	return err
}

// Alive handles GET /openrouter-cc.
func (h *Handler) Alive(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "alive",
		"message": "Relay alive - POST your /chat/completions here",
		"version": h.version,
		"config":  map[string]any{"max_messages": h.cfg().Security.MaxMessages},
	})
}

// Preflight answers OPTIONS with 204.
func (h *Handler) Preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// ListModels handles GET /models with the single pseudo-model the relay
// exposes; the caller's model field is forwarded untouched.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, modelListResponse{
		Object: "list",
		Data: []modelObject{{
			ID:      "openrouter-proxy",
			Object:  "model",
			Created: 0,
			OwnedBy: "chatlog-relay",
		}},
	})
}

type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || (strings.HasPrefix(mt, "application/") && strings.HasSuffix(mt, "+json"))
}
