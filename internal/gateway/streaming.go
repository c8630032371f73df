package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// frameSource yields already-framed event-stream records until io.EOF.
type frameSource interface {
	Next() ([]byte, error)
}

type streamErrorEvent struct {
	Error streamErrorBody `json:"error"`
}

type streamErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// startSSE writes the event-stream response headers.
func startSSE(w http.ResponseWriter, reqID string) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

// pipeSSE forwards frames to the client in order, flushing after each. It
// returns the number of frames written and the upstream error that ended the
// stream, if any. A failed client write ends the stream quietly.
func pipeSSE(w http.ResponseWriter, flusher http.Flusher, src frameSource) (int, error) {
	frames := 0
	for {
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		if _, err := w.Write(frame); err != nil {
			return frames, nil
		}
		flusher.Flush()
		frames++
	}
}

// writeStreamError ends the stream with a single error event.
func writeStreamError(w http.ResponseWriter, flusher http.Flusher, reqID string, cause error) {
	data, err := json.Marshal(streamErrorEvent{Error: streamErrorBody{Message: cause.Error(), Type: "stream_error"}})
	if err != nil {
		slog.Error("failed to encode stream error", "request_id", reqID, "error", err)
		return
	}
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
	flusher.Flush()
}
