package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/af-corp/chatlog-relay/internal/telemetry"
	"github.com/af-corp/chatlog-relay/internal/transcript"
	"github.com/af-corp/chatlog-relay/internal/types"
)

// Recorder persists each inbound payload, prunes old transcripts and renders
// the new one. Every failure is returned as a warning for the caller to log;
// none of them should fail the request that triggered it.
type Recorder struct {
	store   *transcript.Store
	invoker *Invoker
	metrics *telemetry.Metrics
}

// NewRecorder wires the pipeline. A nil invoker disables rendering.
func NewRecorder(store *transcript.Store, invoker *Invoker, metrics *telemetry.Metrics) *Recorder {
	return &Recorder{store: store, invoker: invoker, metrics: metrics}
}

// Record returns the stored file name, or "" when the write failed, and the
// joined warnings.
func (r *Recorder) Record(ctx context.Context, payload types.Payload) (string, error) {
	file, err := r.store.Write(payload)
	if err != nil {
		r.metrics.RecordTranscriptOp("write", "error")
		return "", fmt.Errorf("persist transcript: %w", err)
	}
	r.metrics.RecordTranscriptOp("write", "ok")

	var warnings []error
	if removed := r.store.Prune(); len(removed) > 0 {
		r.metrics.RecordTranscriptPruned(len(removed))
	}

	if r.invoker != nil {
		if _, err := r.invoker.Render(context.WithoutCancel(ctx), file); err != nil {
			warnings = append(warnings, fmt.Errorf("render %s: %w", file, err))
		}
	}
	return file, errors.Join(warnings...)
}
