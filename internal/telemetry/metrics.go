package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	CompletionTotal     *prometheus.CounterVec
	UpstreamDurationMs  *prometheus.HistogramVec
	TranscriptOpsTotal  *prometheus.CounterVec
	TranscriptsPruned   prometheus.Counter
	RenderTotal         *prometheus.CounterVec
	RenderDurationMs    prometheus.Histogram
	RateLimitRejections prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CompletionTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_completion_total",
			Help: "Total completion requests by response mode and client-visible status.",
		}, []string{"mode", "status"}),

		UpstreamDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_upstream_duration_ms",
			Help:    "Upstream call duration in milliseconds, until the body or stream ends.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 300000},
		}, []string{"mode"}),

		TranscriptOpsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_transcript_ops_total",
			Help: "Transcript store operations by result.",
		}, []string{"op", "result"}),

		TranscriptsPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_transcripts_pruned_total",
			Help: "Transcripts removed by the retention policy.",
		}),

		RenderTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_render_total",
			Help: "Renderer runs by result (ok, error, timeout).",
		}, []string{"result"}),

		RenderDurationMs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_render_duration_ms",
			Help:    "Renderer run duration in milliseconds.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 60000},
		}),

		RateLimitRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_rate_limit_rejections_total",
			Help: "Completion requests rejected by the per-client rate limit.",
		}),
	}
}

// RecordCompletion records a finished completion request.
func (m *Metrics) RecordCompletion(mode string, status int, upstream time.Duration) {
	if m == nil {
		return
	}
	m.CompletionTotal.WithLabelValues(mode, strconv.Itoa(status)).Inc()
	if upstream > 0 {
		m.UpstreamDurationMs.WithLabelValues(mode).Observe(float64(upstream.Milliseconds()))
	}
}

func (m *Metrics) RecordTranscriptOp(op, result string) {
	if m == nil {
		return
	}
	m.TranscriptOpsTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) RecordTranscriptPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TranscriptsPruned.Add(float64(n))
}

func (m *Metrics) RecordRender(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.RenderTotal.WithLabelValues(result).Inc()
	m.RenderDurationMs.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitRejections.Inc()
}
