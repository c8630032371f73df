package validate

import (
	"sync/atomic"

	"github.com/af-corp/chatlog-relay/internal/config"
	"github.com/af-corp/chatlog-relay/internal/types"
)

// ParamStore holds the process-wide default generation parameters. Readers get
// a copy; writers publish a whole new value.
type ParamStore struct {
	current atomic.Pointer[types.GenParams]
	bounds  config.Bounds
}

func NewParamStore(defaults types.GenParams, bounds config.Bounds) *ParamStore {
	s := &ParamStore{bounds: bounds}
	clamped := clampParams(defaults, bounds)
	s.current.Store(&clamped)
	return s
}

// ParamsFromConfig extracts the configured defaults.
func ParamsFromConfig(cfg *config.Config) types.GenParams {
	return types.GenParams{
		Temperature: cfg.Generation.Temperature,
		TopP:        cfg.Generation.TopP,
		TopK:        cfg.Generation.TopK,
		MaxTokens:   cfg.Generation.MaxTokens,
	}
}

func (s *ParamStore) Get() types.GenParams {
	return *s.current.Load()
}

// Update applies every recognised, coercible field in fields, clamped into
// bounds, and publishes the result. Other fields are ignored.
func (s *ParamStore) Update(fields map[string]any) types.GenParams {
	for {
		old := s.current.Load()
		next := *old
		if f, ok := toFloat(fields["temperature"]); ok {
			next.Temperature = ClampFloat(f, s.bounds.Temperature)
		}
		if f, ok := toFloat(fields["top_p"]); ok {
			next.TopP = ClampFloat(f, s.bounds.TopP)
		}
		if n, ok := toInt(fields["top_k"]); ok {
			next.TopK = ClampInt(n, s.bounds.TopK)
		}
		if n, ok := toInt(fields["max_tokens"]); ok {
			next.MaxTokens = ClampInt(n, s.bounds.MaxTokens)
		}
		if s.current.CompareAndSwap(old, &next) {
			return next
		}
	}
}

func clampParams(p types.GenParams, b config.Bounds) types.GenParams {
	return types.GenParams{
		Temperature: ClampFloat(p.Temperature, b.Temperature),
		TopP:        ClampFloat(p.TopP, b.TopP),
		TopK:        ClampInt(p.TopK, b.TopK),
		MaxTokens:   ClampInt(p.MaxTokens, b.MaxTokens),
	}
}
