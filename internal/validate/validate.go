// Package validate shapes inbound completion payloads into the request that is
// forwarded upstream.
package validate

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/af-corp/chatlog-relay/internal/config"
	"github.com/af-corp/chatlog-relay/internal/types"
	"github.com/spf13/cast"
)

// ValidationError reports a payload whose overall shape cannot be forwarded.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Limits are the request-shaping knobs taken from the security and generation
// sections of the config.
type Limits struct {
	MaxMessages    int
	MaxModelLength int
	Enabled        bool
	Bounds         config.Bounds
}

func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		MaxMessages:    cfg.Security.MaxMessages,
		MaxModelLength: cfg.Security.MaxModelLength,
		Enabled:        cfg.Security.ValidateRequests,
		Bounds:         cfg.Generation.Bounds,
	}
}

// Validate turns a raw payload into a CompletionRequest. Only a missing or
// non-array "messages" is rejected; everything else is truncated, coerced or
// replaced by the default and then clamped. With validation disabled the
// message and model limits are skipped and the numeric fields take their
// defaults.
func Validate(p types.Payload, defaults types.GenParams, lim Limits) (*types.CompletionRequest, error) {
	raw, present := p["messages"]
	messages, isList := raw.([]any)
	if !present || !isList {
		return nil, &ValidationError{Message: "`messages` must be an array"}
	}

	model := cast.ToString(p["model"])
	if lim.Enabled {
		if lim.MaxMessages >= 0 && len(messages) > lim.MaxMessages {
			messages = messages[:lim.MaxMessages]
		}
		model = truncateRunes(model, lim.MaxModelLength)
	}

	out := &types.CompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   cast.ToBool(p["stream"]),
	}

	b := lim.Bounds
	if lim.Enabled {
		out.Temperature = coerceFloat(p["temperature"], defaults.Temperature, b.Temperature)
		out.TopP = coerceFloat(p["top_p"], defaults.TopP, b.TopP)
		out.TopK = coerceInt(p["top_k"], defaults.TopK, b.TopK)
		out.MaxTokens = coerceInt(p["max_tokens"], defaults.MaxTokens, b.MaxTokens)
	} else {
		out.Temperature = ClampFloat(defaults.Temperature, b.Temperature)
		out.TopP = ClampFloat(defaults.TopP, b.TopP)
		out.TopK = ClampInt(defaults.TopK, b.TopK)
		out.MaxTokens = ClampInt(defaults.MaxTokens, b.MaxTokens)
	}
	return out, nil
}

func coerceFloat(v any, def float64, r config.FloatRange) float64 {
	if f, ok := toFloat(v); ok {
		return ClampFloat(f, r)
	}
	return ClampFloat(def, r)
}

func coerceInt(v any, def int, r config.IntRange) int {
	if n, ok := toInt(v); ok {
		return ClampInt(n, r)
	}
	return ClampInt(def, r)
}

func toFloat(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// toInt reads integers in base 10 and truncates floats. Values beyond the int
// range saturate so the later clamp lands on the correct end.
func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return floatToInt(x)
	case float32:
		return floatToInt(float64(x))
	case string:
		s := strings.TrimSpace(x)
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return int(n), true
		}
		if errors.Is(err, strconv.ErrRange) {
			if strings.HasPrefix(s, "-") {
				return math.MinInt, true
			}
			return math.MaxInt, true
		}
		return 0, false
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func floatToInt(f float64) (int, bool) {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return 0, false
	case f >= math.MaxInt64:
		return math.MaxInt, true
	case f <= math.MinInt64:
		return math.MinInt, true
	}
	return int(f), true
}

// ClampFloat bounds f into [r.Min, r.Max].
func ClampFloat(f float64, r config.FloatRange) float64 {
	return math.Max(r.Min, math.Min(r.Max, f))
}

// ClampInt bounds n into [r.Min, r.Max].
func ClampInt(n int, r config.IntRange) int {
	return max(r.Min, min(r.Max, n))
}

func truncateRunes(s string, n int) string {
	if n < 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
