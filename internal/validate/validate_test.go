package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/af-corp/chatlog-relay/internal/config"
	"github.com/af-corp/chatlog-relay/internal/types"
)

func testLimits() Limits {
	return LimitsFromConfig(config.DefaultConfig())
}

func testDefaults() types.GenParams {
	return ParamsFromConfig(config.DefaultConfig())
}

func msgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = map[string]any{"role": "user", "content": "hi"}
	}
	return out
}

func TestValidate_RejectsMissingMessages(t *testing.T) {
	tests := []types.Payload{
		{},
		{"messages": "not a list"},
		{"messages": map[string]any{"role": "user"}},
		{"messages": nil},
	}
	for _, p := range tests {
		_, err := Validate(p, testDefaults(), testLimits())
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Validate(%v): expected ValidationError, got %v", p, err)
		}
	}
}

func TestValidate_TruncatesMessagesAndModel(t *testing.T) {
	lim := testLimits()
	lim.MaxMessages = 3
	lim.MaxModelLength = 5

	req, err := Validate(types.Payload{
		"model":    "abcdefghij",
		"messages": msgs(10),
	}, testDefaults(), lim)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Messages) != 3 {
		t.Errorf("expected 3 messages, got %d", len(req.Messages))
	}
	if req.Model != "abcde" {
		t.Errorf("expected model truncated to abcde, got %q", req.Model)
	}
}

func TestValidate_ModelTruncationCountsCharacters(t *testing.T) {
	lim := testLimits()
	lim.MaxModelLength = 2
	req, err := Validate(types.Payload{"model": "héllo", "messages": msgs(1)}, testDefaults(), lim)
	if err != nil {
		t.Fatal(err)
	}
	if req.Model != "hé" {
		t.Errorf("expected hé, got %q", req.Model)
	}
}

func TestValidate_NumericCoercionAndClamp(t *testing.T) {
	tests := []struct {
		name  string
		input types.Payload
		check func(*types.CompletionRequest) bool
	}{
		{"defaults when absent", types.Payload{}, func(r *types.CompletionRequest) bool {
			return r.Temperature == 1.0 && r.TopP == 1.0 && r.TopK == 0 && r.MaxTokens == 1024
		}},
		{"numeric string", types.Payload{"temperature": "1.5"}, func(r *types.CompletionRequest) bool {
			return r.Temperature == 1.5
		}},
		{"garbage falls back to default", types.Payload{"temperature": "hot", "max_tokens": "lots"}, func(r *types.CompletionRequest) bool {
			return r.Temperature == 1.0 && r.MaxTokens == 1024
		}},
		{"null falls back to default", types.Payload{"top_p": nil}, func(r *types.CompletionRequest) bool {
			return r.TopP == 1.0
		}},
		{"clamped high", types.Payload{"temperature": 9.0, "top_k": 1000, "max_tokens": 100000}, func(r *types.CompletionRequest) bool {
			return r.Temperature == 2 && r.TopK == 200 && r.MaxTokens == 4096
		}},
		{"clamped low", types.Payload{"temperature": -1.0, "top_p": -0.5, "max_tokens": 0}, func(r *types.CompletionRequest) bool {
			return r.Temperature == 0 && r.TopP == 0 && r.MaxTokens == 1
		}},
		{"float to int truncates", types.Payload{"top_k": 12.9}, func(r *types.CompletionRequest) bool {
			return r.TopK == 12
		}},
		{"int string", types.Payload{"top_k": "40"}, func(r *types.CompletionRequest) bool {
			return r.TopK == 40
		}},
		{"leading zero is decimal", types.Payload{"top_k": "010", "max_tokens": "010"}, func(r *types.CompletionRequest) bool {
			return r.TopK == 10 && r.MaxTokens == 10
		}},
		{"huge float clamps high", types.Payload{"top_k": 1e30, "max_tokens": 1.8e19}, func(r *types.CompletionRequest) bool {
			return r.TopK == 200 && r.MaxTokens == 4096
		}},
		{"huge int string clamps high", types.Payload{"max_tokens": "99999999999999999999"}, func(r *types.CompletionRequest) bool {
			return r.MaxTokens == 4096
		}},
		{"huge negative clamps low", types.Payload{"max_tokens": -1e30, "top_k": "-99999999999999999999"}, func(r *types.CompletionRequest) bool {
			return r.MaxTokens == 1 && r.TopK == 0
		}},
	}

	for _, tt := range tests {
		tt.input["messages"] = msgs(1)
		req, err := Validate(tt.input, testDefaults(), testLimits())
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if !tt.check(req) {
			t.Errorf("%s: unexpected result %+v", tt.name, *req)
		}
	}
}

func TestValidate_Stream(t *testing.T) {
	for _, v := range []any{true, "true", "1"} {
		req, err := Validate(types.Payload{"messages": msgs(1), "stream": v}, testDefaults(), testLimits())
		if err != nil {
			t.Fatal(err)
		}
		if !req.Stream {
			t.Errorf("stream=%v: expected streaming", v)
		}
	}
	req, _ := Validate(types.Payload{"messages": msgs(1)}, testDefaults(), testLimits())
	if req.Stream {
		t.Error("expected stream false when absent")
	}
}

func TestValidate_DisabledUsesDefaults(t *testing.T) {
	lim := testLimits()
	lim.Enabled = false
	lim.MaxMessages = 1

	req, err := Validate(types.Payload{
		"model":       strings.Repeat("m", 300),
		"messages":    msgs(4),
		"temperature": 0.2,
	}, testDefaults(), lim)
	if err != nil {
		t.Fatal(err)
	}
	if len(req.Messages) != 4 {
		t.Errorf("expected messages untouched, got %d", len(req.Messages))
	}
	if len(req.Model) != 300 {
		t.Errorf("expected model untouched, got %d chars", len(req.Model))
	}
	if req.Temperature != 1.0 {
		t.Errorf("expected default temperature, got %v", req.Temperature)
	}
}

func TestClampIdempotent(t *testing.T) {
	b := config.DefaultConfig().Generation.Bounds
	for _, f := range []float64{-10, 0, 0.3, 1, 1.7, 2, 55} {
		once := ClampFloat(f, b.Temperature)
		if twice := ClampFloat(once, b.Temperature); twice != once {
			t.Errorf("ClampFloat not idempotent for %v: %v then %v", f, once, twice)
		}
	}
	for _, n := range []int{-5, 0, 1, 200, 4096, 99999} {
		once := ClampInt(n, b.MaxTokens)
		if twice := ClampInt(once, b.MaxTokens); twice != once {
			t.Errorf("ClampInt not idempotent for %d: %d then %d", n, once, twice)
		}
	}
}
