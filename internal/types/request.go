package types

import "time"

// Payload is an inbound completion body exactly as the client sent it.
// It is what gets persisted as a transcript.
type Payload map[string]any

// CompletionRequest is the sanitized request forwarded upstream.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	TopK        int       `json:"top_k"`
	MaxTokens   int       `json:"max_tokens"`

	// Internal tracking
	RequestID  string    `json:"-"`
	ReceivedAt time.Time `json:"-"`
}

// Message is an opaque chat message. Only the role and textual content of the
// first system message are ever inspected.
type Message = any

// GenParams are the default sampling parameters applied when a caller omits a
// field or sends one that cannot be coerced.
type GenParams struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
	MaxTokens   int     `json:"max_tokens"`
}
