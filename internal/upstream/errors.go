package upstream

import (
	"encoding/json"
	"fmt"
)

// UpstreamError is a transport failure or a non-2xx answer from the upstream API.
// Transport failures carry Err and a zero StatusCode.
type UpstreamError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream request failed: %v", e.Err)
	}
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Transport reports whether the request never produced an HTTP response.
func (e *UpstreamError) Transport() bool { return e.Err != nil }

// Message returns the upstream's own error message from an
// {"error":{"message":...}} body, or "" when none can be extracted.
func (e *UpstreamError) Message() string {
	if len(e.Body) == 0 {
		return ""
	}
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &body); err != nil || len(body.Error) == 0 {
		return ""
	}
	var detail struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body.Error, &detail); err != nil {
		return ""
	}
	return detail.Message
}

// StreamError is a transport failure after the event stream has started.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string { return fmt.Sprintf("upstream stream failed: %v", e.Err) }

func (e *StreamError) Unwrap() error { return e.Err }
