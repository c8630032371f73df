package upstream

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/af-corp/chatlog-relay/internal/types"
)

func testRequest() *types.CompletionRequest {
	return &types.CompletionRequest{
		Model:       "test-model",
		Messages:    []types.Message{map[string]any{"role": "user", "content": "hi"}},
		Temperature: 1,
		TopP:        1,
		MaxTokens:   16,
	}
}

func testClient(url string) *Client {
	return NewClient(Options{
		URL:            url,
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		MaxRetries:     1,
		RetryBase:      time.Millisecond,
		Headers:        map[string]string{"X-Title": "relay-test"},
	})
}

func TestDo_Success(t *testing.T) {
	var gotAuth, gotTitle string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTitle = r.Header.Get("X-Title")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cmpl-1","choices":[]}`))
	}))
	defer srv.Close()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer abc")
	resp, err := testClient(srv.URL).Do(t.Context(), testRequest(), headers)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(resp.Body), "cmpl-1") {
		t.Errorf("unexpected body: %s", resp.Body)
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("expected relayed auth header, got %q", gotAuth)
	}
	if gotTitle != "relay-test" {
		t.Errorf("expected static header, got %q", gotTitle)
	}
	if gotBody["model"] != "test-model" || gotBody["max_tokens"] != float64(16) {
		t.Errorf("unexpected upstream payload: %v", gotBody)
	}
}

func TestDo_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Do(t.Context(), testRequest(), nil)
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", upErr.StatusCode)
	}
	if upErr.Transport() {
		t.Error("status error should not be a transport error")
	}
	if msg := upErr.Message(); msg != "rate limited" {
		t.Errorf("expected extracted message, got %q", msg)
	}
}

func TestDo_NonJSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway page</html>"))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Do(t.Context(), testRequest(), nil)
	if err == nil {
		t.Fatal("expected error for non-JSON body")
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		t.Errorf("non-JSON 2xx should not be an UpstreamError, got %v", err)
	}
}

func TestDo_ConnectionRefusedIsTransportError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = testClient("http://"+addr).Do(t.Context(), testRequest(), nil)
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !upErr.Transport() {
		t.Error("expected transport error")
	}
	if !isDialError(upErr.Err) {
		t.Errorf("expected dial error, got %v", upErr.Err)
	}
}

func TestUpstreamError_Message(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":{"message":"quota exceeded"}}`, "quota exceeded"},
		{`{"error":"plain string"}`, ""},
		{`{"detail":"x"}`, ""},
		{`not json`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		e := &UpstreamError{StatusCode: 500, Body: []byte(tt.body)}
		if got := e.Message(); got != tt.want {
			t.Errorf("Message(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestStream_FiltersKeepAlive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("expected event-stream accept header, got %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"n\":1}\n\n")
		io.WriteString(w, ": OPENROUTER PROCESSING\n\n")
		io.WriteString(w, "data: {\"n\":2}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	stream, err := testClient(srv.URL).Stream(t.Context(), testRequest(), nil)
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	var frames []string
	for {
		frame, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		frames = append(frames, string(frame))
	}

	want := []string{"data: {\"n\":1}\n\n", "data: {\"n\":2}\n\n", "data: [DONE]\n\n"}
	if len(frames) != len(want) {
		t.Fatalf("expected %d frames, got %d: %q", len(want), len(frames), frames)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frame %d = %q, want %q", i, frames[i], want[i])
		}
	}
}

func TestStream_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Stream(t.Context(), testRequest(), nil)
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upErr.StatusCode != http.StatusUnauthorized || upErr.Message() != "bad key" {
		t.Errorf("unexpected error: status=%d message=%q", upErr.StatusCode, upErr.Message())
	}
}

func TestStream_IdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"n\":1}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Options{URL: srv.URL, ConnectTimeout: time.Second, ReadTimeout: 100 * time.Millisecond})
	stream, err := c.Stream(t.Context(), testRequest(), nil)
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	if _, err := stream.Next(); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	_, err = stream.Next()
	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected StreamError after idle timeout, got %v", err)
	}
}

func TestIsKeepAlive(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"", true},
		{"   ", true},
		{": OPENROUTER PROCESSING", true},
		{":", true},
		{"data: {}", false},
		{"event: message", false},
	}
	for _, tt := range tests {
		if got := isKeepAlive([]byte(tt.line)); got != tt.want {
			t.Errorf("isKeepAlive(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
