// Package upstream talks to the single upstream chat-completion endpoint.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/af-corp/chatlog-relay/internal/config"
	"github.com/af-corp/chatlog-relay/internal/types"
	"github.com/sethvargo/go-retry"
)

// Options configure the shared connection pool.
type Options struct {
	URL            string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRetries     int
	PoolSize       int
	Headers        map[string]string
	// RetryBase is the first backoff step between dial retries.
	RetryBase time.Duration
}

func OptionsFromConfig(cfg config.UpstreamConfig) Options {
	return Options{
		URL:            cfg.URL,
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		MaxRetries:     cfg.MaxRetries,
		PoolSize:       cfg.PoolSize,
		Headers:        cfg.Headers,
		RetryBase:      100 * time.Millisecond,
	}
}

// Client performs buffered and streaming POSTs against one upstream URL over a
// single shared pool.
type Client struct {
	url         string
	http        *http.Client
	headers     map[string]string
	maxRetries  int
	retryBase   time.Duration
	readTimeout time.Duration
}

func NewClient(opts Options) *Client {
	pool := opts.PoolSize
	if pool <= 0 {
		pool = 10
	}
	retryBase := opts.RetryBase
	if retryBase <= 0 {
		retryBase = 100 * time.Millisecond
	}
	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &Client{
		url: opts.URL,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   opts.ConnectTimeout,
				ResponseHeaderTimeout: opts.ReadTimeout,
				MaxIdleConns:          pool,
				MaxIdleConnsPerHost:   pool,
				IdleConnTimeout:       90 * time.Second,
				ForceAttemptHTTP2:     true,
			},
		},
		headers:     opts.Headers,
		maxRetries:  max(opts.MaxRetries, 0),
		retryBase:   retryBase,
		readTimeout: opts.ReadTimeout,
	}
}

// Response is a complete 2xx upstream answer.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// Do sends req and waits for the full body. Non-2xx answers and transport
// failures come back as *UpstreamError; a 2xx body that is not JSON is a plain
// error.
func (c *Client) Do(ctx context.Context, req *types.CompletionRequest, headers http.Header) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := c.post(reqCtx, body, headers, false)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	rc := newIdleReader(resp.Body, c.readTimeout, cancel)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("read upstream body: %w", rc.explain(err))}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: data}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("upstream returned status %d with a non-JSON body", resp.StatusCode)
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// Stream sends req and returns the event stream. The caller must Close it.
func (c *Client) Stream(ctx context.Context, req *types.CompletionRequest, headers http.Header) (*Stream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	resp, err := c.post(reqCtx, body, headers, true)
	if err != nil {
		cancel()
		return nil, &UpstreamError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		cancel()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: data}
	}

	return newStream(newIdleReader(resp.Body, c.readTimeout, cancel), cancel), nil
}

// post sends the body, retrying only failures to establish a connection. Those
// happen before any bytes reach the upstream, so a retry cannot duplicate work.
func (c *Client) post(ctx context.Context, body []byte, headers http.Header, stream bool) (*http.Response, error) {
	var resp *http.Response
	backoff := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewExponential(c.retryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create http request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		for k, v := range c.headers {
			if v != "" {
				httpReq.Header.Set(k, v)
			}
		}
		for k, vs := range headers {
			for _, v := range vs {
				httpReq.Header.Set(k, v)
			}
		}
		if stream && httpReq.Header.Get("Accept") == "" {
			httpReq.Header.Set("Accept", "text/event-stream")
		}

		r, err := c.http.Do(httpReq)
		if err != nil {
			if isDialError(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
