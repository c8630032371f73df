package upstream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

const maxLineSize = 1024 * 1024

// Stream yields upstream event-stream records, each framed with a trailing
// blank line. Empty lines and payload-free comment lines (keep-alives such as
// ": OPENROUTER PROCESSING") are dropped.
type Stream struct {
	body    *idleReader
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	closed  bool
}

func newStream(body *idleReader, cancel context.CancelFunc) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Stream{body: body, scanner: scanner, cancel: cancel}
}

// Next returns the next framed record. It returns io.EOF once the upstream
// finishes and a *StreamError if the connection fails mid-stream.
func (s *Stream) Next() ([]byte, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if isKeepAlive(line) {
			continue
		}
		frame := make([]byte, 0, len(line)+2)
		frame = append(frame, line...)
		return append(frame, '\n', '\n'), nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, &StreamError{Err: s.body.explain(err)}
	}
	return nil, io.EOF
}

func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.body.Close()
	s.cancel()
	return err
}

func isKeepAlive(line []byte) bool {
	trimmed := bytes.TrimSpace(line)
	return len(trimmed) == 0 || trimmed[0] == ':'
}

// idleReader cancels the request when no bytes arrive for the read timeout.
type idleReader struct {
	rc       io.ReadCloser
	timeout  time.Duration
	timer    *time.Timer
	timedOut atomic.Bool
}

func newIdleReader(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleReader {
	r := &idleReader{rc: rc, timeout: timeout}
	if timeout > 0 {
		r.timer = time.AfterFunc(timeout, func() {
			r.timedOut.Store(true)
			cancel()
		})
	}
	return r
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 && r.timer != nil {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleReader) Close() error {
	if r.timer != nil {
		r.timer.Stop()
	}
	return r.rc.Close()
}

// explain replaces the cancellation error caused by the idle timer with a
// read-timeout error.
func (r *idleReader) explain(err error) error {
	if err != nil && r.timedOut.Load() {
		return fmt.Errorf("no data from upstream for %s: %w", r.timeout, err)
	}
	return err
}
