package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ExitTimeout is the exit code reported when the renderer exceeds its timeout.
const ExitTimeout = 124

// Result is what a renderer run produced.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Renderer runs the external rendering program with args. The returned error
// covers failures to run it at all; a non-zero exit is reported in Result.
type Renderer interface {
	Render(ctx context.Context, args []string) (Result, error)
}

// ExecRenderer runs Command followed by the renderer arguments as a child
// process.
type ExecRenderer struct {
	Command []string
	Timeout time.Duration
}

func (r ExecRenderer) Render(ctx context.Context, args []string) (Result, error) {
	if len(r.Command) == 0 || r.Command[0] == "" {
		return Result{}, errors.New("renderer command is empty")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := make([]string, 0, len(r.Command)-1+len(args))
	argv = append(argv, r.Command[1:]...)
	argv = append(argv, args...)
	cmd := exec.CommandContext(ctx, r.Command[0], argv...)
	// Grandchildren holding the output pipes must not stall Wait after a kill.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("start renderer %s: %w", r.Command[0], err)
	}
	waitErr := cmd.Wait()

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = ExitTimeout
		res.TimedOut = true
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			return res, fmt.Errorf("wait for renderer: %w", waitErr)
		}
	}
	return res, nil
}
