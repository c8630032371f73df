package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/af-corp/chatlog-relay/internal/transcript"
	"golang.org/x/sync/errgroup"
)

const (
	RewriteAll    = "all"
	RewriteLatest = "latest"
)

// RewriteRequest names the transcripts to re-render. Files wins when
// non-empty; otherwise Mode selects every transcript or only the newest.
type RewriteRequest struct {
	Mode  string
	Files []string
}

type RewriteResult struct {
	File   string `json:"file"`
	OK     bool   `json:"ok"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Error  string `json:"error,omitempty"`
}

type RewriteReport struct {
	Rewritten int             `json:"rewritten"`
	Results   []RewriteResult `json:"results"`
}

// Rewrite re-renders the selected transcripts with up to concurrency runs in
// flight and reports each one. Individual failures land in the report.
func (inv *Invoker) Rewrite(ctx context.Context, req RewriteRequest, concurrency int) (*RewriteReport, error) {
	targets, err := inv.rewriteTargets(req)
	if err != nil {
		return nil, err
	}

	results := make([]RewriteResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, file := range targets {
		g.Go(func() error {
			results[i] = inv.rewriteOne(gctx, file)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	inv.logger.Info("rewrite finished", "mode", req.Mode, "targets", len(targets))
	return &RewriteReport{Rewritten: len(results), Results: results}, nil
}

func (inv *Invoker) rewriteOne(ctx context.Context, file string) RewriteResult {
	res := RewriteResult{File: file}
	out, err := inv.Render(ctx, file)
	if out != nil {
		res.Stdout = strings.TrimSpace(out.Result.Stdout)
		res.Stderr = strings.TrimSpace(out.Result.Stderr)
	}
	if err != nil {
		res.Error = err.Error()
		inv.logger.Warn("rewrite failed", "file", file, "error", err)
		return res
	}
	res.OK = true
	return res
}

func (inv *Invoker) rewriteTargets(req RewriteRequest) ([]string, error) {
	if len(req.Files) > 0 {
		var targets []string
		seen := make(map[string]bool)
		for _, f := range req.Files {
			file, err := transcript.FileName(f)
			if err != nil || seen[file] || !inv.store.Exists(file) {
				continue
			}
			seen[file] = true
			targets = append(targets, file)
		}
		return targets, nil
	}

	infos, err := inv.store.List()
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	if strings.EqualFold(strings.TrimSpace(req.Mode), RewriteLatest) && len(infos) > 1 {
		infos = infos[:1]
	}
	targets := make([]string, len(infos))
	for i, info := range infos {
		targets[i] = info.Name
	}
	return targets, nil
}
