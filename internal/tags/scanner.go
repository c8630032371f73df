// Package tags finds angle-bracket tag names in transcript system prompts.
package tags

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/af-corp/chatlog-relay/internal/types"
)

// tagPattern matches <name> with no nested brackets and no slash, so closing
// tags are skipped.
var tagPattern = regexp.MustCompile(`(?i)<\s*([^<>/]+?)\s*>`)

// Scanner extracts tag names from system-prompt text.
type Scanner struct {
	pattern *regexp.Regexp
}

func NewScanner() *Scanner {
	return &Scanner{pattern: tagPattern}
}

// Scan returns the distinct tag names in text, sorted case-insensitively.
func (s *Scanner) Scan(text string) []string {
	seen := make(map[string]struct{})
	for _, m := range s.pattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	SortFold(out)
	return out
}

// ScanMessages scans the first message only, and only when its role is
// "system".
func (s *Scanner) ScanMessages(messages []types.Message) []string {
	content, ok := types.SystemContent(messages)
	if !ok {
		return []string{}
	}
	return s.Scan(content)
}

// ScanTranscript decodes a stored transcript and scans its messages.
func (s *Scanner) ScanTranscript(data []byte) ([]string, error) {
	var doc struct {
		Messages []types.Message `json:"messages"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return s.ScanMessages(doc.Messages), nil
}

// SortFold sorts names case-insensitively, breaking ties by byte order.
func SortFold(names []string) {
	sort.Slice(names, func(i, j int) bool {
		a, b := strings.ToLower(names[i]), strings.ToLower(names[j])
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
}
