package transcript

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSafeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2025-01-02_03-04-05_000001", "2025-01-02_03-04-05_000001"},
		{"../../etc/passwd", "....etcpasswd"},
		{"  spaced name  ", "spaced name"},
		{"<script>", "script"},
		{"", "log"},
		{"///", "log"},
		{strings.Repeat("a", 150), strings.Repeat("a", 100)},
	}
	for _, tt := range tests {
		if got := SafeName(tt.in); got != tt.want {
			t.Errorf("SafeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTimestampName(t *testing.T) {
	ts := time.Date(2024, 12, 31, 23, 59, 58, 7000, time.UTC)
	if got := TimestampName(ts); got != "2024-12-31_23-59-58_000007" {
		t.Errorf("TimestampName = %q", got)
	}
}

func TestFileName(t *testing.T) {
	if got, err := FileName("chat"); err != nil || got != "chat.json" {
		t.Errorf("FileName(chat) = %q, %v", got, err)
	}
	if got, err := FileName("chat.json"); err != nil || got != "chat.json" {
		t.Errorf("FileName(chat.json) = %q, %v", got, err)
	}
	for _, bad := range []string{"..", ".", "..json"} {
		if _, err := FileName(bad); !errors.Is(err, ErrInvalidName) {
			t.Errorf("FileName(%q) expected ErrInvalidName, got %v", bad, err)
		}
	}
}

func TestVersionOf(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"Alice.v1.txt", 1, true},
		{"Alice.v12.txt", 12, true},
		{"Dr. v. Smith.v3.txt", 3, true},
		{"Alice.txt", 0, false},
		{"Alice.vfinal.txt", 0, false},
		{"a.v2b.txt", 2, true},
	}
	for _, tt := range tests {
		got, ok := VersionOf(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("VersionOf(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
