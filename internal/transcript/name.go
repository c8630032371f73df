package transcript

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Ext is the transcript file extension.
	Ext = ".json"
	// VersionExt is the extension of rendered versions.
	VersionExt = ".txt"

	maxNameLen   = 100
	fallbackName = "log"
)

// SafeName keeps letters, digits and "-_ ." from seed, trims surrounding
// spaces and caps the result at 100 characters. An empty result becomes "log".
func SafeName(seed string) string {
	var b strings.Builder
	for _, r := range seed {
		if isSafeRune(r) {
			b.WriteRune(r)
		}
	}
	s := strings.TrimSpace(b.String())
	if len(s) > maxNameLen {
		s = strings.TrimSpace(s[:maxNameLen])
	}
	if s == "" {
		return fallbackName
	}
	return s
}

func isSafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == ' ', r == '.':
		return true
	}
	return false
}

// TimestampName returns the UTC timestamp name used for new transcripts, with
// microsecond resolution: 2006-01-02_15-04-05_000000.
func TimestampName(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s_%06d", t.Format("2006-01-02_15-04-05"), t.Nanosecond()/int(time.Microsecond))
}

// FileName normalizes a caller-supplied transcript identity to a safe file
// name carrying the .json extension.
func FileName(name string) (string, error) {
	safe := SafeName(name)
	if !strings.HasSuffix(safe, Ext) {
		safe += Ext
	}
	if err := checkStem(Stem(safe)); err != nil {
		return "", err
	}
	return safe, nil
}

// VersionFileName normalizes a rendered-version name to a safe .txt file name.
func VersionFileName(name string) (string, error) {
	safe := SafeName(filepath.Base(name))
	if !strings.HasSuffix(strings.ToLower(safe), VersionExt) {
		safe += VersionExt
	}
	if err := checkStem(strings.TrimSuffix(safe, filepath.Ext(safe))); err != nil {
		return "", err
	}
	return safe, nil
}

// Stem strips the transcript extension.
func Stem(file string) string {
	return strings.TrimSuffix(file, Ext)
}

func checkStem(stem string) error {
	if stem == "" || strings.Trim(stem, ".") == "" {
		return fmt.Errorf("%w: %q", ErrInvalidName, stem)
	}
	return nil
}

// VersionOf parses the integer after the last ".v" of a rendered file name,
// keeping only its digits: "Alice.v12.txt" is 12. ok is false when the name
// carries no version.
func VersionOf(file string) (int, bool) {
	idx := strings.LastIndex(file, ".v")
	if idx < 0 {
		return 0, false
	}
	rest := file[idx+2:]
	if cut := strings.Index(rest, VersionExt); cut >= 0 {
		rest = rest[:cut]
	}
	var digits strings.Builder
	for _, r := range rest {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0, false
	}
	return n, true
}
