// Package transcript stores one JSON file per inbound completion request and
// the rendered text versions derived from it.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrNotFound    = errors.New("transcript not found")
	ErrExists      = errors.New("destination already exists")
	ErrInvalidName = errors.New("invalid name")
)

const parsedDirName = "parsed"

// Info describes a stored transcript or rendered version.
type Info struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Store owns the transcript directory and the per-transcript version
// directories under <dir>/parsed.
type Store struct {
	dir      string
	maxFiles int
	logger   *slog.Logger
	now      func() time.Time
}

func NewStore(dir string, maxFiles int, logger *slog.Logger) *Store {
	return &Store{
		dir:      dir,
		maxFiles: maxFiles,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Store) Dir() string { return s.dir }

// ParsedRoot is the parent of every version directory.
func (s *Store) ParsedRoot() string { return filepath.Join(s.dir, parsedDirName) }

// ParsedDir is the version directory for a transcript file name.
func (s *Store) ParsedDir(file string) string {
	return filepath.Join(s.ParsedRoot(), Stem(file))
}

// Path resolves a transcript identity to its file path without checking that
// it exists.
func (s *Store) Path(name string) (string, error) {
	file, err := FileName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, file), nil
}

// Write persists payload under a fresh timestamp name and returns the file
// name. An existing file is never replaced: on a name collision the write
// falls back to a ULID-suffixed name.
func (s *Store) Write(payload any) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".transcript-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp transcript: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp transcript: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync temp transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp transcript: %w", err)
	}

	base := SafeName(TimestampName(s.now()))
	file := base + Ext
	// os.Link fails with ErrExist instead of replacing the destination.
	err = os.Link(tmpPath, filepath.Join(s.dir, file))
	if errors.Is(err, fs.ErrExist) {
		file = SafeName(base+"_"+ulid.Make().String()) + Ext
		err = os.Link(tmpPath, filepath.Join(s.dir, file))
	}
	if err != nil {
		return "", fmt.Errorf("publish transcript %s: %w", file, err)
	}
	return file, nil
}

// Prune removes transcripts beyond the retention count, oldest first, along
// with their version directories. Failed deletions are logged and skipped. It
// returns the removed names.
func (s *Store) Prune() []string {
	if s.maxFiles <= 0 {
		return nil
	}
	infos, err := s.List()
	if err != nil {
		s.logger.Warn("failed to list transcripts for pruning", "error", err)
		return nil
	}
	if len(infos) <= s.maxFiles {
		return nil
	}
	var removed []string
	for _, info := range infos[s.maxFiles:] {
		if err := os.Remove(filepath.Join(s.dir, info.Name)); err != nil {
			s.logger.Warn("failed to delete old transcript", "file", info.Name, "error", err)
			continue
		}
		if err := os.RemoveAll(s.ParsedDir(info.Name)); err != nil {
			s.logger.Warn("failed to delete version directory", "file", info.Name, "error", err)
		}
		removed = append(removed, info.Name)
	}
	return removed
}

// List returns every transcript ordered by modification time, newest first.
// Equal times fall back to name, descending. A missing directory is empty.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log dir: %w", err)
	}
	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), Ext) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{Name: e.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sortNewestFirst(infos)
	return infos, nil
}

// Recent returns at most n transcripts, newest first.
func (s *Store) Recent(n int) ([]Info, error) {
	infos, err := s.List()
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(infos) > n {
		infos = infos[:n]
	}
	return infos, nil
}

// Latest returns the newest transcript name.
func (s *Store) Latest() (string, error) {
	infos, err := s.Recent(1)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", ErrNotFound
	}
	return infos[0].Name, nil
}

// Read returns the raw transcript document.
func (s *Store) Read(name string) ([]byte, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return data, nil
}

// Exists reports whether the named transcript is a regular file.
func (s *Store) Exists(name string) bool {
	path, err := s.Path(name)
	if err != nil {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// Rename moves a transcript to a new safe name and carries its version
// directory along when one exists. It returns the old and new file names.
func (s *Store) Rename(oldName, newName string) (string, string, error) {
	oldFile, err := FileName(oldName)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(newName) == "" {
		return "", "", fmt.Errorf("%w: new name is required", ErrInvalidName)
	}
	newFile, err := FileName(newName)
	if err != nil {
		return "", "", err
	}
	oldPath := filepath.Join(s.dir, oldFile)
	newPath := filepath.Join(s.dir, newFile)

	if _, err := os.Stat(oldPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", "", fmt.Errorf("%w: %s", ErrNotFound, oldFile)
		}
		return "", "", fmt.Errorf("stat transcript: %w", err)
	}
	if _, err := os.Lstat(newPath); err == nil {
		return "", "", fmt.Errorf("%w: %s", ErrExists, newFile)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return "", "", fmt.Errorf("rename transcript: %w", err)
	}

	oldDir, newDir := s.ParsedDir(oldFile), s.ParsedDir(newFile)
	// No transcript owned newDir, so anything there is stale.
	if err := os.RemoveAll(newDir); err != nil {
		s.logger.Warn("failed to clear stale version directory", "dir", newDir, "error", err)
	}
	if fi, err := os.Stat(oldDir); err == nil && fi.IsDir() {
		if err := os.Rename(oldDir, newDir); err != nil {
			s.logger.Warn("failed to move version directory", "from", oldDir, "to", newDir, "error", err)
		}
	}
	return oldFile, newFile, nil
}

// Delete removes a transcript and its version directory.
func (s *Store) Delete(name string) (string, error) {
	file, err := FileName(name)
	if err != nil {
		return "", err
	}
	if err := os.Remove(filepath.Join(s.dir, file)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, file)
		}
		return "", fmt.Errorf("delete transcript: %w", err)
	}
	if err := os.RemoveAll(s.ParsedDir(file)); err != nil {
		s.logger.Warn("failed to delete version directory", "file", file, "error", err)
	}
	return file, nil
}

func sortNewestFirst(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].ModTime.Equal(infos[j].ModTime) {
			return infos[i].ModTime.After(infos[j].ModTime)
		}
		return infos[i].Name > infos[j].Name
	})
}
