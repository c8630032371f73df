package transcript

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Version is one rendered text artifact. Number is zero when the file name
// carries no version suffix.
type Version struct {
	Info
	Number int
}

// Versions lists the rendered .txt files of a transcript, newest first. A
// transcript with no version directory has no versions.
func (s *Store) Versions(name string) ([]Version, error) {
	file, err := FileName(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.ParsedDir(file))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read version dir: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(e.Name()), VersionExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{Name: e.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sortNewestFirst(infos)

	out := make([]Version, len(infos))
	for i, info := range infos {
		n, _ := VersionOf(info.Name)
		out[i] = Version{Info: info, Number: n}
	}
	return out, nil
}

// LatestVersion picks the highest-numbered version, or the newest file when
// none carries a number.
func LatestVersion(vs []Version) (Version, bool) {
	if len(vs) == 0 {
		return Version{}, false
	}
	best := -1
	for i, v := range vs {
		if v.Number > 0 && (best < 0 || v.Number > vs[best].Number) {
			best = i
		}
	}
	if best < 0 {
		return vs[0], true
	}
	return vs[best], true
}

// NextVersion returns max(existing version in dir) + 1 over *.v*.txt files,
// starting at 1. A missing directory counts as empty.
func NextVersion(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 1, nil
		}
		return 0, fmt.Errorf("read version dir: %w", err)
	}
	highest := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ok, _ := filepath.Match("*.v*"+VersionExt, name); !ok {
			continue
		}
		if n, ok := VersionOf(name); ok && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// ReadVersion returns a rendered version's text. Only .txt files directly
// inside the transcript's version directory are readable.
func (s *Store) ReadVersion(name, version string) ([]byte, error) {
	path, err := s.versionPath(name, version)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(filepath.Ext(path), VersionExt) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, version)
	}
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, version)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	return data, nil
}

// RenameVersion renames a rendered version inside its directory. The new name
// is made safe and forced to .txt. It returns the old and new file names.
func (s *Store) RenameVersion(name, oldVersion, newVersion string) (string, string, error) {
	if strings.TrimSpace(oldVersion) == "" || strings.TrimSpace(newVersion) == "" {
		return "", "", fmt.Errorf("%w: old and new are required", ErrInvalidName)
	}
	oldPath, err := s.versionPath(name, filepath.Base(oldVersion))
	if err != nil {
		return "", "", err
	}
	newFile, err := VersionFileName(newVersion)
	if err != nil {
		return "", "", err
	}
	newPath := filepath.Join(filepath.Dir(oldPath), newFile)

	fi, err := os.Stat(oldPath)
	if err != nil || !fi.Mode().IsRegular() {
		return "", "", fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(oldPath))
	}
	if _, err := os.Lstat(newPath); err == nil {
		return "", "", fmt.Errorf("%w: %s", ErrExists, newFile)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return "", "", fmt.Errorf("rename version: %w", err)
	}
	return filepath.Base(oldPath), newFile, nil
}

// versionPath joins version onto the transcript's version directory and
// rejects anything that escapes it.
func (s *Store) versionPath(name, version string) (string, error) {
	file, err := FileName(name)
	if err != nil {
		return "", err
	}
	base := s.ParsedDir(file)
	target := filepath.Join(base, version)
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrInvalidName, version)
	}
	return target, nil
}
