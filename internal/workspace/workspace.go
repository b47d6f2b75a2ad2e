package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrPathNotFound = errors.New("plugin path not found")

// Target is a resolved scan target. File is set when a single file was
// requested; Root is then its containing directory.
type Target struct {
	Root string
	File string
}

// Single reports whether the target names one file rather than a tree.
func (t Target) Single() bool {
	return t.File != ""
}

func NormalizePath(path string) (string, error) {
	if path == "" {
		path = "."
	}
	return filepath.Abs(path)
}

// Resolve turns a plugin directory or a single PHP file into a Target.
func Resolve(path string) (Target, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return Target{}, fmt.Errorf("resolve plugin path: %w", err)
	}
	info, err := os.Stat(normalized)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Target{}, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		return Target{}, fmt.Errorf("stat plugin path: %w", err)
	}
	if info.IsDir() {
		return Target{Root: normalized}, nil
	}
	return Target{Root: filepath.Dir(normalized), File: normalized}, nil
}
