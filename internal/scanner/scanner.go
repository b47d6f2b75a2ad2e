package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

var skipDirectories = map[string]bool{
	"node_modules":    true,
	"vendor":          true,
	".git":            true,
	".svn":            true,
	".hg":             true,
	"tests":           true,
	"test":            true,
	"__tests__":       true,
	"spec":            true,
	"docs":            true,
	"documentation":   true,
	"dist":            true,
	"build":           true,
	".github":         true,
	".vscode":         true,
	".idea":           true,
	"wp-fatal-tester": true,
	".wpfatal-cache":  true,
}

var skipRelativeDirectories = map[string]bool{
	"assets/js":  true,
	"assets/css": true,
}

var skipFiles = map[string]bool{
	"composer.json":     true,
	"composer.lock":     true,
	"package.json":      true,
	"package-lock.json": true,
	"yarn.lock":         true,
	"webpack.config.js": true,
	"gulpfile.js":       true,
	"gruntfile.js":      true,
	".gitignore":        true,
	".gitattributes":    true,
	"README.md":         true,
	"CHANGELOG.md":      true,
	"LICENSE":           true,
	"LICENSE.txt":       true,
}

// ShouldSkipDir reports whether a directory is never scanned. rel is the
// slash separated path from the plugin root.
func ShouldSkipDir(name, rel string) bool {
	if skipDirectories[name] || skipRelativeDirectories[rel] {
		return true
	}
	return strings.HasPrefix(name, ".")
}

// ShouldScanFile reports whether a file name is a candidate PHP source.
func ShouldScanFile(name string) bool {
	if skipFiles[name] || strings.HasPrefix(name, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".php")
}

// Filter applies include and exclude globs to slash separated relative paths.
type Filter struct {
	include []glob.Glob
	exclude []glob.Glob
}

func NewFilter(include, exclude []string) (Filter, error) {
	includeGlobs, err := compileGlobs("include", include)
	if err != nil {
		return Filter{}, err
	}
	excludeGlobs, err := compileGlobs("exclude", exclude)
	if err != nil {
		return Filter{}, err
	}
	return Filter{include: includeGlobs, exclude: excludeGlobs}, nil
}

func compileGlobs(kind string, patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func (f Filter) Match(rel string) bool {
	for _, g := range f.exclude {
		if g.Match(rel) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, g := range f.include {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

type Options struct {
	Include []string
	Exclude []string
}

// Walk lists the PHP files under root in lexical order.
func Walk(ctx context.Context, root string, opts Options) ([]string, error) {
	filter, err := NewFilter(opts.Include, opts.Exclude)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0)
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if entry.IsDir() {
			if ShouldSkipDir(entry.Name(), rel) || IsToolPackageDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() || !ShouldScanFile(entry.Name()) || !filter.Match(rel) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

const toolPackageName = "nhrrob/wp-fatal-tester"

// IsToolPackageDir detects a vendored copy of the fatal tester package,
// which ships its own PHP sources that must not be scanned.
func IsToolPackageDir(path string) bool {
	for _, indicator := range []string{"fataltest", filepath.Join("src", "FatalTester.php"), "composer.json"} {
		if _, err := os.Stat(filepath.Join(path, indicator)); err != nil {
			return false
		}
	}
	data, err := os.ReadFile(filepath.Join(path, "composer.json"))
	if err != nil {
		return false
	}
	var manifest struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return false
	}
	return manifest.Name == toolPackageName
}
