package ecosystem

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ben-ranford/wpfatal/internal/phpsrc"
	"github.com/ben-ranford/wpfatal/internal/safeio"
	"github.com/ben-ranford/wpfatal/internal/scanner"
)

const (
	Elementor   = "elementor"
	WooCommerce = "woocommerce"
)

// DefaultMaxScanFiles bounds the code-signature scan.
const DefaultMaxScanFiles = 50

// Set is a set of lowercase ecosystem tags.
type Set map[string]struct{}

func NewSet(names ...string) Set {
	set := make(Set, len(names))
	for _, name := range names {
		set.Add(name)
	}
	return set
}

func (s Set) Add(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return
	}
	s[name] = struct{}{}
}

func (s Set) Has(name string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func (s Set) Sorted() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Union returns a new set holding the members of both sets.
func (s Set) Union(other Set) Set {
	union := make(Set, len(s)+len(other))
	for name := range s {
		union[name] = struct{}{}
	}
	for name := range other {
		union[name] = struct{}{}
	}
	return union
}

// Pattern lists the signatures that reveal an ecosystem. Matching is
// case-insensitive substring matching.
type Pattern struct {
	Headers          []string
	FilePatterns     []string
	ClassPatterns    []string
	FunctionPatterns []string
	ComposerPackages []string
}

func defaultPatterns() map[string]Pattern {
	return map[string]Pattern{
		Elementor: {
			Headers:          []string{"Elementor tested up to", "Elementor Pro tested up to", "Requires Plugins: elementor"},
			FilePatterns:     []string{"/widgets/", "/controls/", "/modules/", "elementor"},
			ClassPatterns:    []string{`Elementor\`, "Controls_Manager", "Widget_Base", "Group_Control_", `Core\Kits\Documents\Tabs\`},
			FunctionPatterns: []string{"elementor_pro_load_plugin", "elementor_load_plugin_textdomain"},
			ComposerPackages: []string{"elementor/elementor"},
		},
		WooCommerce: {
			Headers:          []string{"WC tested up to", "WC requires at least", "Requires Plugins: woocommerce"},
			FilePatterns:     []string{"/woocommerce/", "/includes/wc-", "wc-"},
			ClassPatterns:    []string{`WooCommerce\`, "WC_", "WP_REST_"},
			FunctionPatterns: []string{"wc_get_", "woocommerce_", "is_woocommerce"},
			ComposerPackages: []string{"woocommerce/woocommerce"},
		},
	}
}

type Source string

const (
	SourceHeader   Source = "header"
	SourcePath     Source = "path"
	SourceCode     Source = "code"
	SourceComposer Source = "composer"
)

// Evidence records why an ecosystem was detected.
type Evidence struct {
	Ecosystem string `json:"ecosystem"`
	Source    Source `json:"source"`
	Detail    string `json:"detail"`
}

type Result struct {
	Ecosystems Set
	Evidence   []Evidence
}

type Detector struct {
	patterns     map[string]Pattern
	maxScanFiles int
}

func NewDetector() *Detector {
	return &Detector{patterns: defaultPatterns(), maxScanFiles: DefaultMaxScanFiles}
}

// WithPattern returns a copy of d that also recognizes name.
func (d *Detector) WithPattern(name string, pattern Pattern) *Detector {
	patterns := make(map[string]Pattern, len(d.patterns)+1)
	for key, value := range d.patterns {
		patterns[key] = value
	}
	patterns[strings.ToLower(strings.TrimSpace(name))] = pattern
	return &Detector{patterns: patterns, maxScanFiles: d.maxScanFiles}
}

// WithMaxScanFiles returns a copy of d with a different code-scan cap.
func (d *Detector) WithMaxScanFiles(limit int) *Detector {
	if limit <= 0 {
		limit = DefaultMaxScanFiles
	}
	return &Detector{patterns: d.patterns, maxScanFiles: limit}
}

func (d *Detector) Pattern(name string) (Pattern, bool) {
	pattern, ok := d.patterns[strings.ToLower(name)]
	return pattern, ok
}

func (d *Detector) Detect(ctx context.Context, root string) (Set, error) {
	result, err := d.DetectWithEvidence(ctx, root)
	if err != nil {
		return nil, err
	}
	return result.Ecosystems, nil
}

// DetectWithEvidence inspects plugin headers, file paths, code signatures
// and composer requirements under root.
func (d *Detector) DetectWithEvidence(ctx context.Context, root string) (Result, error) {
	result := Result{Ecosystems: NewSet()}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return result, nil
	}
	d.checkHeaders(root, &result)
	if err := d.checkCode(ctx, root, &result); err != nil {
		return result, err
	}
	d.checkComposer(root, &result)
	return result, nil
}

// add records the first piece of evidence per ecosystem and source.
func (r *Result) add(ecosystem string, source Source, detail string) {
	r.Ecosystems.Add(ecosystem)
	for _, existing := range r.Evidence {
		if existing.Ecosystem == ecosystem && existing.Source == source {
			return
		}
	}
	r.Evidence = append(r.Evidence, Evidence{Ecosystem: ecosystem, Source: source, Detail: detail})
}

func (d *Detector) names() []string {
	names := make([]string, 0, len(d.patterns))
	for name := range d.patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var pluginNamePattern = regexp.MustCompile(`(?i)Plugin Name\s*:`)

// headerSources returns the root-level PHP files whose header block is
// inspected: the main plugin file when one exists, otherwise all of them.
func headerSources(root string) []string {
	matches, err := filepath.Glob(filepath.Join(root, "*.php"))
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	contents := make([]string, 0, len(matches))
	for _, path := range matches {
		data, err := safeio.ReadFileUnder(root, path)
		if err != nil {
			continue
		}
		content := string(data)
		if pluginNamePattern.MatchString(content) {
			return []string{content}
		}
		contents = append(contents, content)
	}
	return contents
}

func headerLines(content string) []string {
	block, ok := phpsrc.HeaderBlock(content)
	if !ok {
		return nil
	}
	lines := make([]string, 0)
	for _, line := range strings.Split(block, "\n") {
		line = strings.Trim(line, " \t\r\x00\x0B*")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func (d *Detector) checkHeaders(root string, result *Result) {
	for _, content := range headerSources(root) {
		lines := headerLines(content)
		for _, name := range d.names() {
			if line, ok := matchAny(lines, d.patterns[name].Headers); ok {
				result.add(name, SourceHeader, line)
			}
		}
	}
}

func matchAny(values []string, patterns []string) (string, bool) {
	for _, pattern := range patterns {
		needle := strings.ToLower(pattern)
		for _, value := range values {
			if strings.Contains(strings.ToLower(value), needle) {
				return value, true
			}
		}
	}
	return "", false
}

func (d *Detector) checkCode(ctx context.Context, root string, result *Result) error {
	scanned := 0
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if entry.IsDir() {
			if scanner.ShouldSkipDir(entry.Name(), rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".php") {
			return nil
		}
		if scanned >= d.maxScanFiles {
			return filepath.SkipAll
		}
		scanned++
		data, err := safeio.ReadFileUnder(root, path)
		if err != nil {
			return nil
		}
		d.matchFile("/"+strings.ToLower(rel), strings.ToLower(string(data)), rel, result)
		return nil
	})
}

func (d *Detector) matchFile(lowerPath, lowerContent, rel string, result *Result) {
	for _, name := range d.names() {
		pattern := d.patterns[name]
		if hit, ok := firstContained(lowerPath, pattern.FilePatterns); ok {
			result.add(name, SourcePath, rel+" matches "+hit)
			continue
		}
		if hit, ok := firstContained(lowerContent, pattern.ClassPatterns); ok {
			result.add(name, SourceCode, rel+" references "+hit)
			continue
		}
		if hit, ok := firstContained(lowerContent, pattern.FunctionPatterns); ok {
			result.add(name, SourceCode, rel+" calls "+hit)
		}
	}
}

func firstContained(haystack string, needles []string) (string, bool) {
	for _, needle := range needles {
		if strings.Contains(haystack, strings.ToLower(needle)) {
			return needle, true
		}
	}
	return "", false
}

func (d *Detector) checkComposer(root string, result *Result) {
	manifest, found, err := phpsrc.ReadManifest(root)
	if err != nil || !found {
		return
	}
	packages := make(map[string]struct{})
	for _, name := range manifest.Packages() {
		packages[name] = struct{}{}
	}
	for _, name := range d.names() {
		for _, pkg := range d.patterns[name].ComposerPackages {
			if _, ok := packages[strings.ToLower(pkg)]; ok {
				result.add(name, SourceComposer, pkg)
				break
			}
		}
	}
}
