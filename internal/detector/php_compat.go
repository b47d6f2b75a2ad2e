package detector

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ben-ranford/wpfatal/internal/finding"
	"github.com/ben-ranford/wpfatal/internal/linescan"
	"github.com/ben-ranford/wpfatal/internal/version"
)

// Feature is a language construct recognised by a line pattern.
// Deprecated and removed features that share a Name are the same
// construct at two points of its life.
type Feature struct {
	Name       string
	Version    string
	Suggestion string
	Pattern    *regexp.Regexp
	// Exclude rejects lines the pattern matches by accident.
	Exclude *regexp.Regexp
	// Call marks function-call patterns, which do not count after a
	// member, static or concatenation operator.
	Call     bool
	Severity finding.Severity
}

type PHPTables struct {
	Deprecated []Feature
	Removed    []Feature
	New        []Feature
}

func DefaultPHPTables() PHPTables {
	return PHPTables{
		Deprecated: []Feature{
			{Name: "each() function", Version: "7.2.0", Suggestion: "Use foreach loop instead", Pattern: regexp.MustCompile(`\beach\s*\(`), Call: true},
			{Name: "create_function()", Version: "7.2.0", Suggestion: "Use anonymous functions instead", Pattern: regexp.MustCompile(`\bcreate_function\s*\(`), Call: true},
			{Name: "assert() with string argument", Version: "7.2.0", Suggestion: "Use assert() with boolean expressions", Pattern: regexp.MustCompile(`\bassert\s*\(\s*["']`), Call: true},
			{Name: "$php_errormsg variable", Version: "8.0.0", Suggestion: "Use error_get_last() instead", Pattern: regexp.MustCompile(`\$php_errormsg\b`)},
		},
		Removed: []Feature{
			{Name: "mysql extension", Version: "7.0.0", Suggestion: "Use mysqli or PDO instead", Pattern: regexp.MustCompile(`\bmysql_\w+\s*\(`), Call: true},
			{Name: "ereg functions", Version: "7.0.0", Suggestion: "Use preg_* functions instead", Pattern: regexp.MustCompile(`\b(?:ereg|eregi|ereg_replace|eregi_replace|split|spliti|sql_regcase)\s*\(`), Call: true},
			{Name: "mcrypt extension", Version: "7.2.0", Suggestion: "Use openssl or sodium extension instead", Pattern: regexp.MustCompile(`\bmcrypt_\w+\s*\(`), Call: true},
			{Name: "each() function", Version: "8.0.0", Suggestion: "Use foreach loop instead", Pattern: regexp.MustCompile(`\beach\s*\(`), Call: true},
			{Name: "create_function()", Version: "8.0.0", Suggestion: "Use anonymous functions instead", Pattern: regexp.MustCompile(`\bcreate_function\s*\(`), Call: true},
			{Name: "get_magic_quotes_gpc()", Version: "8.0.0", Suggestion: "Magic quotes were removed, no replacement needed", Pattern: regexp.MustCompile(`\bget_magic_quotes_gpc\s*\(`), Call: true},
			{Name: "restore_include_path()", Version: "8.0.0", Suggestion: "Use ini_restore() instead", Pattern: regexp.MustCompile(`\brestore_include_path\s*\(`), Call: true},
		},
		New: []Feature{
			{Name: "Null coalescing operator", Version: "7.0.0", Pattern: regexp.MustCompile(`\?\?`)},
			{Name: "Spaceship operator", Version: "7.0.0", Pattern: regexp.MustCompile(`<=>`)},
			{Name: "Anonymous classes", Version: "7.0.0", Pattern: regexp.MustCompile(`\bnew\s+class\b`)},
			{Name: "Group use declarations", Version: "7.0.0", Pattern: regexp.MustCompile(`^\s*use\s+[\w\\]+\\\{`)},
			{Name: "Null coalescing assignment", Version: "7.4.0", Pattern: regexp.MustCompile(`\?\?=`)},
			{Name: "Arrow functions", Version: "7.4.0", Pattern: regexp.MustCompile(`\bfn\s*&?\s*\([^)]*\)(?:\s*:\s*\??[\w\\]+)?\s*=>`)},
			{
				Name:    "Typed properties",
				Version: "7.4.0",
				Pattern: regexp.MustCompile(`^\s*(?:private|protected|public)(?:\s+static)?\s+\??[A-Za-z_\\][\w\\|]*\s+\$\w+`),
				Exclude: regexp.MustCompile(`^\s*(?:private|protected|public)\s+(?:static\s+)?(?:function|const)\b|^\s*(?:private|protected|public)\s+static\s+\$`),
			},
			{Name: "Match expression", Version: "8.0.0", Pattern: regexp.MustCompile(`\bmatch\s*\(`), Call: true, Severity: finding.SeverityWarning},
			{Name: "Named arguments", Version: "8.0.0", Pattern: regexp.MustCompile(`\w\s*\(\s*[A-Za-z_]\w*\s*:\s*[^:\s]`), Severity: finding.SeverityWarning},
			{Name: "Nullsafe operator", Version: "8.0.0", Pattern: regexp.MustCompile(`\?->`), Severity: finding.SeverityWarning},
			{Name: "Constructor property promotion", Version: "8.0.0", Pattern: regexp.MustCompile(`\bfunction\s+__construct\s*\([^)]*\b(?:private|protected|public)\s+`), Severity: finding.SeverityWarning},
			{
				Name:     "Union types",
				Version:  "8.0.0",
				Pattern:  regexp.MustCompile(`\)\s*:\s*\??[\w\\]+\|[\w\\]+|[(,]\s*[\w\\]+\|[\w\\]+\s+&?\$`),
				Exclude:  regexp.MustCompile(`\bcatch\s*\(`),
				Severity: finding.SeverityWarning,
			},
			{Name: "Enums", Version: "8.1.0", Pattern: regexp.MustCompile(`^\s*enum\s+[A-Za-z_]\w*`)},
			{Name: "Readonly properties", Version: "8.1.0", Pattern: regexp.MustCompile(`\breadonly\s+(?:private|protected|public)\b|\b(?:private|protected|public)\s+readonly\b`)},
			{Name: "First-class callable syntax", Version: "8.1.0", Pattern: regexp.MustCompile(`[\w)]\s*\(\s*\.\.\.\s*\)`)},
			{Name: "Never return type", Version: "8.1.0", Pattern: regexp.MustCompile(`\)\s*:\s*never\b`)},
			{Name: "Readonly classes", Version: "8.2.0", Pattern: regexp.MustCompile(`^\s*(?:(?:final|abstract)\s+)*readonly\s+(?:(?:final|abstract)\s+)*class\b`)},
			{Name: "Typed class constants", Version: "8.3.0", Pattern: regexp.MustCompile(`\bconst\s+\??[A-Za-z_\\][\w\\|]*\s+[A-Za-z_]\w*\s*=`)},
		},
	}
}

// PHPCompatibility checks language features against the target PHP
// version.
type PHPCompatibility struct {
	sources *Sources
	tables  PHPTables
	removed map[string]Feature
}

func NewPHPCompatibility(deps Dependencies, tables PHPTables) *PHPCompatibility {
	deps = deps.withDefaults()
	removed := make(map[string]Feature, len(tables.Removed))
	for _, feature := range tables.Removed {
		removed[feature.Name] = feature
	}
	return &PHPCompatibility{sources: deps.Sources, tables: tables, removed: removed}
}

func (d *PHPCompatibility) ID() string   { return IDPHPCompat }
func (d *PHPCompatibility) Name() string { return "PHP Version Compatibility Detector" }

func (d *PHPCompatibility) Detect(_ context.Context, path string, target Target) []finding.Finding {
	lines, ok := d.sources.Lines(path)
	if !ok {
		return nil
	}
	php := target.PHPVersion
	var state linescan.State
	var findings []finding.Finding
	for index, raw := range lines {
		state.Update(raw)
		if state.Skippable() || state.InsideScript || linescan.IsJavaScript(raw) {
			continue
		}
		line := linescan.Clean(raw)
		if line == "" {
			continue
		}
		number := index + 1
		for _, feature := range d.tables.Deprecated {
			if !feature.matches(line) || !version.AtLeast(php, feature.Version) {
				continue
			}
			if removed, ok := d.removed[feature.Name]; ok && version.AtLeast(php, removed.Version) {
				continue
			}
			findings = append(findings, newFinding(finding.KindDeprecatedPHPFeature,
				fmt.Sprintf("%s is deprecated since PHP %s", feature.Name, feature.Version), path, number, finding.SeverityWarning,
				feature.suggestion("Consider using alternative approaches"),
				map[string]any{"feature": feature.Name, "deprecated_version": feature.Version, "php_version": php}))
		}
		for _, feature := range d.tables.Removed {
			if !feature.matches(line) || !version.AtLeast(php, feature.Version) {
				continue
			}
			findings = append(findings, newFinding(finding.KindRemovedPHPFeature,
				fmt.Sprintf("%s was removed in PHP %s", feature.Name, feature.Version), path, number, finding.SeverityError,
				feature.suggestion("This feature is no longer available"),
				map[string]any{"feature": feature.Name, "removed_version": feature.Version, "php_version": php}))
		}
		for _, feature := range d.tables.New {
			if !feature.matches(line) || !version.Below(php, feature.Version) {
				continue
			}
			severity := feature.Severity
			if severity == "" {
				severity = finding.SeverityError
			}
			findings = append(findings, newFinding(finding.KindPHPVersionRequirement,
				fmt.Sprintf("%s requires PHP %s or higher", feature.Name, feature.Version), path, number, severity,
				fmt.Sprintf("Upgrade PHP to version %s or higher, or use an alternative", feature.Version),
				map[string]any{"feature": feature.Name, "required_version": feature.Version, "current_version": php}))
		}
	}
	return findings
}

func (f Feature) matches(line string) bool {
	if f.Exclude != nil && f.Exclude.MatchString(line) {
		return false
	}
	if !f.Call {
		return f.Pattern.MatchString(line)
	}
	for _, match := range f.Pattern.FindAllStringIndex(line, -1) {
		if !precededBy(line, match[0], ".$>:\\") && !definitionPrefix.MatchString(line[:match[0]]) {
			return true
		}
	}
	return false
}

func (f Feature) suggestion(fallback string) string {
	if f.Suggestion == "" {
		return fallback
	}
	return f.Suggestion
}
