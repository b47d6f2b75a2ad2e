package detector

import (
	"context"
	"sync"

	"github.com/ben-ranford/wpfatal/internal/ecosystem"
	"github.com/ben-ranford/wpfatal/internal/finding"
)

const (
	IDSyntax                = "syntax"
	IDUndefinedFunction     = "undefined-function"
	IDClassConflict         = "class-conflict"
	IDWordPressCompat       = "wp-compat"
	IDPHPCompat             = "php-compat"
	IDTemplateMethodContext = "template-method-context"
	IDThisContext           = "this-context"
)

// Target is one PHP and WordPress version combination.
type Target struct {
	PHPVersion string
	WPVersion  string
}

// Detector evaluates one file for one target. Implementations hold no
// per-file state between calls and are safe for concurrent Detect calls.
// Unreadable files yield no findings.
type Detector interface {
	ID() string
	Name() string
	Detect(ctx context.Context, path string, target Target) []finding.Finding
}

// EcosystemAware detectors consult the detected ecosystem set. The set is
// assigned before detection starts and not while Detect runs.
type EcosystemAware interface {
	SetDetectedEcosystems(ecosystems ecosystem.Set)
}

// PluginRootAware detectors need the plugin root to derive relative paths.
type PluginRootAware interface {
	SetPluginRoot(root string)
}

// Configure hands the run-scoped inputs to every detector that declares
// the matching capability.
func Configure(detectors []Detector, root string, ecosystems ecosystem.Set) {
	for _, item := range detectors {
		if aware, ok := item.(EcosystemAware); ok {
			aware.SetDetectedEcosystems(ecosystems)
		}
		if aware, ok := item.(PluginRootAware); ok {
			aware.SetPluginRoot(root)
		}
	}
}

func newFinding(kind finding.Kind, message, path string, line int, severity finding.Severity, suggestion string, context map[string]any) finding.Finding {
	return finding.Finding{
		Kind:       kind,
		Message:    message,
		File:       path,
		Line:       line,
		Severity:   severity,
		Suggestion: suggestion,
		Context:    context,
	}
}

// precededBy reports whether the byte before index is one of chars.
func precededBy(line string, index int, chars string) bool {
	if index <= 0 {
		return false
	}
	previous := line[index-1]
	for i := 0; i < len(chars); i++ {
		if chars[i] == previous {
			return true
		}
	}
	return false
}

// ecosystems is embedded by detectors that implement EcosystemAware.
type ecosystems struct {
	mu  sync.RWMutex
	set ecosystem.Set
}

func (e *ecosystems) SetDetectedEcosystems(set ecosystem.Set) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.set = ecosystem.NewSet(set.Sorted()...)
}

func (e *ecosystems) detected() ecosystem.Set {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.set
}
