package finding

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"sort"
	"strings"
)

type Kind string

const (
	KindUndefinedFunction          Kind = "UNDEFINED_FUNCTION"
	KindUndefinedClass             Kind = "UNDEFINED_CLASS"
	KindClassAlreadyExists         Kind = "CLASS_ALREADY_EXISTS"
	KindWordPressClassConflict     Kind = "WORDPRESS_CLASS_CONFLICT"
	KindPHPClassConflict           Kind = "PHP_CLASS_CONFLICT"
	KindDeprecatedPHPFeature       Kind = "DEPRECATED_PHP_FEATURE"
	KindRemovedPHPFeature          Kind = "REMOVED_PHP_FEATURE"
	KindPHPVersionRequirement      Kind = "PHP_VERSION_REQUIREMENT"
	KindDeprecatedFunction         Kind = "DEPRECATED_FUNCTION"
	KindRemovedFunction            Kind = "REMOVED_FUNCTION"
	KindVersionRequirement         Kind = "VERSION_REQUIREMENT"
	KindDeprecatedHook             Kind = "DEPRECATED_HOOK"
	KindSyntaxError                Kind = "SYNTAX_ERROR"
	KindFatalSyntaxError           Kind = "FATAL_SYNTAX_ERROR"
	KindMissingSemicolon           Kind = "MISSING_SEMICOLON"
	KindUnmatchedBrackets          Kind = "UNMATCHED_BRACKETS"
	KindTemplateMethodContextError Kind = "TEMPLATE_METHOD_CONTEXT_ERROR"
	KindThisContextError           Kind = "THIS_CONTEXT_ERROR"
)

// Kinds lists every finding kind in report order.
func Kinds() []Kind {
	return []Kind{
		KindSyntaxError,
		KindFatalSyntaxError,
		KindMissingSemicolon,
		KindUnmatchedBrackets,
		KindUndefinedFunction,
		KindUndefinedClass,
		KindClassAlreadyExists,
		KindWordPressClassConflict,
		KindPHPClassConflict,
		KindDeprecatedFunction,
		KindRemovedFunction,
		KindVersionRequirement,
		KindDeprecatedHook,
		KindDeprecatedPHPFeature,
		KindRemovedPHPFeature,
		KindPHPVersionRequirement,
		KindTemplateMethodContextError,
		KindThisContextError,
	}
}

// IsDependencyKind reports whether the kind signals a symbol that may be
// supplied by another plugin at runtime.
func (k Kind) IsDependencyKind() bool {
	return k == KindUndefinedFunction || k == KindUndefinedClass
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

var ErrUnknownSeverity = errors.New("unknown severity")

func ParseSeverity(value string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(SeverityError):
		return SeverityError, nil
	case string(SeverityWarning):
		return SeverityWarning, nil
	case string(SeverityInfo):
		return SeverityInfo, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownSeverity, value)
	}
}

// ParseSeverities parses a comma separated severity list, dropping duplicates.
func ParseSeverities(value string) ([]Severity, error) {
	parts := strings.Split(value, ",")
	seen := make(map[Severity]struct{}, len(parts))
	result := make([]Severity, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		severity, err := ParseSeverity(part)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[severity]; ok {
			continue
		}
		seen[severity] = struct{}{}
		result = append(result, severity)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: empty severity list", ErrUnknownSeverity)
	}
	return result, nil
}

func (s Severity) rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Finding is a single potential fatal-error risk. Values are treated as
// immutable once a detector returns them.
type Finding struct {
	Kind       Kind           `json:"kind"`
	Message    string         `json:"message"`
	File       string         `json:"file"`
	Line       int            `json:"line"`
	Severity   Severity       `json:"severity"`
	Suggestion string         `json:"suggestion,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// WithContext returns a copy of f with key set in a cloned context bag.
func (f Finding) WithContext(key string, value any) Finding {
	next := f
	next.Context = make(map[string]any, len(f.Context)+1)
	maps.Copy(next.Context, f.Context)
	next.Context[key] = value
	return next
}

func (f Finding) ContextString(key string) string {
	value, ok := f.Context[key]
	if !ok {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		return fmt.Sprint(value)
	}
	return text
}

func (f Finding) String() string {
	return fmt.Sprintf("[%s] %s: %s (%s:%d)", f.Severity, f.Kind, f.Message, filepath.Base(f.File), f.Line)
}

// RelativePath returns the slash separated path of the finding relative to
// root, falling back to the base name when the file lies outside root.
func (f Finding) RelativePath(root string) string {
	if strings.TrimSpace(root) == "" {
		return filepath.ToSlash(f.File)
	}
	rel, err := filepath.Rel(root, f.File)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Base(f.File)
	}
	return filepath.ToSlash(rel)
}

// Fingerprint identifies a finding independently of its line number so
// that baselines survive unrelated edits.
func (f Finding) Fingerprint(root string) string {
	hasher := sha256.New()
	for _, part := range []string{string(f.Kind), f.RelativePath(root), f.Message} {
		hasher.Write([]byte(part))
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

// Sort orders findings by file, line, kind, then message.
func Sort(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		left, right := findings[i], findings[j]
		if left.File != right.File {
			return left.File < right.File
		}
		if left.Line != right.Line {
			return left.Line < right.Line
		}
		if left.Kind != right.Kind {
			return left.Kind < right.Kind
		}
		return left.Message < right.Message
	})
}

// FilterSeverities keeps findings whose severity is in allowed.
func FilterSeverities(findings []Finding, allowed []Severity) []Finding {
	if len(allowed) == 0 {
		return findings
	}
	set := make(map[Severity]struct{}, len(allowed))
	for _, severity := range allowed {
		set[severity] = struct{}{}
	}
	result := make([]Finding, 0, len(findings))
	for _, item := range findings {
		if _, ok := set[item.Severity]; ok {
			result = append(result, item)
		}
	}
	return result
}

// CompareSeverity orders error before warning before info.
func CompareSeverity(a, b Severity) int {
	return a.rank() - b.rank()
}
