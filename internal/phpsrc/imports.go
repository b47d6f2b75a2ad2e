package phpsrc

import (
	"regexp"
	"strings"
)

type ImportKind string

const (
	ImportClass    ImportKind = "class"
	ImportFunction ImportKind = "function"
	ImportConst    ImportKind = "const"
)

// Import is one name brought into scope by a use statement.
type Import struct {
	Kind  ImportKind
	Name  string
	Alias string
	Line  int
}

// Imports indexes a file's use statements by lowercase alias.
type Imports struct {
	Classes   map[string]string
	Functions map[string]string
	Constants map[string]string
}

var (
	useStmtPattern = regexp.MustCompile(`(?ms)^\s*use\s+([^;{(]+(?:\{[^}]*\})?)\s*;`)
	aliasPattern   = regexp.MustCompile(`(?i)\s+as\s+`)
)

// ParseImports collects flat, aliased and grouped use statements.
func ParseImports(content string) []Import {
	matches := useStmtPattern.FindAllStringSubmatchIndex(content, -1)
	imports := make([]Import, 0, len(matches))
	for _, match := range matches {
		if len(match) < 4 {
			continue
		}
		statement := strings.TrimSpace(content[match[2]:match[3]])
		line := LineNumberAt(content, match[2])
		imports = append(imports, parseUseStatement(statement, line)...)
	}
	return imports
}

// IndexImports parses content and groups the imports by kind.
func IndexImports(content string) Imports {
	index := Imports{
		Classes:   make(map[string]string),
		Functions: make(map[string]string),
		Constants: make(map[string]string),
	}
	for _, item := range ParseImports(content) {
		key := strings.ToLower(item.Alias)
		switch item.Kind {
		case ImportFunction:
			index.Functions[key] = item.Name
		case ImportConst:
			index.Constants[key] = item.Name
		default:
			index.Classes[key] = item.Name
		}
	}
	return index
}

// Class resolves a short or aliased class name to the imported name.
func (i Imports) Class(name string) (string, bool) {
	fqn, ok := i.Classes[strings.ToLower(NormalizeNamespace(name))]
	return fqn, ok
}

func (i Imports) Function(name string) (string, bool) {
	fqn, ok := i.Functions[strings.ToLower(NormalizeNamespace(name))]
	return fqn, ok
}

func parseUseStatement(statement string, line int) []Import {
	kind, statement := stripImportQualifier(statement, ImportClass)
	if statement == "" {
		return nil
	}
	if imports, ok := parseGroupedUseStatement(statement, kind, line); ok {
		return imports
	}
	return parseUseParts(strings.Split(statement, ","), "", kind, line)
}

func parseGroupedUseStatement(statement string, kind ImportKind, line int) ([]Import, bool) {
	open := strings.Index(statement, "{")
	close := strings.LastIndex(statement, "}")
	if open < 0 || close <= open {
		return nil, false
	}
	base := NormalizeNamespace(statement[:open])
	inside := statement[open+1 : close]
	return parseUseParts(strings.Split(inside, ","), base, kind, line), true
}

func parseUseParts(parts []string, base string, kind ImportKind, line int) []Import {
	imports := make([]Import, 0, len(parts))
	for _, part := range parts {
		partKind, part := stripImportQualifier(part, kind)
		name, alias := splitAlias(part)
		if base != "" && name != "" {
			name = base + `\` + name
		}
		name = NormalizeNamespace(name)
		if name == "" {
			continue
		}
		if alias == "" {
			alias = LastNamespaceSegment(name)
		}
		if alias == "" {
			continue
		}
		imports = append(imports, Import{Kind: partKind, Name: name, Alias: alias, Line: line})
	}
	return imports
}

func stripImportQualifier(part string, fallback ImportKind) (ImportKind, string) {
	part = strings.TrimSpace(part)
	lower := strings.ToLower(part)
	switch {
	case strings.HasPrefix(lower, "function "):
		return ImportFunction, strings.TrimSpace(part[len("function "):])
	case strings.HasPrefix(lower, "const "):
		return ImportConst, strings.TrimSpace(part[len("const "):])
	default:
		return fallback, part
	}
}

func splitAlias(value string) (string, string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ""
	}
	parts := aliasPattern.Split(value, 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return value, ""
}

func LastNamespaceSegment(name string) string {
	name = NormalizeNamespace(name)
	if name == "" {
		return ""
	}
	parts := strings.Split(name, `\`)
	return strings.TrimSpace(parts[len(parts)-1])
}

// NormalizeNamespace trims whitespace and leading or trailing separators.
func NormalizeNamespace(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, `\`)
	return strings.TrimSuffix(value, `\`)
}

// LineNumberAt returns the 1-based line containing offset.
func LineNumberAt(text string, offset int) int {
	if offset <= 0 {
		return 1
	}
	if offset > len(text) {
		offset = len(text)
	}
	return strings.Count(text[:offset], "\n") + 1
}
