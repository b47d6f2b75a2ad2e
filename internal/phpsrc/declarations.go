package phpsrc

import (
	"regexp"
	"strings"

	"github.com/ben-ranford/wpfatal/internal/linescan"
	"github.com/ben-ranford/wpfatal/internal/safeio"
)

type DeclarationKind string

const (
	DeclClass     DeclarationKind = "class"
	DeclInterface DeclarationKind = "interface"
	DeclTrait     DeclarationKind = "trait"
	DeclEnum      DeclarationKind = "enum"
	DeclFunction  DeclarationKind = "function"
)

// Declaration is a named symbol declared at a given line of a file.
type Declaration struct {
	Kind      DeclarationKind
	Name      string
	Namespace string
	Line      int
}

// FQN joins the namespace and name without a leading separator.
func (d Declaration) FQN() string {
	if d.Namespace == "" {
		return d.Name
	}
	return d.Namespace + `\` + d.Name
}

var (
	namespacePattern = regexp.MustCompile(`^\s*namespace\s+([A-Za-z_][\w\\]*)\s*[;{]`)
	globalNSPattern  = regexp.MustCompile(`^\s*namespace\s*\{`)
	typeDeclPattern  = regexp.MustCompile(`^\s*(?:(?:abstract|final|readonly)\s+)*(class|interface|trait|enum)\s+([A-Za-z_]\w*)`)
	funcDeclPattern  = regexp.MustCompile(`^\s*function\s+&?\s*([A-Za-z_]\w*)\s*\(`)
)

// MatchNamespace returns the namespace declared on line, if any. A braced
// global namespace block yields an empty name with ok set.
func MatchNamespace(line string) (string, bool) {
	if match := namespacePattern.FindStringSubmatch(line); match != nil {
		return NormalizeNamespace(match[1]), true
	}
	if globalNSPattern.MatchString(line) {
		return "", true
	}
	return "", false
}

// MatchTypeDeclaration returns the kind and name of a class-like
// declaration on line.
func MatchTypeDeclaration(line string) (DeclarationKind, string, bool) {
	match := typeDeclPattern.FindStringSubmatch(line)
	if match == nil {
		return "", "", false
	}
	return DeclarationKind(strings.ToLower(match[1])), match[2], true
}

// ParseDeclarations lists class-like and function declarations with the
// namespace in effect at each one. Comment and heredoc bodies are ignored.
func ParseDeclarations(content string) []Declaration {
	var state linescan.State
	namespace := ""
	declarations := make([]Declaration, 0)
	for index, raw := range SplitLines(content) {
		state.Update(raw)
		if state.Skippable() {
			continue
		}
		line := linescan.Clean(raw)
		if name, ok := MatchNamespace(line); ok {
			namespace = name
			continue
		}
		if kind, name, ok := MatchTypeDeclaration(line); ok {
			declarations = append(declarations, Declaration{Kind: kind, Name: name, Namespace: namespace, Line: index + 1})
			continue
		}
		if match := funcDeclPattern.FindStringSubmatch(line); match != nil {
			declarations = append(declarations, Declaration{Kind: DeclFunction, Name: match[1], Namespace: namespace, Line: index + 1})
		}
	}
	return declarations
}

// SplitLines splits content on newlines, dropping carriage returns.
func SplitLines(content string) []string {
	return safeio.SplitLines(content)
}
