// Package suppress drops findings matched by user supplied CEL expressions.
//
// An expression sees the variables kind, severity, message, file (relative
// to the plugin root), line, suggestion, php, wp and context, and must
// evaluate to a bool.
package suppress

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/ben-ranford/wpfatal/internal/finding"
)

var ErrInvalidRule = errors.New("invalid suppress rule")

type Rule struct {
	Expression string
	program    cel.Program
}

// Rules is an ordered, compiled set of suppress expressions. The zero value
// matches nothing.
type Rules struct {
	rules []Rule
}

// Subject is the evaluation input for one finding.
type Subject struct {
	Finding finding.Finding
	Root    string
	PHP     string
	WP      string
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("message", cel.StringType),
		cel.Variable("file", cel.StringType),
		cel.Variable("line", cel.IntType),
		cel.Variable("suggestion", cel.StringType),
		cel.Variable("php", cel.StringType),
		cel.Variable("wp", cel.StringType),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
}

func Compile(expressions []string) (Rules, error) {
	if len(expressions) == 0 {
		return Rules{}, nil
	}
	env, err := newEnv()
	if err != nil {
		return Rules{}, fmt.Errorf("create suppress environment: %w", err)
	}
	rules := make([]Rule, 0, len(expressions))
	for _, expression := range expressions {
		trimmed := strings.TrimSpace(expression)
		if trimmed == "" {
			continue
		}
		ast, issues := env.Compile(trimmed)
		if issues != nil && issues.Err() != nil {
			return Rules{}, fmt.Errorf("%w %q: %v", ErrInvalidRule, trimmed, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return Rules{}, fmt.Errorf("%w %q: must evaluate to bool, got %s", ErrInvalidRule, trimmed, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return Rules{}, fmt.Errorf("%w %q: %v", ErrInvalidRule, trimmed, err)
		}
		rules = append(rules, Rule{Expression: trimmed, program: program})
	}
	return Rules{rules: rules}, nil
}

func (r Rules) Len() int {
	return len(r.rules)
}

// Match returns the first rule that suppresses the subject. Evaluation
// errors, such as a missing context key, count as no match.
func (r Rules) Match(subject Subject) (Rule, bool) {
	if len(r.rules) == 0 {
		return Rule{}, false
	}
	activation := subject.activation()
	for _, rule := range r.rules {
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			slog.Debug("suppress rule evaluation failed", "rule", rule.Expression, "error", err)
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return rule, true
		}
	}
	return Rule{}, false
}

// Filter drops suppressed findings and returns the kept ones with the
// number dropped.
func (r Rules) Filter(findings []finding.Finding, root, php, wp string) ([]finding.Finding, int) {
	if len(r.rules) == 0 {
		return findings, 0
	}
	kept := make([]finding.Finding, 0, len(findings))
	for _, item := range findings {
		if _, ok := r.Match(Subject{Finding: item, Root: root, PHP: php, WP: wp}); ok {
			continue
		}
		kept = append(kept, item)
	}
	return kept, len(findings) - len(kept)
}

func (s Subject) activation() map[string]any {
	context := s.Finding.Context
	if context == nil {
		context = map[string]any{}
	}
	return map[string]any{
		"kind":       string(s.Finding.Kind),
		"severity":   string(s.Finding.Severity),
		"message":    s.Finding.Message,
		"file":       s.Finding.RelativePath(s.Root),
		"line":       int64(s.Finding.Line),
		"suggestion": s.Finding.Suggestion,
		"php":        s.PHP,
		"wp":         s.WP,
		"context":    context,
	}
}
