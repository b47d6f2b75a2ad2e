package detector

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/ben-ranford/wpfatal/internal/finding"
	"github.com/ben-ranford/wpfatal/internal/linescan"
	"github.com/ben-ranford/wpfatal/internal/phplint"
)

// Syntax runs the lint binary as ground truth and adds two conservative
// line heuristics: missing semicolons and unbalanced brackets.
type Syntax struct {
	sources *Sources
	linter  Linter
	lints   sync.Map
}

func NewSyntax(deps Dependencies) *Syntax {
	deps = deps.withDefaults()
	return &Syntax{sources: deps.Sources, linter: deps.Linter}
}

func (d *Syntax) ID() string   { return IDSyntax }
func (d *Syntax) Name() string { return "Syntax Error Detector" }

func (d *Syntax) Detect(ctx context.Context, path string, _ Target) []finding.Finding {
	lines, ok := d.sources.Lines(path)
	if !ok {
		return nil
	}
	findings := d.lint(ctx, path)
	return append(findings, checkLines(path, lines)...)
}

// lint results depend only on the file, so they are memoized across
// version combinations.
func (d *Syntax) lint(ctx context.Context, path string) []finding.Finding {
	if d.linter == nil {
		return nil
	}
	if cached, ok := d.lints.Load(path); ok {
		return append([]finding.Finding(nil), cached.([]finding.Finding)...)
	}
	diagnostics, err := d.linter.Lint(ctx, path)
	if err != nil {
		slog.Debug("php lint unavailable", "path", path, "error", err)
		if ctx.Err() == nil {
			d.lints.Store(path, []finding.Finding(nil))
		}
		return nil
	}
	findings := make([]finding.Finding, 0, len(diagnostics))
	for _, diagnostic := range diagnostics {
		kind, suggestion := finding.KindSyntaxError, "Fix the syntax error in the specified line"
		if diagnostic.Kind == phplint.FatalError {
			kind, suggestion = finding.KindFatalSyntaxError, "Fix the fatal syntax error in the specified line"
		}
		findings = append(findings, newFinding(kind, diagnostic.Message, path, diagnostic.Line, finding.SeverityError, suggestion, nil))
	}
	d.lints.Store(path, findings)
	return append([]finding.Finding(nil), findings...)
}

var (
	controlHeaderPattern  = regexp.MustCompile(`^(?:if|else|elseif|while|for|foreach|switch|case|default|try|catch|finally|do|match|function|fn|class|interface|trait|enum|namespace|use|abstract|final|readonly|public|private|protected|static|declare|goto)\b`)
	heredocStartPattern   = regexp.MustCompile(`<<<\s*["']?\w+["']?\s*$`)
	hookCallPattern       = regexp.MustCompile(`\b(?:add_(?:action|filter)|do_action|apply_filters|wp_enqueue_(?:script|style))\s*\(`)
	openCallPattern       = regexp.MustCompile(`\w+\s*\([^)]*$`)
	assignmentPattern     = regexp.MustCompile(`^\$\w+\s*(?:\[[^\]]*\]\s*)*(?:[.+\-*/]?=)\s*[^=>]`)
	outputPattern         = regexp.MustCompile(`^(?:echo|print|throw|return)\s+\S`)
	trailingOperator      = regexp.MustCompile(`(?:[.+\-*/=?%&|^<>!]|\b(?:and|or|xor|new|instanceof))\s*$`)
	leadingContinuation   = regexp.MustCompile(`^(?:[.?:+\-*/%&|)\]]|->|=>|(?:and|or|xor)\b)`)
	statementStartPattern = regexp.MustCompile(`^(?:\$\w+|echo\b|print\b|return\b|[A-Za-z_]\w*\s*\()`)
	closingOnlyPattern    = regexp.MustCompile(`^[)\]}]+\s*;?$`)
	openingOnlyPattern    = regexp.MustCompile(`^[(\[{]+$`)
	arrayLiteralPattern   = regexp.MustCompile(`\barray\s*\(`)
	phpTagPattern         = regexp.MustCompile(`^<\?(?:php|=)?|\?>$`)
)

type codeLine struct {
	number  int
	raw     string
	cleaned string
}

// checkLines collects code lines first so each heuristic can see the
// neighbouring statements.
func checkLines(path string, lines []string) []finding.Finding {
	var state linescan.State
	code := make([]codeLine, 0, len(lines))
	for index, raw := range lines {
		state.Update(raw)
		if state.Skippable() || state.InsideScript || linescan.IsCommentLine(raw) {
			continue
		}
		cleaned := strings.TrimSpace(linescan.Clean(raw))
		if cleaned == "" {
			continue
		}
		code = append(code, codeLine{number: index + 1, raw: strings.TrimSpace(raw), cleaned: cleaned})
	}

	var findings []finding.Finding
	for i, current := range code {
		continuation := i > 0 && continues(code[i-1].cleaned)
		if continuation || linescan.IsJavaScript(current.raw) || linescan.IsCSS(current.raw) {
			continue
		}
		var next string
		if i+1 < len(code) {
			next = code[i+1].cleaned
		}
		if missingSemicolon(current, next) {
			findings = append(findings, newFinding(finding.KindMissingSemicolon, "Possible missing semicolon", path, current.number, finding.SeverityWarning, "Add semicolon at the end of the statement", nil))
		}
		if unmatchedBrackets(current) {
			findings = append(findings, newFinding(finding.KindUnmatchedBrackets, "Possible unmatched brackets", path, current.number, finding.SeverityWarning, "Check bracket matching in this line", nil))
		}
	}
	return findings
}

// continues reports whether a statement started on line carries on to the
// next line.
func continues(cleaned string) bool {
	if phpTagPattern.MatchString(cleaned) {
		return false
	}
	if strings.ContainsAny(cleaned[len(cleaned)-1:], ",([") || trailingOperator.MatchString(cleaned) {
		return true
	}
	switch cleaned[len(cleaned)-1] {
	case ';', '{', '}':
		return false
	}
	open := strings.Count(cleaned, "(") + strings.Count(cleaned, "[")
	closed := strings.Count(cleaned, ")") + strings.Count(cleaned, "]")
	return open > closed
}

func missingSemicolon(line codeLine, next string) bool {
	text := line.cleaned
	switch {
	case phpTagPattern.MatchString(text), strings.Contains(line.raw, "?>"):
		return false
	case controlHeaderPattern.MatchString(text), heredocStartPattern.MatchString(line.raw):
		return false
	case strings.ContainsAny(text[len(text)-1:], ";{}[](,"):
		return false
	case strings.ContainsAny(text[:1], ")]}"):
		return false
	case hookCallPattern.MatchString(text), openCallPattern.MatchString(text):
		return false
	case trailingOperator.MatchString(text):
		return false
	case next != "" && leadingContinuation.MatchString(next):
		return false
	case oddQuotes(line.raw):
		return false
	}
	return assignmentPattern.MatchString(text) || outputPattern.MatchString(text)
}

func oddQuotes(raw string) bool {
	stripped := linescan.StripStrings(raw)
	return strings.Count(stripped, `"`)%2 == 1 || strings.Count(stripped, "'")%2 == 1
}

// unmatchedBrackets flags a complete statement whose bracket counts differ
// by one to three. Every shape that legitimately spans lines is treated as
// safe.
func unmatchedBrackets(line codeLine) bool {
	text := line.cleaned
	open := strings.Count(text, "(") + strings.Count(text, "[") + strings.Count(text, "{")
	closed := strings.Count(text, ")") + strings.Count(text, "]") + strings.Count(text, "}")
	imbalance := open - closed
	if imbalance < 0 {
		imbalance = -imbalance
	}
	if imbalance == 0 || imbalance > 3 {
		return false
	}
	switch {
	case closingOnlyPattern.MatchString(text), openingOnlyPattern.MatchString(text):
		return false
	case strings.HasSuffix(text, ","):
		return false
	case strings.ContainsAny(text[:1], ")]}"):
		return false
	case strings.ContainsAny(text[len(text)-1:], "([{"):
		return false
	case controlHeaderPattern.MatchString(text):
		return false
	case arrayLiteralPattern.MatchString(text):
		return false
	case oddQuotes(line.raw):
		return false
	}
	return strings.HasSuffix(text, ";") && statementStartPattern.MatchString(text)
}
