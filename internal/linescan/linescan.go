package linescan

import (
	"regexp"
	"strings"
)

var (
	closedBlockCommentPattern = regexp.MustCompile(`/\*.*?\*/`)
	lineCommentPattern        = regexp.MustCompile(`//.*$`)
	heredocStartPattern       = regexp.MustCompile(`<<<\s*(?:"(\w+)"|'(\w+)'|(\w+))\s*$`)
	scriptOpenPattern         = regexp.MustCompile(`(?i)<script[^>]*>`)
	scriptClosePattern        = regexp.MustCompile(`(?i)</script>`)
	doubleQuotedPattern       = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)
	singleQuotedPattern       = regexp.MustCompile(`'(?:[^'\\]|\\.)*'`)
)

// State tracks the non-executable spans a line-oriented scan must skip.
// The zero value is the state at the top of a file.
type State struct {
	InsideComment bool
	InsideHeredoc bool
	InsideScript  bool
	heredocMarker string
}

func (s *State) Reset() {
	*s = State{}
}

// Update advances the state past line. It must run before the line is
// evaluated so that span openers are already in effect.
func (s *State) Update(line string) {
	s.updateHeredoc(line)
	if !s.InsideHeredoc {
		s.updateComment(line)
	}
	s.updateScript(line)
}

// Skippable reports whether the current line sits in a comment or heredoc body.
func (s *State) Skippable() bool {
	return s.InsideComment || s.InsideHeredoc
}

func (s *State) updateHeredoc(line string) {
	if s.InsideHeredoc {
		if isHeredocEnd(line, s.heredocMarker) {
			s.InsideHeredoc = false
			s.heredocMarker = ""
		}
		return
	}
	if s.InsideComment {
		return
	}
	if match := heredocStartPattern.FindStringSubmatch(line); match != nil {
		for _, marker := range match[1:] {
			if marker != "" {
				s.InsideHeredoc = true
				s.heredocMarker = marker
				return
			}
		}
	}
}

func isHeredocEnd(line, marker string) bool {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimSuffix(trimmed, ";")
	return strings.TrimSpace(trimmed) == marker
}

func (s *State) updateComment(line string) {
	if !s.InsideComment {
		open := strings.LastIndex(line, "/*")
		if open >= 0 && !strings.Contains(line[open:], "*/") {
			s.InsideComment = true
		}
		return
	}
	if strings.Contains(line, "*/") {
		s.InsideComment = false
	}
}

func (s *State) updateScript(line string) {
	if scriptOpenPattern.MatchString(line) {
		s.InsideScript = true
	}
	if scriptClosePattern.MatchString(line) {
		s.InsideScript = false
	}
}

// StripComments removes single-line comments and closed block comments.
func StripComments(line string) string {
	line = closedBlockCommentPattern.ReplaceAllString(line, "")
	if strings.HasPrefix(strings.TrimSpace(line), "#") && !strings.HasPrefix(strings.TrimSpace(line), "#[") {
		return ""
	}
	return lineCommentPattern.ReplaceAllString(line, "")
}

// StripStrings collapses quoted literals to empty quotes.
func StripStrings(line string) string {
	line = doubleQuotedPattern.ReplaceAllString(line, `""`)
	return singleQuotedPattern.ReplaceAllString(line, `''`)
}

// Clean strips string bodies first so comment markers inside literals
// ("https://...") survive, then removes comments.
func Clean(line string) string {
	return StripComments(StripStrings(line))
}

// IsCommentLine reports lines that are comment text on their own.
func IsCommentLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "//"):
		return true
	case strings.HasPrefix(trimmed, "#") && !strings.HasPrefix(trimmed, "#["):
		return true
	case strings.HasPrefix(trimmed, "/*"), strings.HasPrefix(trimmed, "*"):
		return true
	default:
		return false
	}
}

var javaScriptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$\(\s*["'\w.#]`),
	regexp.MustCompile(`\bjQuery\s*\(`),
	regexp.MustCompile(`\bdocument\.\w+`),
	regexp.MustCompile(`\bwindow\.\w+`),
	regexp.MustCompile(`\bconsole\.\w+\s*\(`),
	regexp.MustCompile(`\.addEventListener\s*\(`),
	regexp.MustCompile(`\.each\s*\(`),
	regexp.MustCompile(`\bfunction\s*\([^)]*\)\s*\{[^}]*\}\s*\)`),
	regexp.MustCompile(`(?i)echo\s+["']\s*<script`),
	regexp.MustCompile(`(?i)<script\b`),
	regexp.MustCompile(`\b(?:var|let|const)\s+\w+\s*=`),
	regexp.MustCompile(`=>\s*\{`),
	regexp.MustCompile(`\.(?:on|off|click|ready|ajax|then|catch)\s*\(`),
}

var phpHookPattern = regexp.MustCompile(`\badd_(?:action|filter)\s*\(\s*["']`)

// IsJavaScript reports lines that look like JavaScript rather than PHP.
// Hook registrations with inline closures are always PHP.
func IsJavaScript(line string) bool {
	if phpHookPattern.MatchString(line) {
		return false
	}
	for _, pattern := range javaScriptPatterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}

var (
	cssTagPattern         = regexp.MustCompile(`(?i)<style\b|@media\b|@import\b`)
	cssFunctionPattern    = regexp.MustCompile(`\b(?:rgba?|hsla?|calc|url|translate[XYZ]?|rotate|scale|linear-gradient|radial-gradient)\s*\(`)
	cssRulePattern        = regexp.MustCompile(`^\s*[.#][\w-]+[^{(]*\{[^}]*:[^}]*\}?\s*$`)
	cssDeclarationPattern = regexp.MustCompile(`^\s*[\w-]+\s*:\s*[^;()]+;\s*$`)
)

// IsCSS reports lines that look like CSS.
func IsCSS(line string) bool {
	if cssTagPattern.MatchString(line) || cssFunctionPattern.MatchString(line) {
		return true
	}
	if strings.Contains(line, "$") {
		return false
	}
	return cssRulePattern.MatchString(line) || cssDeclarationPattern.MatchString(line)
}
