package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/ben-ranford/wpfatal/internal/finding"
)

type palette struct {
	title   lipgloss.Style
	heading lipgloss.Style
	dim     lipgloss.Style
	hint    lipgloss.Style
	pass    lipgloss.Style
	fail    lipgloss.Style
	fatal   lipgloss.Style
	warning lipgloss.Style
	info    lipgloss.Style
	count   lipgloss.Style
}

func newPalette(color bool) palette {
	renderer := lipgloss.NewRenderer(io.Discard)
	if color {
		renderer.SetColorProfile(termenv.ANSI256)
	} else {
		renderer.SetColorProfile(termenv.Ascii)
	}
	return palette{
		title:   renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B82F6")),
		heading: renderer.NewStyle().Bold(true),
		dim:     renderer.NewStyle().Foreground(lipgloss.Color("#64748B")),
		hint:    renderer.NewStyle().Foreground(lipgloss.Color("#60A5FA")),
		pass:    renderer.NewStyle().Foreground(lipgloss.Color("#10B981")),
		fail:    renderer.NewStyle().Foreground(lipgloss.Color("#F87171")),
		fatal:   renderer.NewStyle().Foreground(lipgloss.Color("#F87171")),
		warning: renderer.NewStyle().Foreground(lipgloss.Color("#FBBF24")),
		info:    renderer.NewStyle().Foreground(lipgloss.Color("#60A5FA")),
		count:   renderer.NewStyle().Foreground(lipgloss.Color("#22D3EE")),
	}
}

func (p palette) severity(severity finding.Severity) lipgloss.Style {
	switch severity {
	case finding.SeverityError:
		return p.fatal
	case finding.SeverityWarning:
		return p.warning
	default:
		return p.info
	}
}

func severityIcon(severity finding.Severity) string {
	switch severity {
	case finding.SeverityError:
		return "🔴"
	case finding.SeverityWarning:
		return "🟡"
	case finding.SeverityInfo:
		return "🔵"
	default:
		return "⚪"
	}
}

func formatPretty(report Report, color bool) string {
	styles := newPalette(color)
	var b strings.Builder
	b.WriteString(styles.title.Render("WordPress plugin fatal error scan"))
	b.WriteString("\n")
	b.WriteString(styles.dim.Render("Plugin: " + report.PluginRoot))
	b.WriteString("\n")
	if len(report.Ecosystems) > 0 {
		b.WriteString(styles.dim.Render("Ecosystems: " + strings.Join(report.Ecosystems, ", ")))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for _, combination := range report.Combinations {
		writeCombination(&b, styles, combination)
	}
	writePrettySummary(&b, styles, report)

	if len(report.Warnings) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.heading.Render("Warnings:"))
		b.WriteString("\n")
		for _, warning := range report.Warnings {
			b.WriteString("   - " + warning + "\n")
		}
	}
	return b.String()
}

func writeCombination(b *strings.Builder, styles palette, combination Combination) {
	label := fmt.Sprintf("PHP %s, WordPress %s", combination.PHP, combination.WP)
	if len(combination.Issues) == 0 {
		b.WriteString(styles.pass.Render("✅ " + label + ": pass"))
		b.WriteString("\n")
		return
	}
	b.WriteString(styles.warning.Render("   Errors found on " + label + ":"))
	b.WriteString("\n")
	b.WriteString(styles.dim.Render("   " + strings.Repeat("-", 50)))
	b.WriteString("\n")

	order, groups := groupByKind(combination.Issues)
	for _, kind := range order {
		issues := groups[kind]
		b.WriteString(styles.count.Render(fmt.Sprintf("   📋 %s (%d error(s)):", kind, len(issues))))
		b.WriteString("\n")
		for _, issue := range issues {
			writeIssue(b, styles, issue)
		}
		b.WriteString("\n")
	}
}

func writeIssue(b *strings.Builder, styles palette, issue Issue) {
	b.WriteString("      " + severityIcon(issue.Severity) + " " + styles.severity(issue.Severity).Render(issue.Message))
	b.WriteString("\n")
	b.WriteString("        " + styles.dim.Render(fmt.Sprintf("Location: %s:%d", issue.File, issue.Line)))
	b.WriteString("\n")
	if issue.RelativePath != "" && issue.RelativePath != issue.File {
		b.WriteString("        " + styles.dim.Render(fmt.Sprintf("Relative: %s:%d", issue.RelativePath, issue.Line)))
		b.WriteString("\n")
	}
	if issue.Suggestion != "" {
		b.WriteString("        " + styles.hint.Render("💡 Suggestion: "+issue.Suggestion))
		b.WriteString("\n")
	}
	if details := formatContext(issue.Context); details != "" {
		b.WriteString("        " + styles.dim.Render("ℹ️  Context: "+details))
		b.WriteString("\n")
	}
}

// formatContext renders scalar context values as sorted key: value pairs.
func formatContext(values map[string]any) string {
	keys := make([]string, 0, len(values))
	for key, value := range values {
		switch value.(type) {
		case string, int, int64, float64, bool:
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", key, values[key]))
	}
	return strings.Join(parts, ", ")
}

func writePrettySummary(b *strings.Builder, styles palette, report Report) {
	summary := report.Summary
	b.WriteString("\n")
	b.WriteString(styles.heading.Render("📊 SUMMARY"))
	b.WriteString("\n")
	b.WriteString(styles.dim.Render(strings.Repeat("=", 50)))
	b.WriteString("\n\n")

	if fatalOnly(report.Severities) {
		b.WriteString(styles.hint.Render("🔍 Filter: Showing fatal errors only (use --show-all-errors to see warnings)"))
	} else {
		b.WriteString(styles.hint.Render("🔍 Filter: Showing severity levels: " + strings.Join(severityNames(report.Severities), ", ")))
	}
	b.WriteString("\n\n")

	if summary.TotalFindings == 0 {
		text := "No errors detected"
		if fatalOnly(report.Severities) {
			text = "No fatal errors detected"
		}
		b.WriteString(styles.pass.Render("✅ Excellent! " + text + "."))
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("   Files scanned: %d\n", report.FilesScanned))
		b.WriteString("   PHP versions tested: " + styles.count.Render(strings.Join(report.PHPVersions, ", ")) + "\n")
		b.WriteString("   WordPress versions tested: " + styles.count.Render(strings.Join(report.WPVersions, ", ")) + "\n")
		writeFilteredCounts(b, summary)
		return
	}

	label := "Errors"
	if fatalOnly(report.Severities) {
		label = "Fatal errors"
	}
	b.WriteString(styles.fail.Render(fmt.Sprintf("❌ %s detected: %d total", label, summary.TotalFindings)))
	b.WriteString("\n\n")

	b.WriteString(styles.heading.Render("📈 Breakdown by severity:"))
	b.WriteString("\n")
	for _, severity := range []finding.Severity{finding.SeverityError, finding.SeverityWarning, finding.SeverityInfo} {
		if count := summary.BySeverity[string(severity)]; count > 0 || severity != finding.SeverityInfo {
			b.WriteString(fmt.Sprintf("   %s %s: %s\n", severityIcon(severity), severity, styles.severity(severity).Render(fmt.Sprint(count))))
		}
	}
	b.WriteString("\n")

	b.WriteString(styles.heading.Render("📋 Breakdown by kind:"))
	b.WriteString("\n")
	for _, item := range kindsByCount(summary.ByKind) {
		b.WriteString(fmt.Sprintf("   • %s: %s\n", item.Kind, styles.count.Render(fmt.Sprint(item.Count))))
	}
	b.WriteString("\n")

	b.WriteString(styles.heading.Render("🔍 Version compatibility matrix:"))
	b.WriteString("\n")
	for _, combination := range report.Combinations {
		status := styles.pass.Render("✅ Pass")
		if count := len(combination.Issues); count > 0 {
			status = styles.fail.Render(fmt.Sprintf("❌ %d error(s)", count))
		}
		b.WriteString(fmt.Sprintf("   PHP %s + WordPress %s: %s\n", combination.PHP, combination.WP, status))
	}
	writeFilteredCounts(b, summary)

	b.WriteString("\n")
	b.WriteString(styles.heading.Render("💡 Recommendations:"))
	b.WriteString("\n")
	b.WriteString("   1. Fix all " + styles.fatal.Render("error-level") + " issues before deploying to production\n")
	b.WriteString("   2. Address " + styles.warning.Render("warning-level") + " issues to ensure future compatibility\n")
	b.WriteString("   3. Test your fixes by running the tool again\n")
	b.WriteString("   4. Consider running the scan in CI for continuous compatibility checking\n")
}

func writeFilteredCounts(b *strings.Builder, summary Summary) {
	if summary.Suppressed > 0 {
		b.WriteString(fmt.Sprintf("   Suppressed findings: %d\n", summary.Suppressed))
	}
	if summary.Baselined > 0 {
		b.WriteString(fmt.Sprintf("   Baselined findings: %d\n", summary.Baselined))
	}
}
