package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
)

type Formatter struct {
	color bool
}

func NewFormatter() Formatter {
	return Formatter{}
}

// WithColor enables ANSI styling in the pretty format.
func (f Formatter) WithColor(enabled bool) Formatter {
	f.color = enabled
	return f
}

func (f Formatter) Format(report Report, format Format) (string, error) {
	switch format {
	case FormatTable:
		return formatTable(report), nil
	case FormatPretty:
		return formatPretty(report, f.color), nil
	case FormatJSON:
		payload, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return "", err
		}
		return string(payload) + "\n", nil
	case FormatSARIF:
		return formatSARIF(report)
	default:
		return "", ErrUnknownFormat
	}
}

func formatTable(report Report) string {
	var buffer bytes.Buffer
	appendSummary(&buffer, report)
	if report.Summary.TotalFindings == 0 {
		buffer.WriteString("No findings to report.\n")
		appendWarnings(&buffer, report)
		return buffer.String()
	}

	writer := tabwriter.NewWriter(&buffer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(writer, strings.Join([]string{"PHP", "WP", "Severity", "Kind", "Location", "Message"}, "\t"))
	for _, combination := range report.Combinations {
		for _, issue := range combination.Issues {
			_, _ = fmt.Fprintln(writer, formatTableRow(combination, issue))
		}
	}
	_ = writer.Flush()
	appendWarnings(&buffer, report)
	return buffer.String()
}

func formatTableRow(combination Combination, issue Issue) string {
	return strings.Join([]string{
		combination.PHP,
		combination.WP,
		string(issue.Severity),
		string(issue.Kind),
		fmt.Sprintf("%s:%d", issue.RelativePath, issue.Line),
		issue.Message,
	}, "\t")
}

func appendSummary(buffer *bytes.Buffer, report Report) {
	summary := report.Summary
	_, _ = fmt.Fprintf(
		buffer,
		"Summary: %d files, %d/%d combinations passed, %d findings",
		report.FilesScanned,
		summary.PassedCombinations,
		summary.Combinations,
		summary.TotalFindings,
	)
	if summary.Suppressed > 0 {
		_, _ = fmt.Fprintf(buffer, ", %d suppressed", summary.Suppressed)
	}
	if summary.Baselined > 0 {
		_, _ = fmt.Fprintf(buffer, ", %d baselined", summary.Baselined)
	}
	buffer.WriteString("\n")
	if len(report.Ecosystems) > 0 {
		buffer.WriteString("Ecosystems: ")
		buffer.WriteString(strings.Join(report.Ecosystems, ", "))
		buffer.WriteString("\n")
	}
	buffer.WriteString("\n")
}

func appendWarnings(buffer *bytes.Buffer, report Report) {
	if len(report.Warnings) == 0 {
		return
	}
	buffer.WriteString("\nWarnings:\n")
	for _, warning := range report.Warnings {
		buffer.WriteString("- ")
		buffer.WriteString(warning)
		buffer.WriteString("\n")
	}
}
