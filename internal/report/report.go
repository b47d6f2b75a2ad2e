package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ben-ranford/wpfatal/internal/finding"
)

type Format string

const (
	FormatPretty Format = "pretty"
	FormatTable  Format = "table"
	FormatJSON   Format = "json"
	FormatSARIF  Format = "sarif"
)

const SchemaVersion = "1.0.0"

var ErrUnknownFormat = errors.New("unknown format")

func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(FormatPretty):
		return FormatPretty, nil
	case string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatSARIF):
		return FormatSARIF, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, value)
	}
}

type Report struct {
	SchemaVersion string             `json:"schemaVersion"`
	RunID         string             `json:"runId"`
	GeneratedAt   time.Time          `json:"generatedAt"`
	PluginRoot    string             `json:"pluginRoot"`
	PHPVersions   []string           `json:"phpVersions"`
	WPVersions    []string           `json:"wpVersions"`
	Severities    []finding.Severity `json:"severities"`
	ReportingMode string             `json:"reportingMode,omitempty"`
	Ecosystems    []string           `json:"ecosystems"`
	FilesScanned  int                `json:"filesScanned"`
	Combinations  []Combination      `json:"combinations"`
	Summary       Summary            `json:"summary"`
	Cache         *CacheMetadata     `json:"cache,omitempty"`
	Baseline      *BaselineMetadata  `json:"baseline,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
}

// Combination is the result of scanning the plugin against one PHP and
// WordPress version pair.
type Combination struct {
	PHP        string  `json:"php"`
	WP         string  `json:"wp"`
	Passed     bool    `json:"passed"`
	Issues     []Issue `json:"findings"`
	Suppressed int     `json:"suppressed,omitempty"`
	Baselined  int     `json:"baselined,omitempty"`
}

// Issue is a finding as reported, with its location relative to the
// plugin root and a line independent fingerprint.
type Issue struct {
	finding.Finding
	RelativePath string `json:"relativePath"`
	Fingerprint  string `json:"fingerprint"`
}

func NewIssue(item finding.Finding, root string) Issue {
	return Issue{Finding: item, RelativePath: item.RelativePath(root), Fingerprint: item.Fingerprint(root)}
}

func NewIssues(items []finding.Finding, root string) []Issue {
	issues := make([]Issue, 0, len(items))
	for _, item := range items {
		issues = append(issues, NewIssue(item, root))
	}
	return issues
}

type Summary struct {
	Combinations       int            `json:"combinations"`
	PassedCombinations int            `json:"passedCombinations"`
	FailedCombinations int            `json:"failedCombinations"`
	TotalFindings      int            `json:"totalFindings"`
	BySeverity         map[string]int `json:"bySeverity,omitempty"`
	ByKind             map[string]int `json:"byKind,omitempty"`
	Suppressed         int            `json:"suppressed,omitempty"`
	Baselined          int            `json:"baselined,omitempty"`
}

type CacheMetadata struct {
	Enabled      bool   `json:"enabled"`
	Path         string `json:"path,omitempty"`
	Hit          bool   `json:"hit"`
	Written      bool   `json:"written,omitempty"`
	Invalidation string `json:"invalidation,omitempty"`
}

type BaselineMetadata struct {
	Path      string `json:"path,omitempty"`
	Key       string `json:"key,omitempty"`
	Baselined int    `json:"baselined"`
}

// ComputeSummary derives the summary from combinations. A combination
// passes when no issue remains.
func ComputeSummary(combinations []Combination) Summary {
	summary := Summary{
		Combinations: len(combinations),
		BySeverity:   map[string]int{},
		ByKind:       map[string]int{},
	}
	for _, combination := range combinations {
		if len(combination.Issues) == 0 {
			summary.PassedCombinations++
		} else {
			summary.FailedCombinations++
		}
		summary.TotalFindings += len(combination.Issues)
		summary.Suppressed += combination.Suppressed
		summary.Baselined += combination.Baselined
		for _, issue := range combination.Issues {
			summary.BySeverity[string(issue.Severity)]++
			summary.ByKind[string(issue.Kind)]++
		}
	}
	return summary
}

// Finalize recomputes pass flags and the summary after combinations changed.
func (r *Report) Finalize() {
	for i := range r.Combinations {
		r.Combinations[i].Passed = len(r.Combinations[i].Issues) == 0
	}
	r.Summary = ComputeSummary(r.Combinations)
}

// Passed reports whether every combination passed.
func (r Report) Passed() bool {
	for _, combination := range r.Combinations {
		if len(combination.Issues) > 0 {
			return false
		}
	}
	return true
}

type kindCount struct {
	Kind  string
	Count int
}

// kindsByCount orders kinds by descending count, then name.
func kindsByCount(byKind map[string]int) []kindCount {
	items := make([]kindCount, 0, len(byKind))
	for kind, count := range byKind {
		items = append(items, kindCount{Kind: kind, Count: count})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Kind < items[j].Kind
	})
	return items
}

// groupByKind groups issues in first-seen kind order.
func groupByKind(issues []Issue) ([]finding.Kind, map[finding.Kind][]Issue) {
	order := make([]finding.Kind, 0)
	groups := make(map[finding.Kind][]Issue)
	for _, issue := range issues {
		if _, ok := groups[issue.Kind]; !ok {
			order = append(order, issue.Kind)
		}
		groups[issue.Kind] = append(groups[issue.Kind], issue)
	}
	return order, groups
}

func fatalOnly(severities []finding.Severity) bool {
	return len(severities) == 1 && severities[0] == finding.SeverityError
}

func severityNames(severities []finding.Severity) []string {
	names := make([]string, 0, len(severities))
	for _, severity := range severities {
		names = append(names, string(severity))
	}
	return names
}
