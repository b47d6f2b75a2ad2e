package exceptions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

type Status string

const (
	StatusExclude          Status = "exclude"
	StatusTemporaryExclude Status = "temporary_exclude"
	StatusInclude          Status = "include"
	StatusUnknown          Status = "unknown"
)

type Mode string

const (
	ModeFatalOnly Mode = "fatal_only"
	ModeAllErrors Mode = "all_errors"
	ModeDebug     Mode = "debug_mode"
)

// Wildcard matches every method or every error kind in a widget rule.
const Wildcard = "*"

var modeDescriptions = map[Mode]string{
	ModeFatalOnly: "Show only fatal errors (exclude known false positives)",
	ModeAllErrors: "Show all errors including excluded items for debugging",
	ModeDebug:     "Show all errors with exclusion status annotations",
}

func ParseMode(value string) (Mode, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := modeDescriptions[mode]; !ok {
		return "", fmt.Errorf("unknown reporting mode: %s", value)
	}
	return mode, nil
}

// Modes returns the reporting modes with their descriptions.
func Modes() map[Mode]string {
	modes := make(map[Mode]string, len(modeDescriptions))
	for mode, description := range modeDescriptions {
		modes[mode] = description
	}
	return modes
}

// WidgetRule suppresses template-context findings for one widget type.
type WidgetRule struct {
	Status      Status   `json:"status"`
	Reason      string   `json:"reason,omitempty"`
	Methods     []string `json:"methods"`
	ErrorTypes  []string `json:"error_types"`
	ReviewDate  string   `json:"review_date,omitempty"`
	FutureProof bool     `json:"future_proof"`
}

func (r WidgetRule) covers(method, errorKind string) bool {
	kindCovered := slices.Contains(r.ErrorTypes, errorKind) || slices.Contains(r.ErrorTypes, Wildcard)
	methodCovered := slices.Contains(r.Methods, method) || slices.Contains(r.Methods, Wildcard)
	return kindCovered && methodCovered
}

// Decision is the outcome of an exclusion lookup.
type Decision struct {
	Exclude     bool   `json:"exclude"`
	Reason      string `json:"reason"`
	Status      Status `json:"status"`
	FutureProof bool   `json:"future_proof"`
}

type widgetTable map[string]map[string]WidgetRule

func (t widgetTable) clone() widgetTable {
	next := make(widgetTable, len(t))
	for eco, widgets := range t {
		copied := make(map[string]WidgetRule, len(widgets))
		for widget, rule := range widgets {
			copied[widget] = rule
		}
		next[eco] = copied
	}
	return next
}

var (
	carouselReason = "Carousel widgets typically do not have load more functionality"
	bothKinds      = []string{"TEMPLATE_METHOD_CONTEXT_ERROR", "THIS_CONTEXT_ERROR"}
)

func defaultWidgetRules() widgetTable {
	carousel := func() WidgetRule {
		return WidgetRule{Status: StatusExclude, Reason: carouselReason, Methods: []string{Wildcard}, ErrorTypes: slices.Clone(bothKinds)}
	}
	include := func() WidgetRule {
		return WidgetRule{Status: StatusInclude, Reason: "Has load more functionality, errors are legitimate", Methods: []string{}, ErrorTypes: []string{}, FutureProof: true}
	}
	return widgetTable{
		"elementor": {
			"content_timeline": {
				Status:      StatusTemporaryExclude,
				Reason:      "No load more functionality currently, but may be added in future",
				Methods:     []string{Wildcard},
				ErrorTypes:  slices.Clone(bothKinds),
				ReviewDate:  "2024-12-01",
				FutureProof: true,
			},
			"post_carousel":        carousel(),
			"product_carousel":     carousel(),
			"media_carousel":       carousel(),
			"testimonial_carousel": carousel(),
			"logo_carousel":        carousel(),
			"post_list":            include(),
			"post_grid":            include(),
			"woo_account_dashboard": {
				Status:     StatusExclude,
				Reason:     "Account dashboard widgets typically do not have load more functionality",
				Methods:    []string{Wildcard},
				ErrorTypes: []string{"THIS_CONTEXT_ERROR", "TEMPLATE_METHOD_CONTEXT_ERROR"},
			},
			"ld_courses": {
				Status:     StatusExclude,
				Reason:     "LearnDash course widgets typically use pagination, not AJAX load more",
				Methods:    []string{Wildcard},
				ErrorTypes: []string{"THIS_CONTEXT_ERROR", "TEMPLATE_METHOD_CONTEXT_ERROR"},
			},
		},
	}
}

// WidgetManager holds widget exclusion rules and the active reporting
// mode. It is read-only once built; the With methods return copies.
type WidgetManager struct {
	rules     widgetTable
	temporary widgetTable
	mode      Mode
}

func NewWidgetManager() *WidgetManager {
	return &WidgetManager{rules: defaultWidgetRules(), temporary: widgetTable{}, mode: ModeFatalOnly}
}

func (m *WidgetManager) Mode() Mode {
	return m.mode
}

// WithMode returns a copy using mode. Unknown modes leave the mode unchanged.
func (m *WidgetManager) WithMode(mode Mode) *WidgetManager {
	next := m.copy()
	if _, ok := modeDescriptions[mode]; ok {
		next.mode = mode
	}
	return next
}

// WithTemporaryExclusion returns a copy with a temporary rule that takes
// precedence over the configured rule for the same widget.
func (m *WidgetManager) WithTemporaryExclusion(ecosystem, widgetType string, rule WidgetRule) *WidgetManager {
	if rule.Status == "" {
		rule.Status = StatusTemporaryExclude
	}
	if rule.Reason == "" {
		rule.Reason = "Temporary exclusion"
	}
	if rule.Methods == nil {
		rule.Methods = []string{}
	}
	if rule.ErrorTypes == nil {
		rule.ErrorTypes = []string{}
	}
	next := m.copy()
	eco := strings.ToLower(ecosystem)
	if next.temporary[eco] == nil {
		next.temporary[eco] = make(map[string]WidgetRule)
	}
	next.temporary[eco][widgetType] = rule
	return next
}

func (m *WidgetManager) copy() *WidgetManager {
	return &WidgetManager{rules: m.rules.clone(), temporary: m.temporary.clone(), mode: m.mode}
}

// ShouldExclude looks up the rule for a widget and reports whether the
// method and error kind are covered by it.
func (m *WidgetManager) ShouldExclude(ecosystem, widgetType, method, errorKind string) Decision {
	eco := strings.ToLower(ecosystem)
	rule, ok := m.temporary[eco][widgetType]
	if !ok {
		rule, ok = m.rules[eco][widgetType]
	}
	if !ok {
		return Decision{Status: StatusUnknown}
	}
	decision := Decision{Status: rule.Status, Reason: rule.Reason, FutureProof: rule.FutureProof}
	if rule.Status == StatusInclude {
		return decision
	}
	decision.Exclude = rule.covers(method, errorKind)
	return decision
}

// ShouldShow applies the reporting mode to an exclusion decision.
func (m *WidgetManager) ShouldShow(decision Decision) bool {
	switch m.mode {
	case ModeAllErrors, ModeDebug:
		return true
	default:
		return !decision.Exclude
	}
}

func (m *WidgetManager) WidgetRules(ecosystem string) map[string]WidgetRule {
	widgets := m.rules[strings.ToLower(ecosystem)]
	copied := make(map[string]WidgetRule, len(widgets))
	for widget, rule := range widgets {
		copied[widget] = rule
	}
	return copied
}

type Stats struct {
	TotalEcosystems     int `json:"total_ecosystems"`
	TotalWidgets        int `json:"total_widgets"`
	ExcludedWidgets     int `json:"excluded_widgets"`
	TemporaryExclusions int `json:"temporary_exclusions"`
	FutureProofWidgets  int `json:"future_proof_widgets"`
}

func (m *WidgetManager) Stats() Stats {
	stats := Stats{TotalEcosystems: len(m.rules)}
	for _, widgets := range m.rules {
		stats.TotalWidgets += len(widgets)
		for _, rule := range widgets {
			if rule.Status == StatusExclude || rule.Status == StatusTemporaryExclude {
				stats.ExcludedWidgets++
			}
			if rule.Status == StatusTemporaryExclude {
				stats.TemporaryExclusions++
			}
			if rule.FutureProof {
				stats.FutureProofWidgets++
			}
		}
	}
	return stats
}

const widgetConfigSchema = `{
  "type": "object",
  "properties": {
    "reporting_mode": {"type": "string", "enum": ["fatal_only", "all_errors", "debug_mode"]},
    "last_updated": {"type": "string"},
    "widget_exclusions": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {
          "type": "object",
          "properties": {
            "status": {"type": "string", "enum": ["exclude", "temporary_exclude", "include"]},
            "reason": {"type": "string"},
            "methods": {"type": "array", "items": {"type": "string"}},
            "error_types": {"type": "array", "items": {"type": "string"}},
            "review_date": {"type": "string"},
            "future_proof": {"type": "boolean"}
          },
          "additionalProperties": false
        }
      }
    }
  }
}`

var widgetSchemaLoader = gojsonschema.NewStringLoader(widgetConfigSchema)

type rawWidgetRule struct {
	Status      *Status  `json:"status"`
	Reason      *string  `json:"reason"`
	Methods     []string `json:"methods"`
	ErrorTypes  []string `json:"error_types"`
	ReviewDate  *string  `json:"review_date"`
	FutureProof *bool    `json:"future_proof"`
}

type rawWidgetConfig struct {
	WidgetExclusions map[string]map[string]rawWidgetRule `json:"widget_exclusions"`
	ReportingMode    *Mode                               `json:"reporting_mode"`
}

// ValidateWidgetConfig checks an overlay document against the schema.
func ValidateWidgetConfig(data []byte) error {
	result, err := gojsonschema.Validate(widgetSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate widget config: %w", err)
	}
	if result.Valid() {
		return nil
	}
	messages := make([]string, 0, len(result.Errors()))
	for _, item := range result.Errors() {
		messages = append(messages, item.String())
	}
	return fmt.Errorf("invalid widget config: %s", strings.Join(messages, "; "))
}

// WithOverlay deep-merges a JSON overlay onto a copy of m. Scalar rule
// fields replace existing values and method and error-kind lists are
// unioned.
func (m *WidgetManager) WithOverlay(data []byte) (*WidgetManager, error) {
	if err := ValidateWidgetConfig(data); err != nil {
		return nil, err
	}
	var raw rawWidgetConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse widget config: %w", err)
	}
	next := m.copy()
	for eco, widgets := range raw.WidgetExclusions {
		eco = strings.ToLower(eco)
		if next.rules[eco] == nil {
			next.rules[eco] = make(map[string]WidgetRule)
		}
		for widget, overlay := range widgets {
			next.rules[eco][widget] = mergeRule(next.rules[eco][widget], overlay)
		}
	}
	if raw.ReportingMode != nil {
		next.mode = *raw.ReportingMode
	}
	return next, nil
}

func mergeRule(base WidgetRule, overlay rawWidgetRule) WidgetRule {
	if overlay.Status != nil {
		base.Status = *overlay.Status
	}
	if base.Status == "" {
		base.Status = StatusExclude
	}
	if overlay.Reason != nil {
		base.Reason = *overlay.Reason
	}
	if overlay.ReviewDate != nil {
		base.ReviewDate = *overlay.ReviewDate
	}
	if overlay.FutureProof != nil {
		base.FutureProof = *overlay.FutureProof
	}
	base.Methods = unionStrings(base.Methods, overlay.Methods)
	base.ErrorTypes = unionStrings(base.ErrorTypes, overlay.ErrorTypes)
	return base
}

func unionStrings(base, extra []string) []string {
	result := make([]string, 0, len(base)+len(extra))
	result = append(result, base...)
	for _, item := range extra {
		if !slices.Contains(result, item) {
			result = append(result, item)
		}
	}
	return result
}

// LoadWidgetManager builds the default manager and applies the overlay at
// path when one is given. An unreadable or malformed overlay is logged and
// ignored so a bad config never stops a scan.
func LoadWidgetManager(path string) *WidgetManager {
	manager := NewWidgetManager()
	if strings.TrimSpace(path) == "" {
		return manager
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("ignoring widget exclusion config", "path", path, "error", err)
		return manager
	}
	merged, err := manager.WithOverlay(data)
	if err != nil {
		slog.Warn("ignoring widget exclusion config", "path", path, "error", err)
		return manager
	}
	return merged
}

type savedWidgetConfig struct {
	WidgetExclusions map[string]map[string]WidgetRule `json:"widget_exclusions"`
	ReportingMode    Mode                             `json:"reporting_mode"`
	LastUpdated      string                           `json:"last_updated"`
}

// Export renders the merged rule set as an overlay document.
func (m *WidgetManager) Export(now time.Time) ([]byte, error) {
	doc := savedWidgetConfig{
		WidgetExclusions: m.rules.clone(),
		ReportingMode:    m.mode,
		LastUpdated:      now.UTC().Format("2006-01-02 15:04:05"),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (m *WidgetManager) Save(path string, now time.Time) error {
	data, err := m.Export(now)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Widgets lists the configured widget types of an ecosystem in order.
func (m *WidgetManager) Widgets(ecosystem string) []string {
	widgets := make([]string, 0)
	for widget := range m.rules[strings.ToLower(ecosystem)] {
		widgets = append(widgets, widget)
	}
	sort.Strings(widgets)
	return widgets
}
