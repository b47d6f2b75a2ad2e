package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ben-ranford/wpfatal/internal/finding"
)

const (
	sarifSchemaURI = "https://json.schemastore.org/sarif-2.1.0.json"
	sarifVersion   = "2.1.0"
	toolName       = "wpfatal"
	toolURI        = "https://github.com/ben-ranford/wpfatal"
)

type sarifLog struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool               sarifTool          `json:"tool"`
	AutomationDetails  *sarifAutomation   `json:"automationDetails,omitempty"`
	OriginalURIBaseIDs map[string]sarifID `json:"originalUriBaseIds,omitempty"`
	Results            []sarifResult      `json:"results"`
}

type sarifAutomation struct {
	GUID string `json:"guid"`
}

type sarifID struct {
	URI string `json:"uri"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	InformationURI string      `json:"informationUri,omitempty"`
	Version        string      `json:"version,omitempty"`
	Rules          []sarifRule `json:"rules,omitempty"`
}

type sarifRule struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name,omitempty"`
	ShortDescription     sarifMessage       `json:"shortDescription"`
	DefaultConfiguration *sarifRuleDefaults `json:"defaultConfiguration,omitempty"`
	Properties           map[string]any     `json:"properties,omitempty"`
}

type sarifRuleDefaults struct {
	Level string `json:"level"`
}

type sarifResult struct {
	RuleID              string            `json:"ruleId"`
	Level               string            `json:"level,omitempty"`
	Message             sarifMessage      `json:"message"`
	Locations           []sarifLocation   `json:"locations,omitempty"`
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
	Properties          map[string]any    `json:"properties,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           *sarifRegion          `json:"region,omitempty"`
}

type sarifArtifactLocation struct {
	URI       string `json:"uri"`
	URIBaseID string `json:"uriBaseId,omitempty"`
}

type sarifRegion struct {
	StartLine int `json:"startLine,omitempty"`
}

var kindDescriptions = map[finding.Kind]string{
	finding.KindUndefinedFunction:          "Call to a function that is not defined by PHP, WordPress or the plugin",
	finding.KindUndefinedClass:             "Reference to a class that is not defined by PHP, WordPress or the plugin",
	finding.KindClassAlreadyExists:         "Declaration of a class that is already loaded",
	finding.KindWordPressClassConflict:     "Declaration of a class that WordPress core already declares",
	finding.KindPHPClassConflict:           "Declaration of a class that PHP already declares",
	finding.KindDeprecatedPHPFeature:       "Language feature deprecated in the target PHP version",
	finding.KindRemovedPHPFeature:          "Language feature removed in the target PHP version",
	finding.KindPHPVersionRequirement:      "Feature or function requires a newer PHP version",
	finding.KindDeprecatedFunction:         "WordPress function deprecated in the target version",
	finding.KindRemovedFunction:            "WordPress function removed in the target version",
	finding.KindVersionRequirement:         "WordPress function requires a newer WordPress version",
	finding.KindDeprecatedHook:             "WordPress hook deprecated in the target version",
	finding.KindSyntaxError:                "PHP parse error reported by php -l",
	finding.KindFatalSyntaxError:           "PHP compile time fatal error reported by php -l",
	finding.KindMissingSemicolon:           "Statement that appears to lack a terminating semicolon",
	finding.KindUnmatchedBrackets:          "Line with unbalanced brackets",
	finding.KindTemplateMethodContextError: "Template calls a method on $this that may be unavailable when included elsewhere",
	finding.KindThisContextError:           "Template uses $this, which may be unset when included elsewhere",
}

func formatSARIF(rep Report) (string, error) {
	rules := make(map[finding.Kind]sarifRule)
	results := make([]sarifResult, 0, rep.Summary.TotalFindings)
	for _, combination := range rep.Combinations {
		for _, issue := range combination.Issues {
			if _, ok := rules[issue.Kind]; !ok {
				rules[issue.Kind] = newSARIFRule(issue.Kind)
			}
			results = append(results, newSARIFResult(combination, issue))
		}
	}
	sortSARIFResults(results)

	run := sarifRun{
		Tool: sarifTool{
			Driver: sarifDriver{
				Name:           toolName,
				InformationURI: toolURI,
				Version:        reportVersion(rep),
				Rules:          sortedRules(rules),
			},
		},
		Results: results,
	}
	if strings.TrimSpace(rep.RunID) != "" {
		run.AutomationDetails = &sarifAutomation{GUID: rep.RunID}
	}
	if strings.TrimSpace(rep.PluginRoot) != "" {
		run.OriginalURIBaseIDs = map[string]sarifID{"PLUGINROOT": {URI: fileURI(rep.PluginRoot)}}
	}

	payload, err := json.MarshalIndent(sarifLog{Schema: sarifSchemaURI, Version: sarifVersion, Runs: []sarifRun{run}}, "", "  ")
	if err != nil {
		return "", err
	}
	return string(payload) + "\n", nil
}

func reportVersion(rep Report) string {
	version := strings.TrimSpace(rep.SchemaVersion)
	if version == "" {
		version = SchemaVersion
	}
	return version
}

func ruleID(kind finding.Kind) string {
	return toolName + "/" + ruleName(kind)
}

func ruleName(kind finding.Kind) string {
	return strings.ReplaceAll(strings.ToLower(string(kind)), "_", "-")
}

func newSARIFRule(kind finding.Kind) sarifRule {
	description, ok := kindDescriptions[kind]
	if !ok {
		description = string(kind)
	}
	return sarifRule{
		ID:                   ruleID(kind),
		Name:                 ruleName(kind),
		ShortDescription:     sarifMessage{Text: description},
		DefaultConfiguration: &sarifRuleDefaults{Level: "error"},
		Properties:           map[string]any{"kind": string(kind)},
	}
}

func sortedRules(rules map[finding.Kind]sarifRule) []sarifRule {
	items := make([]sarifRule, 0, len(rules))
	for _, rule := range rules {
		items = append(items, rule)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func newSARIFResult(combination Combination, issue Issue) sarifResult {
	message := issue.Message
	if issue.Suggestion != "" {
		message += ". " + issue.Suggestion
	}
	location := sarifLocation{PhysicalLocation: sarifPhysicalLocation{
		ArtifactLocation: sarifArtifactLocation{URI: issue.RelativePath, URIBaseID: "PLUGINROOT"},
	}}
	if issue.Line > 0 {
		location.PhysicalLocation.Region = &sarifRegion{StartLine: issue.Line}
	}
	return sarifResult{
		RuleID:              ruleID(issue.Kind),
		Level:               severityToSARIFLevel(issue.Severity),
		Message:             sarifMessage{Text: message},
		Locations:           []sarifLocation{location},
		PartialFingerprints: map[string]string{"wpfatal/v1": issue.Fingerprint},
		Properties: map[string]any{
			"php":      combination.PHP,
			"wp":       combination.WP,
			"severity": string(issue.Severity),
		},
	}
}

func sortSARIFResults(results []sarifResult) {
	sort.SliceStable(results, func(i, j int) bool {
		left, right := resultLocationKey(results[i]), resultLocationKey(results[j])
		if left != right {
			return left < right
		}
		if results[i].RuleID != results[j].RuleID {
			return results[i].RuleID < results[j].RuleID
		}
		return results[i].Message.Text < results[j].Message.Text
	})
}

func resultLocationKey(result sarifResult) string {
	if len(result.Locations) == 0 {
		return ""
	}
	physical := result.Locations[0].PhysicalLocation
	line := 0
	if physical.Region != nil {
		line = physical.Region.StartLine
	}
	return fmt.Sprintf("%s:%09d", physical.ArtifactLocation.URI, line)
}

func severityToSARIFLevel(severity finding.Severity) string {
	switch severity {
	case finding.SeverityError:
		return "error"
	case finding.SeverityWarning:
		return "warning"
	default:
		return "note"
	}
}

func fileURI(path string) string {
	slashed := strings.ReplaceAll(path, "\\", "/")
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	uri := "file://" + slashed
	if !strings.HasSuffix(uri, "/") {
		uri += "/"
	}
	return uri
}
