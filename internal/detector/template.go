package detector

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/ben-ranford/wpfatal/internal/exceptions"
	"github.com/ben-ranford/wpfatal/internal/finding"
	"github.com/ben-ranford/wpfatal/internal/linescan"
)

const unknownWidget = "unknown_widget"

var (
	templateDirTokens = []string{"template", "views", "partials", "widgets", "elementor"}
	templateFilenames = setOf("default.php", "advanced.php", "post-list.php", "post-grid.php", "content.php", "item.php")
	numberedTemplate  = regexp.MustCompile(`^(?:preset|layout|style)-\d+\.php$`)
	thisAccessPattern = regexp.MustCompile(`\$this\s*->\s*([A-Za-z_]\w*)`)
)

// ajaxFatalMethods exist only on the Post_List widget class and are gone
// when a load more request renders the template on its own.
var ajaxFatalMethods = map[string]string{
	"render_post_meta_dates": "Replace with direct date rendering logic or pass the formatted date as a variable to the template. This method is only available in the Post_List widget class and will cause fatal errors during AJAX load more operations.",
	"get_last_modified_date": "Use get_the_modified_date() WordPress function directly or pass the modified date as a variable to the template. This method is only available in the Post_List widget class.",
}

var widgetAccessors = setOf(
	"render_meta", "render_content", "render_title", "render_excerpt", "render_image",
	"render_author", "render_categories", "render_tags", "get_settings", "get_id",
	"print_render_attribute_string", "add_render_attribute", "get_widget_settings",
	"get_widget_id", "render_widget_content",
)

var contextPrefixes = []string{"render_", "get_", "print_", "display_", "show_", "output_"}

// widgetTypes maps path fragments to widget tags, most specific first.
var widgetTypes = []struct{ fragment, widget string }{
	{"post-carousel", "post_carousel"},
	{"product-carousel", "product_carousel"},
	{"media-carousel", "media_carousel"},
	{"testimonial-carousel", "testimonial_carousel"},
	{"logo-carousel", "logo_carousel"},
	{"content-timeline", "content_timeline"},
	{"post-list", "post_list"},
	{"post-grid", "post_grid"},
	{"woo-account-dashboard", "woo_account_dashboard"},
	{"ld-courses", "ld_courses"},
}

// WidgetType derives the widget tag for a template path.
func WidgetType(path string) string {
	normalized := strings.ReplaceAll(strings.ToLower(filepath.ToSlash(path)), "_", "-")
	for _, entry := range widgetTypes {
		if strings.Contains(normalized, entry.fragment) {
			return entry.widget
		}
	}
	return unknownWidget
}

// IsTemplate reports whether path looks like a template partial. Directory
// names are judged relative to root so the checkout location never counts.
func IsTemplate(root, path string) bool {
	if _, ok := templateFilenames[strings.ToLower(filepath.Base(path))]; ok {
		return true
	}
	if numberedTemplate.MatchString(strings.ToLower(filepath.Base(path))) {
		return true
	}
	dir := strings.ToLower(filepath.ToSlash(filepath.Dir(relativeTo(root, path))))
	for _, segment := range strings.Split(dir, "/") {
		for _, token := range templateDirTokens {
			if strings.Contains(segment, token) {
				return true
			}
		}
	}
	return false
}

func relativeTo(root, path string) string {
	if root == "" {
		return path
	}
	if relative, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(relative, "..") {
		return relative
	}
	return path
}

type methodRisk int

const (
	riskNone methodRisk = iota
	riskPattern
	riskAccessor
	riskAjax
)

func classifyMethod(name string) methodRisk {
	if _, ok := ajaxFatalMethods[name]; ok {
		return riskAjax
	}
	if _, ok := widgetAccessors[strings.ToLower(name)]; ok {
		return riskAccessor
	}
	for _, prefix := range contextPrefixes {
		if strings.HasPrefix(name, prefix) {
			return riskPattern
		}
	}
	return riskNone
}

func (r methodRisk) severity() finding.Severity {
	switch r {
	case riskAjax:
		return finding.SeverityError
	case riskAccessor:
		return finding.SeverityWarning
	default:
		return finding.SeverityInfo
	}
}

// thisAccess is one $this-> use on a template line.
type thisAccess struct {
	name   string
	method bool
}

func thisAccesses(cleaned string) []thisAccess {
	var accesses []thisAccess
	seen := make(map[thisAccess]struct{})
	for _, match := range thisAccessPattern.FindAllStringSubmatchIndex(cleaned, -1) {
		access := thisAccess{
			name:   cleaned[match[2]:match[3]],
			method: strings.HasPrefix(strings.TrimLeft(cleaned[match[1]:], " \t"), "("),
		}
		if _, ok := seen[access]; ok {
			continue
		}
		seen[access] = struct{}{}
		accesses = append(accesses, access)
	}
	return accesses
}

// templateScan holds what both template detectors share: file access,
// the plugin root and widget exclusion handling.
type templateScan struct {
	ecosystems
	sources *Sources
	widgets *exceptions.WidgetManager

	mu   sync.RWMutex
	root string
}

func newTemplateScan(deps Dependencies) templateScan {
	deps = deps.withDefaults()
	return templateScan{sources: deps.Sources, widgets: deps.Widgets, root: deps.Sources.Root()}
}

func (s *templateScan) SetPluginRoot(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = root
}

func (s *templateScan) pluginRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// scan calls visit for each $this access on the code lines of a template.
func (s *templateScan) scan(path string, visit func(line int, raw string, access thisAccess)) {
	if !IsTemplate(s.pluginRoot(), path) {
		return
	}
	lines, ok := s.sources.Lines(path)
	if !ok {
		return
	}
	var state linescan.State
	for index, raw := range lines {
		state.Update(raw)
		if state.Skippable() || linescan.IsCommentLine(raw) {
			continue
		}
		for _, access := range thisAccesses(linescan.Clean(raw)) {
			visit(index+1, raw, access)
		}
	}
}

// filter applies widget exclusion rules. An include rule for any detected
// ecosystem keeps the finding untouched.
func (s *templateScan) filter(item finding.Finding, widget, member string) (finding.Finding, bool) {
	var excluded *exceptions.Decision
	var excludedBy string
	for _, eco := range s.detected().Sorted() {
		decision := s.widgets.ShouldExclude(eco, widget, member, string(item.Kind))
		if decision.Status == exceptions.StatusInclude {
			return item, true
		}
		if decision.Exclude && excluded == nil {
			excluded = &decision
			excludedBy = eco
		}
	}
	if excluded == nil {
		return item, true
	}
	if !s.widgets.ShouldShow(*excluded) {
		return finding.Finding{}, false
	}
	if s.widgets.Mode() == exceptions.ModeDebug {
		item = item.WithContext("exclusion", map[string]any{
			"ecosystem":    excludedBy,
			"widget_type":  widget,
			"reason":       excluded.Reason,
			"status":       string(excluded.Status),
			"future_proof": excluded.FutureProof,
		})
	}
	return item, true
}

// TemplateMethodContext flags widget methods called through $this in
// template partials.
type TemplateMethodContext struct {
	templateScan
}

func NewTemplateMethodContext(deps Dependencies) *TemplateMethodContext {
	return &TemplateMethodContext{templateScan: newTemplateScan(deps)}
}

func (d *TemplateMethodContext) ID() string   { return IDTemplateMethodContext }
func (d *TemplateMethodContext) Name() string { return "Template Method Context Detector" }

func (d *TemplateMethodContext) Detect(_ context.Context, path string, _ Target) []finding.Finding {
	widget := WidgetType(relativeTo(d.pluginRoot(), path))
	var findings []finding.Finding
	d.scan(path, func(line int, raw string, access thisAccess) {
		if !access.method {
			return
		}
		risk := classifyMethod(access.name)
		if risk == riskNone {
			return
		}
		details := map[string]any{
			"method":        access.name,
			"template_file": filepath.Base(path),
			"line_content":  strings.TrimSpace(raw),
			"widget_type":   widget,
		}
		var message, suggestion string
		switch risk {
		case riskAjax:
			message = fmt.Sprintf("EA Pro Post_List widget method '$this->%s()' called in template may cause fatal error during AJAX load more operations", access.name)
			suggestion = ajaxFatalMethods[access.name]
			details["issue_type"] = "ea_pro_ajax_context"
			details["widget_class"] = "Post_List"
			details["description"] = "This method exists only in the widget class context and will not be available when the template is included during AJAX load more operations"
		case riskAccessor:
			message = fmt.Sprintf("Widget method '$this->%s()' called in template may cause fatal error when template is included in different contexts", access.name)
			suggestion = accessorSuggestion(access.name)
			details["issue_type"] = "widget_context"
			details["description"] = "This method may not be available when the template is included outside of the widget class context"
		default:
			message = fmt.Sprintf("Method '$this->%s()' in template follows a pattern that may cause context errors", access.name)
			suggestion = "Verify that this method is available in all contexts where this template might be included, especially during AJAX operations"
			details["issue_type"] = "potential_context"
			details["description"] = "Method name pattern suggests it might be widget-specific"
		}
		item := newFinding(finding.KindTemplateMethodContextError, message, path, line, risk.severity(), suggestion, details)
		if item, ok := d.filter(item, widget, access.name); ok {
			findings = append(findings, item)
		}
	})
	return findings
}

func accessorSuggestion(method string) string {
	switch {
	case strings.HasPrefix(method, "render_"):
		return "Consider moving the rendering logic outside the template or ensuring the widget object is properly available in all contexts where this template is used."
	case strings.HasPrefix(method, "get_"):
		return "Call this method before including the template and pass the result as a variable, or use equivalent WordPress functions directly."
	default:
		return "Ensure this method is available in all contexts where this template might be included, or pass the required data as variables to the template."
	}
}

// ThisContext flags every risky $this use in template partials, property
// reads included.
type ThisContext struct {
	templateScan
}

func NewThisContext(deps Dependencies) *ThisContext {
	return &ThisContext{templateScan: newTemplateScan(deps)}
}

func (d *ThisContext) ID() string   { return IDThisContext }
func (d *ThisContext) Name() string { return "$this Context Detector" }

func (d *ThisContext) Detect(_ context.Context, path string, _ Target) []finding.Finding {
	widget := WidgetType(relativeTo(d.pluginRoot(), path))
	var findings []finding.Finding
	d.scan(path, func(line int, raw string, access thisAccess) {
		details := map[string]any{
			"template_file": filepath.Base(path),
			"line_content":  strings.TrimSpace(raw),
			"widget_type":   widget,
		}
		var item finding.Finding
		if access.method {
			risk := classifyMethod(access.name)
			if risk == riskNone {
				return
			}
			details["method"] = access.name
			item = newFinding(finding.KindThisContextError,
				fmt.Sprintf("Usage of '$this->%s()' in template file may cause fatal error when included in different contexts", access.name),
				path, line, risk.severity(),
				"Consider using static methods, passing the object as a parameter, or checking if $this is available before use", details)
		} else {
			details["property"] = access.name
			item = newFinding(finding.KindThisContextError,
				fmt.Sprintf("Usage of '$this->%s' in template file may cause fatal error when included in different contexts", access.name),
				path, line, finding.SeverityError,
				"Consider passing the property value as a variable to the template or checking if $this is available before use", details)
		}
		if item, ok := d.filter(item, widget, access.name); ok {
			findings = append(findings, item)
		}
	})
	return findings
}
