package detector

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ben-ranford/wpfatal/internal/finding"
	"github.com/ben-ranford/wpfatal/internal/linescan"
	"github.com/ben-ranford/wpfatal/internal/version"
)

// Change records the WordPress release a symbol changed in and what
// replaces it.
type Change struct {
	Version     string
	Replacement string
}

// WordPressTables hold the API changes the compatibility detector checks.
// Hooks are keyed by hook name and never consult the function tables.
type WordPressTables struct {
	Deprecated map[string]Change
	Removed    map[string]Change
	Required   map[string]string
	Hooks      map[string]Change
}

func DefaultWordPressTables() WordPressTables {
	return WordPressTables{
		Deprecated: map[string]Change{
			"get_bloginfo_rss":      {"2.2.0", "get_bloginfo"},
			"wp_get_links":          {"2.1.0", "get_bookmarks"},
			"get_links":             {"2.1.0", "get_bookmarks"},
			"get_links_list":        {"2.1.0", "wp_list_bookmarks"},
			"links_popup_script":    {"2.1.0", ""},
			"get_linkobjectsbyname": {"2.1.0", "get_bookmark_by_name"},
			"get_linkobjects":       {"2.1.0", "get_bookmarks"},
			"get_linksbyname":       {"2.1.0", "get_bookmarks"},
			"wp_get_linksbyname":    {"2.1.0", "get_bookmarks"},
			"get_autotoggle":        {"2.1.0", ""},
			"list_cats":             {"2.1.0", "wp_list_categories"},
			"wp_list_cats":          {"2.1.0", "wp_list_categories"},
			"dropdown_cats":         {"2.1.0", "wp_dropdown_categories"},
			"list_authors":          {"2.1.0", "wp_list_authors"},
			"wp_get_post_cats":      {"2.1.0", "wp_get_post_categories"},
			"wp_set_post_cats":      {"2.1.0", "wp_set_post_categories"},
			"get_archives":          {"2.1.0", "wp_get_archives"},
			"get_author_link":       {"2.1.0", "get_author_posts_url"},
			"link_pages":            {"2.1.0", "wp_link_pages"},
			"get_settings":          {"2.1.0", "get_option"},
			"permalink_link":        {"1.2.0", "the_permalink"},
			"permalink_single_rss":  {"2.3.0", "the_permalink_rss"},
			"get_link":              {"2.1.0", "get_bookmark"},
			"edit_link":             {"2.1.0", "get_edit_bookmark_link"},
			"get_linkrating":        {"2.1.0", ""},
			"get_linkcatname":       {"2.1.0", "get_category"},
			"wp_specialchars":       {"2.8.0", "esc_html"},
			"attribute_escape":      {"2.8.0", "esc_attr"},
			"clean_url":             {"3.0.0", "esc_url"},
			"js_escape":             {"2.8.0", "esc_js"},
		},
		Removed: map[string]Change{
			"get_profile":               {"2.5.0", "get_the_author_meta"},
			"get_usernumposts":          {"3.0.0", "count_user_posts"},
			"funky_javascript_callback": {"3.0.0", ""},
			"funky_javascript_fix":      {"3.0.0", ""},
			"is_taxonomy":               {"3.0.0", "taxonomy_exists"},
			"is_term":                   {"3.0.0", "term_exists"},
			"clean_url":                 {"3.0.0", "esc_url"},
			"js_escape":                 {"3.0.0", "esc_js"},
			"wp_specialchars":           {"2.8.0", "esc_html"},
			"attribute_escape":          {"2.8.0", "esc_attr"},
		},
		Required: map[string]string{
			"wp_enqueue_block_editor_assets":            "5.0.0",
			"wp_set_script_translations":                "5.0.0",
			"wp_get_environment_type":                   "5.5.0",
			"wp_is_application_passwords_available":     "5.6.0",
			"wp_get_duotone_filter_id":                  "5.9.0",
			"wp_get_global_settings":                    "5.9.0",
			"wp_get_global_styles":                      "5.9.0",
			"wp_theme_has_theme_json":                   "5.8.0",
			"wp_get_theme_data_custom_templates":        "5.9.0",
			"wp_get_theme_data_template_parts":          "5.9.0",
			"block_core_navigation_render_submenu_icon": "5.9.0",
			"wp_interactivity_config":                   "6.5.0",
			"wp_interactivity_state":                    "6.5.0",
			"wp_interactivity_data_wp_context":          "6.5.0",
		},
		Hooks: map[string]Change{},
	}
}

type symbolPattern struct {
	name    string
	pattern *regexp.Regexp
}

func compileCalls(names []string) []symbolPattern {
	sort.Strings(names)
	patterns := make([]symbolPattern, 0, len(names))
	for _, name := range names {
		patterns = append(patterns, symbolPattern{name: name, pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\s*\(`)})
	}
	return patterns
}

// WordPressCompatibility checks calls against deprecated, removed and
// version-gated WordPress APIs for the target WordPress version.
type WordPressCompatibility struct {
	sources  *Sources
	tables   WordPressTables
	calls    []symbolPattern
	hooks    []symbolPattern
	required []symbolPattern
}

func NewWordPressCompatibility(deps Dependencies, tables WordPressTables) *WordPressCompatibility {
	deps = deps.withDefaults()
	changed := make(map[string]struct{}, len(tables.Deprecated)+len(tables.Removed))
	for name := range tables.Deprecated {
		changed[name] = struct{}{}
	}
	for name := range tables.Removed {
		changed[name] = struct{}{}
	}
	names := make([]string, 0, len(changed))
	for name := range changed {
		names = append(names, name)
	}
	required := make([]string, 0, len(tables.Required))
	for name := range tables.Required {
		required = append(required, name)
	}
	hooks := make([]string, 0, len(tables.Hooks))
	for name := range tables.Hooks {
		hooks = append(hooks, name)
	}
	sort.Strings(hooks)
	hookPatterns := make([]symbolPattern, 0, len(hooks))
	for _, hook := range hooks {
		hookPatterns = append(hookPatterns, symbolPattern{name: hook, pattern: regexp.MustCompile(`["']` + regexp.QuoteMeta(hook) + `["']`)})
	}
	return &WordPressCompatibility{
		sources:  deps.Sources,
		tables:   tables,
		calls:    compileCalls(names),
		required: compileCalls(required),
		hooks:    hookPatterns,
	}
}

func (d *WordPressCompatibility) ID() string   { return IDWordPressCompat }
func (d *WordPressCompatibility) Name() string { return "WordPress Compatibility Detector" }

func (d *WordPressCompatibility) Detect(_ context.Context, path string, target Target) []finding.Finding {
	lines, ok := d.sources.Lines(path)
	if !ok {
		return nil
	}
	var state linescan.State
	var findings []finding.Finding
	for index, raw := range lines {
		state.Update(raw)
		if state.Skippable() || state.InsideScript {
			continue
		}
		line := linescan.Clean(raw)
		for _, call := range d.calls {
			if globalCall(line, call.pattern) {
				findings = append(findings, d.changedCall(call.name, path, index+1, target.WPVersion)...)
			}
		}
		for _, call := range d.required {
			required := d.tables.Required[call.name]
			if globalCall(line, call.pattern) && version.Below(target.WPVersion, required) {
				findings = append(findings, newFinding(finding.KindVersionRequirement,
					fmt.Sprintf("Function '%s' requires WordPress %s or higher", call.name, required), path, index+1, finding.SeverityError,
					fmt.Sprintf("Upgrade WordPress to version %s or higher, or use an alternative", required),
					map[string]any{"function": call.name, "required_version": required, "current_version": target.WPVersion}))
			}
		}
		if len(d.hooks) > 0 {
			findings = append(findings, d.deprecatedHooks(linescan.StripComments(raw), path, index+1, target.WPVersion)...)
		}
	}
	return findings
}

// changedCall reports removal when the target has reached it and the
// deprecation only otherwise.
func (d *WordPressCompatibility) changedCall(name, path string, line int, wpVersion string) []finding.Finding {
	if removed, ok := d.tables.Removed[name]; ok && version.AtLeast(wpVersion, removed.Version) {
		suggestion := "This function is no longer available"
		if removed.Replacement != "" {
			suggestion = fmt.Sprintf("Use '%s' instead", removed.Replacement)
		}
		return []finding.Finding{newFinding(finding.KindRemovedFunction,
			fmt.Sprintf("Function '%s' was removed in WordPress %s", name, removed.Version), path, line, finding.SeverityError, suggestion,
			map[string]any{"function": name, "removed_version": removed.Version, "replacement": removed.Replacement, "wp_version": wpVersion})}
	}
	if deprecated, ok := d.tables.Deprecated[name]; ok && version.AtLeast(wpVersion, deprecated.Version) {
		suggestion := "Find an alternative implementation"
		if deprecated.Replacement != "" {
			suggestion = fmt.Sprintf("Use '%s' instead", deprecated.Replacement)
		}
		return []finding.Finding{newFinding(finding.KindDeprecatedFunction,
			fmt.Sprintf("Function '%s' is deprecated since WordPress %s", name, deprecated.Version), path, line, finding.SeverityWarning, suggestion,
			map[string]any{"function": name, "deprecated_version": deprecated.Version, "replacement": deprecated.Replacement, "wp_version": wpVersion})}
	}
	return nil
}

func (d *WordPressCompatibility) deprecatedHooks(line, path string, number int, wpVersion string) []finding.Finding {
	var findings []finding.Finding
	for _, hook := range d.hooks {
		change := d.tables.Hooks[hook.name]
		if !hook.pattern.MatchString(line) || !version.AtLeast(wpVersion, change.Version) {
			continue
		}
		suggestion := "Find an alternative hook"
		if change.Replacement != "" {
			suggestion = fmt.Sprintf("Use '%s' instead", change.Replacement)
		}
		findings = append(findings, newFinding(finding.KindDeprecatedHook,
			fmt.Sprintf("Hook '%s' is deprecated since WordPress %s", hook.name, change.Version), path, number, finding.SeverityWarning, suggestion,
			map[string]any{"hook": hook.name, "deprecated_version": change.Version, "replacement": change.Replacement}))
	}
	return findings
}

// globalCall reports whether pattern matches a plain function call on a
// cleaned line. Matches after a method or static call operator, variable
// functions, namespaced calls and definitions do not count.
func globalCall(line string, pattern *regexp.Regexp) bool {
	for _, match := range pattern.FindAllStringIndex(line, -1) {
		before := line[:match[0]]
		if strings.Contains(before, "->") || strings.Contains(before, "::") {
			return false
		}
		if precededBy(line, match[0], "$\\") || definitionPrefix.MatchString(before) {
			continue
		}
		return true
	}
	return false
}
