package detector

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ben-ranford/wpfatal/internal/ecosystem"
	"github.com/ben-ranford/wpfatal/internal/exceptions"
	"github.com/ben-ranford/wpfatal/internal/finding"
	"github.com/ben-ranford/wpfatal/internal/linescan"
	"github.com/ben-ranford/wpfatal/internal/phpsrc"
	"github.com/ben-ranford/wpfatal/internal/symbols"
	"github.com/ben-ranford/wpfatal/internal/version"
	"github.com/ben-ranford/wpfatal/internal/wpcontext"
)

// adminFunctions live in wp-admin/includes/plugin.php, which WordPress
// only loads on admin requests.
var adminFunctions = setOf(
	"is_plugin_active", "is_plugin_active_for_network", "is_plugin_inactive",
	"is_network_only_plugin", "activate_plugin", "activate_plugins",
	"deactivate_plugins", "delete_plugins", "validate_plugin",
	"get_plugins", "get_plugin_data", "get_mu_plugins", "get_dropins",
	"plugin_sandbox_scrape", "is_uninstallable_plugin",
)

// versionedFunctions map PHP functions to the release that introduced them.
var versionedFunctions = map[string]string{
	"str_contains":                "8.0.0",
	"str_starts_with":             "8.0.0",
	"str_ends_with":               "8.0.0",
	"array_key_first":             "7.3.0",
	"array_key_last":              "7.3.0",
	"is_countable":                "7.3.0",
	"hrtime":                      "7.3.0",
	"password_hash":               "5.5.0",
	"password_verify":             "5.5.0",
	"hash_equals":                 "5.6.0",
	"random_bytes":                "7.0.0",
	"random_int":                  "7.0.0",
	"intdiv":                      "7.0.0",
	"preg_replace_callback_array": "7.0.0",
	"array_is_list":               "8.1.0",
	"fsync":                       "8.1.0",
	"json_validate":               "8.3.0",
}

var wordpressFunctions = setOf(
	"wp_enqueue_script", "wp_enqueue_style", "wp_dequeue_script", "wp_dequeue_style",
	"add_action", "add_filter", "remove_action", "remove_filter",
	"get_option", "update_option", "delete_option",
	"get_post_meta", "update_post_meta", "delete_post_meta",
	"get_user_meta", "update_user_meta", "delete_user_meta",
	"wp_redirect", "wp_safe_redirect", "wp_die", "wp_error",
	"sanitize_text_field", "sanitize_email", "sanitize_url",
	"esc_html", "esc_attr", "esc_url", "esc_js",
	"wp_nonce_field", "wp_verify_nonce", "wp_create_nonce",
	"current_user_can", "is_user_logged_in", "get_current_user_id", "wp_get_current_user",
	"register_post_type", "register_taxonomy", "add_meta_box", "remove_meta_box",
	"wp_insert_post", "wp_update_post", "wp_delete_post",
	"get_posts", "get_post", "wp_query",
	"is_admin", "is_front_page", "is_home", "is_single", "is_page",
	"get_template_directory", "get_template_directory_uri",
	"get_stylesheet_directory", "get_stylesheet_directory_uri",
	"plugin_dir_path", "plugin_dir_url", "plugins_url",
	"__", "_e", "_n", "_x", "esc_html__", "esc_html_e", "esc_attr__", "esc_attr_e",
	"absint", "trailingslashit", "untrailingslashit", "load_plugin_textdomain",
	"dbdelta", "selected", "checked", "disabled", "submit_button", "settings_fields",
	"do_settings_sections", "shortcode_atts", "wpautop", "home_url", "site_url", "admin_url",
)

var wordpressPrefixes = []string{
	"wp_", "get_", "the_", "is_", "has_", "add_", "remove_",
	"do_", "apply_", "register_", "enqueue_", "dequeue_",
}

var callKeywords = setOf(
	"if", "else", "elseif", "while", "for", "foreach", "switch", "case", "default",
	"try", "catch", "finally", "class", "function", "fn", "interface", "trait", "enum",
	"namespace", "use", "echo", "print", "return", "throw", "include",
	"require", "include_once", "require_once", "isset", "empty", "unset",
	"array", "list", "exit", "die", "new", "clone", "instanceof",
	"match", "declare", "eval", "static", "self", "parent", "yield", "and", "or", "xor",
	"global", "const", "var", "abstract", "final", "readonly", "as", "insteadof",
)

var (
	callPattern          = regexp.MustCompile(`\b([A-Za-z_]\w*)\s*\(`)
	methodDefPattern     = regexp.MustCompile(`^\s*(?:(?:abstract|final|static|private|protected|public)\s+)+function\s+`)
	declarationPattern   = regexp.MustCompile(`^\s*(?:(?:abstract|final|readonly)\s+)*(?:class|interface|trait|namespace|use|enum)\s+`)
	definitionPrefix     = regexp.MustCompile(`\b(?:new|function|fn)\s*&?\s*$`)
	cssBlockPattern      = regexp.MustCompile(`\{[^}]*:[^}]*\}`)
	styleAttrPattern     = regexp.MustCompile(`style\s*=\s*["']`)
	stylesheetRefPattern = regexp.MustCompile(`["'][^"']*\.(?:css|scss|sass|less)["']`)
)

// UndefinedFunction flags calls to functions that neither the runtime,
// WordPress, a detected ecosystem nor the plugin itself provide.
type UndefinedFunction struct {
	ecosystems
	sources    *Sources
	symbols    *SymbolRegistry
	runtime    *symbols.Inventory
	exceptions *exceptions.DependencyManager
	context    *wpcontext.Analyzer
}

func NewUndefinedFunction(deps Dependencies) *UndefinedFunction {
	deps = deps.withDefaults()
	return &UndefinedFunction{
		sources:    deps.Sources,
		symbols:    deps.Symbols,
		runtime:    deps.Runtime,
		exceptions: deps.Exceptions,
		context:    deps.Context,
	}
}

func (d *UndefinedFunction) ID() string   { return IDUndefinedFunction }
func (d *UndefinedFunction) Name() string { return "Undefined Function Detector" }

func (d *UndefinedFunction) Detect(_ context.Context, path string, target Target) []finding.Finding {
	lines, ok := d.sources.Lines(path)
	if !ok {
		return nil
	}
	content, _ := d.sources.Content(path)
	imports := phpsrc.IndexImports(content)
	local := make(map[string]struct{})
	for _, decl := range phpsrc.ParseDeclarations(content) {
		if decl.Kind == phpsrc.DeclFunction {
			local[strings.ToLower(decl.Name)] = struct{}{}
		}
	}
	scope := callScope{path: path, lines: lines, target: target, local: local, imports: imports, detected: d.detected()}

	var state linescan.State
	var findings []finding.Finding
	for index, raw := range lines {
		state.Update(raw)
		if state.Skippable() || state.InsideScript {
			continue
		}
		for _, name := range extractCalls(raw) {
			if item, ok := d.classify(scope, name, index+1); ok {
				findings = append(findings, item)
			}
		}
	}
	return findings
}

// callScope is the per-file input shared by every call on the file.
type callScope struct {
	path     string
	lines    []string
	target   Target
	local    map[string]struct{}
	imports  phpsrc.Imports
	detected ecosystem.Set
}

func (d *UndefinedFunction) classify(scope callScope, name string, line int) (finding.Finding, bool) {
	path, target := scope.path, scope.target
	lower := strings.ToLower(name)
	if _, ok := adminFunctions[lower]; ok {
		where := d.context.Classify(scope.lines, line, name)
		return newFinding(finding.KindUndefinedFunction, fmt.Sprintf("Call to undefined function '%s'", name), path, line,
			wpcontext.Severity(where), wpcontext.Suggestion(where, name),
			map[string]any{"function": name, "wp_context": string(where), "php_version": target.PHPVersion, "wp_version": target.WPVersion}), true
	}
	if _, ok := scope.local[lower]; ok {
		return finding.Finding{}, false
	}
	if _, ok := scope.imports.Function(name); ok || d.symbols.HasFunction(name) {
		return finding.Finding{}, false
	}
	if required, ok := versionedFunctions[lower]; ok {
		if !version.Below(target.PHPVersion, required) {
			return finding.Finding{}, false
		}
		return newFinding(finding.KindPHPVersionRequirement, fmt.Sprintf("Function '%s' requires PHP %s or higher", name, required), path, line,
			finding.SeverityError, fmt.Sprintf("Upgrade PHP to version %s or higher, or use an alternative", required),
			map[string]any{"function": name, "required_version": required, "php_version": target.PHPVersion}), true
	}
	if d.runtime.HasFunction(name) {
		return finding.Finding{}, false
	}
	if _, ok := wordpressFunctions[lower]; ok {
		return finding.Finding{}, false
	}
	if d.exceptions.IsFunctionExcepted(name, scope.detected) || hasWordPressPrefix(lower) {
		return finding.Finding{}, false
	}
	return newFinding(finding.KindUndefinedFunction, fmt.Sprintf("Call to undefined function '%s'", name), path, line,
		finding.SeverityError, fmt.Sprintf("Check if function '%s' is defined or include the required file/library", name),
		map[string]any{"function": name, "php_version": target.PHPVersion, "wp_version": target.WPVersion}), true
}

func hasWordPressPrefix(name string) bool {
	for _, prefix := range wordpressPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// extractCalls returns the distinct bare function names called on raw.
// Lines holding method or static calls are skipped entirely.
func extractCalls(raw string) []string {
	if linescan.IsJavaScript(raw) || linescan.IsCSS(raw) || styleAttrPattern.MatchString(raw) || stylesheetRefPattern.MatchString(raw) {
		return nil
	}
	if methodDefPattern.MatchString(raw) || declarationPattern.MatchString(raw) || strings.HasPrefix(strings.TrimSpace(raw), "#[") {
		return nil
	}
	line := linescan.Clean(raw)
	if strings.Contains(line, "->") || strings.Contains(line, "::") || cssBlockPattern.MatchString(line) {
		return nil
	}

	var names []string
	seen := make(map[string]struct{})
	for _, match := range callPattern.FindAllStringSubmatchIndex(line, -1) {
		start := match[2]
		name := line[match[2]:match[3]]
		if precededBy(line, start, ".$>") || qualified(line, start) {
			continue
		}
		if definitionPrefix.MatchString(strings.TrimSuffix(line[:start], `\`)) {
			continue
		}
		if _, ok := callKeywords[strings.ToLower(name)]; ok || isMagicName(name) {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// qualified reports a namespaced call such as Ns\f(). A lone leading
// backslash marks a global call and is not qualified.
func qualified(line string, start int) bool {
	if !precededBy(line, start, `\`) || start < 2 {
		return false
	}
	previous := line[start-2]
	return previous == '_' || previous >= '0' && previous <= '9' || previous >= 'A' && previous <= 'Z' || previous >= 'a' && previous <= 'z'
}

// isMagicName matches __construct style names, not the __() translator.
func isMagicName(name string) bool {
	return len(name) > 2 && strings.HasPrefix(name, "__") && name != "__"
}

func setOf(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[strings.ToLower(value)] = struct{}{}
	}
	return set
}
