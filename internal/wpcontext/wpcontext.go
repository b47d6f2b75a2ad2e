package wpcontext

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/ben-ranford/wpfatal/internal/finding"
	"github.com/ben-ranford/wpfatal/internal/phpsrc"
)

// Context classifies where a call site executes.
type Context string

const (
	Admin       Context = "admin"
	Frontend    Context = "frontend"
	Conditional Context = "conditional"
	Ambiguous   Context = "ambiguous"
	Unknown     Context = "unknown"
)

const (
	windowBefore       = 10
	windowAfter        = 10
	editorWindowBefore = 50
	editorWindowAfter  = 10
)

var adminHooks = []string{
	"admin_init", "admin_menu", "admin_head", "admin_footer", "admin_enqueue_scripts",
	"admin_notices", "admin_bar_menu", "admin_post_", "wp_ajax_", "wp_ajax_nopriv_",
	"load-", "admin_action_", "wp_dashboard_setup", "admin_page_", "edit_form_",
	"save_post", "delete_post", "wp_insert_post", "pre_get_posts",
	"manage_posts_columns", "manage_pages_columns", "manage_users_columns",
	"bulk_actions-", "handle_bulk_actions-", "admin_print_styles", "admin_print_scripts",
	"elementor/editor/footer", "elementor/editor/before_enqueue_scripts", "elementor/editor/after_enqueue_scripts",
	"elementor/editor/wp_head", "elementor/editor/before_enqueue_styles", "elementor/editor/after_enqueue_styles",
	"elementor/preview/enqueue_styles", "elementor/frontend/after_enqueue_styles",
}

var frontendHooks = []string{
	"wp_head", "wp_footer", "wp_enqueue_scripts", "template_redirect",
	"init", "wp_loaded", "parse_request", "send_headers", "wp",
	"template_include", "get_header", "get_footer", "get_sidebar",
	"wp_print_styles", "wp_print_scripts", "wp_meta", "rss_head",
	"atom_head", "rdf_head", "rss2_head", "commentsrss2_head",
}

func hookAlternation(hooks []string) string {
	quoted := make([]string, 0, len(hooks))
	for _, hook := range hooks {
		quoted = append(quoted, regexp.QuoteMeta(hook))
	}
	return "(?:" + strings.Join(quoted, "|") + ")"
}

var (
	adminHookAlternation = hookAlternation(adminHooks)

	adminHookPattern     = regexp.MustCompile(`add_(?:action|filter)\s*\(\s*["']` + adminHookAlternation)
	frontendHookPattern  = regexp.MustCompile(`add_(?:action|filter)\s*\(\s*["']` + hookAlternation(frontendHooks))
	isAdminGuardPattern  = regexp.MustCompile(`if\s*\(\s*is_admin\s*\(\s*\)\s*\)`)
	notAdminGuardPattern = regexp.MustCompile(`if\s*\(\s*!\s*is_admin\s*\(\s*\)\s*\)`)
	adminPathPattern     = regexp.MustCompile(`wp-admin/|admin\.php|admin_`)
	frontendPathPattern  = regexp.MustCompile(`template|theme|frontend`)
	editorContextPattern = regexp.MustCompile(`(?i)print_template_views|templately_promo|elementor.*editor|editor.*elementor`)
	editorMethodPattern  = regexp.MustCompile(`(?i)function\s+(?:print_template_views|templately_promo\w*|\w*editor\w*|\w*setup\w*wizard\w*|data_plugins_content|eael_quick_setup_data)\b`)
	methodExistsPattern  = regexp.MustCompile(`method_exists\s*\(`)
	enclosingFuncPattern = regexp.MustCompile(`function\s+([A-Za-z_]\w*)\s*\(`)
	typeBoundaryPattern  = regexp.MustCompile(`^\s*(?:(?:abstract|final|readonly)\s+)*(?:class|interface|trait|enum)\s+`)
)

// Analyzer classifies the execution context of admin-only function calls.
// It holds no per-file state and is safe for concurrent use.
type Analyzer struct{}

func New() *Analyzer {
	return &Analyzer{}
}

// ClassifyFile reads path and classifies the call at lineNumber. Unreadable
// files classify as Unknown.
func (a *Analyzer) ClassifyFile(path string, lineNumber int, functionName string) Context {
	content, err := os.ReadFile(path)
	if err != nil || len(content) == 0 {
		return Unknown
	}
	return a.Classify(phpsrc.SplitLines(string(content)), lineNumber, functionName)
}

// Classify inspects the lines around the 1-based lineNumber.
func (a *Analyzer) Classify(lines []string, lineNumber int, functionName string) Context {
	if len(lines) == 0 {
		return Unknown
	}
	window := joinWindow(lines, lineNumber-1-windowBefore, lineNumber-1+windowAfter)

	switch {
	case isAdminContext(window, lines, lineNumber):
		return Admin
	case isFrontendContext(window):
		return Frontend
	case hasConditionalLoading(window, functionName):
		return Conditional
	default:
		return Ambiguous
	}
}

func joinWindow(lines []string, start, end int) string {
	start = max(start, 0)
	end = min(end, len(lines)-1)
	if start > end {
		return ""
	}
	return strings.Join(lines[start:end+1], "\n")
}

func isAdminContext(window string, lines []string, lineNumber int) bool {
	if adminHookPattern.MatchString(window) || isAdminGuardPattern.MatchString(window) {
		return true
	}
	if adminPathPattern.MatchString(window) {
		return true
	}
	if insideAdminCallback(lines, lineNumber) {
		return true
	}
	return inEditorContext(window, lines, lineNumber)
}

func inEditorContext(window string, lines []string, lineNumber int) bool {
	if editorContextPattern.MatchString(window) {
		return true
	}
	start := max(0, lineNumber-editorWindowBefore)
	end := min(len(lines), lineNumber+editorWindowAfter)
	for i := start; i < end; i++ {
		if editorMethodPattern.MatchString(lines[i]) {
			return true
		}
	}
	return false
}

// insideAdminCallback walks back to the enclosing function and reports
// whether that function is registered as a callback on an admin hook
// anywhere in the file.
func insideAdminCallback(lines []string, lineNumber int) bool {
	for i := min(lineNumber-1, len(lines)-1); i >= 0; i-- {
		line := lines[i]
		if match := enclosingFuncPattern.FindStringSubmatch(line); match != nil {
			return registeredOnAdminHook(lines, match[1])
		}
		if typeBoundaryPattern.MatchString(line) {
			return false
		}
	}
	return false
}

func registeredOnAdminHook(lines []string, functionName string) bool {
	name := regexp.QuoteMeta(functionName)
	pattern, err := compileCached(`add_action\s*\(\s*["']` + adminHookAlternation + `[^"']*["'],\s*(?:["']?` + name + `\b|\[\s*\$this\s*,\s*["']` + name + `["']\s*\]|array\s*\(\s*\$this\s*,\s*["']` + name + `["']\s*\))`)
	if err != nil {
		return false
	}
	for _, line := range lines {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}

func isFrontendContext(window string) bool {
	return frontendHookPattern.MatchString(window) ||
		notAdminGuardPattern.MatchString(window) ||
		frontendPathPattern.MatchString(window)
}

func hasConditionalLoading(window, functionName string) bool {
	if methodExistsPattern.MatchString(window) {
		return true
	}
	guard, err := compileCached(`(?:function_exists|is_callable)\s*\(\s*["']` + regexp.QuoteMeta(functionName) + `["']`)
	return err == nil && guard.MatchString(window)
}

// compiledPatterns holds per-function-name patterns, keyed by expression.
var compiledPatterns sync.Map

func compileCached(expr string) (*regexp.Regexp, error) {
	if cached, ok := compiledPatterns.Load(expr); ok {
		return cached.(*regexp.Regexp), nil
	}
	pattern, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	actual, _ := compiledPatterns.LoadOrStore(expr, pattern)
	return actual.(*regexp.Regexp), nil
}

// Severity maps a context to the severity reported for an admin-only call.
func Severity(context Context) finding.Severity {
	switch context {
	case Admin, Conditional:
		return finding.SeverityWarning
	default:
		return finding.SeverityError
	}
}

// Suggestion returns remediation text tailored to the context.
func Suggestion(context Context, functionName string) string {
	switch context {
	case Admin:
		return fmt.Sprintf("Function '%s' is used in admin context. Consider adding explicit admin checks or including wp-admin/includes/plugin.php if needed.", functionName)
	case Frontend:
		return fmt.Sprintf("Function '%s' should not be used in frontend context. Include wp-admin/includes/plugin.php or use admin hooks instead.", functionName)
	case Conditional:
		return fmt.Sprintf("Function '%s' is properly checked with conditional loading. This is good practice.", functionName)
	default:
		return fmt.Sprintf("Function '%s' requires wp-admin/includes/plugin.php to be loaded. Add explicit admin context checks, include the required file, or use function_exists() validation.", functionName)
	}
}
