package wpcontext

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ben-ranford/wpfatal/internal/finding"
	"github.com/ben-ranford/wpfatal/internal/testutil"
)

func classify(t *testing.T, source string, line int, fn string) Context {
	t.Helper()
	return New().Classify(strings.Split(source, "\n"), line, fn)
}

func TestClassifyUnguardedCallIsAmbiguous(t *testing.T) {
	got := classify(t, "<?php\nif (is_plugin_active('x/x.php')) { echo 1; }\n", 2, "is_plugin_active")
	if got != Ambiguous {
		t.Fatalf("expected ambiguous, got %q", got)
	}
	if Severity(got) != finding.SeverityError {
		t.Fatalf("expected ambiguous context to map to error")
	}
}

func TestClassifyAdminHookClosure(t *testing.T) {
	source := "<?php\nadd_action('admin_init', function(){ is_plugin_active('x/x.php'); });\n"
	if got := classify(t, source, 2, "is_plugin_active"); got != Admin {
		t.Fatalf("expected admin, got %q", got)
	}
	if Severity(Admin) != finding.SeverityWarning {
		t.Fatalf("expected admin context to map to warning")
	}
}

func TestClassifyEnclosingCallbackRegisteredElsewhere(t *testing.T) {
	lines := []string{"<?php", "class Loader {", "    public function boot() {", "        add_action( 'admin_menu', [ $this, 'check_dependencies' ] );", "    }"}
	for i := 0; i < 20; i++ {
		lines = append(lines, "    // padding")
	}
	lines = append(lines,
		"    public function check_dependencies() {",
		"        if ( ! is_plugin_active( 'x/x.php' ) ) {",
		"            return;",
		"        }",
		"    }",
		"}",
	)
	callLine := len(lines) - 4
	if got := New().Classify(lines, callLine, "is_plugin_active"); got != Admin {
		t.Fatalf("expected admin via callback registration, got %q", got)
	}

	lines[3] = "        add_action( 'plugins_loaded', [ $this, 'check_dependencies' ] );"
	if got := New().Classify(lines, callLine, "is_plugin_active"); got != Ambiguous {
		t.Fatalf("expected ambiguous when the callback hook is not an admin hook, got %q", got)
	}
}

func TestClassifyStopsAtIndentedTypeDeclaration(t *testing.T) {
	lines := []string{
		"<?php",
		"namespace Acme {",
		"    class Loader {",
		"        public function boot() {",
		"            add_action( 'admin_menu', [ $this, 'check_dependencies' ] );",
		"        }",
		"        public function check_dependencies() {}",
		"    }",
	}
	for i := 0; i < 20; i++ {
		lines = append(lines, "    // padding")
	}
	lines = append(lines,
		"    final class Report {",
		"    }",
		"    $active = is_plugin_active( 'x/x.php' );",
		"}",
	)
	callLine := len(lines) - 1
	if got := New().Classify(lines, callLine, "is_plugin_active"); got != Ambiguous {
		t.Fatalf("expected the type declaration to end the callback search, got %q", got)
	}
}

func TestConditionalLoadingReusesCompiledGuard(t *testing.T) {
	window := "if ( is_callable( 'get_plugins' ) ) {\n    get_plugins();\n}"
	if !hasConditionalLoading(window, "get_plugins") {
		t.Fatalf("expected is_callable guard to count as conditional loading")
	}
	if hasConditionalLoading("get_plugins();", "get_plugins") {
		t.Fatalf("expected an unguarded call not to count as conditional loading")
	}
	count := 0
	compiledPatterns.Range(func(key, _ any) bool {
		if strings.Contains(key.(string), "get_plugins") && strings.Contains(key.(string), "function_exists") {
			count++
		}
		return true
	})
	if count != 1 {
		t.Fatalf("expected one cached guard pattern for get_plugins, got %d", count)
	}
}

func TestClassifyFrontendAndConditional(t *testing.T) {
	frontend := "<?php\nif ( ! is_admin() ) {\n    is_plugin_active('x/x.php');\n}\n"
	if got := classify(t, frontend, 3, "is_plugin_active"); got != Frontend {
		t.Fatalf("expected frontend, got %q", got)
	}
	if got := classify(t, "<?php\nadd_action('wp_footer', 'render');\nget_plugins();\n", 3, "get_plugins"); got != Frontend {
		t.Fatalf("expected frontend hook to classify as frontend, got %q", got)
	}

	conditional := "<?php\nif ( function_exists( 'get_plugins' ) ) {\n    get_plugins();\n}\n"
	if got := classify(t, conditional, 3, "get_plugins"); got != Conditional {
		t.Fatalf("expected conditional, got %q", got)
	}
	if Severity(Conditional) != finding.SeverityWarning || Severity(Frontend) != finding.SeverityError {
		t.Fatalf("unexpected severity mapping")
	}
}

func TestClassifyEditorMethod(t *testing.T) {
	source := "<?php\nclass Promo {\n    public function print_template_views() {\n        get_plugins();\n    }\n}\n"
	if got := classify(t, source, 4, "get_plugins"); got != Admin {
		t.Fatalf("expected editor context to classify as admin, got %q", got)
	}
}

func TestClassifyFile(t *testing.T) {
	path := testutil.WriteTempFile(t, "a.php", "<?php\nadd_action('admin_init', function(){ get_plugins(); });\n")
	if got := New().ClassifyFile(path, 2, "get_plugins"); got != Admin {
		t.Fatalf("expected admin, got %q", got)
	}
	if got := New().ClassifyFile(filepath.Join(t.TempDir(), "missing.php"), 1, "get_plugins"); got != Unknown {
		t.Fatalf("expected unknown for unreadable file, got %q", got)
	}
	if Severity(Unknown) != finding.SeverityError {
		t.Fatalf("expected unknown context to map to error")
	}
}

func TestSuggestionNamesFunction(t *testing.T) {
	for _, context := range []Context{Admin, Frontend, Conditional, Ambiguous} {
		if !strings.Contains(Suggestion(context, "get_plugins"), "'get_plugins'") {
			t.Fatalf("expected %s suggestion to name the function", context)
		}
	}
}
