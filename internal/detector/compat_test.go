package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ben-ranford/wpfatal/internal/finding"
)

func newWordPressDetector(deps Dependencies) Detector {
	return NewWordPressCompatibility(deps, DefaultWordPressTables())
}

func newPHPDetector(deps Dependencies) Detector {
	return NewPHPCompatibility(deps, DefaultPHPTables())
}

func wpTarget(version string) Target { return Target{PHPVersion: "8.2.0", WPVersion: version} }

func phpTarget(version string) Target { return Target{PHPVersion: version, WPVersion: "6.5.0"} }

func TestWordPressDeprecatedFunction(t *testing.T) {
	findings := detectSource(t, newWordPressDetector, "<?php\n$home = get_settings('home');\n", wpTarget("6.0.0"))
	require.Len(t, findings, 1)
	assert.Equal(t, finding.KindDeprecatedFunction, findings[0].Kind)
	assert.Equal(t, finding.SeverityWarning, findings[0].Severity)
	assert.Equal(t, "Use 'get_option' instead", findings[0].Suggestion)
	assert.Equal(t, "Function 'get_settings' is deprecated since WordPress 2.1.0", findings[0].Message)

	assert.Empty(t, detectSource(t, newWordPressDetector, "<?php\n$home = get_settings('home');\n", wpTarget("2.0.0")))
}

func TestWordPressIgnoresMethodsDefinitionsAndComments(t *testing.T) {
	content := "<?php\n" +
		"$value = $widget->get_settings('title');\n" +
		"$value = Widget::get_settings();\n" +
		"public function get_settings() {\n" +
		"// get_settings('home');\n" +
		"/* get_settings('home'); */\n" +
		"$fn = $get_settings('x');\n"
	assert.Empty(t, detectSource(t, newWordPressDetector, content, wpTarget("6.0.0")))
}

func TestWordPressRemovalTakesPrecedence(t *testing.T) {
	content := "<?php\necho js_escape($text);\n"

	assert.Empty(t, detectSource(t, newWordPressDetector, content, wpTarget("2.7.0")))

	deprecated := detectSource(t, newWordPressDetector, content, wpTarget("2.9.0"))
	require.Len(t, deprecated, 1)
	assert.Equal(t, finding.KindDeprecatedFunction, deprecated[0].Kind)

	for _, version := range []string{"3.0.0", "6.5.0"} {
		removed := detectSource(t, newWordPressDetector, content, wpTarget(version))
		require.Len(t, removed, 1, version)
		assert.Equal(t, finding.KindRemovedFunction, removed[0].Kind)
		assert.Equal(t, finding.SeverityError, removed[0].Severity)
		assert.Equal(t, "Use 'esc_js' instead", removed[0].Suggestion)
	}
}

func TestWordPressVersionRequirement(t *testing.T) {
	content := "<?php\nif ('production' === wp_get_environment_type()) {}\n"
	findings := detectSource(t, newWordPressDetector, content, wpTarget("5.4.0"))
	require.Len(t, findings, 1)
	assert.Equal(t, finding.KindVersionRequirement, findings[0].Kind)
	assert.Equal(t, "Function 'wp_get_environment_type' requires WordPress 5.5.0 or higher", findings[0].Message)

	assert.Empty(t, detectSource(t, newWordPressDetector, content, wpTarget("5.5.0")))
}

func TestWordPressDeprecatedHooks(t *testing.T) {
	tables := DefaultWordPressTables()
	tables.Hooks = map[string]Change{"login_headertitle": {Version: "5.2.0", Replacement: "login_headertext"}}
	build := func(deps Dependencies) Detector { return NewWordPressCompatibility(deps, tables) }
	content := "<?php\nadd_filter('login_headertitle', 'acme_title');\n// add_filter('login_headertitle', 'x');\n"

	findings := detectSource(t, build, content, wpTarget("6.0.0"))
	require.Len(t, findings, 1)
	assert.Equal(t, finding.KindDeprecatedHook, findings[0].Kind)
	assert.Equal(t, 2, findings[0].Line)
	assert.Equal(t, "Use 'login_headertext' instead", findings[0].Suggestion)

	assert.Empty(t, detectSource(t, build, content, wpTarget("5.1.0")))
}

func TestPHPNewFeatureGatingIsMonotonic(t *testing.T) {
	content := "<?php\nenum Suit: string {\n\tcase Hearts = 'H';\n}\n"
	for _, version := range []string{"7.0.0", "7.4.0", "8.0.0", "8.0.30"} {
		findings := ofKind(detectSource(t, newPHPDetector, content, phpTarget(version)), finding.KindPHPVersionRequirement)
		require.Len(t, findings, 1, version)
		assert.Equal(t, "Enums requires PHP 8.1.0 or higher", findings[0].Message)
		assert.Equal(t, finding.SeverityError, findings[0].Severity)
	}
	for _, version := range []string{"8.1.0", "8.2.0", "8.3.0"} {
		assert.Empty(t, detectSource(t, newPHPDetector, content, phpTarget(version)), version)
	}
}

func TestPHPRemovalTakesPrecedence(t *testing.T) {
	content := "<?php\nwhile (list($key, $value) = each($items)) {\n}\n"

	assert.Empty(t, detectSource(t, newPHPDetector, content, phpTarget("7.1.0")))

	deprecated := detectSource(t, newPHPDetector, content, phpTarget("7.4.0"))
	require.Len(t, deprecated, 1)
	assert.Equal(t, finding.KindDeprecatedPHPFeature, deprecated[0].Kind)
	assert.Equal(t, "each() function is deprecated since PHP 7.2.0", deprecated[0].Message)

	removed := detectSource(t, newPHPDetector, content, phpTarget("8.0.0"))
	require.Len(t, removed, 1)
	assert.Equal(t, finding.KindRemovedPHPFeature, removed[0].Kind)
	assert.Equal(t, finding.SeverityError, removed[0].Severity)
}

func TestPHPFeatureSeverities(t *testing.T) {
	content := "<?php\n$name = $user?->name;\n$size = $config['size'] ?? 10;\n"
	findings := detectSource(t, newPHPDetector, content, phpTarget("5.6.0"))
	require.Len(t, findings, 2)
	assert.Equal(t, "Nullsafe operator", findings[0].ContextString("feature"))
	assert.Equal(t, finding.SeverityWarning, findings[0].Severity)
	assert.Equal(t, "Null coalescing operator", findings[1].ContextString("feature"))
	assert.Equal(t, finding.SeverityError, findings[1].Severity)
}

func TestPHPCallFeaturesIgnoreMethods(t *testing.T) {
	content := "<?php\n$collection->each($callback);\nfunction each_item() {}\n// each($legacy);\n"
	assert.Empty(t, detectSource(t, newPHPDetector, content, phpTarget("8.2.0")))
}

func TestPHPSkipsScriptBlocks(t *testing.T) {
	content := "<?php ?>\n<script>\nconst size = options.size ?? 10;\n</script>\n"
	assert.Empty(t, detectSource(t, newPHPDetector, content, phpTarget("5.6.0")))
}
