package detector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ben-ranford/wpfatal/internal/ecosystem"
	"github.com/ben-ranford/wpfatal/internal/exceptions"
	"github.com/ben-ranford/wpfatal/internal/finding"
	"github.com/ben-ranford/wpfatal/internal/testutil"
)

func newClassConflictDetector(deps Dependencies) Detector { return NewClassConflict(deps) }

func TestClassConflictWordPressCoreClass(t *testing.T) {
	findings := detectSource(t, newClassConflictDetector, "<?php\nclass WP_Error {}\n", modernTarget)
	conflicts := ofKind(findings, finding.KindWordPressClassConflict)
	require.Len(t, conflicts, 1)
	assert.Equal(t, finding.SeverityError, conflicts[0].Severity)
	assert.Equal(t, 2, conflicts[0].Line)
	assert.Equal(t, "wordpress_core", conflicts[0].ContextString("type"))
	assert.Equal(t, "Class 'WP_Error' conflicts with WordPress core class", conflicts[0].Message)
}

func TestClassConflictBuiltinAndRuntimeClasses(t *testing.T) {
	findings := detectSource(t, newClassConflictDetector, "<?php\nclass DateTime {}\ninterface Countable {}\n", modernTarget)
	assert.Len(t, ofKind(findings, finding.KindPHPClassConflict), 1)
	redeclared := ofKind(findings, finding.KindClassAlreadyExists)
	require.Len(t, redeclared, 2)
	assert.Equal(t, "Cannot redeclare interface 'Countable'", redeclared[1].Message)
}

func TestClassConflictIgnoresNamespacedAndGuardedDeclarations(t *testing.T) {
	namespaced := "<?php\nnamespace Acme;\n\nclass WP_Error {}\n"
	assert.Empty(t, detectSource(t, newClassConflictDetector, namespaced, modernTarget))

	guarded := "<?php\nif ( ! class_exists( 'WP_Error' ) ) {\n\tclass WP_Error {}\n}\n"
	assert.Empty(t, detectSource(t, newClassConflictDetector, guarded, modernTarget))
}

func TestClassConflictKnownClassesProduceNoUsageFindings(t *testing.T) {
	manager := exceptions.NewDependencyManager()
	names := []string{"DateTime", "Exception", "ArrayObject", "WP_Query", "WP_Error", "WP_REST_Request", "Walker_Nav_Menu"}
	names = append(names, manager.GlobalRules().Classes...)
	check := func(t *testing.T, name string, detected ecosystem.Set) {
		path := testutil.WriteTempFile(t, "usage.php", "<?php\n$instance = new "+name+"();\n")
		detector := NewClassConflict(Dependencies{Sources: NewSources(filepath.Dir(path)), Exceptions: manager})
		detector.SetDetectedEcosystems(detected)
		assert.Empty(t, ofKind(detector.Detect(context.Background(), path, modernTarget), finding.KindUndefinedClass), name)
	}
	for _, name := range names {
		check(t, name, ecosystem.NewSet())
	}
	for _, eco := range manager.Ecosystems() {
		for _, name := range manager.EcosystemRules(eco).Classes {
			check(t, name, ecosystem.NewSet(eco))
		}
	}
}

func TestClassConflictReportsUndefinedUsages(t *testing.T) {
	content := "<?php\n$a = new Mystery_Widget();\n$b = Mystery_Registry::instance();\nif ($a instanceof Mystery_Base) {}\n$c = Mystery_Widget::class;\n"
	findings := detectSource(t, newClassConflictDetector, content, modernTarget)
	undefined := ofKind(findings, finding.KindUndefinedClass)
	require.Len(t, undefined, 3)
	assert.Equal(t, []int{2, 3, 4}, lines(undefined))
	assert.Equal(t, "Class 'Mystery_Widget' not found", undefined[0].Message)
	assert.Equal(t, "Mystery_Registry", undefined[1].ContextString("class"))
}

func TestClassConflictGuardsSuppressUsages(t *testing.T) {
	cases := map[string]string{
		"inline":      "<?php\nif (class_exists('Mystery_Widget')) { new Mystery_Widget(); }\n",
		"block":       "<?php\nif ( class_exists( 'Mystery_Widget' ) ) {\n\t$w = new Mystery_Widget();\n\t$w->render();\n}\n",
		"class const": "<?php\nif (class_exists(Mystery_Widget::class)) {\n\tMystery_Widget::boot();\n}\n",
		"early exit":  "<?php\nif ( ! class_exists( 'Mystery_Widget' ) ) {\n\treturn;\n}\n\n$w = new Mystery_Widget();\n",
		"next line":   "<?php\nif (class_exists('Mystery_Widget'))\n\t$w = new Mystery_Widget();\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			findings := detectSource(t, newClassConflictDetector, content, modernTarget)
			assert.Empty(t, ofKind(findings, finding.KindUndefinedClass))
		})
	}

	unguarded := detectSource(t, newClassConflictDetector, "<?php\nnew Mystery_Widget();\n", modernTarget)
	assert.Len(t, ofKind(unguarded, finding.KindUndefinedClass), 1)

	outside := "<?php\nif (class_exists('Mystery_Widget')) {\n\techo 1;\n}\n$w = new Mystery_Widget();\n"
	assert.Len(t, ofKind(detectSource(t, newClassConflictDetector, outside, modernTarget), finding.KindUndefinedClass), 1)
}

func TestClassConflictResolvesPluginClasses(t *testing.T) {
	root := testutil.WritePlugin(t, map[string]string{
		"src/Slider.php": "<?php\nnamespace Acme\\Widgets;\n\nclass Slider {}\n",
		"plugin.php": "<?php\nnamespace Acme;\n\nuse Acme\\Widgets\\Slider;\nuse Vendor\\Package;\n\n" +
			"$slider = new Slider();\n$other = new Widgets\\Slider();\n$vendor = new Package\\Client();\n" +
			"$external = new \\Guzzle\\Client();\n$missing = new Widgets\\Carousel();\n",
	})
	sources := NewSources(root)
	registry := NewSymbolRegistry()
	require.NoError(t, registry.Ingest(context.Background(), sources, []string{filepath.Join(root, "src", "Slider.php")}))
	detector := NewClassConflict(Dependencies{Sources: sources, Symbols: registry})

	undefined := ofKind(detector.Detect(context.Background(), filepath.Join(root, "plugin.php"), modernTarget), finding.KindUndefinedClass)
	require.Len(t, undefined, 1)
	assert.Equal(t, `Acme\Widgets\Carousel`, undefined[0].ContextString("resolved"))
}
