package detector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ben-ranford/wpfatal/internal/ecosystem"
	"github.com/ben-ranford/wpfatal/internal/finding"
	"github.com/ben-ranford/wpfatal/internal/testutil"
)

var (
	modernTarget = Target{PHPVersion: "8.3.0", WPVersion: "6.5.0"}
	legacyTarget = Target{PHPVersion: "7.4.0", WPVersion: "5.4.0"}
)

func ofKind(findings []finding.Finding, kind finding.Kind) []finding.Finding {
	var matched []finding.Finding
	for _, item := range findings {
		if item.Kind == kind {
			matched = append(matched, item)
		}
	}
	return matched
}

func lines(findings []finding.Finding) []int {
	numbers := make([]int, 0, len(findings))
	for _, item := range findings {
		numbers = append(numbers, item.Line)
	}
	return numbers
}

// detectSource writes content to a fresh file and runs one detector on it.
func detectSource(t *testing.T, build func(Dependencies) Detector, content string, target Target) []finding.Finding {
	t.Helper()
	path := testutil.WriteTempFile(t, "plugin.php", content)
	item := build(Dependencies{Sources: NewSources(filepath.Dir(path))})
	return item.Detect(context.Background(), path, target)
}

func TestDefaultsRegistersEveryDetector(t *testing.T) {
	registry := Defaults(Dependencies{})
	assert.Equal(t, []string{
		IDClassConflict, IDPHPCompat, IDSyntax, IDTemplateMethodContext,
		IDThisContext, IDUndefinedFunction, IDWordPressCompat,
	}, registry.IDs())

	all, err := registry.Select(nil)
	require.NoError(t, err)
	require.Len(t, all, 7)
	assert.Equal(t, IDSyntax, all[0].ID())

	selected, err := registry.Select([]string{"PHP-Compat", "syntax"})
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, IDSyntax, selected[0].ID())
	assert.Equal(t, IDPHPCompat, selected[1].ID())

	_, err = registry.Select([]string{"missing"})
	assert.True(t, errors.Is(err, ErrUnknownDetector))
	_, err = registry.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownDetector)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewSyntax(Dependencies{})))
	assert.Error(t, registry.Register(NewSyntax(Dependencies{})))
	assert.Error(t, registry.Register(nil))
}

func TestConfigureReachesAwareDetectors(t *testing.T) {
	template := NewThisContext(Dependencies{})
	functions := NewUndefinedFunction(Dependencies{})
	Configure([]Detector{template, functions, NewSyntax(Dependencies{})}, "/plugin", ecosystem.NewSet("elementor"))

	assert.Equal(t, "/plugin", template.pluginRoot())
	assert.True(t, template.detected().Has("elementor"))
	assert.True(t, functions.detected().Has("elementor"))
}

func TestSourcesCachesAndConfinesReads(t *testing.T) {
	root := testutil.WritePlugin(t, map[string]string{"a.php": "<?php\r\necho 1;\n"})
	outside := testutil.WriteTempFile(t, "b.php", "<?php")
	sources := NewSources(root)

	got, ok := sources.Lines(filepath.Join(root, "a.php"))
	require.True(t, ok)
	assert.Equal(t, []string{"<?php", "echo 1;", ""}, got)
	content, ok := sources.Content(filepath.Join(root, "a.php"))
	require.True(t, ok)
	assert.Equal(t, "<?php\necho 1;\n", content)

	_, ok = sources.Lines(outside)
	assert.False(t, ok)
	_, ok = sources.Lines(filepath.Join(root, "missing.php"))
	assert.False(t, ok)
}

func TestSymbolRegistryIngest(t *testing.T) {
	root := testutil.WritePlugin(t, map[string]string{
		"src/widget.php":  "<?php\nnamespace Acme\\Widgets;\n\nclass Slider {}\ninterface Renderable {}\n",
		"src/helpers.php": "<?php\nfunction acme_format_price($value) {\n\treturn $value;\n}\n",
	})
	sources := NewSources(root)
	registry := NewSymbolRegistry()
	require.NoError(t, registry.Ingest(context.Background(), sources, []string{
		filepath.Join(root, "src", "widget.php"),
		filepath.Join(root, "src", "helpers.php"),
		filepath.Join(root, "src", "missing.php"),
	}))

	assert.True(t, registry.HasClass(`Acme\Widgets\Slider`))
	assert.True(t, registry.HasClass(`\acme\widgets\renderable`))
	assert.False(t, registry.HasClass("Slider"))
	assert.True(t, registry.HasClassShort("slider"))
	assert.True(t, registry.HasNamespace("Acme"))
	assert.True(t, registry.HasNamespace(`Acme\Widgets`))
	assert.False(t, registry.HasNamespace("Other"))
	assert.True(t, registry.HasFunction("acme_format_price"))
	assert.True(t, registry.HasFunction(`\acme_format_price`))

	files, classes, functions := registry.Counts()
	assert.Equal(t, 2, files)
	assert.Equal(t, 2, classes)
	assert.Equal(t, 1, functions)

	err := registry.Ingest(testutil.CanceledContext(), sources, []string{filepath.Join(root, "src", "widget.php")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrecededBy(t *testing.T) {
	assert.True(t, precededBy("$foo(", 1, "$"))
	assert.False(t, precededBy("foo(", 0, "$"))
	assert.False(t, precededBy(" foo(", 1, "$."))
}
