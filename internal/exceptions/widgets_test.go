package exceptions

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	templateKind = "TEMPLATE_METHOD_CONTEXT_ERROR"
	thisKind     = "THIS_CONTEXT_ERROR"
)

func TestDefaultWidgetDecisions(t *testing.T) {
	manager := NewWidgetManager()

	carousel := manager.ShouldExclude("elementor", "post_carousel", "render", templateKind)
	assert.True(t, carousel.Exclude)
	assert.Equal(t, StatusExclude, carousel.Status)
	assert.Equal(t, "Carousel widgets typically do not have load more functionality", carousel.Reason)

	timeline := manager.ShouldExclude("Elementor", "content_timeline", "get_settings", thisKind)
	assert.True(t, timeline.Exclude)
	assert.Equal(t, StatusTemporaryExclude, timeline.Status)
	assert.True(t, timeline.FutureProof)

	list := manager.ShouldExclude("elementor", "post_list", "render", templateKind)
	assert.False(t, list.Exclude)
	assert.Equal(t, StatusInclude, list.Status)

	unknown := manager.ShouldExclude("elementor", "mystery_widget", "render", templateKind)
	assert.Equal(t, Decision{Status: StatusUnknown}, unknown)

	notCovered := manager.ShouldExclude("elementor", "post_carousel", "render", "UNDEFINED_FUNCTION")
	assert.False(t, notCovered.Exclude)
	assert.Equal(t, StatusExclude, notCovered.Status)
}

func TestShouldShowFollowsMode(t *testing.T) {
	manager := NewWidgetManager()
	excluded := Decision{Exclude: true, Status: StatusExclude}

	assert.Equal(t, ModeFatalOnly, manager.Mode())
	assert.False(t, manager.ShouldShow(excluded))
	assert.True(t, manager.ShouldShow(Decision{Status: StatusUnknown}))

	debug := manager.WithMode(ModeDebug)
	assert.True(t, debug.ShouldShow(excluded))
	assert.True(t, manager.WithMode(ModeAllErrors).ShouldShow(excluded))
	assert.Equal(t, ModeDebug, debug.WithMode(Mode("verbose")).Mode())
	assert.Equal(t, ModeFatalOnly, manager.Mode())
}

func TestTemporaryExclusionTakesPrecedence(t *testing.T) {
	manager := NewWidgetManager().WithTemporaryExclusion("elementor", "post_grid", WidgetRule{
		Methods:    []string{"render"},
		ErrorTypes: []string{templateKind},
	})

	decision := manager.ShouldExclude("elementor", "post_grid", "render", templateKind)
	assert.True(t, decision.Exclude)
	assert.Equal(t, StatusTemporaryExclude, decision.Status)
	assert.Equal(t, "Temporary exclusion", decision.Reason)

	other := manager.ShouldExclude("elementor", "post_grid", "get_id", templateKind)
	assert.False(t, other.Exclude)

	base := NewWidgetManager().ShouldExclude("elementor", "post_grid", "render", templateKind)
	assert.Equal(t, StatusInclude, base.Status)
}

func TestDefaultStats(t *testing.T) {
	assert.Equal(t, Stats{
		TotalEcosystems:     1,
		TotalWidgets:        10,
		ExcludedWidgets:     8,
		TemporaryExclusions: 1,
		FutureProofWidgets:  3,
	}, NewWidgetManager().Stats())
}

func TestOverlayMergesRules(t *testing.T) {
	overlay := []byte(`{
  "reporting_mode": "debug_mode",
  "widget_exclusions": {
    "elementor": {
      "post_carousel": {"methods": ["render"], "reason": "Reviewed"},
      "price_table": {"status": "exclude", "methods": ["*"], "error_types": ["THIS_CONTEXT_ERROR"]}
    },
    "woocommerce": {
      "mini_cart": {"status": "temporary_exclude", "methods": ["*"], "error_types": ["*"]}
    }
  }
}`)
	manager, err := NewWidgetManager().WithOverlay(overlay)
	require.NoError(t, err)

	assert.Equal(t, ModeDebug, manager.Mode())
	carousel := manager.WidgetRules("elementor")["post_carousel"]
	assert.Equal(t, "Reviewed", carousel.Reason)
	assert.Equal(t, []string{"*", "render"}, carousel.Methods)
	assert.Equal(t, []string{templateKind, thisKind}, carousel.ErrorTypes)

	assert.True(t, manager.ShouldExclude("elementor", "price_table", "render", thisKind).Exclude)
	assert.True(t, manager.ShouldExclude("woocommerce", "mini_cart", "x", templateKind).Exclude)
	assert.Equal(t, 2, manager.Stats().TotalEcosystems)
}

func TestOverlayRejectsSchemaViolations(t *testing.T) {
	_, err := NewWidgetManager().WithOverlay([]byte(`{"reporting_mode": "loud"}`))
	require.Error(t, err)
	_, err = NewWidgetManager().WithOverlay([]byte(`{"widget_exclusions": {"elementor": {"x": {"status": "maybe"}}}}`))
	require.Error(t, err)
	_, err = NewWidgetManager().WithOverlay([]byte(`{not json`))
	require.Error(t, err)
}

func TestLoadWidgetManagerFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{broken`), 0o600))

	assert.Equal(t, NewWidgetManager().Stats(), LoadWidgetManager(bad).Stats())
	assert.Equal(t, NewWidgetManager().Stats(), LoadWidgetManager(filepath.Join(dir, "missing.json")).Stats())
	assert.Equal(t, ModeFatalOnly, LoadWidgetManager("").Mode())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widgets.json")
	original := NewWidgetManager().WithMode(ModeAllErrors)
	require.NoError(t, original.Save(path, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_updated": "2024-06-01 12:00:00"`)

	loaded := LoadWidgetManager(path)
	assert.Equal(t, ModeAllErrors, loaded.Mode())
	assert.Equal(t, original.Stats(), loaded.Stats())
	assert.Equal(t, original.WidgetRules("elementor"), loaded.WidgetRules("elementor"))
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode(" Debug_Mode ")
	require.NoError(t, err)
	assert.Equal(t, ModeDebug, mode)
	_, err = ParseMode("verbose")
	require.Error(t, err)
	assert.Len(t, Modes(), 3)
}
