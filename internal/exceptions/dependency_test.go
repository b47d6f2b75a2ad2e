package exceptions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ben-ranford/wpfatal/internal/ecosystem"
)

func TestGlobalExceptionsApplyWithoutEcosystems(t *testing.T) {
	manager := NewDependencyManager()
	none := ecosystem.NewSet()

	assert.True(t, manager.IsClassExcepted("WP_Error", none))
	assert.True(t, manager.IsClassExcepted(`\WP_Error`, none))
	assert.True(t, manager.IsFunctionExcepted("wp_enqueue_script", none))
	assert.False(t, manager.IsClassExcepted("My_Plugin_Missing", none))
	assert.False(t, manager.IsFunctionExcepted("my_plugin_missing", none))
}

func TestEcosystemExceptionsRequireDetection(t *testing.T) {
	manager := NewDependencyManager()
	none := ecosystem.NewSet()
	elementor := ecosystem.NewSet(ecosystem.Elementor)
	woo := ecosystem.NewSet(ecosystem.WooCommerce)

	assert.False(t, manager.IsClassExcepted("Widget_Base", none))
	assert.True(t, manager.IsClassExcepted("Widget_Base", elementor))
	assert.True(t, manager.IsFunctionExcepted("elementor_custom_helper", elementor))
	assert.False(t, manager.IsFunctionExcepted("elementor_custom_helper", woo))
	assert.True(t, manager.IsFunctionExcepted("wc_custom_helper", woo))
	assert.False(t, manager.IsFunctionExcepted("wc_custom_helper", elementor))

	reason, ok := manager.ClassExceptionReason("Widget_Base", elementor)
	require.True(t, ok)
	assert.Equal(t, "Class 'Widget_Base' is provided by elementor plugin dependency", reason)
}

func TestWithEcosystemExceptionsReturnsCopy(t *testing.T) {
	base := NewDependencyManager()
	extended := base.WithEcosystemExceptions("LearnDash", Rules{
		Classes:   []string{"SFWD_LMS"},
		Functions: []string{"learndash_*", "ld_course_list"},
	})
	detected := ecosystem.NewSet("learndash")

	assert.True(t, extended.IsClassExcepted("SFWD_LMS", detected))
	assert.True(t, extended.IsFunctionExcepted("learndash_get_course_id", detected))
	assert.True(t, extended.IsFunctionExcepted("ld_course_list", detected))
	assert.False(t, base.IsClassExcepted("SFWD_LMS", detected))
	assert.Contains(t, extended.Ecosystems(), "learndash")
	assert.NotContains(t, base.Ecosystems(), "learndash")

	merged := extended.WithEcosystemExceptions("elementor", Rules{Classes: []string{"Custom_Widget"}})
	assert.True(t, merged.IsClassExcepted("Custom_Widget", ecosystem.NewSet(ecosystem.Elementor)))
	assert.True(t, merged.IsClassExcepted("Widget_Base", ecosystem.NewSet(ecosystem.Elementor)))
}

func TestLoadDependencyManagerRejectsUnknownFields(t *testing.T) {
	_, err := LoadDependencyManager([]byte("global:\n  classes: [A]\n  bogus: [B]\n"))
	require.Error(t, err)

	manager, err := LoadDependencyManager([]byte("global:\n  classes: [A]\necosystems:\n  demo:\n    functions: [demo_fn]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, manager.GlobalRules().Classes)
	assert.Equal(t, []string{"demo_fn"}, manager.EcosystemRules("demo").Functions)
	assert.Empty(t, manager.EcosystemRules("missing").Functions)
}

func TestMatchPattern(t *testing.T) {
	assert.True(t, matchPattern("wc_price", "wc_*"))
	assert.False(t, matchPattern("my_wc_price", "wc_*"))
	assert.True(t, matchPattern("Widget_Base", "Widget_Base"))
	assert.True(t, matchPattern("Custom_Widget_Base_Extra", "Widget_Base"))
}
