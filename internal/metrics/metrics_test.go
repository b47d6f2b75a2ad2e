package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAccumulate(t *testing.T) {
	m := New()
	m.AddFilesScanned(3)
	m.AddFilesScanned(0)
	m.AddFinding("UNDEFINED_FUNCTION", "error")
	m.AddFinding("UNDEFINED_FUNCTION", "error")
	m.AddSuppressed(ReasonRule, 2)
	m.ObserveLint("clean")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.filesScanned))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.findings.WithLabelValues("UNDEFINED_FUNCTION", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.suppressed.WithLabelValues(ReasonRule)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lintInvocations.WithLabelValues("clean")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AddFilesScanned(1)
	m.AddFinding("SYNTAX_ERROR", "error")
	m.AddSuppressed(ReasonBaseline, 1)
	m.ObserveCombination("8.2", "6.5", time.Second)
	m.ObserveLint("errors")
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "unused.prom")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.AddFilesScanned(2)
	m.ObserveCombination("8.2", "6.5", 150*time.Millisecond)
	path := filepath.Join(t.TempDir(), "wpfatal.prom")

	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, "wpfatal_files_scanned_total 2"), text)
	assert.Contains(t, text, `wpfatal_combination_seconds_count{php="8.2",wp="6.5"} 1`)
}
