// Package metrics collects scan counters for Prometheus textfile export.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Suppression reasons.
const (
	ReasonDependency = "ignore_dependency_errors"
	ReasonRule       = "suppress_rule"
	ReasonSeverity   = "severity_filter"
	ReasonBaseline   = "baseline"
)

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	filesScanned        prometheus.Counter
	findings            *prometheus.CounterVec
	suppressed          *prometheus.CounterVec
	combinationDuration *prometheus.HistogramVec
	lintInvocations     *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		filesScanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "wpfatal_files_scanned_total",
			Help: "PHP files analyzed, counted once per version combination.",
		}),
		findings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wpfatal_findings_total",
			Help: "Findings reported after filtering.",
		}, []string{"kind", "severity"}),
		suppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wpfatal_findings_suppressed_total",
			Help: "Findings dropped before reporting.",
		}, []string{"reason"}),
		combinationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wpfatal_combination_seconds",
			Help:    "Time spent scanning one PHP and WordPress version combination.",
			Buckets: prometheus.DefBuckets,
		}, []string{"php", "wp"}),
		lintInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wpfatal_lint_invocations_total",
			Help: "php -l invocations by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) AddFilesScanned(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.filesScanned.Add(float64(count))
}

func (m *Metrics) AddFinding(kind, severity string) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues(kind, severity).Inc()
}

func (m *Metrics) AddSuppressed(reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.suppressed.WithLabelValues(reason).Add(float64(count))
}

func (m *Metrics) ObserveCombination(php, wp string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.combinationDuration.WithLabelValues(php, wp).Observe(elapsed.Seconds())
}

// ObserveLint matches the phplint observer signature.
func (m *Metrics) ObserveLint(outcome string) {
	if m == nil {
		return
	}
	m.lintInvocations.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes the collected metrics in the node exporter textfile
// format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}
