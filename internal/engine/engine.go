// Package engine runs the detectors over a plugin for every requested PHP
// and WordPress version combination and assembles the report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ben-ranford/wpfatal/internal/config"
	"github.com/ben-ranford/wpfatal/internal/detector"
	"github.com/ben-ranford/wpfatal/internal/ecosystem"
	"github.com/ben-ranford/wpfatal/internal/exceptions"
	"github.com/ben-ranford/wpfatal/internal/finding"
	"github.com/ben-ranford/wpfatal/internal/metrics"
	"github.com/ben-ranford/wpfatal/internal/phplint"
	"github.com/ben-ranford/wpfatal/internal/report"
	"github.com/ben-ranford/wpfatal/internal/scanner"
	"github.com/ben-ranford/wpfatal/internal/suppress"
	"github.com/ben-ranford/wpfatal/internal/symbols"
	"github.com/ben-ranford/wpfatal/internal/telemetry"
	"github.com/ben-ranford/wpfatal/internal/workspace"
)

type Request struct {
	Path string
	// ConfigPath is the config file the values came from, if any. Its
	// content is part of the cache key.
	ConfigPath string
	Values     config.Values
}

type Scanner interface {
	Run(ctx context.Context, req Request) (report.Report, error)
}

type Engine struct {
	Metrics *metrics.Metrics
	// Linter replaces the php -l runner built from the lint settings.
	Linter detector.Linter
	Now    func() time.Time
}

func New() *Engine {
	return &Engine{Now: time.Now}
}

// plan is everything a run needs once the tree is walked.
type plan struct {
	root       string
	files      []string
	ecosystems ecosystem.Set
	detectors  []detector.Detector
	rules      suppress.Rules
	widgets    *exceptions.WidgetManager
	warnings   []string
}

func (e *Engine) Run(ctx context.Context, req Request) (rep report.Report, err error) {
	ctx, span := telemetry.Start(ctx, "wpfatal.scan", attribute.String("path", req.Path))
	defer func() { telemetry.End(span, err) }()

	values := req.Values
	if err := values.Validate(); err != nil {
		return report.Report{}, err
	}
	target, err := workspace.Resolve(req.Path)
	if err != nil {
		return report.Report{}, err
	}
	files, err := e.walk(ctx, target, values)
	if err != nil {
		return report.Report{}, err
	}
	slog.Debug("walked plugin", "root", target.Root, "files", len(files))

	ecosystems, err := e.detectEcosystems(ctx, target.Root, values)
	if err != nil {
		return report.Report{}, err
	}

	cache := newResultCache(values.Cache, target.Root)
	entry, err := cache.prepare(req, target.Root, target.File, files, ecosystems)
	if err != nil {
		cache.warn("result cache disabled: " + err.Error())
		cache.usable = false
	}
	if cached, ok := cache.lookup(entry); ok {
		slog.Debug("result cache hit", "root", target.Root)
		cached.RunID = uuid.NewString()
		cached.GeneratedAt = e.now()
		cached.Cache = cache.metadataSnapshot()
		e.record(cached, nil)
		return cached, nil
	}

	p, err := e.plan(ctx, target, files, ecosystems, values)
	if err != nil {
		return report.Report{}, err
	}
	span.SetAttributes(attribute.Int("files", len(files)), attribute.StringSlice("ecosystems", p.ecosystems.Sorted()))

	rep = report.Report{
		SchemaVersion: report.SchemaVersion,
		RunID:         uuid.NewString(),
		GeneratedAt:   e.now(),
		PluginRoot:    target.Root,
		PHPVersions:   append([]string(nil), values.PHPVersions...),
		WPVersions:    append([]string(nil), values.WPVersions...),
		Severities:    append([]finding.Severity(nil), values.Severities...),
		ReportingMode: string(p.widgets.Mode()),
		Ecosystems:    p.ecosystems.Sorted(),
		FilesScanned:  len(files),
		Warnings:      p.warnings,
	}
	durations := make(map[[2]string]time.Duration)
	for _, php := range values.PHPVersions {
		for _, wp := range values.WPVersions {
			started := time.Now()
			combination, err := e.runCombination(ctx, p, values, detector.Target{PHPVersion: php, WPVersion: wp})
			if err != nil {
				return report.Report{}, err
			}
			durations[[2]string{php, wp}] = time.Since(started)
			rep.Combinations = append(rep.Combinations, combination)
		}
	}
	rep.Finalize()

	if err := cache.store(entry, rep); err != nil {
		cache.warn("result cache write failed: " + err.Error())
	}
	rep.Warnings = append(rep.Warnings, cache.warnings...)
	rep.Cache = cache.metadataSnapshot()
	e.record(rep, durations)
	return rep, nil
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) walk(ctx context.Context, target workspace.Target, values config.Values) ([]string, error) {
	if target.Single() {
		return []string{target.File}, nil
	}
	files, err := scanner.Walk(ctx, target.Root, scanner.Options{Include: values.Include, Exclude: values.Exclude})
	if err != nil {
		return nil, fmt.Errorf("walk plugin: %w", err)
	}
	return files, nil
}

func (e *Engine) plan(ctx context.Context, target workspace.Target, files []string, ecosystems ecosystem.Set, values config.Values) (*plan, error) {
	p := &plan{root: target.Root, files: files, ecosystems: ecosystems}

	rules, err := suppress.Compile(values.Suppress)
	if err != nil {
		return nil, err
	}
	p.rules = rules

	p.widgets = exceptions.LoadWidgetManager(values.ExclusionConfig)
	if values.ReportingMode != config.DefaultReportingMode || values.ExclusionConfig == "" {
		p.widgets = p.widgets.WithMode(values.ReportingMode)
	}

	linter, runtime, warnings := e.toolchain(ctx, values)
	p.warnings = append(p.warnings, warnings...)

	sources := detector.NewSources(target.Root)
	registry := detector.NewSymbolRegistry()
	prescanCtx, prescan := telemetry.Start(ctx, "wpfatal.prescan", attribute.Int("files", len(files)))
	err = registry.Ingest(prescanCtx, sources, files)
	telemetry.End(prescan, err)
	if err != nil {
		return nil, fmt.Errorf("index plugin symbols: %w", err)
	}

	deps := detector.Dependencies{
		Sources:    sources,
		Symbols:    registry,
		Runtime:    runtime,
		Exceptions: exceptions.NewDependencyManager(),
		Widgets:    p.widgets,
		Linter:     linter,
	}
	detectors, err := detector.Defaults(deps).Select(values.Detectors)
	if err != nil {
		return nil, err
	}
	detector.Configure(detectors, target.Root, p.ecosystems)
	p.detectors = detectors
	return p, nil
}

func (e *Engine) detectEcosystems(ctx context.Context, root string, values config.Values) (ecosystem.Set, error) {
	detected := ecosystem.NewSet()
	if !values.DisableEcosystemDetection {
		var err error
		detected, err = ecosystem.NewDetector().WithMaxScanFiles(values.MaxEcosystemScanFiles).Detect(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("detect ecosystems: %w", err)
		}
	}
	return detected.Union(ecosystem.NewSet(values.ForceEcosystems...)), nil
}

// toolchain builds the lint runner and symbol inventory. A missing php
// binary disables linting and probing with a warning.
func (e *Engine) toolchain(ctx context.Context, values config.Values) (detector.Linter, *symbols.Inventory, []string) {
	inventory := symbols.Builtin()
	if e.Linter != nil {
		return e.Linter, inventory, nil
	}
	if !values.Lint.Enabled && !values.ProbeRuntime {
		return nil, inventory, nil
	}

	var warnings []string
	runner, err := phplint.New(phplint.Options{
		Binary:  values.Lint.Binary,
		Timeout: values.Lint.Timeout,
		Rate:    values.Lint.Rate,
		Observe: e.Metrics.ObserveLint,
	})
	if err != nil {
		if errors.Is(err, phplint.ErrBinaryNotFound) {
			slog.Warn("php binary not found", "binary", values.Lint.Binary)
			return nil, inventory, []string{"php binary not found; syntax lint and runtime probe disabled"}
		}
		return nil, inventory, []string{"php runner unavailable: " + err.Error()}
	}

	if values.ProbeRuntime {
		probed, err := symbols.Probe(ctx, runner)
		if err != nil {
			slog.Warn("php runtime probe failed", "error", err)
			warnings = append(warnings, "php runtime probe failed; using built-in symbol inventory")
		} else {
			inventory = probed
		}
	}
	if !values.Lint.Enabled {
		return nil, inventory, warnings
	}
	return runner, inventory, warnings
}

func (e *Engine) runCombination(ctx context.Context, p *plan, values config.Values, target detector.Target) (report.Combination, error) {
	ctx, span := telemetry.Start(ctx, "wpfatal.combination",
		attribute.String("php", target.PHPVersion),
		attribute.String("wp", target.WPVersion),
	)
	found, err := scanFiles(ctx, p.detectors, p.files, target, values.Workers)
	telemetry.End(span, err)
	if err != nil {
		return report.Combination{}, err
	}

	combination := report.Combination{PHP: target.PHPVersion, WP: target.WPVersion}
	if values.IgnoreDependencyErrors {
		kept := found[:0]
		for _, item := range found {
			if !item.Kind.IsDependencyKind() {
				kept = append(kept, item)
			}
		}
		dropped := len(found) - len(kept)
		e.Metrics.AddSuppressed(metrics.ReasonDependency, dropped)
		combination.Suppressed += dropped
		found = kept
	}

	found, dropped := p.rules.Filter(found, p.root, target.PHPVersion, target.WPVersion)
	e.Metrics.AddSuppressed(metrics.ReasonRule, dropped)
	combination.Suppressed += dropped

	visible := finding.FilterSeverities(found, values.Severities)
	e.Metrics.AddSuppressed(metrics.ReasonSeverity, len(found)-len(visible))

	combination.Issues = report.NewIssues(visible, p.root)
	slog.Debug("combination scanned",
		"php", target.PHPVersion,
		"wp", target.WPVersion,
		"findings", len(combination.Issues),
		"suppressed", combination.Suppressed,
	)
	return combination, nil
}

// scanFiles runs every detector over every file on a bounded pool. Files
// are independent once the symbol registry is built, so only the result
// order needs restoring.
func scanFiles(ctx context.Context, detectors []detector.Detector, files []string, target detector.Target, workers int) ([]finding.Finding, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([][]finding.Finding, len(files))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i, path := range files {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			for _, item := range detectors {
				results[i] = append(results[i], item.Detect(groupCtx, path, target)...)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, items := range results {
		total += len(items)
	}
	found := make([]finding.Finding, 0, total)
	for _, items := range results {
		found = append(found, items...)
	}
	finding.Sort(found)
	return found, nil
}

func (e *Engine) record(rep report.Report, durations map[[2]string]time.Duration) {
	if e.Metrics == nil {
		return
	}
	for _, combination := range rep.Combinations {
		e.Metrics.AddFilesScanned(rep.FilesScanned)
		if elapsed, ok := durations[[2]string{combination.PHP, combination.WP}]; ok {
			e.Metrics.ObserveCombination(combination.PHP, combination.WP, elapsed)
		}
		for _, issue := range combination.Issues {
			e.Metrics.AddFinding(string(issue.Kind), string(issue.Severity))
		}
	}
}
