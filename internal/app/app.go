package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ben-ranford/wpfatal/internal/config"
	"github.com/ben-ranford/wpfatal/internal/engine"
	"github.com/ben-ranford/wpfatal/internal/gitexec"
	"github.com/ben-ranford/wpfatal/internal/metrics"
	"github.com/ben-ranford/wpfatal/internal/report"
	"github.com/ben-ranford/wpfatal/internal/watch"
	"github.com/ben-ranford/wpfatal/internal/workspace"
)

var (
	ErrUnknownMode   = errors.New("unknown mode")
	ErrFatalFindings = errors.New("fatal errors detected in at least one PHP/WordPress combination")
)

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

type App struct {
	Scanner   engine.Scanner
	Metrics   *metrics.Metrics
	Formatter report.Formatter
	// Out receives the reports of watch mode as they are produced.
	Out io.Writer
	Now func() time.Time
}

func New(out io.Writer) *App {
	collectors := metrics.New()
	scanner := engine.New()
	scanner.Metrics = collectors
	return &App{
		Scanner:   scanner,
		Metrics:   collectors,
		Formatter: report.NewFormatter(),
		Out:       out,
		Now:       time.Now,
	}
}

func (a *App) Execute(ctx context.Context, req Request) (string, error) {
	switch req.Mode {
	case ModeScan:
		return a.executeScan(ctx, req)
	case ModeWatch:
		return a.executeWatch(ctx, req)
	case ModeEcosystems:
		return a.executeEcosystems(ctx, req)
	case ModeExclusionsStats:
		return a.executeExclusionsStats(req)
	case ModeExclusionsExport:
		return a.executeExclusionsExport(req)
	case ModeVersion:
		return "wpfatal " + Version, nil
	default:
		return "", ErrUnknownMode
	}
}

func (a *App) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

func (a *App) executeScan(ctx context.Context, req Request) (string, error) {
	reportData, err := a.scan(ctx, req)
	if err != nil {
		return "", err
	}
	formatted, err := a.Formatter.WithColor(req.Scan.Color).Format(reportData, req.Format)
	if err != nil {
		return "", err
	}
	if !reportData.Passed() {
		return formatted, ErrFatalFindings
	}
	return formatted, nil
}

func (a *App) scan(ctx context.Context, req Request) (report.Report, error) {
	values, configPath, err := resolveValues(req)
	if err != nil {
		return report.Report{}, err
	}
	reportData, err := a.Scanner.Run(ctx, engine.Request{Path: req.Path, ConfigPath: configPath, Values: values})
	if err != nil {
		return report.Report{}, err
	}
	if err := a.applyBaselineIfNeeded(&reportData, req.Scan); err != nil {
		return report.Report{}, err
	}
	if err := a.saveBaselineIfNeeded(ctx, &reportData, req.Scan); err != nil {
		return report.Report{}, err
	}
	if path := strings.TrimSpace(req.Scan.MetricsFile); path != "" {
		if err := a.Metrics.WriteTextfile(path); err != nil {
			return report.Report{}, fmt.Errorf("write metrics file: %w", err)
		}
	}
	return reportData, nil
}

// resolveValues layers the flag overrides over the plugin's config file.
func resolveValues(req Request) (config.Values, string, error) {
	target, err := workspace.Resolve(req.Path)
	if err != nil {
		return config.Values{}, "", err
	}
	loaded, err := config.Load(target.Root, req.ConfigPath)
	if err != nil {
		return config.Values{}, "", err
	}
	if err := req.Scan.Overrides.Validate(); err != nil {
		return config.Values{}, "", err
	}
	merged := config.Merge(loaded.Overrides, req.Scan.Overrides)
	values := merged.Apply(config.Defaults())
	if err := values.Validate(); err != nil {
		return config.Values{}, "", err
	}
	if loaded.ConfigPath != "" {
		slog.Debug("loaded config", "path", loaded.ConfigPath)
	}
	return values, loaded.ConfigPath, nil
}

func (a *App) applyBaselineIfNeeded(reportData *report.Report, req ScanRequest) error {
	path := strings.TrimSpace(req.BaselinePath)
	if path == "" {
		return nil
	}
	baseline, err := report.LoadBaseline(path)
	if err != nil {
		return err
	}
	dropped := report.ApplyBaseline(reportData, baseline)
	a.Metrics.AddSuppressed(metrics.ReasonBaseline, dropped)
	slog.Debug("applied baseline", "path", path, "baselined", dropped)
	return nil
}

func (a *App) saveBaselineIfNeeded(ctx context.Context, reportData *report.Report, req ScanRequest) error {
	dir := strings.TrimSpace(req.SaveBaselineDir)
	if dir == "" {
		return nil
	}
	key, err := resolveBaselineKey(ctx, reportData.PluginRoot, req.BaselineKey)
	if err != nil {
		return err
	}
	savedPath, err := report.SaveSnapshot(dir, key, *reportData, a.now())
	if err != nil {
		return err
	}
	reportData.Warnings = append(reportData.Warnings, "saved baseline snapshot: "+savedPath)
	return nil
}

// resolveBaselineKey defaults to the checked-out commit of the plugin.
func resolveBaselineKey(ctx context.Context, root, explicit string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	sha, err := gitexec.HeadCommit(ctx, root)
	if err != nil {
		return "", fmt.Errorf("--save-baseline requires --baseline-key outside a git checkout: %w", err)
	}
	if sha == "" {
		return "", fmt.Errorf("--save-baseline requires --baseline-key outside a git checkout")
	}
	return "commit:" + sha, nil
}

// executeWatch scans once, then rescans whenever PHP files change until
// ctx is done. Each report is written to Out as it is produced.
func (a *App) executeWatch(ctx context.Context, req Request) (string, error) {
	target, err := workspace.Resolve(req.Path)
	if err != nil {
		return "", err
	}
	values, _, err := resolveValues(req)
	if err != nil {
		return "", err
	}
	watcher, err := watch.New(target.Root, watch.Options{
		Debounce: req.Scan.Debounce,
		Include:  values.Include,
		Exclude:  values.Exclude,
	})
	if err != nil {
		return "", fmt.Errorf("start watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	a.emit(a.executeScan(ctx, req))
	// A snapshot key can only be written once.
	req.Scan.SaveBaselineDir = ""

	slog.Info("watching for changes", "root", target.Root)
	err = watcher.Run(ctx, func(ctx context.Context, paths []string) {
		slog.Info("change detected, rescanning", "files", len(paths))
		a.emit(a.executeScan(ctx, req))
	})
	return "", err
}

func (a *App) emit(output string, err error) {
	if output != "" && a.Out != nil {
		if !strings.HasSuffix(output, "\n") {
			output += "\n"
		}
		_, _ = io.WriteString(a.Out, output)
	}
	if err != nil && !errors.Is(err, ErrFatalFindings) && !errors.Is(err, context.Canceled) {
		slog.Error("scan failed", "error", err)
	}
}
