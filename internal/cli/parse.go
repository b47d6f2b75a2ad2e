package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ben-ranford/wpfatal/internal/app"
	"github.com/ben-ranford/wpfatal/internal/config"
	"github.com/ben-ranford/wpfatal/internal/exceptions"
	"github.com/ben-ranford/wpfatal/internal/finding"
	"github.com/ben-ranford/wpfatal/internal/report"
	"github.com/ben-ranford/wpfatal/internal/watch"
)

var (
	ErrHelpRequested     = errors.New("help requested")
	ErrConflictingFilter = errors.New("cannot use both --show-all-errors and --fatal-only")
)

const (
	colorAuto   = "auto"
	colorAlways = "always"
	colorNever  = "never"
)

// Invocation is a parsed command line.
type Invocation struct {
	Request app.Request
	Logging LogOptions
	Color   string
	// Usage is the usage text of the command that was resolved, used for
	// help output and parse errors.
	Usage string
}

type LogOptions struct {
	Level  slog.Level
	Format string
}

type parser struct {
	inv      Invocation
	help     bool
	logLevel string
	logFmt   string
	verbose  bool
	color    string
	noColors bool
}

func newParser() *parser {
	return &parser{inv: Invocation{Request: app.DefaultRequest()}}
}

// ParseArgs resolves args to a request without running it.
func ParseArgs(args []string) (Invocation, error) {
	p := newParser()
	root := p.rootCommand()
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	cmd, err := root.ExecuteC()
	if p.help {
		return p.inv, ErrHelpRequested
	}
	if err != nil {
		if cmd != nil {
			p.inv.Usage = cmd.UsageString()
		}
		return p.inv, err
	}
	return p.inv, nil
}

// Usage returns the top-level usage text.
func Usage() string {
	return newParser().rootCommand().UsageString()
}

func (p *parser) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "wpfatal",
		Short:         "Find constructs in a WordPress plugin that cause fatal errors",
		Long:          "wpfatal statically scans a WordPress plugin for code that fails under specific PHP and WordPress versions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return p.resolveGlobals()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetHelpFunc(func(cmd *cobra.Command, _ []string) {
		p.help = true
		p.inv.Usage = cmd.UsageString()
	})

	flags := root.PersistentFlags()
	flags.StringVar(&p.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flags.StringVar(&p.logFmt, "log-format", "text", "Log format: text or json")
	flags.BoolVarP(&p.verbose, "verbose", "v", false, "Shorthand for --log-level debug")
	flags.StringVar(&p.color, "color", colorAuto, "Colored output: auto, always or never")
	flags.BoolVar(&p.noColors, "no-colors", false, "Disable colored output")

	root.AddCommand(
		p.scanCommand(),
		p.watchCommand(),
		p.ecosystemsCommand(),
		p.exclusionsCommand(),
		p.versionCommand(),
	)
	return root
}

func (p *parser) resolveGlobals() error {
	level := p.logLevel
	if p.verbose {
		level = "debug"
	}
	if err := p.inv.Logging.Level.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level: %s", level)
	}
	switch format := strings.ToLower(strings.TrimSpace(p.logFmt)); format {
	case "text", "json":
		p.inv.Logging.Format = format
	default:
		return fmt.Errorf("invalid --log-format: %s", p.logFmt)
	}
	switch color := strings.ToLower(strings.TrimSpace(p.color)); color {
	case colorAuto, colorAlways, colorNever:
		p.inv.Color = color
	default:
		return fmt.Errorf("invalid --color: %s", p.color)
	}
	if p.noColors {
		p.inv.Color = colorNever
	}
	return nil
}

func (p *parser) scanCommand() *cobra.Command {
	flags := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Scan a plugin directory or PHP file for fatal errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return p.fillScan(cmd, args, flags, app.ModeScan)
		},
	}
	bindScanFlags(cmd, flags)
	return cmd
}

func (p *parser) watchCommand() *cobra.Command {
	flags := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Scan a plugin and rescan whenever its PHP files change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.debounce <= 0 {
				return fmt.Errorf("--debounce must be > 0")
			}
			p.inv.Request.Scan.Debounce = flags.debounce
			return p.fillScan(cmd, args, flags, app.ModeWatch)
		},
	}
	bindScanFlags(cmd, flags)
	cmd.Flags().DurationVar(&flags.debounce, "debounce", watch.DefaultDebounce, "Quiet period before a rescan")
	return cmd
}

func (p *parser) fillScan(cmd *cobra.Command, args []string, flags *scanFlags, mode app.Mode) error {
	req := &p.inv.Request
	req.Mode = mode
	if len(args) == 1 {
		req.Path = args[0]
	}
	format, err := report.ParseFormat(flags.format)
	if err != nil {
		return err
	}
	req.Format = format
	req.ConfigPath = strings.TrimSpace(flags.configPath)

	overrides, err := flags.toOverrides(cmd)
	if err != nil {
		return err
	}
	req.Scan.Overrides = overrides
	req.Scan.BaselinePath = strings.TrimSpace(flags.baseline)
	req.Scan.SaveBaselineDir = strings.TrimSpace(flags.saveBaseline)
	req.Scan.BaselineKey = strings.TrimSpace(flags.baselineKey)
	req.Scan.MetricsFile = strings.TrimSpace(flags.metricsFile)
	return nil
}

func (p *parser) ecosystemsCommand() *cobra.Command {
	var format, configPath string
	var forced []string
	var maxFiles int
	cmd := &cobra.Command{
		Use:   "ecosystems [path]",
		Short: "List the plugin ecosystems a plugin depends on and why",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &p.inv.Request
			req.Mode = app.ModeEcosystems
			if len(args) == 1 {
				req.Path = args[0]
			}
			parsed, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			req.Format = parsed
			req.ConfigPath = strings.TrimSpace(configPath)
			if cmd.Flags().Changed("force-ecosystem") {
				req.Scan.Overrides.ForceEcosystems = lowerList(forced)
			}
			if cmd.Flags().Changed("max-ecosystem-scan-files") {
				req.Scan.Overrides.MaxEcosystemScanFiles = &maxFiles
			}
			return req.Scan.Overrides.Validate()
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table or json")
	cmd.Flags().StringVar(&configPath, "config", "", "Config file path")
	cmd.Flags().StringSliceVar(&forced, "force-ecosystem", nil, "Ecosystems to list as forced")
	cmd.Flags().IntVar(&maxFiles, "max-ecosystem-scan-files", 0, "Cap on files inspected for code signatures")
	return cmd
}

func (p *parser) exclusionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exclusions",
		Short: "Inspect the widget exclusion rules",
	}

	var statsConfig, statsMode, format string
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the widget exclusion rules",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			parsed, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			p.inv.Request.Format = parsed
			return p.fillExclusions(app.ModeExclusionsStats, statsConfig, statsMode, "")
		},
	}
	stats.Flags().StringVarP(&format, "format", "f", "table", "Output format: table or json")
	stats.Flags().StringVar(&statsConfig, "exclusion-config", "", "Widget exclusion JSON overlay")
	stats.Flags().StringVar(&statsMode, "reporting-mode", string(config.DefaultReportingMode), "Reporting mode: fatal_only, all_errors or debug_mode")

	var exportConfig, exportMode, output string
	export := &cobra.Command{
		Use:   "export",
		Short: "Print or save the merged widget exclusion rules",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return p.fillExclusions(app.ModeExclusionsExport, exportConfig, exportMode, output)
		},
	}
	export.Flags().StringVar(&exportConfig, "exclusion-config", "", "Widget exclusion JSON overlay")
	export.Flags().StringVar(&exportMode, "reporting-mode", string(config.DefaultReportingMode), "Reporting mode: fatal_only, all_errors or debug_mode")
	export.Flags().StringVarP(&output, "output", "o", "", "Write the rules to this file instead of stdout")

	cmd.AddCommand(stats, export)
	return cmd
}

func (p *parser) fillExclusions(mode app.Mode, configPath, reportingMode, output string) error {
	parsed, err := exceptions.ParseMode(reportingMode)
	if err != nil {
		return err
	}
	req := &p.inv.Request
	req.Mode = mode
	req.Exclusions = app.ExclusionsRequest{
		ConfigPath:    strings.TrimSpace(configPath),
		ReportingMode: parsed,
		OutputPath:    strings.TrimSpace(output),
	}
	return nil
}

func (p *parser) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the wpfatal version",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			p.inv.Request.Mode = app.ModeVersion
			return nil
		},
	}
}

// scanFlags tracks scan and watch flags before they become config overrides.
type scanFlags struct {
	format                    string
	configPath                string
	phpVersions               []string
	wpVersions                []string
	severities                []string
	showAllErrors             bool
	fatalOnly                 bool
	reportingMode             string
	exclusionConfig           string
	disableEcosystemDetection bool
	forceEcosystems           []string
	ignoreDependencyErrors    bool
	include                   []string
	exclude                   []string
	detectors                 []string
	workers                   int
	noLint                    bool
	phpBinary                 string
	lintTimeout               time.Duration
	lintRate                  float64
	probeRuntime              bool
	maxEcosystemScanFiles     int
	suppress                  []string
	cache                     bool
	cachePath                 string
	baseline                  string
	saveBaseline              string
	baselineKey               string
	metricsFile               string
	debounce                  time.Duration
}

func bindScanFlags(cmd *cobra.Command, f *scanFlags) {
	flags := cmd.Flags()
	flags.StringVarP(&f.format, "format", "f", string(report.FormatPretty), "Output format: pretty, table, json or sarif")
	flags.StringVar(&f.configPath, "config", "", "Config file path (default: discovered in the plugin root)")
	flags.StringSliceVar(&f.phpVersions, "php", nil, "PHP versions to test, comma-separated")
	flags.StringSliceVar(&f.wpVersions, "wp", nil, "WordPress versions to test, comma-separated")
	flags.StringSliceVar(&f.severities, "severity", nil, "Severities to report, comma-separated")
	flags.BoolVar(&f.showAllErrors, "show-all-errors", false, "Report errors and warnings")
	flags.BoolVar(&f.showAllErrors, "all", false, "Alias for --show-all-errors")
	flags.BoolVar(&f.fatalOnly, "fatal-only", false, "Report errors only")
	flags.StringVar(&f.reportingMode, "reporting-mode", "", "Widget exclusion mode: fatal_only, all_errors or debug_mode")
	flags.StringVar(&f.exclusionConfig, "exclusion-config", "", "Widget exclusion JSON overlay")
	flags.BoolVar(&f.disableEcosystemDetection, "disable-ecosystem-detection", false, "Skip ecosystem detection")
	flags.StringSliceVar(&f.forceEcosystems, "force-ecosystem", nil, "Ecosystems to assume regardless of detection")
	flags.BoolVar(&f.ignoreDependencyErrors, "ignore-dependency-errors", false, "Drop undefined function and class findings")
	flags.StringArrayVar(&f.include, "include", nil, "Glob of relative paths to scan, repeatable")
	flags.StringArrayVar(&f.exclude, "exclude", nil, "Glob of relative paths to skip, repeatable")
	flags.StringSliceVar(&f.detectors, "detectors", nil, "Detector IDs to run, comma-separated")
	flags.IntVar(&f.workers, "workers", config.DefaultWorkers, "Files scanned in parallel")
	flags.BoolVar(&f.noLint, "no-lint", false, "Skip php -l")
	flags.StringVar(&f.phpBinary, "php-binary", "", "PHP binary used for linting")
	flags.DurationVar(&f.lintTimeout, "lint-timeout", 0, "Timeout of one lint invocation")
	flags.Float64Var(&f.lintRate, "lint-rate", 0, "Maximum lint invocations per second, 0 is unlimited")
	flags.BoolVar(&f.probeRuntime, "probe-runtime", false, "Ask the PHP binary for its declared functions and classes")
	flags.IntVar(&f.maxEcosystemScanFiles, "max-ecosystem-scan-files", 0, "Cap on files inspected for ecosystem code signatures")
	flags.StringArrayVar(&f.suppress, "suppress", nil, "CEL expression, findings matching it are dropped, repeatable")
	flags.BoolVar(&f.cache, "cache", false, "Reuse results while the plugin is unchanged")
	flags.StringVar(&f.cachePath, "cache-path", "", "Result cache directory")
	flags.StringVar(&f.baseline, "baseline", "", "Report or baseline snapshot whose findings are ignored")
	flags.StringVar(&f.saveBaseline, "save-baseline", "", "Directory to save a baseline snapshot in")
	flags.StringVar(&f.baselineKey, "baseline-key", "", "Key of the saved baseline snapshot (default: commit:<HEAD sha>)")
	flags.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus textfile metrics to this path")
}

func (f *scanFlags) toOverrides(cmd *cobra.Command) (config.Overrides, error) {
	changed := cmd.Flags().Changed
	ov := config.Overrides{}
	if changed("php") {
		ov.PHPVersions = trimList(f.phpVersions)
	}
	if changed("wp") {
		ov.WPVersions = trimList(f.wpVersions)
	}

	if f.showAllErrors && f.fatalOnly {
		return ov, ErrConflictingFilter
	}
	switch {
	case changed("severity"):
		severities, err := finding.ParseSeverities(strings.Join(f.severities, ","))
		if err != nil {
			return ov, err
		}
		ov.Severities = severities
	case f.showAllErrors:
		ov.Severities = []finding.Severity{finding.SeverityError, finding.SeverityWarning}
	case f.fatalOnly:
		ov.Severities = []finding.Severity{finding.SeverityError}
	}

	if changed("reporting-mode") {
		mode, err := exceptions.ParseMode(f.reportingMode)
		if err != nil {
			return ov, err
		}
		ov.ReportingMode = &mode
	}
	if changed("exclusion-config") {
		ov.ExclusionConfig = ptr(strings.TrimSpace(f.exclusionConfig))
	}
	if changed("disable-ecosystem-detection") {
		ov.DisableEcosystemDetection = ptr(f.disableEcosystemDetection)
	}
	if changed("force-ecosystem") {
		ov.ForceEcosystems = lowerList(f.forceEcosystems)
	}
	if changed("ignore-dependency-errors") {
		ov.IgnoreDependencyErrors = ptr(f.ignoreDependencyErrors)
	}
	if changed("include") {
		ov.Include = trimList(f.include)
	}
	if changed("exclude") {
		ov.Exclude = trimList(f.exclude)
	}
	if changed("detectors") {
		ov.Detectors = lowerList(f.detectors)
	}
	if changed("workers") {
		ov.Workers = ptr(f.workers)
	}
	if changed("no-lint") {
		ov.LintEnabled = ptr(!f.noLint)
	}
	if changed("php-binary") {
		ov.LintBinary = ptr(strings.TrimSpace(f.phpBinary))
	}
	if changed("lint-timeout") {
		ov.LintTimeout = ptr(f.lintTimeout)
	}
	if changed("lint-rate") {
		ov.LintRate = ptr(f.lintRate)
	}
	if changed("probe-runtime") {
		ov.ProbeRuntime = ptr(f.probeRuntime)
	}
	if changed("max-ecosystem-scan-files") {
		ov.MaxEcosystemScanFiles = ptr(f.maxEcosystemScanFiles)
	}
	if changed("suppress") {
		ov.Suppress = trimList(f.suppress)
	}
	if changed("cache") {
		ov.CacheEnabled = ptr(f.cache)
	}
	if changed("cache-path") {
		ov.CachePath = ptr(strings.TrimSpace(f.cachePath))
	}
	if err := ov.Validate(); err != nil {
		return ov, err
	}
	return ov, nil
}

func ptr[T any](value T) *T {
	return &value
}

func trimList(values []string) []string {
	items := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func lowerList(values []string) []string {
	items := trimList(values)
	for i, item := range items {
		items[i] = strings.ToLower(item)
	}
	return items
}
