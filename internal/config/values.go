package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ben-ranford/wpfatal/internal/ecosystem"
	"github.com/ben-ranford/wpfatal/internal/exceptions"
	"github.com/ben-ranford/wpfatal/internal/finding"
	"github.com/ben-ranford/wpfatal/internal/phplint"
	"github.com/ben-ranford/wpfatal/internal/version"
)

const (
	DefaultWorkers       = 1
	DefaultReportingMode = exceptions.ModeFatalOnly
	DefaultCachePath     = ".wpfatal-cache"
)

var (
	DefaultPHPVersions = []string{"7.4", "8.0", "8.1", "8.2", "8.3"}
	DefaultWPVersions  = []string{"6.3", "6.4", "6.5", "6.6"}
)

type Lint struct {
	Enabled bool
	Binary  string
	Timeout time.Duration
	// Rate caps lint invocations per second; zero is unlimited.
	Rate float64
}

type Cache struct {
	Enabled bool
	Path    string
}

type Values struct {
	PHPVersions               []string
	WPVersions                []string
	Severities                []finding.Severity
	ReportingMode             exceptions.Mode
	ExclusionConfig           string
	ForceEcosystems           []string
	DisableEcosystemDetection bool
	IgnoreDependencyErrors    bool
	Include                   []string
	Exclude                   []string
	Detectors                 []string
	Workers                   int
	Lint                      Lint
	ProbeRuntime              bool
	MaxEcosystemScanFiles     int
	Suppress                  []string
	Cache                     Cache
}

// Overrides carries only the settings a layer set explicitly. Nil slices
// and nil pointers leave the lower layer untouched.
type Overrides struct {
	PHPVersions               []string
	WPVersions                []string
	Severities                []finding.Severity
	ReportingMode             *exceptions.Mode
	ExclusionConfig           *string
	ForceEcosystems           []string
	DisableEcosystemDetection *bool
	IgnoreDependencyErrors    *bool
	Include                   []string
	Exclude                   []string
	Detectors                 []string
	Workers                   *int
	LintEnabled               *bool
	LintBinary                *string
	LintTimeout               *time.Duration
	LintRate                  *float64
	ProbeRuntime              *bool
	MaxEcosystemScanFiles     *int
	Suppress                  []string
	CacheEnabled              *bool
	CachePath                 *string
}

func Defaults() Values {
	return Values{
		PHPVersions:           append([]string(nil), DefaultPHPVersions...),
		WPVersions:            append([]string(nil), DefaultWPVersions...),
		Severities:            []finding.Severity{finding.SeverityError},
		ReportingMode:         DefaultReportingMode,
		Workers:               DefaultWorkers,
		MaxEcosystemScanFiles: ecosystem.DefaultMaxScanFiles,
		Lint: Lint{
			Enabled: true,
			Binary:  phplint.DefaultBinary,
			Timeout: phplint.DefaultTimeout,
		},
		Cache: Cache{Path: DefaultCachePath},
	}
}

func (v *Values) Validate() error {
	if err := validateVersions("php_versions", v.PHPVersions); err != nil {
		return err
	}
	if err := validateVersions("wp_versions", v.WPVersions); err != nil {
		return err
	}
	if len(v.Severities) == 0 {
		return fmt.Errorf("invalid config severities: must not be empty")
	}
	if _, err := exceptions.ParseMode(string(v.ReportingMode)); err != nil {
		return fmt.Errorf("invalid config reporting_mode: %w", err)
	}
	if err := validatePositive("workers", v.Workers); err != nil {
		return err
	}
	if err := validatePositive("max_ecosystem_scan_files", v.MaxEcosystemScanFiles); err != nil {
		return err
	}
	if v.Lint.Enabled && strings.TrimSpace(v.Lint.Binary) == "" {
		return fmt.Errorf("invalid config lint.binary: must not be empty")
	}
	if v.Lint.Timeout <= 0 {
		return fmt.Errorf("invalid config lint.timeout: %s (must be > 0)", v.Lint.Timeout)
	}
	if v.Lint.Rate < 0 {
		return fmt.Errorf("invalid config lint.rate: %v (must be >= 0)", v.Lint.Rate)
	}
	if v.Cache.Enabled && strings.TrimSpace(v.Cache.Path) == "" {
		return fmt.Errorf("invalid config cache.path: must not be empty")
	}
	return nil
}

func (o *Overrides) Apply(base Values) Values {
	resolved := base
	applySlice(&resolved.PHPVersions, o.PHPVersions)
	applySlice(&resolved.WPVersions, o.WPVersions)
	applySlice(&resolved.Severities, o.Severities)
	applySlice(&resolved.ForceEcosystems, o.ForceEcosystems)
	applySlice(&resolved.Include, o.Include)
	applySlice(&resolved.Exclude, o.Exclude)
	applySlice(&resolved.Detectors, o.Detectors)
	applySlice(&resolved.Suppress, o.Suppress)
	applyValue(&resolved.ReportingMode, o.ReportingMode)
	applyValue(&resolved.ExclusionConfig, o.ExclusionConfig)
	applyValue(&resolved.DisableEcosystemDetection, o.DisableEcosystemDetection)
	applyValue(&resolved.IgnoreDependencyErrors, o.IgnoreDependencyErrors)
	applyValue(&resolved.Workers, o.Workers)
	applyValue(&resolved.Lint.Enabled, o.LintEnabled)
	applyValue(&resolved.Lint.Binary, o.LintBinary)
	applyValue(&resolved.Lint.Timeout, o.LintTimeout)
	applyValue(&resolved.Lint.Rate, o.LintRate)
	applyValue(&resolved.ProbeRuntime, o.ProbeRuntime)
	applyValue(&resolved.MaxEcosystemScanFiles, o.MaxEcosystemScanFiles)
	applyValue(&resolved.Cache.Enabled, o.CacheEnabled)
	applyValue(&resolved.Cache.Path, o.CachePath)
	return resolved
}

// Validate checks only the fields that are set.
func (o *Overrides) Validate() error {
	if o.PHPVersions != nil {
		if err := validateVersions("php_versions", o.PHPVersions); err != nil {
			return err
		}
	}
	if o.WPVersions != nil {
		if err := validateVersions("wp_versions", o.WPVersions); err != nil {
			return err
		}
	}
	if o.ReportingMode != nil {
		if _, err := exceptions.ParseMode(string(*o.ReportingMode)); err != nil {
			return fmt.Errorf("invalid config reporting_mode: %w", err)
		}
	}
	if err := validateOptionalInt(o.Workers, func(value int) error {
		return validatePositive("workers", value)
	}); err != nil {
		return err
	}
	if err := validateOptionalInt(o.MaxEcosystemScanFiles, func(value int) error {
		return validatePositive("max_ecosystem_scan_files", value)
	}); err != nil {
		return err
	}
	if o.LintTimeout != nil && *o.LintTimeout <= 0 {
		return fmt.Errorf("invalid config lint.timeout: %s (must be > 0)", *o.LintTimeout)
	}
	if o.LintRate != nil && *o.LintRate < 0 {
		return fmt.Errorf("invalid config lint.rate: %v (must be >= 0)", *o.LintRate)
	}
	return nil
}

// Merge layers higher on top of base.
func Merge(base, higher Overrides) Overrides {
	merged := base
	applySlice(&merged.PHPVersions, higher.PHPVersions)
	applySlice(&merged.WPVersions, higher.WPVersions)
	applySlice(&merged.Severities, higher.Severities)
	applySlice(&merged.ForceEcosystems, higher.ForceEcosystems)
	applySlice(&merged.Include, higher.Include)
	applySlice(&merged.Exclude, higher.Exclude)
	applySlice(&merged.Detectors, higher.Detectors)
	applySlice(&merged.Suppress, higher.Suppress)
	applyPointer(&merged.ReportingMode, higher.ReportingMode)
	applyPointer(&merged.ExclusionConfig, higher.ExclusionConfig)
	applyPointer(&merged.DisableEcosystemDetection, higher.DisableEcosystemDetection)
	applyPointer(&merged.IgnoreDependencyErrors, higher.IgnoreDependencyErrors)
	applyPointer(&merged.Workers, higher.Workers)
	applyPointer(&merged.LintEnabled, higher.LintEnabled)
	applyPointer(&merged.LintBinary, higher.LintBinary)
	applyPointer(&merged.LintTimeout, higher.LintTimeout)
	applyPointer(&merged.LintRate, higher.LintRate)
	applyPointer(&merged.ProbeRuntime, higher.ProbeRuntime)
	applyPointer(&merged.MaxEcosystemScanFiles, higher.MaxEcosystemScanFiles)
	applyPointer(&merged.CacheEnabled, higher.CacheEnabled)
	applyPointer(&merged.CachePath, higher.CachePath)
	return merged
}

func applySlice[T any](target *[]T, value []T) {
	if value != nil {
		*target = append([]T(nil), value...)
	}
}

func applyValue[T any](target *T, value *T) {
	if value != nil {
		*target = *value
	}
}

func applyPointer[T any](target **T, value *T) {
	if value != nil {
		*target = value
	}
}

func validateVersions(name string, values []string) error {
	normalized, err := version.NormalizeList(values)
	if err != nil {
		return fmt.Errorf("invalid config %s: %w", name, err)
	}
	if len(normalized) == 0 {
		return fmt.Errorf("invalid config %s: must not be empty", name)
	}
	return nil
}

func validatePositive(name string, value int) error {
	if value < 1 {
		return fmt.Errorf("invalid config %s: %d (must be >= 1)", name, value)
	}
	return nil
}

func validateOptionalInt(value *int, validate func(int) error) error {
	if value == nil {
		return nil
	}
	return validate(*value)
}
