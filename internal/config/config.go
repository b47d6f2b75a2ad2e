package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ben-ranford/wpfatal/internal/exceptions"
	"github.com/ben-ranford/wpfatal/internal/finding"
	"github.com/ben-ranford/wpfatal/internal/safeio"
)

const (
	readConfigFileErrFmt = "read config file %s: %w"
	parseConfigErrFmt    = "parse config file %s: %w"
)

var ErrConfigNotFound = errors.New("config file not found")

// CandidateNames lists the config files looked up in the plugin root, in order.
var CandidateNames = []string{".wpfatal.yml", ".wpfatal.yaml", ".wpfatal.toml", "wpfatal.json"}

type LoadResult struct {
	Overrides  Overrides
	Resolved   Values
	ConfigPath string
}

// Load discovers and decodes the config file for the plugin at rootPath.
// Without a config file the result holds the defaults.
func Load(rootPath, explicitPath string) (LoadResult, error) {
	rootAbs, err := filepath.Abs(rootPath)
	if err != nil {
		return LoadResult{}, fmt.Errorf("resolve plugin path: %w", err)
	}
	explicitProvided := strings.TrimSpace(explicitPath) != ""

	configPath, found, err := resolveConfigPath(rootAbs, strings.TrimSpace(explicitPath))
	if err != nil {
		return LoadResult{}, err
	}
	if !found {
		return LoadResult{Resolved: Defaults()}, nil
	}

	data, err := readConfigFile(rootAbs, configPath, explicitProvided)
	if err != nil {
		return LoadResult{}, fmt.Errorf(readConfigFileErrFmt, configPath, err)
	}
	raw, err := parseConfig(configPath, data)
	if err != nil {
		return LoadResult{}, fmt.Errorf(parseConfigErrFmt, configPath, err)
	}
	overrides, err := raw.toOverrides(filepath.Dir(configPath))
	if err != nil {
		return LoadResult{}, fmt.Errorf(parseConfigErrFmt, configPath, err)
	}
	if err := overrides.Validate(); err != nil {
		return LoadResult{}, fmt.Errorf(parseConfigErrFmt, configPath, err)
	}
	resolved := overrides.Apply(Defaults())
	if err := resolved.Validate(); err != nil {
		return LoadResult{}, fmt.Errorf(parseConfigErrFmt, configPath, err)
	}
	return LoadResult{Overrides: overrides, Resolved: resolved, ConfigPath: configPath}, nil
}

func resolveConfigPath(rootPath, explicitPath string) (string, bool, error) {
	if explicitPath != "" {
		candidate := explicitPath
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(rootPath, candidate)
		}
		candidate = filepath.Clean(candidate)
		if _, err := os.Stat(candidate); err != nil {
			if os.IsNotExist(err) {
				return "", false, fmt.Errorf("%w: %s", ErrConfigNotFound, candidate)
			}
			return "", false, fmt.Errorf(readConfigFileErrFmt, candidate, err)
		}
		return candidate, true, nil
	}

	for _, name := range CandidateNames {
		candidate := filepath.Join(rootPath, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !os.IsNotExist(err) {
			return "", false, fmt.Errorf(readConfigFileErrFmt, candidate, err)
		}
	}
	return "", false, nil
}

func readConfigFile(rootPath, path string, explicitProvided bool) ([]byte, error) {
	if !explicitProvided || isPathUnderRoot(rootPath, path) {
		return safeio.ReadFileUnder(rootPath, path)
	}
	return safeio.ReadFile(path)
}

func parseConfig(path string, data []byte) (rawConfig, error) {
	var cfg rawConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return rawConfig{}, fmt.Errorf("invalid JSON config: %w", err)
		}
		if decoder.More() {
			return rawConfig{}, fmt.Errorf("invalid JSON config: multiple JSON values")
		}
	case ".toml":
		decoder := toml.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return rawConfig{}, fmt.Errorf("invalid TOML config: %w", err)
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return rawConfig{}, fmt.Errorf("invalid YAML config: %w", err)
		}
	}
	return cfg, nil
}

type rawConfig struct {
	PHPVersions               []string `yaml:"php_versions" json:"php_versions" toml:"php_versions"`
	WPVersions                []string `yaml:"wp_versions" json:"wp_versions" toml:"wp_versions"`
	Severities                []string `yaml:"severities" json:"severities" toml:"severities"`
	ReportingMode             *string  `yaml:"reporting_mode" json:"reporting_mode" toml:"reporting_mode"`
	ExclusionConfig           *string  `yaml:"exclusion_config" json:"exclusion_config" toml:"exclusion_config"`
	ForceEcosystems           []string `yaml:"force_ecosystems" json:"force_ecosystems" toml:"force_ecosystems"`
	DisableEcosystemDetection *bool    `yaml:"disable_ecosystem_detection" json:"disable_ecosystem_detection" toml:"disable_ecosystem_detection"`
	IgnoreDependencyErrors    *bool    `yaml:"ignore_dependency_errors" json:"ignore_dependency_errors" toml:"ignore_dependency_errors"`
	Include                   []string `yaml:"include" json:"include" toml:"include"`
	Exclude                   []string `yaml:"exclude" json:"exclude" toml:"exclude"`
	Detectors                 []string `yaml:"detectors" json:"detectors" toml:"detectors"`
	Workers                   *int     `yaml:"workers" json:"workers" toml:"workers"`
	Lint                      rawLint  `yaml:"lint" json:"lint" toml:"lint"`
	ProbeRuntime              *bool    `yaml:"probe_runtime" json:"probe_runtime" toml:"probe_runtime"`
	MaxEcosystemScanFiles     *int     `yaml:"max_ecosystem_scan_files" json:"max_ecosystem_scan_files" toml:"max_ecosystem_scan_files"`
	Suppress                  []string `yaml:"suppress" json:"suppress" toml:"suppress"`
	Cache                     rawCache `yaml:"cache" json:"cache" toml:"cache"`
}

type rawLint struct {
	Enabled *bool    `yaml:"enabled" json:"enabled" toml:"enabled"`
	Binary  *string  `yaml:"binary" json:"binary" toml:"binary"`
	Timeout *string  `yaml:"timeout" json:"timeout" toml:"timeout"`
	Rate    *float64 `yaml:"rate" json:"rate" toml:"rate"`
}

type rawCache struct {
	Enabled *bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	Path    *string `yaml:"path" json:"path" toml:"path"`
}

// toOverrides converts decoded values. Relative paths resolve against
// baseDir, the directory holding the config file.
func (c *rawConfig) toOverrides(baseDir string) (Overrides, error) {
	overrides := Overrides{
		PHPVersions:               normalizeList(c.PHPVersions),
		WPVersions:                normalizeList(c.WPVersions),
		ForceEcosystems:           lowerList(c.ForceEcosystems),
		DisableEcosystemDetection: c.DisableEcosystemDetection,
		IgnoreDependencyErrors:    c.IgnoreDependencyErrors,
		Include:                   normalizePathPatterns(c.Include),
		Exclude:                   normalizePathPatterns(c.Exclude),
		Detectors:                 lowerList(c.Detectors),
		Workers:                   c.Workers,
		LintEnabled:               c.Lint.Enabled,
		LintBinary:                c.Lint.Binary,
		LintRate:                  c.Lint.Rate,
		ProbeRuntime:              c.ProbeRuntime,
		MaxEcosystemScanFiles:     c.MaxEcosystemScanFiles,
		Suppress:                  normalizeList(c.Suppress),
		CacheEnabled:              c.Cache.Enabled,
		CachePath:                 resolveRelative(baseDir, c.Cache.Path),
		ExclusionConfig:           resolveRelative(baseDir, c.ExclusionConfig),
	}
	if c.Severities != nil {
		severities, err := finding.ParseSeverities(strings.Join(c.Severities, ","))
		if err != nil {
			return Overrides{}, fmt.Errorf("invalid config severities: %w", err)
		}
		overrides.Severities = severities
	}
	if c.ReportingMode != nil {
		mode, err := exceptions.ParseMode(*c.ReportingMode)
		if err != nil {
			return Overrides{}, fmt.Errorf("invalid config reporting_mode: %w", err)
		}
		overrides.ReportingMode = &mode
	}
	if c.Lint.Timeout != nil {
		timeout, err := time.ParseDuration(strings.TrimSpace(*c.Lint.Timeout))
		if err != nil {
			return Overrides{}, fmt.Errorf("invalid config lint.timeout: %w", err)
		}
		overrides.LintTimeout = &timeout
	}
	return overrides, nil
}

func resolveRelative(baseDir string, value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed != "" && !filepath.IsAbs(trimmed) {
		trimmed = filepath.Join(baseDir, trimmed)
	}
	return &trimmed
}

func normalizeList(values []string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	normalized := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}

func lowerList(values []string) []string {
	normalized := normalizeList(values)
	for i, value := range normalized {
		normalized[i] = strings.ToLower(value)
	}
	return normalizeList(normalized)
}

func normalizePathPatterns(patterns []string) []string {
	normalized := normalizeList(patterns)
	for i, pattern := range normalized {
		normalized[i] = filepath.ToSlash(pattern)
	}
	return normalized
}

func isPathUnderRoot(rootPath, targetPath string) bool {
	relative, err := filepath.Rel(rootPath, targetPath)
	if err != nil {
		return false
	}
	return relative != ".." && !strings.HasPrefix(relative, ".."+string(os.PathSeparator))
}
