package app

import (
	"time"

	"github.com/ben-ranford/wpfatal/internal/config"
	"github.com/ben-ranford/wpfatal/internal/exceptions"
	"github.com/ben-ranford/wpfatal/internal/report"
)

type Mode string

const (
	ModeScan             Mode = "scan"
	ModeWatch            Mode = "watch"
	ModeEcosystems       Mode = "ecosystems"
	ModeExclusionsStats  Mode = "exclusions-stats"
	ModeExclusionsExport Mode = "exclusions-export"
	ModeVersion          Mode = "version"
)

type Request struct {
	Mode       Mode
	Path       string
	Format     report.Format
	ConfigPath string
	Scan       ScanRequest
	Exclusions ExclusionsRequest
}

type ScanRequest struct {
	// Overrides are the flag-level settings layered over the config file.
	Overrides       config.Overrides
	BaselinePath    string
	SaveBaselineDir string
	BaselineKey     string
	MetricsFile     string
	Color           bool
	Debounce        time.Duration
}

type ExclusionsRequest struct {
	ConfigPath    string
	ReportingMode exceptions.Mode
	OutputPath    string
}

func DefaultRequest() Request {
	return Request{
		Mode:   ModeScan,
		Path:   ".",
		Format: report.FormatPretty,
		Exclusions: ExclusionsRequest{
			ReportingMode: config.DefaultReportingMode,
		},
	}
}
