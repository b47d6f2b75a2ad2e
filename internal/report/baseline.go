package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ben-ranford/wpfatal/internal/safeio"
	"github.com/ben-ranford/wpfatal/internal/version"
)

const BaselineSnapshotSchemaVersion = "1.0.0"

var ErrBaselineAlreadyExists = errors.New("baseline snapshot already exists")

type BaselineSnapshot struct {
	BaselineSchemaVersion string    `json:"baselineSchemaVersion"`
	Key                   string    `json:"key"`
	SavedAt               time.Time `json:"savedAt"`
	Report                Report    `json:"report"`
}

// Baseline is the set of accepted findings, keyed by version combination
// and fingerprint.
type Baseline struct {
	Path    string
	Key     string
	entries map[string]struct{}
}

// LoadBaseline reads a baseline snapshot or a plain JSON report.
func LoadBaseline(path string) (Baseline, error) {
	data, err := safeio.ReadFile(path)
	if err != nil {
		return Baseline{}, fmt.Errorf("read baseline %s: %w", path, err)
	}

	var snapshot BaselineSnapshot
	if err := json.Unmarshal(data, &snapshot); err == nil && strings.TrimSpace(snapshot.BaselineSchemaVersion) != "" {
		if snapshot.BaselineSchemaVersion != BaselineSnapshotSchemaVersion {
			return Baseline{}, fmt.Errorf("unsupported baseline schema version: %s", snapshot.BaselineSchemaVersion)
		}
		return newBaseline(path, strings.TrimSpace(snapshot.Key), snapshot.Report), nil
	}

	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return Baseline{}, fmt.Errorf("parse baseline %s: %w", path, err)
	}
	return newBaseline(path, "", rep), nil
}

func newBaseline(path, key string, rep Report) Baseline {
	baseline := Baseline{Path: path, Key: key, entries: make(map[string]struct{})}
	for _, combination := range rep.Combinations {
		for _, issue := range combination.Issues {
			fingerprint := issue.Fingerprint
			if fingerprint == "" {
				fingerprint = issue.Finding.Fingerprint(rep.PluginRoot)
			}
			baseline.entries[baselineKey(combination.PHP, combination.WP, fingerprint)] = struct{}{}
		}
	}
	return baseline
}

func (b Baseline) Len() int {
	return len(b.entries)
}

func (b Baseline) Contains(php, wp, fingerprint string) bool {
	_, ok := b.entries[baselineKey(php, wp, fingerprint)]
	return ok
}

func baselineKey(php, wp, fingerprint string) string {
	return normalizeVersion(php) + "\x00" + normalizeVersion(wp) + "\x00" + fingerprint
}

func normalizeVersion(value string) string {
	normalized, err := version.Normalize(value)
	if err != nil {
		return strings.TrimSpace(value)
	}
	return normalized
}

// ApplyBaseline drops issues present in baseline and refreshes the summary.
// It returns the number of issues dropped.
func ApplyBaseline(rep *Report, baseline Baseline) int {
	total := 0
	for i := range rep.Combinations {
		combination := &rep.Combinations[i]
		kept := make([]Issue, 0, len(combination.Issues))
		for _, issue := range combination.Issues {
			if baseline.Contains(combination.PHP, combination.WP, issue.Fingerprint) {
				combination.Baselined++
				total++
				continue
			}
			kept = append(kept, issue)
		}
		combination.Issues = kept
	}
	rep.Baseline = &BaselineMetadata{Path: baseline.Path, Key: baseline.Key, Baselined: total}
	rep.Finalize()
	return total
}

// SaveSnapshot writes rep under dir as <key>.json. An existing snapshot for
// the same key is never overwritten.
func SaveSnapshot(dir string, key string, rep Report, now time.Time) (string, error) {
	trimmedDir := strings.TrimSpace(dir)
	trimmedKey := strings.TrimSpace(key)
	if trimmedDir == "" {
		return "", fmt.Errorf("baseline store directory is required")
	}
	if trimmedKey == "" {
		return "", fmt.Errorf("baseline key is required")
	}

	if err := os.MkdirAll(trimmedDir, 0o750); err != nil {
		return "", err
	}

	sanitizedFileName := sanitizeBaselineKey(trimmedKey) + ".json"
	path := filepath.Join(trimmedDir, sanitizedFileName)
	root, err := os.OpenRoot(trimmedDir)
	if err != nil {
		return "", err
	}
	defer root.Close()
	file, err := root.OpenFile(sanitizedFileName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: key %q (%s)", ErrBaselineAlreadyExists, trimmedKey, path)
		}
		return "", err
	}
	defer file.Close()

	snapshot := BaselineSnapshot{
		BaselineSchemaVersion: BaselineSnapshotSchemaVersion,
		Key:                   trimmedKey,
		SavedAt:               now.UTC(),
		Report:                normalizeSnapshotReport(rep),
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		return "", err
	}
	return path, nil
}

func BaselineSnapshotPath(dir string, key string) string {
	return filepath.Join(strings.TrimSpace(dir), sanitizeBaselineKey(strings.TrimSpace(key))+".json")
}

func normalizeSnapshotReport(rep Report) Report {
	normalized := rep
	normalized.Combinations = make([]Combination, len(rep.Combinations))
	copy(normalized.Combinations, rep.Combinations)
	if strings.TrimSpace(normalized.SchemaVersion) == "" {
		normalized.SchemaVersion = SchemaVersion
	}
	normalized.Finalize()
	return normalized
}

func sanitizeBaselineKey(key string) string {
	if key == "" {
		return "baseline"
	}
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	sanitized := strings.Trim(b.String(), "._-")
	if sanitized == "" {
		return "baseline"
	}
	return sanitized
}
