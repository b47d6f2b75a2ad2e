package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ben-ranford/wpfatal/internal/testutil"
)

var snapshotTime = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func TestSaveSnapshotAndApplyBaseline(t *testing.T) {
	dir := t.TempDir()
	path, err := SaveSnapshot(dir, "release/1.2", sampleReport(), snapshotTime)
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if filepath.Base(path) != "release_1.2.json" {
		t.Fatalf("unexpected snapshot file name %q", filepath.Base(path))
	}
	if path != BaselineSnapshotPath(dir, "release/1.2") {
		t.Fatalf("expected snapshot path helper to agree, got %q", path)
	}

	baseline, err := LoadBaseline(path)
	if err != nil {
		t.Fatalf("load baseline: %v", err)
	}
	if baseline.Key != "release/1.2" || baseline.Len() != 2 {
		t.Fatalf("unexpected baseline: key=%q len=%d", baseline.Key, baseline.Len())
	}

	current := sampleReport()
	dropped := ApplyBaseline(&current, baseline)
	if dropped != 2 {
		t.Fatalf("expected 2 baselined findings, got %d", dropped)
	}
	if current.Summary.TotalFindings != 0 || current.Summary.Baselined != 2 {
		t.Fatalf("unexpected summary after baseline: %+v", current.Summary)
	}
	if !current.Passed() {
		t.Fatalf("expected report to pass after baselining")
	}
	if current.Baseline == nil || current.Baseline.Baselined != 2 || current.Baseline.Path != path {
		t.Fatalf("unexpected baseline metadata: %+v", current.Baseline)
	}
}

func TestSaveSnapshotRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	if _, err := SaveSnapshot(dir, "main", sampleReport(), snapshotTime); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	_, err := SaveSnapshot(dir, "main", sampleReport(), snapshotTime)
	if !errors.Is(err, ErrBaselineAlreadyExists) {
		t.Fatalf("expected ErrBaselineAlreadyExists, got %v", err)
	}
}

func TestSaveSnapshotRequiresDirAndKey(t *testing.T) {
	if _, err := SaveSnapshot("", "main", sampleReport(), snapshotTime); err == nil {
		t.Fatalf("expected error for empty directory")
	}
	if _, err := SaveSnapshot(t.TempDir(), "  ", sampleReport(), snapshotTime); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestLoadBaselineFromPlainReport(t *testing.T) {
	payload, err := json.Marshal(sampleReport())
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}
	path := testutil.WriteTempFile(t, "report.json", string(payload))

	baseline, err := LoadBaseline(path)
	if err != nil {
		t.Fatalf("load baseline: %v", err)
	}
	if baseline.Key != "" || baseline.Len() != 2 {
		t.Fatalf("unexpected baseline: key=%q len=%d", baseline.Key, baseline.Len())
	}
}

func TestApplyBaselineMatchesNormalizedVersions(t *testing.T) {
	previous := sampleReport()
	previous.Combinations[0].PHP = "8.1.0"
	previous.Combinations[0].WP = "6.4.0"
	baseline := newBaseline("prev.json", "", previous)

	current := sampleReport()
	current.Combinations[0].Issues[0].Line = 80
	if dropped := ApplyBaseline(&current, baseline); dropped != 2 {
		t.Fatalf("expected normalized versions to match, got %d", dropped)
	}
}

func TestApplyBaselineKeepsNewFindings(t *testing.T) {
	previous := sampleReport()
	previous.Combinations[0].Issues = previous.Combinations[0].Issues[:1]
	baseline := newBaseline("prev.json", "", previous)

	current := sampleReport()
	if dropped := ApplyBaseline(&current, baseline); dropped != 1 {
		t.Fatalf("expected 1 baselined finding, got %d", dropped)
	}
	if current.Summary.TotalFindings != 1 || current.Combinations[0].Baselined != 1 {
		t.Fatalf("unexpected result: %+v", current.Summary)
	}
	if current.Combinations[0].Issues[0].Kind != "DEPRECATED_FUNCTION" {
		t.Fatalf("expected new finding to survive, got %s", current.Combinations[0].Issues[0].Kind)
	}
}

func TestLoadBaselineErrors(t *testing.T) {
	if _, err := LoadBaseline(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing baseline")
	}

	invalid := testutil.WriteTempFile(t, "invalid.json", "{")
	if _, err := LoadBaseline(invalid); err == nil {
		t.Fatalf("expected error for invalid json")
	}

	future := testutil.WriteTempFile(t, "future.json", `{"baselineSchemaVersion":"9.0.0","key":"x","report":{}}`)
	if _, err := LoadBaseline(future); err == nil {
		t.Fatalf("expected error for unsupported schema version")
	}
}

func TestSanitizeBaselineKey(t *testing.T) {
	cases := map[string]string{
		"main":        "main",
		"feature/x y": "feature_x_y",
		"...":         "baseline",
		"":            "baseline",
	}
	for input, want := range cases {
		if got := sanitizeBaselineKey(input); got != want {
			t.Fatalf("sanitize %q: expected %q, got %q", input, want, got)
		}
	}
}

func TestSnapshotFilePermissions(t *testing.T) {
	path, err := SaveSnapshot(t.TempDir(), "perm", sampleReport(), snapshotTime)
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat snapshot: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 snapshot, got %v", info.Mode().Perm())
	}
}
