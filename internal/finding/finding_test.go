package finding

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestParseSeverities(t *testing.T) {
	got, err := ParseSeverities("error, warning,error")
	if err != nil {
		t.Fatalf("parse severities: %v", err)
	}
	if len(got) != 2 || got[0] != SeverityError || got[1] != SeverityWarning {
		t.Fatalf("unexpected severities: %#v", got)
	}
	if _, err := ParseSeverities("fatal"); !errors.Is(err, ErrUnknownSeverity) {
		t.Fatalf("expected ErrUnknownSeverity, got %v", err)
	}
	if _, err := ParseSeverities(" , "); !errors.Is(err, ErrUnknownSeverity) {
		t.Fatalf("expected empty list to fail, got %v", err)
	}
}

func TestWithContextDoesNotMutateOriginal(t *testing.T) {
	original := Finding{Kind: KindUndefinedFunction, Context: map[string]any{"function": "foo"}}
	updated := original.WithContext("wp_context", "admin")

	if _, ok := original.Context["wp_context"]; ok {
		t.Fatalf("expected original context to stay untouched")
	}
	if updated.ContextString("wp_context") != "admin" || updated.ContextString("function") != "foo" {
		t.Fatalf("unexpected updated context: %#v", updated.Context)
	}
}

func TestRelativePathAndFingerprint(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "plugins", "demo")
	item := Finding{
		Kind:    KindUndefinedClass,
		Message: "Class 'Foo' not found",
		File:    filepath.Join(root, "includes", "a.php"),
		Line:    12,
	}
	if got := item.RelativePath(root); got != "includes/a.php" {
		t.Fatalf("unexpected relative path %q", got)
	}
	if got := item.RelativePath(filepath.Join(string(filepath.Separator), "elsewhere")); got != "a.php" {
		t.Fatalf("expected base name fallback, got %q", got)
	}

	moved := item
	moved.Line = 40
	if item.Fingerprint(root) != moved.Fingerprint(root) {
		t.Fatalf("expected fingerprint to ignore line numbers")
	}
	other := item
	other.Message = "Class 'Bar' not found"
	if item.Fingerprint(root) == other.Fingerprint(root) {
		t.Fatalf("expected fingerprint to depend on the message")
	}
}

func TestStringAndSort(t *testing.T) {
	items := []Finding{
		{Kind: KindUndefinedClass, File: "/p/b.php", Line: 1, Message: "b", Severity: SeverityError},
		{Kind: KindUndefinedFunction, File: "/p/a.php", Line: 9, Message: "z", Severity: SeverityError},
		{Kind: KindUndefinedClass, File: "/p/a.php", Line: 9, Message: "a", Severity: SeverityWarning},
		{Kind: KindDeprecatedFunction, File: "/p/a.php", Line: 2, Message: "d", Severity: SeverityWarning},
	}
	Sort(items)
	if items[0].Line != 2 || items[1].Kind != KindUndefinedClass || items[3].File != "/p/b.php" {
		t.Fatalf("unexpected order: %#v", items)
	}
	if got := items[0].String(); got != "[warning] DEPRECATED_FUNCTION: d (a.php:2)" {
		t.Fatalf("unexpected string %q", got)
	}

	filtered := FilterSeverities(items, []Severity{SeverityError})
	if len(filtered) != 2 {
		t.Fatalf("expected two error findings, got %d", len(filtered))
	}
	if CompareSeverity(SeverityError, SeverityInfo) >= 0 {
		t.Fatalf("expected error to sort before info")
	}
}
