package version

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"8":        "8.0.0",
		"8.1":      "8.1.0",
		"6.4.2":    "6.4.2",
		"8.1.0RC1": "8.1.0",
		" v7.4 ":   "7.4.0",
		"5.9.3.1":  "5.9.3",
	}
	for input, want := range cases {
		got, err := Normalize(input)
		if err != nil {
			t.Fatalf("normalize %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("normalize %q: got %q want %q", input, got, want)
		}
	}
	if _, err := Normalize("latest"); !errors.Is(err, ErrInvalidVersion) {
		t.Fatalf("expected ErrInvalidVersion, got %v", err)
	}
}

func TestCompare(t *testing.T) {
	if Compare("6.4", "6.4.0") != 0 {
		t.Fatalf("expected 6.4 and 6.4.0 to be equal")
	}
	if !Below("8.0", "8.1.0") || Below("8.1", "8.1.0") {
		t.Fatalf("unexpected Below result")
	}
	if !AtLeast("8.10", "8.9") {
		t.Fatalf("expected numeric comparison of minor segments")
	}
	if Compare("bogus", "1.0") >= 0 {
		t.Fatalf("expected unparseable versions to sort first")
	}
}

func TestNormalizeListDropsDuplicates(t *testing.T) {
	got, err := NormalizeList([]string{"8.0", "8.0.0", "", "8.1"})
	if err != nil {
		t.Fatalf("normalize list: %v", err)
	}
	if len(got) != 2 || got[0] != "8.0" || got[1] != "8.1" {
		t.Fatalf("unexpected list %#v", got)
	}
	if _, err := NormalizeList([]string{"x"}); err == nil {
		t.Fatalf("expected invalid entry to fail")
	}
}
