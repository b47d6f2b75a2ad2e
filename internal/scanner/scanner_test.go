package scanner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ben-ranford/wpfatal/internal/testutil"
)

func TestWalkSkipsExcludedDirectoriesAndFiles(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{
		"plugin.php",
		"includes/class-admin.php",
		"includes/Helper.PHP",
		"vendor/autoload.php",
		"node_modules/x/index.php",
		"tests/test-plugin.php",
		"assets/js/inline.php",
		"assets/images/sprite.php",
		".hidden/secret.php",
		"includes/.draft.php",
		"readme.txt",
		"tools/fatal/fataltest",
		"tools/fatal/src/FatalTester.php",
	} {
		testutil.MustWriteFile(t, filepath.Join(root, rel), "<?php\n")
	}
	testutil.MustWriteFile(t, filepath.Join(root, "tools", "fatal", "composer.json"), `{"name":"nhrrob/wp-fatal-tester"}`)

	files, err := Walk(context.Background(), root, Options{})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	want := []string{
		filepath.Join(root, "assets", "images", "sprite.php"),
		filepath.Join(root, "includes", "Helper.PHP"),
		filepath.Join(root, "includes", "class-admin.php"),
		filepath.Join(root, "plugin.php"),
	}
	if len(files) != len(want) {
		t.Fatalf("unexpected files %#v", files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("unexpected files %#v", files)
		}
	}
}

func TestWalkIncludeExcludeGlobs(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"plugin.php", "includes/a.php", "includes/legacy/b.php", "templates/c.php"} {
		testutil.MustWriteFile(t, filepath.Join(root, rel), "<?php\n")
	}
	files, err := Walk(context.Background(), root, Options{Include: []string{"includes/**"}, Exclude: []string{"includes/legacy/*"}})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(files) != 1 || files[0] != filepath.Join(root, "includes", "a.php") {
		t.Fatalf("unexpected files %#v", files)
	}

	if _, err := Walk(context.Background(), root, Options{Include: []string{"["}}); err == nil {
		t.Fatalf("expected invalid glob to fail")
	}
}

func TestWalkCanceled(t *testing.T) {
	root := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(root, "plugin.php"), "<?php\n")
	if _, err := Walk(testutil.CanceledContext(), root, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestShouldSkipDir(t *testing.T) {
	if !ShouldSkipDir("vendor", "vendor") || !ShouldSkipDir("js", "assets/js") || !ShouldSkipDir(".cache", ".cache") {
		t.Fatalf("expected skipped directories")
	}
	if ShouldSkipDir("js", "src/js") || ShouldSkipDir("includes", "includes") {
		t.Fatalf("did not expect ordinary directories to be skipped")
	}
}
