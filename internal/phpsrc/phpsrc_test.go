package phpsrc

import (
	"path/filepath"
	"testing"

	"github.com/ben-ranford/wpfatal/internal/testutil"
)

func TestParseImportsFlatAliasedAndGrouped(t *testing.T) {
	content := `<?php
namespace Demo;

use Elementor\Widget_Base;
use Vendor\Http\Client as HttpClient;
use Acme\Models\{User, Post as Article};
use function Acme\Helpers\format_price;
use const Acme\VERSION;
`
	index := IndexImports(content)

	if got, ok := index.Class("Widget_Base"); !ok || got != `Elementor\Widget_Base` {
		t.Fatalf("unexpected flat import %q %v", got, ok)
	}
	if got, ok := index.Class("httpclient"); !ok || got != `Vendor\Http\Client` {
		t.Fatalf("unexpected aliased import %q %v", got, ok)
	}
	if got, ok := index.Class("Article"); !ok || got != `Acme\Models\Post` {
		t.Fatalf("unexpected grouped alias %q %v", got, ok)
	}
	if _, ok := index.Class("User"); !ok {
		t.Fatalf("expected grouped import User")
	}
	if got, ok := index.Function("format_price"); !ok || got != `Acme\Helpers\format_price` {
		t.Fatalf("unexpected function import %q %v", got, ok)
	}
	if _, ok := index.Constants["version"]; !ok {
		t.Fatalf("expected const import")
	}

	imports := ParseImports(content)
	if imports[0].Line != 4 {
		t.Fatalf("expected first import on line 4, got %d", imports[0].Line)
	}
}

func TestParseImportsIgnoresClosureUse(t *testing.T) {
	content := "<?php\n$fn = function () use ($x) { return $x; };\n"
	if got := ParseImports(content); len(got) != 0 {
		t.Fatalf("expected no imports, got %#v", got)
	}
}

func TestParseDeclarationsTracksNamespace(t *testing.T) {
	content := `<?php
namespace Demo\Admin;

final class Settings_Page {}
interface Renderable {}
/*
class Hidden {}
*/
function demo_boot() {}

namespace Demo\Front;
abstract class Widget {}
enum Status {}
`
	declarations := ParseDeclarations(content)
	if len(declarations) != 5 {
		t.Fatalf("expected five declarations, got %#v", declarations)
	}
	if declarations[0].FQN() != `Demo\Admin\Settings_Page` || declarations[0].Kind != DeclClass {
		t.Fatalf("unexpected first declaration %#v", declarations[0])
	}
	if declarations[2].Kind != DeclFunction || declarations[2].Name != "demo_boot" || declarations[2].Line != 9 {
		t.Fatalf("unexpected function declaration %#v", declarations[2])
	}
	if declarations[3].FQN() != `Demo\Front\Widget` {
		t.Fatalf("unexpected namespace switch %#v", declarations[3])
	}
	if declarations[4].Kind != DeclEnum {
		t.Fatalf("expected enum declaration, got %#v", declarations[4])
	}
}

func TestHeaderBlockAndFields(t *testing.T) {
	content := `<?php
/**
 * Plugin Name: Demo Addons
 * Elementor tested up to: 3.15.0
 */
/* second */`
	header, ok := HeaderBlock(content)
	if !ok || !IsPluginMainFile(content) {
		t.Fatalf("expected plugin header")
	}
	fields := HeaderFields(header)
	if fields["Plugin Name"] != "Demo Addons" || fields["Elementor tested up to"] != "3.15.0" {
		t.Fatalf("unexpected fields %#v", fields)
	}
	if IsPluginMainFile("<?php /* helper */") {
		t.Fatalf("did not expect helper file to be the main file")
	}
}

func TestReadManifest(t *testing.T) {
	root := t.TempDir()
	if _, found, err := ReadManifest(root); err != nil || found {
		t.Fatalf("expected missing manifest to be tolerated, found=%v err=%v", found, err)
	}

	testutil.MustWriteFile(t, filepath.Join(root, ComposerManifestName), `{
  "name": "acme/demo",
  "require": {"php": ">=7.4", "WooCommerce/action-scheduler": "^3"},
  "require-dev": {"phpunit/phpunit": "^9"}
}`)
	manifest, found, err := ReadManifest(root)
	if err != nil || !found {
		t.Fatalf("read manifest: found=%v err=%v", found, err)
	}
	packages := manifest.Packages()
	want := []string{"php", "phpunit/phpunit", "woocommerce/action-scheduler"}
	if len(packages) != len(want) {
		t.Fatalf("unexpected packages %#v", packages)
	}
	for i := range want {
		if packages[i] != want[i] {
			t.Fatalf("unexpected packages %#v", packages)
		}
	}

	testutil.MustWriteFile(t, filepath.Join(root, ComposerManifestName), "{")
	if _, _, err := ReadManifest(root); err == nil {
		t.Fatalf("expected malformed manifest to fail")
	}
}

func TestLineNumberAt(t *testing.T) {
	text := "a\nb\nc"
	if LineNumberAt(text, 0) != 1 || LineNumberAt(text, 2) != 2 || LineNumberAt(text, 100) != 3 {
		t.Fatalf("unexpected line numbers")
	}
}
