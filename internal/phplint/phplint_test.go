package phplint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ben-ranford/wpfatal/internal/testutil"
)

const fakePHPScript = `#!/bin/sh
if [ "$1" = "-r" ]; then
  echo '{"classes":[],"functions":[]}'
  exit 0
fi
case "$4" in
  *bad.php)
    echo "PHP Parse error:  syntax error, unexpected token \"}\" in $4 on line 3"
    echo "Parse error: syntax error, unexpected token \"}\" in $4 on line 3"
    echo "Errors parsing $4"
    exit 255
    ;;
  *crash.php)
    echo "Segmentation fault"
    exit 139
    ;;
esac
echo "No syntax errors detected in $4"
`

func writeFakePHP(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "php")
	testutil.MustWriteFileMode(t, path, fakePHPScript, 0o700)
	return path
}

type outcomeLog struct {
	mu       sync.Mutex
	outcomes []string
}

func (l *outcomeLog) observe(outcome string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, outcome)
}

func TestRunnerLint(t *testing.T) {
	log := &outcomeLog{}
	runner, err := New(Options{Binary: writeFakePHP(t), Timeout: 5 * time.Second, Observe: log.observe})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	diagnostics, err := runner.Lint(context.Background(), "/plugin/good.php")
	if err != nil || len(diagnostics) != 0 {
		t.Fatalf("expected clean lint, got %#v err=%v", diagnostics, err)
	}

	diagnostics, err = runner.Lint(context.Background(), "/plugin/bad.php")
	if err != nil {
		t.Fatalf("lint bad file: %v", err)
	}
	if len(diagnostics) != 1 || diagnostics[0].Line != 3 || diagnostics[0].Kind != ParseError {
		t.Fatalf("expected one deduplicated parse error, got %#v", diagnostics)
	}
	if !strings.Contains(diagnostics[0].Message, "unexpected token") {
		t.Fatalf("unexpected message %q", diagnostics[0].Message)
	}

	if _, err := runner.Lint(context.Background(), "/plugin/crash.php"); err == nil {
		t.Fatalf("expected unexplained non-zero exit to fail")
	}

	want := []string{OutcomeClean, OutcomeErrors, OutcomeFailed}
	if strings.Join(log.outcomes, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected outcomes %#v", log.outcomes)
	}
}

func TestRunnerLintCanceled(t *testing.T) {
	runner, err := New(Options{Binary: writeFakePHP(t), Rate: 1})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if _, err := runner.Lint(testutil.CanceledContext(), "/plugin/good.php"); err == nil {
		t.Fatalf("expected canceled context to fail")
	}
}

func TestRunnerEval(t *testing.T) {
	runner, err := New(Options{Binary: writeFakePHP(t)})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	output, err := runner.Eval(context.Background(), "echo 1;")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !strings.Contains(string(output), `"classes"`) {
		t.Fatalf("unexpected eval output %q", output)
	}
}

func TestResolveBinaryPathMissing(t *testing.T) {
	if _, err := ResolveBinaryPath(filepath.Join(t.TempDir(), "php")); !errors.Is(err, ErrBinaryNotFound) {
		t.Fatalf("expected ErrBinaryNotFound, got %v", err)
	}
	if _, err := ResolveBinaryPath("wpfatal-no-such-php-binary"); !errors.Is(err, ErrBinaryNotFound) {
		t.Fatalf("expected ErrBinaryNotFound for PATH lookup, got %v", err)
	}
	if _, err := New(Options{Binary: "wpfatal-no-such-php-binary"}); !errors.Is(err, ErrBinaryNotFound) {
		t.Fatalf("expected New to surface ErrBinaryNotFound, got %v", err)
	}
}

func TestParseOutputFatalError(t *testing.T) {
	output := "PHP Fatal error:  Cannot redeclare foo() in /p/a.php on line 9\nFatal error: Cannot redeclare foo() in /p/a.php on line 9\n"
	diagnostics := ParseOutput(output)
	if len(diagnostics) != 1 || diagnostics[0].Kind != FatalError || diagnostics[0].Line != 9 {
		t.Fatalf("unexpected diagnostics %#v", diagnostics)
	}
	if got := ParseOutput("No syntax errors detected in /p/a.php"); len(got) != 0 {
		t.Fatalf("expected no diagnostics, got %#v", got)
	}
}

func TestSanitizedEnv(t *testing.T) {
	t.Setenv("PATH", "/tmp/custom-bin")
	t.Setenv("PHPRC", "/tmp/php.ini")
	t.Setenv("PHP_INI_SCAN_DIR", "/tmp/conf.d")
	t.Setenv("KEEP_ME", "1")

	env := strings.Join(SanitizedEnv(), "\n")
	if !strings.Contains(env, SafeSystemPath) || !strings.Contains(env, "KEEP_ME=1") {
		t.Fatalf("expected safe path and unrelated vars, got %s", env)
	}
	if strings.Contains(env, "PHPRC=") || strings.Contains(env, "PHP_INI_SCAN_DIR=") || strings.Contains(env, "/tmp/custom-bin") {
		t.Fatalf("expected php overrides stripped, got %s", env)
	}
}

func TestExecutableAvailable(t *testing.T) {
	if ExecutableAvailable(t.TempDir()) {
		t.Fatalf("expected directory to be unavailable")
	}
	path := filepath.Join(t.TempDir(), "php")
	testutil.MustWriteFile(t, path, "#!/bin/sh\n")
	if ExecutableAvailable(path) {
		t.Fatalf("expected non-executable file to be unavailable")
	}
	if err := os.Chmod(path, 0o700); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if !ExecutableAvailable(path) {
		t.Fatalf("expected executable file to be available")
	}
}
