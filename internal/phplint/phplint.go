package phplint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const SafeSystemPath = "PATH=/usr/local/bin:/usr/bin:/bin:/usr/sbin:/sbin"

const (
	DefaultBinary  = "php"
	DefaultTimeout = 10 * time.Second
)

const (
	OutcomeClean       = "clean"
	OutcomeErrors      = "errors"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
)

var ErrBinaryNotFound = errors.New("php binary not found")

type Options struct {
	Binary  string
	Timeout time.Duration
	// Rate caps lint invocations per second. Zero means unlimited.
	Rate float64
	// Observe, when set, receives the outcome of every lint invocation.
	Observe func(outcome string)
}

type DiagnosticKind string

const (
	ParseError DiagnosticKind = "parse"
	FatalError DiagnosticKind = "fatal"
)

// Diagnostic is one error line reported by php -l.
type Diagnostic struct {
	Kind    DiagnosticKind
	Message string
	Line    int
}

// Runner spawns one short-lived php process per call. It keeps no
// subprocess alive between calls and is safe for concurrent use.
type Runner struct {
	binary  string
	timeout time.Duration
	limiter *rate.Limiter
	observe func(string)
}

func New(opts Options) (*Runner, error) {
	binary, err := ResolveBinaryPath(opts.Binary)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runner := &Runner{binary: binary, timeout: timeout, observe: opts.Observe}
	if opts.Rate > 0 {
		burst := int(opts.Rate)
		if burst < 1 {
			burst = 1
		}
		runner.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return runner, nil
}

func (r *Runner) Binary() string {
	return r.binary
}

// ResolveBinaryPath accepts an explicit path or a name looked up on PATH.
func ResolveBinaryPath(binary string) (string, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = DefaultBinary
	}
	if strings.ContainsRune(binary, filepath.Separator) {
		if ExecutableAvailable(binary) {
			return filepath.Abs(binary)
		}
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, binary)
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, binary)
	}
	return path, nil
}

// Lint runs php -l against path. A non-zero exit with parseable output is
// not an error; the diagnostics carry the result.
func (r *Runner) Lint(ctx context.Context, path string) ([]Diagnostic, error) {
	output, err := r.run(ctx, "-d", "display_errors=1", "-l", path)
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || ctx.Err() != nil {
			r.record(OutcomeFailed)
			return nil, fmt.Errorf("lint %s: %w", path, err)
		}
	}
	diagnostics := ParseOutput(string(output))
	if err != nil && len(diagnostics) == 0 {
		r.record(OutcomeFailed)
		return nil, fmt.Errorf("lint %s: %w: %s", path, err, strings.TrimSpace(string(output)))
	}
	if len(diagnostics) > 0 {
		r.record(OutcomeErrors)
	} else {
		r.record(OutcomeClean)
	}
	return diagnostics, nil
}

// Eval runs php -r with code and returns standard output.
func (r *Runner) Eval(ctx context.Context, code string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	// #nosec G204 -- binary is resolved once at construction and code is a fixed probe script.
	cmd := exec.CommandContext(ctx, r.binary, "-r", code)
	cmd.Env = SanitizedEnv()
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("eval php: %w", err)
	}
	return output, nil
}

func (r *Runner) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	// #nosec G204 -- binary is resolved once at construction and args are fixed flags plus a walked file path.
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Env = SanitizedEnv()
	output, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return output, ctx.Err()
	}
	return output, err
}

func (r *Runner) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

func (r *Runner) record(outcome string) {
	if r.observe != nil {
		r.observe(outcome)
	}
}

var (
	parseErrorPattern = regexp.MustCompile(`(?m)(?:PHP )?Parse error:\s*(.+?) in .+ on line (\d+)`)
	fatalErrorPattern = regexp.MustCompile(`(?m)(?:PHP )?Fatal error:\s*(.+?) in .+ on line (\d+)`)
)

// ParseOutput extracts parse and fatal errors from php -l output. PHP may
// print the same error to both streams, so duplicates are dropped.
func ParseOutput(output string) []Diagnostic {
	seen := make(map[string]struct{})
	diagnostics := make([]Diagnostic, 0)
	collect := func(kind DiagnosticKind, pattern *regexp.Regexp) {
		for _, match := range pattern.FindAllStringSubmatch(output, -1) {
			line, err := strconv.Atoi(match[2])
			if err != nil {
				continue
			}
			message := strings.TrimSpace(match[1])
			key := fmt.Sprintf("%s|%d|%s", kind, line, message)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			diagnostics = append(diagnostics, Diagnostic{Kind: kind, Message: message, Line: line})
		}
	}
	collect(ParseError, parseErrorPattern)
	collect(FatalError, fatalErrorPattern)
	return diagnostics
}

// SanitizedEnv strips PHP ini overrides and pins PATH.
func SanitizedEnv() []string {
	env := os.Environ()
	filtered := make([]string, 0, len(env)+1)
	for _, entry := range env {
		if strings.HasPrefix(entry, "PHPRC=") ||
			strings.HasPrefix(entry, "PHP_INI_SCAN_DIR=") ||
			strings.HasPrefix(entry, "PATH=") {
			continue
		}
		filtered = append(filtered, entry)
	}
	return append(filtered, SafeSystemPath)
}

func ExecutableAvailable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
