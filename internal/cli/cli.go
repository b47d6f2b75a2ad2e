package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/ben-ranford/wpfatal/internal/app"
)

const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitFindings = 3
)

type Runner interface {
	Execute(ctx context.Context, req app.Request) (string, error)
}

type CLI struct {
	Runner Runner
	Out    io.Writer
	Err    io.Writer
}

func New(runner Runner, out io.Writer, errOut io.Writer) *CLI {
	return &CLI{
		Runner: runner,
		Out:    out,
		Err:    errOut,
	}
}

func (c *CLI) Run(ctx context.Context, args []string) int {
	inv, err := ParseArgs(args)
	if err != nil {
		usage := inv.Usage
		if usage == "" {
			usage = Usage()
		}
		if errors.Is(err, ErrHelpRequested) {
			if _, writeErr := fmt.Fprint(c.Out, usage); writeErr != nil {
				return exitError
			}
			return exitOK
		}
		if _, writeErr := fmt.Fprintf(c.Err, "error: %v\n\n", err); writeErr != nil {
			return exitError
		}
		if _, writeErr := fmt.Fprint(c.Err, usage); writeErr != nil {
			return exitError
		}
		return exitUsage
	}

	slog.SetDefault(newLogger(c.Err, inv.Logging))
	req := inv.Request
	req.Scan.Color = colorEnabled(inv.Color, c.Out)

	output, runErr := c.Runner.Execute(ctx, req)
	if output != "" {
		if !strings.HasSuffix(output, "\n") {
			output += "\n"
		}
		if _, writeErr := fmt.Fprint(c.Out, output); writeErr != nil {
			return exitError
		}
	}

	if runErr != nil {
		fmt.Fprintln(c.Err, runErr.Error())
		if errors.Is(runErr, app.ErrFatalFindings) {
			return exitFindings
		}
		return exitError
	}
	return exitOK
}

func newLogger(w io.Writer, opts LogOptions) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	if opts.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// colorEnabled resolves --color auto against NO_COLOR and whether out is a
// terminal.
func colorEnabled(mode string, out io.Writer) bool {
	switch mode {
	case colorAlways:
		return true
	case colorNever:
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}
