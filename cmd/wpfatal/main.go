package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ben-ranford/wpfatal/internal/app"
	"github.com/ben-ranford/wpfatal/internal/cli"
)

var exitFunc = os.Exit

func run(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	runner := app.New(out)
	commandLine := cli.New(runner, out, errOut)
	return commandLine.Run(ctx, args)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}
