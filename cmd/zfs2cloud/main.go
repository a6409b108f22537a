package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"

	"github.com/paulschiretz/zfs2cloud/cmd"
	"github.com/paulschiretz/zfs2cloud/pkg/buildinfo"
	"github.com/paulschiretz/zfs2cloud/pkg/config"
	"github.com/paulschiretz/zfs2cloud/pkg/flagparse"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/runner"
)

// usageError marks problems with the command line itself.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// run encapsulates the main application logic and returns an error if something
// goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context, args []string, stdout io.Writer, r runner.Runner) error {
	command, flagMap, err := flagparse.Parse(args)
	if err != nil {
		return &usageError{err}
	}

	switch command {
	case flagparse.None:
		return nil
	case flagparse.Version:
		return cmd.RunVersion(stdout, buildinfo.Name, buildinfo.Version)
	case flagparse.Restore:
		return cmd.RunRestore(ctx, flagMap, r)
	case flagparse.Perform:
		return cmd.RunPerform(ctx, flagMap, r)
	}

	kind, ok := command.StepKind()
	if !ok {
		return fmt.Errorf("internal error: unknown command %v", command)
	}
	return cmd.RunStep(ctx, flagMap, kind, r)
}

// report prints err the way it is shown to the user and returns the exit code.
func report(stderr io.Writer, err error) int {
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(stderr, "error: %v\n", usageErr.err)
		return 2
	}
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		fmt.Fprintf(stderr, "error: %v\n", cfgErr)
		return 1
	}
	plog.Error(buildinfo.Name+" exited with error", "error", err)
	return 1
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Listen for interrupt signals (like Ctrl+C) in a separate goroutine.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx, os.Args[1:], os.Stdout, runner.NewExec(exec.CommandContext)); err != nil {
		os.Exit(report(os.Stderr, err))
	}
}
