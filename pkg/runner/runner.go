// Package runner is the boundary to every external program the tool drives:
// zfs, gpg, rclone, mount and user scripts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/kballard/go-shellquote"
)

// SecretMask replaces secrets in anything that is logged.
const SecretMask = "*****"

// SecretFD is the file descriptor number on which a child process finds Cmd.Secret.
const SecretFD = 3

// Cmd describes a single external process invocation.
type Cmd struct {
	Name string
	Args []string
	// Env is added to the inherited environment.
	Env []string
	// Stdin and Stdout are streamed. A nil Stdout inherits the parent's stdout.
	Stdin  io.Reader
	Stdout io.Writer
	// Secret, if set, is written to an inherited pipe that the child sees as
	// file descriptor SecretFD. It never appears in the argument list.
	Secret []byte
}

// String renders the command as a shell-quoted line for logging.
func (c Cmd) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// Runner runs external processes. Implementations block until the process exits.
type Runner interface {
	Run(ctx context.Context, c Cmd) error
}

// Exec runs real processes.
type Exec struct {
	// commandContext allows mocking os/exec for testing.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

var _ Runner = (*Exec)(nil)

// NewExec creates an Exec. Pass exec.CommandContext outside of tests.
func NewExec(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *Exec {
	return &Exec{commandContext: commandContext}
}

// Run starts the process in its own process group and waits for it.
func (e *Exec) Run(ctx context.Context, c Cmd) error {
	cmd := e.commandContext(ctx, c.Name, c.Args...)
	setProcessGroup(cmd)

	if len(c.Env) > 0 {
		base := cmd.Env
		if base == nil {
			base = os.Environ()
		}
		cmd.Env = append(base, c.Env...)
	}
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = os.Stderr

	var secretWriter *os.File
	if c.Secret != nil {
		r, w, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("cannot create secret pipe for %s: %w", c.Name, err)
		}
		defer r.Close()
		secretWriter = w
		// ExtraFiles[0] becomes fd 3 in the child.
		cmd.ExtraFiles = []*os.File{r}
	}

	if err := cmd.Start(); err != nil {
		if secretWriter != nil {
			secretWriter.Close()
		}
		return fmt.Errorf("cannot start %s: %w", c.Name, err)
	}

	if secretWriter != nil {
		// The secret is tiny compared to the pipe buffer, so this does not block on the child.
		_, werr := secretWriter.Write(c.Secret)
		secretWriter.Close()
		if werr != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return fmt.Errorf("cannot pass secret to %s: %w", c.Name, werr)
		}
	}

	if err := cmd.Wait(); err != nil {
		// A canceled context kills the process; report the cancellation instead.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &ExitError{Cmd: c.String(), Err: err}
	}
	return nil
}

// ExitError reports a process that ran but did not succeed.
type ExitError struct {
	Cmd string
	Err error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command '%s' failed: %v", e.Cmd, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the exit status of a failed process, or -1 if unknown.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Mask returns a copy of args with the value following flag replaced by
// SecretMask.
func Mask(args []string, flag string) []string {
	masked := make([]string, len(args))
	copy(masked, args)
	for i := 0; i < len(masked)-1; i++ {
		if masked[i] == flag {
			masked[i+1] = SecretMask
			i++
		}
	}
	return masked
}
