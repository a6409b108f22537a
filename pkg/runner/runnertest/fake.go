// Package runnertest provides a recording Runner for tests.
package runnertest

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/paulschiretz/zfs2cloud/pkg/runner"
)

// Call is one recorded invocation.
type Call struct {
	Name   string
	Args   []string
	Env    []string
	Secret string
	// Stdin holds everything the fake consumed from Cmd.Stdin.
	Stdin []byte
}

// Line joins name and arguments with single spaces.
func (c Call) Line() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Fake records every command instead of executing it.
//
// A command whose line starts with a key of Errors fails with that error.
// A command whose line starts with a key of Outputs writes that output to
// Cmd.Stdout. Any other command copies its stdin to its stdout, which lets a
// fake gpg sit in the middle of a pipeline. The longest matching key wins.
type Fake struct {
	mu      sync.Mutex
	calls   []Call
	Outputs map[string]string
	Errors  map[string]error
}

var _ runner.Runner = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{Outputs: map[string]string{}, Errors: map[string]error{}}
}

// Run records c and simulates it.
func (f *Fake) Run(ctx context.Context, c runner.Cmd) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	call := Call{
		Name:   c.Name,
		Args:   append([]string(nil), c.Args...),
		Env:    append([]string(nil), c.Env...),
		Secret: string(c.Secret),
	}
	line := call.Line()

	if key, ok := longestPrefix(f.Errors, line); ok {
		f.record(call)
		return f.Errors[key]
	}

	var err error
	if key, ok := longestPrefix(f.Outputs, line); ok {
		if c.Stdin != nil {
			call.Stdin, err = io.ReadAll(c.Stdin)
		}
		if err == nil && c.Stdout != nil {
			_, err = io.WriteString(c.Stdout, f.Outputs[key])
		}
	} else if c.Stdin != nil {
		var captured bytes.Buffer
		dst := io.Writer(&captured)
		if c.Stdout != nil {
			dst = io.MultiWriter(&captured, c.Stdout)
		}
		_, err = io.Copy(dst, c.Stdin)
		call.Stdin = captured.Bytes()
	}

	f.record(call)
	return err
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// Calls returns a copy of all recorded calls in completion order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Lines returns the command lines of all recorded calls.
func (f *Fake) Lines() []string {
	var lines []string
	for _, c := range f.Calls() {
		lines = append(lines, c.Line())
	}
	return lines
}

// Find returns the first recorded call whose line starts with prefix.
func (f *Fake) Find(prefix string) (Call, bool) {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c.Line(), prefix) {
			return c, true
		}
	}
	return Call{}, false
}

// Mutations returns the recorded lines except read-only snapshot listings.
func (f *Fake) Mutations() []string {
	var lines []string
	for _, l := range f.Lines() {
		if strings.Contains(l, " list ") {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

func longestPrefix[V any](m map[string]V, line string) (string, bool) {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.HasPrefix(line, k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", false
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return keys[0], true
}
