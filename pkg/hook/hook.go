// Package hook runs user supplied scripts: script steps of a backup sequence
// and the on_failure hook.
package hook

import (
	"context"
	"fmt"
	"strings"

	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/runner"
)

type HookExecutor struct {
	runner runner.Runner
}

// NewHookExecutor creates a new HookExecutor that starts scripts through r.
func NewHookExecutor(r runner.Runner) *HookExecutor {
	return &HookExecutor{runner: r}
}

// RunScript executes a script step through the platform shell and waits for it.
// A non-zero exit is returned as an error so the sequence stops.
func (e *HookExecutor) RunScript(ctx context.Context, script string, dryRun bool) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	plog.Info("+ " + script)
	if dryRun {
		plog.Info("[DRY RUN] Skipping script", "script", script)
		return nil
	}

	if err := e.runner.Run(ctx, shellCommand(script)); err != nil {
		return fmt.Errorf("script '%s' failed: %w", script, err)
	}
	return nil
}

// RunFailureHook executes the on_failure script with detail on its stdin.
// It is best effort: problems are logged, never returned.
func (e *HookExecutor) RunFailureHook(ctx context.Context, script string, detail string) {
	plog.Info("Running on_failure hook", "script", script)

	cmd := shellCommand(script)
	cmd.Stdin = strings.NewReader(detail)

	// The run that failed may have been canceled; the hook still gets to report it.
	if err := e.runner.Run(context.WithoutCancel(ctx), cmd); err != nil {
		plog.Warn("on_failure hook failed", "script", script, "error", err)
	}
}
