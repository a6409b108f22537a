package cmd

import (
	"context"
	"time"

	"github.com/paulschiretz/zfs2cloud/pkg/buildinfo"
	"github.com/paulschiretz/zfs2cloud/pkg/engine"
	"github.com/paulschiretz/zfs2cloud/pkg/flagparse"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/runner"
	"github.com/paulschiretz/zfs2cloud/pkg/step"
)

// RunPerform handles the logic for the perform command.
func RunPerform(ctx context.Context, flagMap map[string]interface{}, r runner.Runner) error {
	runConfig, err := LoadConfig(flagMap)
	if err != nil {
		return err
	}

	startTime := time.Now()
	err = engine.New(runConfig, r).Perform(ctx)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err // The error will be logged with full details by main()
	}
	plog.Info(buildinfo.Name+" perform finished successfully.", "duration", duration)
	return nil
}

// RunStep handles the commands that run a single sequence step.
func RunStep(ctx context.Context, flagMap map[string]interface{}, kind step.Kind, r runner.Runner) error {
	runConfig, err := LoadConfig(flagMap)
	if err != nil {
		return err
	}

	opts, _ := flagMap[flagparse.KeyStepOptions].(step.Options)

	startTime := time.Now()
	err = engine.New(runConfig, r).RunStep(ctx, kind, opts)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err
	}
	plog.Debug(kind.String()+" finished", "duration", duration)
	return nil
}
