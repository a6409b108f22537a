// Package engine runs backup steps, alone or as the configured sequence.
//
// Every step reads the current snapshot list and the full backup cache again
// when it starts. Nothing is carried over from one step to the next except the
// configuration, so a sequence behaves exactly like the same steps invoked one
// by one from the command line.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/paulschiretz/zfs2cloud/pkg/config"
	"github.com/paulschiretz/zfs2cloud/pkg/export"
	"github.com/paulschiretz/zfs2cloud/pkg/fullcache"
	"github.com/paulschiretz/zfs2cloud/pkg/hook"
	"github.com/paulschiretz/zfs2cloud/pkg/lockfile"
	"github.com/paulschiretz/zfs2cloud/pkg/mount"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/retention"
	"github.com/paulschiretz/zfs2cloud/pkg/runner"
	"github.com/paulschiretz/zfs2cloud/pkg/step"
	"github.com/paulschiretz/zfs2cloud/pkg/upload"
	"github.com/paulschiretz/zfs2cloud/pkg/zfs"
)

// Clock supplies the current time. clock.WallClock satisfies it.
type Clock interface {
	Now() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSyncer replaces the upload backend selected by upload_backend.
func WithSyncer(s upload.Syncer) Option {
	return func(e *Engine) { e.syncer = s }
}

// WithExporter replaces the export pipeline.
func WithExporter(x export.Exporter) Option {
	return func(e *Engine) { e.exporter = x }
}

// Engine dispatches steps to the component that implements them.
type Engine struct {
	config config.Config
	runner runner.Runner
	clock  Clock

	zfs       *zfs.Client
	hooks     *hook.HookExecutor
	exporter  export.Exporter
	retention *retention.Manager
	mounts    *mount.Manager

	// syncer is built on first use; the S3 backend resolves credentials.
	syncer upload.Syncer
}

// New creates an Engine for cfg that starts external commands through r.
func New(cfg config.Config, r runner.Runner, opts ...Option) *Engine {
	e := &Engine{
		config:    cfg,
		runner:    r,
		clock:     clock.WallClock,
		zfs:       zfs.NewClient(r, cfg.ZFSPath),
		hooks:     hook.NewHookExecutor(r),
		retention: retention.NewManager(cfg, r),
		mounts:    mount.NewManager(cfg, r),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.exporter == nil {
		e.exporter = export.NewPipelineExporter(cfg, r)
	}
	return e
}

func (e *Engine) uploader(ctx context.Context) (*upload.Manager, error) {
	if e.syncer == nil {
		s, err := upload.NewSyncer(ctx, e.config, e.runner)
		if err != nil {
			return nil, err
		}
		e.syncer = s
	}
	return upload.NewManager(e.config, e.runner, e.syncer), nil
}

// RunStep executes a single built-in step with its own options.
func (e *Engine) RunStep(ctx context.Context, kind step.Kind, opts step.Options) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	dryRun := e.config.Runtime.DryRun

	switch kind {
	case step.ShowConfig:
		return e.ShowConfig(ctx)

	case step.Lock:
		return lockfile.Acquire(e.config.LockPath, dryRun)

	case step.Unlock:
		return lockfile.Release(e.config.LockPath, dryRun)

	case step.Snapshot:
		name := zfs.SnapshotName(e.config.Main.ZFSFilesystem, e.clock.Now())
		return e.zfs.Execute(ctx, e.zfs.CreateCmd(name), dryRun)

	case step.PruneSnapshots:
		return e.retention.PruneSnapshots(ctx, opts, e.clock.Now())

	case step.ExportIntermediate:
		res, err := e.exporter.Export(ctx, opts, e.clock.Now())
		if err != nil {
			return err
		}
		plog.Debug("export finished", "snapshot", res.Snapshot, "folder", res.Folder, "chunks", res.Chunks)
		return nil

	case step.PruneIntermediates:
		return e.retention.PruneIntermediates(ctx, opts)

	case step.UploadIntermediate:
		m, err := e.uploader(ctx)
		if err != nil {
			return err
		}
		return m.UploadIntermediate(ctx, opts)

	case step.MountSnapshot:
		return e.mounts.Mount(ctx)

	case step.UploadSnapshotFiles:
		m, err := e.uploader(ctx)
		if err != nil {
			return err
		}
		return m.UploadSnapshotFiles(ctx)

	case step.UmountSnapshot:
		return e.mounts.Umount(ctx)
	}
	return fmt.Errorf("%s cannot be run as a built-in step", kind)
}

// ShowConfig logs the resolved configuration, the snapshots and the last
// full backup.
func (e *Engine) ShowConfig(ctx context.Context) error {
	e.config.LogSummary()

	snapshots, err := e.zfs.List(ctx, e.config.Main.ZFSFilesystem)
	if err != nil {
		return err
	}
	plog.Info("")
	plog.Info("Snapshots")
	plog.Info("=========")
	for _, s := range snapshots {
		plog.Info(fmt.Sprintf("%s: %s", s.Name, s.Creation.Format(fullcache.TimeLayout)))
	}

	rec, ok, err := fullcache.Read(e.config.LastFullCacheFile)
	if err != nil {
		return err
	}
	if !ok {
		plog.Info("Last full backup: <none> at <none>")
		return nil
	}
	plog.Info(fmt.Sprintf("Last full backup: %s at %s", rec.Snapshot, rec.Creation.Format(fullcache.TimeLayout)))
	return nil
}

// Perform runs the configured sequence in order and stops at the first
// failing step. The on_failure hook then receives the error text on its
// stdin before the error is returned.
func (e *Engine) Perform(ctx context.Context) error {
	runID := uuid.NewString()
	plog.Info("Starting perform", "run_id", runID, "steps", len(e.config.Sequence))

	if err := e.perform(ctx); err != nil {
		if e.failureHookExists() {
			e.hooks.RunFailureHook(ctx, e.config.Main.OnFailure, err.Error())
		}
		plog.Info("Perform failed", "run_id", runID)
		return err
	}

	plog.Info("Perform finished", "run_id", runID)
	return nil
}

func (e *Engine) perform(ctx context.Context) error {
	if e.config.Runtime.DryRun {
		plog.Info("in dry run mode")
	}

	for i, s := range e.config.Sequence {
		if s.Kind == step.Script {
			if err := e.hooks.RunScript(ctx, s.Path, e.config.Runtime.DryRun); err != nil {
				return fmt.Errorf("step %q failed: %w", s.Raw, err)
			}
			continue
		}

		plog.Info("executing "+s.Raw, "step", i+1)
		// Options is a value, so flags of one step never reach the next.
		if err := e.RunStep(ctx, s.Kind, s.Options); err != nil {
			return fmt.Errorf("step %q failed: %w", s.Raw, err)
		}
	}
	return nil
}

func (e *Engine) failureHookExists() bool {
	if e.config.Main.OnFailure == "" {
		return false
	}
	_, err := os.Stat(e.config.Main.OnFailure)
	return err == nil
}
