// Package retention expires old snapshots and removes intermediate exports
// that are no longer needed.
//
// Both pruners default to reporting only. Nothing is destroyed or removed
// unless the step was given --yes and the run is not a dry run.
package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/zfs2cloud/pkg/config"
	"github.com/paulschiretz/zfs2cloud/pkg/layout"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/retentionmetrics"
	"github.com/paulschiretz/zfs2cloud/pkg/runner"
	"github.com/paulschiretz/zfs2cloud/pkg/step"
	"github.com/paulschiretz/zfs2cloud/pkg/zfs"
)

// ErrNoSnapshots is returned by PruneIntermediates when the filesystem has no snapshots.
var ErrNoSnapshots = errors.New("cannot prune-intermediate when there are no existing snapshots")

// SafetyGuardError is returned when a destroy would target the filesystem itself.
type SafetyGuardError struct {
	Filesystem string
	Target     string
}

func (e *SafetyGuardError) Error() string {
	return fmt.Sprintf("refusing to run 'zfs destroy %s': target is not a snapshot of %s", e.Target, e.Filesystem)
}

// Manager applies both pruning policies to one filesystem.
type Manager struct {
	config config.Config
	zfs    *zfs.Client
}

// NewManager creates a new Manager with the given configuration.
func NewManager(cfg config.Config, r runner.Runner) *Manager {
	return &Manager{
		config: cfg,
		zfs:    zfs.NewClient(r, cfg.ZFSPath),
	}
}

func (m *Manager) newMetrics() retentionmetrics.Metrics {
	if m.config.Runtime.Metrics {
		return &retentionmetrics.RetentionMetrics{}
	}
	return &retentionmetrics.NoopMetrics{}
}

// PruneSnapshots destroys every snapshot older than oldest_snapshot_days.
func (m *Manager) PruneSnapshots(ctx context.Context, opts step.Options, now time.Time) error {
	dryRun := !opts.Yes || m.config.Runtime.DryRun
	if dryRun {
		plog.Info("in dry run mode")
	}

	fs := m.config.Main.ZFSFilesystem
	snapshots, err := m.zfs.List(ctx, fs)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		plog.Info("no snapshots to prune")
		return nil
	}

	metrics := m.newMetrics()
	defer metrics.LogSummary("Snapshot pruning finished")

	threshold := m.config.Main.OldestSnapshotDays
	for _, s := range snapshots {
		age := now.Sub(s.Creation).Hours() / 24
		if age <= float64(threshold) {
			plog.Debug(fmt.Sprintf("ignoring %s as it is only %.2f days old", s.Name, age))
			metrics.AddKept(1)
			continue
		}

		plog.Info(fmt.Sprintf("expiring %s as it is %.2f days old (threshold = %d)", s.Name, age, threshold))
		if err := checkDestroyTarget(fs, s); err != nil {
			return err
		}
		if dryRun {
			plog.Notice("[DRY RUN] DELETE", "snapshot", s.Name)
		} else {
			plog.Notice("DELETE", "snapshot", s.Name)
		}
		if err := m.zfs.Execute(ctx, m.zfs.DestroyCmd(s.Name), dryRun); err != nil {
			return err
		}
		if !dryRun {
			plog.Notice("DELETED", "snapshot", s.Name)
		}
		metrics.AddPruned(1)
	}
	return nil
}

// checkDestroyTarget fails unless s names a snapshot of fs rather than the
// filesystem itself.
func checkDestroyTarget(fs string, s zfs.Snapshot) error {
	target := strings.TrimSpace(s.Name)
	if target == fs || !strings.Contains(target, "@") || strings.HasSuffix(target, "@") || s.Filesystem() != fs {
		return &SafetyGuardError{Filesystem: fs, Target: target}
	}
	return nil
}

// PruneIntermediates removes the export folders of every snapshot except the
// newest. Both the full and the incremental folder name of each older snapshot
// are candidates; any other directory is left alone.
func (m *Manager) PruneIntermediates(ctx context.Context, opts step.Options) error {
	dryRun := !opts.Yes || m.config.Runtime.DryRun
	if dryRun {
		plog.Info("in dry-run mode")
	}

	snapshots, err := m.zfs.List(ctx, m.config.Main.ZFSFilesystem)
	if err != nil {
		return err
	}
	switch len(snapshots) {
	case 0:
		return ErrNoSnapshots
	case 1:
		plog.Info("nothing pruned as there's only a single snapshot")
		return nil
	}

	candidates := make(map[string]bool)
	for _, s := range snapshots[1:] {
		for _, name := range layout.Candidates(s.Name) {
			candidates[name] = true
		}
	}

	baseDir := m.config.Main.IntermediateBaseDir
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return fmt.Errorf("failed to read intermediate directory %s: %w", baseDir, err)
	}

	metrics := m.newMetrics()
	defer metrics.LogSummary("Intermediate pruning finished")

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(baseDir, entry.Name())
		if !entry.IsDir() || !candidates[entry.Name()] {
			plog.Debug("ignoring " + path)
			if entry.IsDir() {
				metrics.AddKept(1)
			}
			continue
		}

		plog.Info("pruning " + path)
		if dryRun {
			plog.Notice("[DRY RUN] DELETE", "path", path)
			metrics.AddPruned(1)
			continue
		}
		plog.Notice("DELETE", "path", path)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		plog.Notice("DELETED", "path", path)
		metrics.AddPruned(1)
	}
	return nil
}
