// Package mount exposes the newest snapshot as a directory inside the
// intermediate store so its files can be uploaded one by one.
package mount

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/sys/mountinfo"

	"github.com/paulschiretz/zfs2cloud/pkg/config"
	"github.com/paulschiretz/zfs2cloud/pkg/layout"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/runner"
	"github.com/paulschiretz/zfs2cloud/pkg/util"
	"github.com/paulschiretz/zfs2cloud/pkg/zfs"
)

// mounted is a var to allow replacement during testing.
var mounted = mountinfo.Mounted

// Manager mounts and unmounts the newest snapshot.
type Manager struct {
	config config.Config
	runner runner.Runner
	zfs    *zfs.Client
}

// NewManager creates a new Manager with the given configuration.
func NewManager(cfg config.Config, r runner.Runner) *Manager {
	return &Manager{
		config: cfg,
		runner: r,
		zfs:    zfs.NewClient(r, cfg.ZFSPath),
	}
}

// target returns the newest snapshot and its mount point, the full-export
// folder name of that snapshot.
func (m *Manager) target(ctx context.Context, op string) (snapshot, path string, err error) {
	snapshots, err := m.zfs.List(ctx, m.config.Main.ZFSFilesystem)
	if err != nil {
		return "", "", err
	}
	if len(snapshots) == 0 {
		return "", "", fmt.Errorf("cannot %s when there are no existing snapshots", op)
	}
	snapshot = snapshots[0].Name
	return snapshot, filepath.Join(m.config.Main.IntermediateBaseDir, layout.Folder(snapshot, true)), nil
}

func (m *Manager) execute(ctx context.Context, cmd runner.Cmd) error {
	plog.Info("+ " + cmd.String())
	if m.config.Runtime.DryRun {
		return nil
	}
	return m.runner.Run(ctx, cmd)
}

// Mount mounts the newest snapshot read-only at its mount point. A snapshot
// that is already mounted there is left alone.
func (m *Manager) Mount(ctx context.Context) error {
	snapshot, path, err := m.target(ctx, "mount-snapshot")
	if err != nil {
		return err
	}

	plog.Info("+ mkdir -p " + path)
	if !m.config.Runtime.DryRun {
		if err := os.MkdirAll(path, util.PrivateDirPerms); err != nil {
			return fmt.Errorf("failed to create mount point %s: %w", path, err)
		}
		isMounted, err := mounted(path)
		if err != nil {
			return fmt.Errorf("failed to check mount point %s: %w", path, err)
		}
		if isMounted {
			plog.Info("already mounted", "path", path)
			return nil
		}
	}

	return m.execute(ctx, runner.Cmd{Name: "mount", Args: []string{"-t", "zfs", snapshot, path}})
}

// Umount unmounts the newest snapshot and removes its mount point.
func (m *Manager) Umount(ctx context.Context) error {
	_, path, err := m.target(ctx, "umount-snapshot")
	if err != nil {
		return err
	}

	isMounted := true
	if !m.config.Runtime.DryRun {
		if !util.IsDir(path) {
			plog.Info("nothing mounted", "path", path)
			return nil
		}
		if isMounted, err = mounted(path); err != nil {
			return fmt.Errorf("failed to check mount point %s: %w", path, err)
		}
	}

	if isMounted {
		if err := m.execute(ctx, runner.Cmd{Name: "umount", Args: []string{path}}); err != nil {
			return err
		}
	} else {
		plog.Info("not mounted", "path", path)
	}

	plog.Info("+ rmdir " + path)
	if m.config.Runtime.DryRun {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove mount point %s: %w", path, err)
	}
	return nil
}
