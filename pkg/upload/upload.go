// Package upload mirrors exported intermediate folders to the remote.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/paulschiretz/zfs2cloud/pkg/config"
	"github.com/paulschiretz/zfs2cloud/pkg/layout"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/runner"
	"github.com/paulschiretz/zfs2cloud/pkg/step"
	"github.com/paulschiretz/zfs2cloud/pkg/zfs"
)

// Syncer mirrors a local folder one way to subdir below the configured
// remote. An empty subdir means the remote root.
type Syncer interface {
	Sync(ctx context.Context, localDir, subdir string, dryRun bool) error
}

// NewSyncer returns the Syncer selected by upload_backend.
func NewSyncer(ctx context.Context, cfg config.Config, r runner.Runner) (Syncer, error) {
	switch cfg.Main.UploadBackend {
	case config.BackendS3:
		client, err := NewS3Client(ctx, cfg.Main)
		if err != nil {
			return nil, err
		}
		return NewS3Syncer(client, cfg.Main.S3Bucket, cfg.Main.S3Prefix), nil
	case config.BackendRclone, "":
		return NewRcloneSyncer(cfg, r)
	}
	return nil, fmt.Errorf("upload_backend %q is not supported", cfg.Main.UploadBackend)
}

// Manager resolves what to upload and hands it to a Syncer.
type Manager struct {
	config config.Config
	zfs    *zfs.Client
	syncer Syncer
}

// NewManager creates a new Manager with the given configuration.
func NewManager(cfg config.Config, r runner.Runner, s Syncer) *Manager {
	return &Manager{
		config: cfg,
		zfs:    zfs.NewClient(r, cfg.ZFSPath),
		syncer: s,
	}
}

// UploadIntermediate uploads the export folder of opts.Snapshot, or of the
// newest snapshot, to <remote>/<folder>.
func (m *Manager) UploadIntermediate(ctx context.Context, opts step.Options) error {
	snapshots, err := m.zfs.List(ctx, m.config.Main.ZFSFilesystem)
	if err != nil {
		return err
	}

	baseDir := m.config.Main.IntermediateBaseDir
	folder, err := Select(baseDir, m.config.Main.ZFSFilesystem, snapshots, opts.Snapshot)
	if err != nil {
		return err
	}

	local := filepath.Join(baseDir, folder)
	plog.Info(fmt.Sprintf("uploading %s to %s", local, m.config.Main.Remote))
	return m.syncer.Sync(ctx, local, folder, m.config.Runtime.DryRun)
}

// UploadSnapshotFiles uploads the content of the newest snapshot's mount
// point to the remote root.
func (m *Manager) UploadSnapshotFiles(ctx context.Context) error {
	snapshots, err := m.zfs.List(ctx, m.config.Main.ZFSFilesystem)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return errors.New("cannot upload-snapshot-files-to-remote when there are no existing snapshots")
	}

	mountPath := filepath.Join(m.config.Main.IntermediateBaseDir, layout.Folder(snapshots[0].Name, true))
	plog.Info(fmt.Sprintf("uploading %s to %s", mountPath, m.config.Main.Remote))
	return m.syncer.Sync(ctx, mountPath+string(filepath.Separator), "", m.config.Runtime.DryRun)
}
