package upload

import (
	"context"
	"fmt"

	"github.com/kballard/go-shellquote"

	"github.com/paulschiretz/zfs2cloud/pkg/config"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/runner"
)

// RcloneSyncer mirrors folders with "rclone sync".
type RcloneSyncer struct {
	runner      runner.Runner
	rclonePath  string
	configPath  string
	remote      string
	globalFlags []string
	args        []string
	bwlimit     string
}

var _ Syncer = (*RcloneSyncer)(nil)

// NewRcloneSyncer creates an RcloneSyncer. The rclone_global_flags and
// rclone_args settings are split with shell quoting rules.
func NewRcloneSyncer(cfg config.Config, r runner.Runner) (*RcloneSyncer, error) {
	globalFlags, err := shellquote.Split(cfg.Main.RcloneGlobalFlags)
	if err != nil {
		return nil, &config.Error{Msg: "rclone_global_flags cannot be parsed", Err: err}
	}
	args, err := shellquote.Split(cfg.Main.RcloneArgs)
	if err != nil {
		return nil, &config.Error{Msg: "rclone_args cannot be parsed", Err: err}
	}
	rclonePath := cfg.RclonePath
	if rclonePath == "" {
		rclonePath = "rclone"
	}
	return &RcloneSyncer{
		runner:      r,
		rclonePath:  rclonePath,
		configPath:  cfg.Main.RcloneConf,
		remote:      cfg.Main.Remote,
		globalFlags: globalFlags,
		args:        args,
		bwlimit:     cfg.Main.RcloneBwlimit,
	}, nil
}

// Destination returns the rclone path of subdir below the configured remote.
func (s *RcloneSyncer) Destination(subdir string) string {
	if subdir == "" {
		return s.remote
	}
	return s.remote + "/" + subdir
}

// SyncCmd returns the rclone invocation that mirrors localDir to subdir.
func (s *RcloneSyncer) SyncCmd(localDir, subdir string) runner.Cmd {
	args := append([]string{}, s.globalFlags...)
	args = append(args, "sync")
	args = append(args, s.args...)
	if s.bwlimit != "" {
		args = append(args, "--bwlimit", s.bwlimit)
	}
	args = append(args, localDir, s.Destination(subdir))
	return runner.Cmd{
		Name: s.rclonePath,
		Args: args,
		Env:  []string{"RCLONE_CONFIG=" + s.configPath},
	}
}

func (s *RcloneSyncer) Sync(ctx context.Context, localDir, subdir string, dryRun bool) error {
	cmd := s.SyncCmd(localDir, subdir)
	plog.Info("+ " + cmd.String())
	if dryRun {
		return nil
	}
	if err := s.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("rclone sync of %s failed: %w", localDir, err)
	}
	return nil
}
