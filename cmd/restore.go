package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/paulschiretz/zfs2cloud/pkg/buildinfo"
	"github.com/paulschiretz/zfs2cloud/pkg/flagparse"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/restore"
	"github.com/paulschiretz/zfs2cloud/pkg/runner"
)

// promptPassphrase is a test seam for restore.PromptPassphrase.
var promptPassphrase = restore.PromptPassphrase

// RunRestore handles the logic for the restore command. It needs no
// configuration file: the target filesystem and the folders come from the
// command line and the passphrase is prompted for.
func RunRestore(ctx context.Context, flagMap map[string]interface{}, r runner.Runner) error {
	setLogLevel(flagMap)

	fs, _ := flagMap["zfs-fs"].(string)
	if fs == "" {
		return fmt.Errorf("the --zfs-fs flag is required to run a restore")
	}
	folders, _ := flagMap[flagparse.KeyDirs].([]string)
	dryRun, _ := flagMap["dry-run"].(bool)
	metrics, _ := flagMap["metrics"].(bool)

	// Every folder is checked before the passphrase is asked for.
	if err := restore.ValidateFolders(folders); err != nil {
		return err
	}

	passphrase, err := promptPassphrase(os.Stderr)
	if err != nil {
		return err
	}

	startTime := time.Now()
	err = restore.NewRestorer(r, restore.WithMetrics(metrics)).Restore(ctx, fs, folders, passphrase, dryRun)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" restore finished successfully.", "duration", duration)
	return nil
}
