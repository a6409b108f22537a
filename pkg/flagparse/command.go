package flagparse

import (
	"fmt"
	"strings"

	"github.com/paulschiretz/zfs2cloud/pkg/step"
	"github.com/paulschiretz/zfs2cloud/pkg/util"
)

// Command defines the command to execute.
type Command int

const (
	None Command = iota
	Perform
	ShowConfig
	Lock
	Unlock
	Snapshot
	PruneSnapshots
	ExportIntermediate
	PruneIntermediates
	UploadIntermediate
	MountSnapshot
	UploadSnapshotFiles
	UmountSnapshot
	Restore
	Version
)

var commandToString = map[Command]string{
	None:                "none",
	Perform:             "perform",
	ShowConfig:          step.ShowConfig.String(),
	Lock:                step.Lock.String(),
	Unlock:              step.Unlock.String(),
	Snapshot:            step.Snapshot.String(),
	PruneSnapshots:      step.PruneSnapshots.String(),
	ExportIntermediate:  step.ExportIntermediate.String(),
	PruneIntermediates:  step.PruneIntermediates.String(),
	UploadIntermediate:  step.UploadIntermediate.String(),
	MountSnapshot:       step.MountSnapshot.String(),
	UploadSnapshotFiles: step.UploadSnapshotFiles.String(),
	UmountSnapshot:      step.UmountSnapshot.String(),
	Restore:             "restore",
	Version:             "version",
}

var commandToKind = map[Command]step.Kind{
	ShowConfig:          step.ShowConfig,
	Lock:                step.Lock,
	Unlock:              step.Unlock,
	Snapshot:            step.Snapshot,
	PruneSnapshots:      step.PruneSnapshots,
	ExportIntermediate:  step.ExportIntermediate,
	PruneIntermediates:  step.PruneIntermediates,
	UploadIntermediate:  step.UploadIntermediate,
	MountSnapshot:       step.MountSnapshot,
	UploadSnapshotFiles: step.UploadSnapshotFiles,
	UmountSnapshot:      step.UmountSnapshot,
}

var commandDescriptions = map[Command]string{
	Perform:             "Performs all steps outlined in backup_sequences (default)",
	ShowConfig:          "Shows the config as seen by zfs2cloud",
	Lock:                "Creates the lock file and thus disallows other calls to perform",
	Unlock:              "Removes the lock file and thus allows other calls to perform",
	Snapshot:            "Creates a new snapshot",
	PruneSnapshots:      "Destroys snapshots older than oldest_snapshot_days",
	ExportIntermediate:  "Exports the latest snapshot to the intermediate directory",
	PruneIntermediates:  "Deletes intermediates not associated with the latest snapshot",
	UploadIntermediate:  "Uploads an intermediate to the remote",
	MountSnapshot:       "Mounts the latest snapshot below the intermediate directory",
	UploadSnapshotFiles: "Uploads the files of the mounted snapshot to the remote",
	UmountSnapshot:      "Unmounts the latest snapshot",
	Restore:             "Restores intermediate folders into a zfs filesystem",
	Version:             "Prints the application version",
}

var stringToCommand map[string]Command

func init() {
	stringToCommand = util.InvertMap(commandToString)
	delete(stringToCommand, commandToString[None])
}

func (c Command) String() string {
	if str, ok := commandToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_command(%d)", c)
}

// StepKind returns the step a command runs on its own. ok is false for
// commands that are not sequence steps.
func (c Command) StepKind() (kind step.Kind, ok bool) {
	kind, ok = commandToKind[c]
	return kind, ok
}

// NeedsConfig reports whether the command reads the configuration file.
func (c Command) NeedsConfig() bool {
	return c != Restore && c != Version && c != None
}

func ParseCommand(s string) (Command, error) {
	if command, ok := stringToCommand[s]; ok {
		return command, nil
	}
	return None, fmt.Errorf("invalid command: %q. Must be one of: %s", s, strings.Join(commandNames(), ", "))
}

// commandNames lists the commands in the order they are shown in the usage.
func commandNames() []string {
	names := make([]string, 0, len(commandToString)-1)
	for c := Perform; c <= Version; c++ {
		names = append(names, c.String())
	}
	return names
}
