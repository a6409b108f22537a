package step

import (
	"fmt"
	"sort"
	"strings"

	"github.com/paulschiretz/zfs2cloud/pkg/util"
)

// Kind identifies what a backup sequence step does.
type Kind int

// Constants for Kind, acting as an enum.
const (
	Script Kind = iota
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
)

var kindToString = map[Kind]string{
	Script:              "script",
	ShowConfig:          "show-config",
	Lock:                "lock",
	Unlock:              "unlock",
	Snapshot:            "snapshot",
	PruneSnapshots:      "prune-snapshots",
	ExportIntermediate:  "export-intermediate",
	PruneIntermediates:  "prune-intermediates",
	UploadIntermediate:  "upload-intermediate-to-remote",
	MountSnapshot:       "mount-snapshot",
	UploadSnapshotFiles: "upload-snapshot-files-to-remote",
	UmountSnapshot:      "umount-snapshot",
}

var stringToKind map[string]Kind

func init() {
	stringToKind = util.InvertMap(kindToString)
	// Scripts are recognised by their absolute path, never by name.
	delete(stringToKind, kindToString[Script])
}

// String returns the command name of a Kind.
func (k Kind) String() string {
	if str, ok := kindToString[k]; ok {
		return str
	}
	return fmt.Sprintf("unknown_step(%d)", k)
}

// ParseKind resolves a built-in command name.
func ParseKind(s string) (Kind, error) {
	if kind, ok := stringToKind[s]; ok {
		return kind, nil
	}
	return Script, fmt.Errorf("%s is not a valid step (%s)", s, strings.Join(Names(), ", "))
}

// Names lists all built-in command names in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(stringToKind))
	for name := range stringToKind {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
