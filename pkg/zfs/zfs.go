// Package zfs reads and changes the snapshots of a ZFS filesystem through the zfs command.
package zfs

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/runner"
)

// CreationLayout is the format of the creation property printed by "zfs list -H".
const CreationLayout = "Mon Jan _2 15:04 2006"

// SnapshotIDLayout names new snapshots: <fs>@YYYYmmddHHMMSS.
const SnapshotIDLayout = "20060102150405"

// Snapshot is a named, immutable point in time of a filesystem.
type Snapshot struct {
	Name     string
	Creation time.Time
}

// Filesystem returns the part before "@".
func (s Snapshot) Filesystem() string {
	fs, _, _ := strings.Cut(s.Name, "@")
	return fs
}

// ProtocolError reports output of the zfs command that cannot be parsed.
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected zfs output %q: %s", e.Line, e.Reason)
}

// Client runs zfs subcommands.
type Client struct {
	runner  runner.Runner
	zfsPath string
}

// NewClient returns a Client that calls the zfs binary at zfsPath.
func NewClient(r runner.Runner, zfsPath string) *Client {
	if zfsPath == "" {
		zfsPath = "zfs"
	}
	return &Client{runner: r, zfsPath: zfsPath}
}

// List returns the snapshots of fs, newest first. No snapshots is not an error.
// The listing is never cached.
func (c *Client) List(ctx context.Context, fs string) ([]Snapshot, error) {
	var out bytes.Buffer
	cmd := runner.Cmd{
		Name:   c.zfsPath,
		Args:   []string{"list", "-H", "-t", "snapshot", "-o", "name,creation", "-S", "creation", "-d1", fs},
		Stdout: &out,
	}
	if err := c.runner.Run(ctx, cmd); err != nil {
		return nil, fmt.Errorf("cannot list snapshots of %s: %w", fs, err)
	}
	return ParseList(out.String())
}

// ParseList parses tab-separated "name<TAB>creation" records.
func ParseList(data string) ([]Snapshot, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return []Snapshot{}, nil
	}

	var snapshots []Snapshot
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimRight(line, "\r")
		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return nil, &ProtocolError{Line: line, Reason: fmt.Sprintf("expected two columns, got %d", len(fields))}
		}

		creation, err := time.ParseInLocation(CreationLayout, strings.TrimSpace(fields[1]), time.Local)
		if err != nil {
			return nil, &ProtocolError{Line: line, Reason: err.Error()}
		}
		snapshots = append(snapshots, Snapshot{Name: fields[0], Creation: creation})
	}
	return snapshots, nil
}

// SnapshotName returns the name of a snapshot of fs taken at t.
func SnapshotName(fs string, t time.Time) string {
	return fs + "@" + t.Format(SnapshotIDLayout)
}

// CreateCmd returns the command that creates the snapshot name.
func (c *Client) CreateCmd(name string) runner.Cmd {
	return runner.Cmd{Name: c.zfsPath, Args: []string{"snapshot", name}}
}

// DestroyCmd returns the command that destroys name.
func (c *Client) DestroyCmd(name string) runner.Cmd {
	return runner.Cmd{Name: c.zfsPath, Args: []string{"destroy", name}}
}

// SendCmd returns the command that serializes snapshot to stdout. With a
// non-empty base the stream only holds the changes since base.
func (c *Client) SendCmd(snapshot, base string) runner.Cmd {
	args := []string{"send"}
	if base != "" {
		args = append(args, "-i", base)
	}
	return runner.Cmd{Name: c.zfsPath, Args: append(args, snapshot)}
}

// RecvCmd returns the command that receives a stream into fs.
func (c *Client) RecvCmd(fs string) runner.Cmd {
	return runner.Cmd{Name: c.zfsPath, Args: []string{"recv", fs}}
}

// Execute logs cmd and runs it unless dryRun is set.
func (c *Client) Execute(ctx context.Context, cmd runner.Cmd, dryRun bool) error {
	plog.Info("+ " + cmd.String())
	if dryRun {
		return nil
	}
	return c.runner.Run(ctx, cmd)
}
