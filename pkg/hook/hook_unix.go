//go:build !windows

package hook

import "github.com/paulschiretz/zfs2cloud/pkg/runner"

// shellCommand wraps a script in /bin/sh so that paths with arguments work
// the same way they do in a crontab.
func shellCommand(script string) runner.Cmd {
	return runner.Cmd{Name: "/bin/sh", Args: []string{"-c", script}}
}
