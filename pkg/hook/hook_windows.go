//go:build windows

package hook

import "github.com/paulschiretz/zfs2cloud/pkg/runner"

// shellCommand wraps a script in cmd.exe.
func shellCommand(script string) runner.Cmd {
	return runner.Cmd{Name: "cmd", Args: []string{"/C", script}}
}
