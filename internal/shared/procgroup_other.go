//go:build !unix

package shared

import "os/exec"

// SetProcessGroup is a no-op where process groups are unavailable.
func SetProcessGroup(cmd *exec.Cmd) {}

// KillGroupOnCancel keeps the default cancel behaviour, which kills the process.
func KillGroupOnCancel(cmd *exec.Cmd) {}

// KillProcessGroup kills only the process itself.
func KillProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
