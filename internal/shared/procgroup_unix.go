//go:build unix

package shared

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// SetProcessGroup starts cmd in its own process group. Call before Start.
func SetProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// KillGroupOnCancel makes context cancellation kill the whole process
// group instead of only the leader. cmd must come from exec.CommandContext
// and have SetProcessGroup applied.
func KillGroupOnCancel(cmd *exec.Cmd) {
	cmd.Cancel = func() error { return KillProcessGroup(cmd) }
}

// KillProcessGroup sends SIGKILL to the process group led by cmd.
func KillProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
