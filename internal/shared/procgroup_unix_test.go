//go:build unix

package shared

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"
)

func TestKillGroupOnCancelKillsChildren(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not on PATH")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// The background sleep keeps stdout open; only a group kill ends it quickly.
	cmd := exec.CommandContext(ctx, sh, "-c", "sleep 30 & sleep 30")
	SetProcessGroup(cmd)
	KillGroupOnCancel(cmd)
	cmd.WaitDelay = 5 * time.Second
	var out bytes.Buffer
	cmd.Stdout = &out

	start := time.Now()
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_ = cmd.Wait()

	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Wait returned after %v; children outlived the group kill", elapsed)
	}
	if err := KillProcessGroup(cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		t.Errorf("KillProcessGroup() after exit = %v", err)
	}
}

func TestSetProcessGroupWithoutContext(t *testing.T) {
	cmd := exec.Command("true")
	SetProcessGroup(cmd)
	if err := cmd.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Error("Setpgid not set")
	}
}
