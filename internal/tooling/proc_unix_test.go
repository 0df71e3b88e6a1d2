//go:build linux

package tooling

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestProcessRunnerCapturesOutput(t *testing.T) {
	r := &ProcessRunner{}
	out, err := r.Run(context.Background(), "echo out; echo err 1>&2; exit 3", t.TempDir(), 5*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out.Stdout) != "out" || strings.TrimSpace(out.Stderr) != "err" {
		t.Fatalf("unexpected output %+v", out)
	}
	if out.ExitCode != 3 || out.TimedOut {
		t.Fatalf("unexpected status %+v", out)
	}
}

func TestProcessRunnerKillsProcessGroupOnTimeout(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "child.pid")
	r := &ProcessRunner{}

	start := time.Now()
	out, err := r.Run(context.Background(), "sleep 30 & echo $! > child.pid; wait", dir, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.TimedOut {
		t.Fatalf("expected timeout, got %+v", out)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("run blocked for %s", elapsed)
	}

	raw, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("pid: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !processRunning(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("child %d survived the timeout", pid)
}

// processRunning treats zombies as dead: they are killed but not yet reaped.
func processRunning(pid int) bool {
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return false
	}
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) > 0 && fields[0] != "Z" && fields[0] != "X"
}

func TestProcessRunnerDecodesConfiguredEncoding(t *testing.T) {
	r, err := NewProcessRunner("gbk")
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	out, err := r.Run(context.Background(), `printf '\304\343\272\303'`, t.TempDir(), 5*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Stdout != "你好" {
		t.Fatalf("got %q", out.Stdout)
	}
	if _, err := NewProcessRunner("no-such-encoding"); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}
