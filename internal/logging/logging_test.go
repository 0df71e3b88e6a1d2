package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConsoleMutesRoles(t *testing.T) {
	var out bytes.Buffer
	var mirror bytes.Buffer
	prev := Logger
	Logger = log.New(&mirror, "", 0)
	defer func() { Logger = prev }()

	c := NewConsole(&out, []string{" cmd ", "log"}, false)
	c.Report("CMD", "$ ls")
	c.Report("log", "reading")
	c.Report("BOT", "hello")

	if got := out.String(); got != "[BOT] hello\n" {
		t.Fatalf("console printed %q", got)
	}
	if !strings.Contains(mirror.String(), "[CMD] $ ls") {
		t.Fatalf("muted lines should still reach the log: %q", mirror.String())
	}
	if !c.Muted("Cmd") {
		t.Fatal("Muted should be case-insensitive")
	}
}

func TestSetupFreshTruncates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, logFileName)
	if err := os.WriteFile(path, []byte("old run\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	prev := Logger
	defer func() { Logger = prev }()

	w, err := Setup(dir, true)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	UserLog("new run")
	w.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "old run") || !strings.Contains(string(data), "[USER] new run") {
		t.Fatalf("unexpected log content %q", data)
	}
}

func TestChatLogAppends(t *testing.T) {
	dir := t.TempDir()
	chat, err := OpenChatLog(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	chat.Write("user", "hi")
	chat.Write("assistant", "{FINISH}")
	chat.Close()

	data, err := os.ReadFile(filepath.Join(dir, chatFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "user:\nhi") || !strings.Contains(string(data), "assistant:\n{FINISH}") {
		t.Fatalf("unexpected transcript %q", data)
	}

	var nilLog *ChatLog
	nilLog.Write("user", "ignored")
}

func TestStructuredLoggerSortsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewStructuredLogger(log.New(&buf, "", 0), "executor", false).WithRun("0123456789abcdef")
	l.Info("action done", map[string]interface{}{"kind": "read_file", "duration_ms": 3})
	want := "[executor] [run:01234567] action done | duration_ms=3 kind=read_file\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}
