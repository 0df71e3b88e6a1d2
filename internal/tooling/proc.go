package tooling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// ProcessOutput is what a finished (or killed) command produced.
type ProcessOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Runner executes a shell command line in dir under a hard timeout.
type Runner interface {
	Run(ctx context.Context, command, dir string, timeout time.Duration) (ProcessOutput, error)
}

// ProcessRunner runs commands through the platform shell in their own
// process group, so a timeout takes down every descendant.
type ProcessRunner struct {
	// Encoding decodes command output, e.g. "gbk". Empty means UTF-8.
	Encoding encoding.Encoding
	// Env overrides the child environment when non-nil.
	Env []string
}

// NewProcessRunner resolves the output encoding by its WHATWG/IANA name.
func NewProcessRunner(encodingName string) (*ProcessRunner, error) {
	r := &ProcessRunner{}
	name := strings.ToLower(strings.TrimSpace(encodingName))
	if name == "" || name == "utf-8" || name == "utf8" {
		return r, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown output encoding %q: %w", encodingName, err)
	}
	r.Encoding = enc
	return r, nil
}

// killGrace bounds how long Wait may block on inherited pipes after a kill.
const killGrace = 2 * time.Second

func (r *ProcessRunner) Run(ctx context.Context, command, dir string, timeout time.Duration) (ProcessOutput, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := shellCommand()
	cmd := exec.Command(shell[0], append(shell[1:], command)...)
	cmd.Dir = dir
	if r.Env != nil {
		cmd.Env = r.Env
	}
	setProcessGroup(cmd)
	cmd.WaitDelay = killGrace

	// exec copies both pipes on its own goroutines, so a chatty child can't
	// block on a full pipe while we wait.
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return ProcessOutput{}, err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-cctx.Done():
			_ = killProcessGroup(cmd)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	out := ProcessOutput{
		Stdout: r.decode(stdoutBuf.Bytes()),
		Stderr: r.decode(stderrBuf.Bytes()),
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		out.TimedOut = true
		return out, nil
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, waitErr
	}
	return out, nil
}

func (r *ProcessRunner) decode(b []byte) string {
	if r.Encoding != nil {
		if decoded, err := r.Encoding.NewDecoder().Bytes(b); err == nil {
			return string(decoded)
		}
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}
