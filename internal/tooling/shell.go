package tooling

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const emptyOutputMarker = "(empty output)"

func (e *Executor) runCommand(ctx context.Context, args map[string]any) Result {
	command, _ := stringArg(args, "command")
	if strings.TrimSpace(command) == "" {
		return Result{Err: malformed(KindRunCommand.String(), fmt.Errorf("command must not be empty"))}
	}
	dir := e.session.WorkDir()
	e.reporter.Report(RoleCmd, "$ "+command)

	out, err := e.runner.Run(ctx, command, dir, e.timeout)
	if err != nil {
		return Result{Err: collaboratorFailure(KindRunCommand, err)}
	}
	if out.TimedOut {
		e.reporter.Report(RoleCmd, "timed out after "+e.timeout.String())
		return Result{Err: &ActionError{Kind: ErrTimeout, Action: KindRunCommand.String(), Target: command, Timeout: e.timeout}}
	}

	text := FormatProcessOutput(out)
	e.reporter.Report(RoleCmd, text)
	return Result{Text: text}
}

// FormatProcessOutput joins stdout and stderr for the model. Silence is made
// explicit so it is not mistaken for a failure.
func FormatProcessOutput(out ProcessOutput) string {
	text := strings.TrimRight(out.Stdout, "\r\n")
	if stderr := strings.TrimRight(out.Stderr, "\r\n \t"); stderr != "" {
		text += "\n[STDERR]: " + stderr
	}
	if text == "" {
		text = emptyOutputMarker
	}
	if out.ExitCode != 0 {
		text += fmt.Sprintf("\n[EXIT CODE]: %d", out.ExitCode)
	}
	return text
}

func (e *Executor) changeDirectory(args map[string]any) Result {
	path, _ := stringArg(args, "path")
	target := resolvePath(e.session.WorkDir(), path)
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return Result{Err: notFound(KindChangeDirectory, target, err)}
	}
	e.session.SetWorkDir(target)
	e.reporter.Report(RoleLog, "Changed directory: "+target)
	return Result{Text: "Working directory changed to: " + target}
}
