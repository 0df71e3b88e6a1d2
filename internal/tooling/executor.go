package tooling

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"momoka/internal/browser"
	"momoka/internal/logging"
)

// Console roles used by the executor.
const (
	RoleLog    = "LOG"
	RoleCmd    = "CMD"
	RoleBot    = "BOT"
	RoleReport = "REPORT"
)

const maxResultSize = 50000

// Options wires the executor's collaborators.
type Options struct {
	Session        WorkDir
	Runner         Runner
	Browser        browser.Session
	Asker          Asker
	Reporter       Reporter
	CommandTimeout time.Duration
	Logger         *logging.StructuredLogger
}

// Executor performs actions and normalizes their outcome into a Result.
type Executor struct {
	session  WorkDir
	runner   Runner
	browser  browser.Session
	asker    Asker
	reporter Reporter
	timeout  time.Duration
	logger   *logging.StructuredLogger
}

// NewExecutor returns an executor. A nil Runner uses the platform shell.
func NewExecutor(opts Options) *Executor {
	if opts.Session == nil {
		panic("tooling: executor requires a session")
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	runner := opts.Runner
	if runner == nil {
		runner = &ProcessRunner{}
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = discardReporter{}
	}
	return &Executor{
		session:  opts.Session,
		runner:   runner,
		browser:  opts.Browser,
		asker:    opts.Asker,
		reporter: reporter,
		timeout:  timeout,
		logger:   opts.Logger,
	}
}

// Execute dispatches one request. It never returns an error: every failure
// becomes the Result text, with Err set for bookkeeping.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	start := time.Now()
	res := e.execute(ctx, req)
	if res.Err != nil {
		res.Text = res.Err.Error()
	}
	// Results carrying Files are clipped by their handler, so the recorded
	// copy stays a substring of the text and can be folded later.
	if len(res.Files) == 0 {
		if clipped, cut := clip(res.Text, maxResultSize); cut {
			res.Text = clipped + fmt.Sprintf("\n\n[TRUNCATED: result was %d chars]", len(res.Text))
		}
	}
	if e.logger != nil {
		fields := map[string]interface{}{
			"kind":        req.Kind.String(),
			"id":          req.ID,
			"duration_ms": time.Since(start).Milliseconds(),
			"terminal":    res.Terminal,
		}
		if len(res.Touched) > 0 {
			fields["touched"] = res.Touched
		}
		if res.Err != nil {
			fields["error"] = KindOf(res.Err).String()
			e.logger.Warn("action failed", fields)
		} else {
			e.logger.Info("action done", fields)
		}
	}
	return res
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n], true
}

func (e *Executor) execute(ctx context.Context, req Request) Result {
	if req.Kind == KindUnknown {
		name := req.Name
		if name == "" {
			name = "(empty)"
		}
		return Result{Err: &ActionError{Kind: ErrUnknownAction, Target: name}}
	}
	if req.Err != nil {
		return Result{Err: malformed(req.Kind.String(), req.Err)}
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}
	if err := Validate(req.Kind, req.Args); err != nil {
		return Result{Err: err}
	}
	if err := ctx.Err(); err != nil {
		return Result{Err: collaboratorFailure(req.Kind, err)}
	}

	args := req.Args
	switch req.Kind {
	case KindRunCommand:
		return e.runCommand(ctx, args)
	case KindWriteFile:
		return e.writeFile(args)
	case KindPatchFile:
		return e.patchFile(args)
	case KindReadFile:
		return e.readFile(args)
	case KindChangeDirectory:
		return e.changeDirectory(args)
	case KindAskUser:
		return e.askUser(ctx, args)
	case KindEmitOutput:
		return e.emit(RoleBot, args)
	case KindReport:
		return e.emit(RoleReport, args)
	case KindFinish:
		return Result{Text: "FINISH", Terminal: true}
	case KindBeginEdit, KindBeginReplace:
		// Mode changes belong to the session state machine.
		return Result{Err: malformed(req.Kind.String(), errors.New("mode actions are handled by the agent loop"))}
	case KindOpen, KindReadPage, KindFindText, KindClick, KindTypeText, KindSelectOption,
		KindHover, KindBack, KindForward, KindScreenshot, KindExportPDF, KindDownload,
		KindUpload, KindEvaluateScript, KindCloseBrowser:
		return e.browse(ctx, req.Kind, args)
	default:
		return Result{Err: &ActionError{Kind: ErrUnknownAction, Target: req.Kind.String()}}
	}
}

type discardReporter struct{}

func (discardReporter) Report(string, string) {}
