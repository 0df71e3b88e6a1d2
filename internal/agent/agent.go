package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"momoka/internal/config"
	"momoka/internal/contextprofile"
	"momoka/internal/journal"
	"momoka/internal/llm"
	"momoka/internal/logging"
	"momoka/internal/prompts"
	"momoka/internal/protocol"
	"momoka/internal/session"
	"momoka/internal/state"
	"momoka/internal/tooling"
)

var (
	// ErrStalled ends a run whose model keeps answering without actions.
	ErrStalled = errors.New("agent stalled: the model produced no actions")
	// ErrStepLimit ends a run that exceeded max_steps model calls.
	ErrStepLimit = errors.New("agent reached the step limit")
)

const (
	startMessage   = "Please start."
	toolsNudge     = "No tool was called. Call a tool to continue, or call finish when the work is delivered."
	textNudge      = "No command was found. Reply with commands wrapped in {}, or {FINISH} when the work is delivered."
	skippedMessage = "skipped: an earlier action in this batch finished the run"
)

// Options wires the agent's collaborators. Client, Executor and Session are
// required.
type Options struct {
	Client   llm.Client
	Executor *tooling.Executor
	Session  *session.Session
	States   *state.Manager
	Journal  journal.Journal
	Input    Input
	Reporter tooling.Reporter
	Chat     *logging.ChatLog
	Logger   *log.Logger
}

// Agent drives one request from the first model call to finish, then runs
// the optional summary and dialogue phases.
type Agent struct {
	cfg      config.Config
	proto    protocol.Name
	client   llm.Client
	exec     *tooling.Executor
	session  *session.Session
	states   *state.Manager
	journal  journal.Journal
	input    Input
	reporter tooling.Reporter
	chat     *logging.ChatLog
	logger   *log.Logger
	slog     *logging.StructuredLogger
	profile  contextprofile.Profile
	workDir  string

	runID     string
	seq       int
	retryBase time.Duration
}

// New validates the configuration and builds an agent.
func New(cfg config.Config, opts Options) (*Agent, error) {
	if opts.Client == nil || opts.Executor == nil || opts.Session == nil {
		return nil, errors.New("agent: client, executor and session are required")
	}
	proto, err := protocol.ParseName(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	a := &Agent{
		cfg:       cfg,
		proto:     proto,
		client:    opts.Client,
		exec:      opts.Executor,
		session:   opts.Session,
		states:    opts.States,
		journal:   opts.Journal,
		input:     opts.Input,
		reporter:  opts.Reporter,
		chat:      opts.Chat,
		logger:    opts.Logger,
		workDir:   opts.Session.WorkDir(),
		retryBase: time.Second,
	}
	if a.journal == nil {
		a.journal = journal.Nop{}
	}
	if a.logger == nil {
		a.logger = log.New(io.Discard, "", 0)
	}
	if a.reporter == nil {
		a.reporter = logging.NewConsole(io.Discard, nil, false)
	}
	a.slog = logging.NewStructuredLogger(a.logger, "agent", false)
	a.profile, err = contextprofile.New(cfg.ContextProfile(), contextprofile.Dependencies{
		Logger:       a.logger,
		OnCompaction: a.recordCompaction,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Run executes request until the model finishes, then runs the follow-up
// phases. The conversation is persisted when a state manager is set.
func (a *Agent) Run(ctx context.Context, request string) error {
	conv, err := a.newConversation()
	if err != nil {
		return err
	}
	a.session.Reset()
	a.session.SetWorkDir(a.workDir)
	a.seq = 0

	runID, err := a.journal.BeginRun(ctx, request)
	if err != nil {
		logging.ErrorLog("journal begin run: %v", err)
	}
	a.runID = runID
	a.slog = a.slog.WithRun(runID)
	a.slog.Info("run started", map[string]interface{}{"protocol": string(a.proto), "conversation": conv.Key()})
	a.reporter.Report(tooling.RoleLog, "Starting")

	err = a.work(ctx, conv, request)

	status := journal.StatusFinished
	switch {
	case errors.Is(err, ErrStalled):
		status = journal.StatusStalled
	case err != nil:
		status = journal.StatusFailed
	}
	if runID != "" {
		if ferr := a.journal.FinishRun(context.WithoutCancel(ctx), runID, status); ferr != nil {
			logging.ErrorLog("journal finish run: %v", ferr)
		}
	}
	a.slog.Info("run ended", map[string]interface{}{"status": status, "chars": conv.CharCount()})
	if err != nil {
		return err
	}
	a.reporter.Report(tooling.RoleLog, "Done")
	return a.followUp(ctx, conv)
}

func (a *Agent) newConversation() (*state.Conversation, error) {
	if a.states == nil {
		return state.NewConversation("run"), nil
	}
	conv, err := a.states.Create("")
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// turnOutcome summarizes one batch of actions.
type turnOutcome struct {
	dispatched int
	terminal   bool
	touched    []string
}

func (a *Agent) work(ctx context.Context, conv *state.Conversation, request string) error {
	if a.proto == protocol.Tools {
		conv.SetSystem(prompts.Tools(a.promptState(request)))
	}
	if err := a.append(conv, state.Message{Role: state.RoleUser, Content: startMessage}, nil); err != nil {
		return err
	}

	var touched []string
	nudges := 0
	for step := 0; ; step++ {
		if a.cfg.MaxSteps > 0 && step >= a.cfg.MaxSteps {
			return fmt.Errorf("%w (%d)", ErrStepLimit, a.cfg.MaxSteps)
		}
		if a.proto == protocol.Text {
			conv.SetSystem(prompts.Text(a.promptState(request)))
		}

		prepared, err := a.profile.Prepare(ctx, conv, touched)
		if err != nil {
			return fmt.Errorf("prepare history: %w", err)
		}
		if prepared.Folded > 0 {
			if err := a.save(conv); err != nil {
				return err
			}
		}
		touched = nil

		req := llm.ChatRequest{
			Model:       a.cfg.Model,
			Messages:    prepared.Messages,
			Temperature: a.cfg.Temperature,
		}
		if a.proto == protocol.Tools {
			req.Tools = tooling.Definitions()
		}
		logging.DevLog("invoking provider with %d messages (~%d chars)", len(req.Messages), conv.CharCount())
		resp, err := a.callProviderWithRetry(ctx, req)
		if err != nil {
			return fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return errors.New("no choices returned")
		}
		msg := resp.Choices[0].Message
		msg.Role = state.RoleAssistant
		if err := a.append(conv, msg, nil); err != nil {
			return err
		}

		var out turnOutcome
		if a.proto == protocol.Tools {
			out, err = a.handleCalls(ctx, conv, msg)
		} else {
			out, err = a.handleText(ctx, conv, msg.Content)
		}
		if err != nil {
			return err
		}
		if out.terminal {
			return nil
		}
		if out.dispatched == 0 {
			nudges++
			if nudges > a.cfg.MaxNudges {
				return fmt.Errorf("%w after %d nudges", ErrStalled, a.cfg.MaxNudges)
			}
			a.slog.Warn("nudging model", map[string]interface{}{"nudge": nudges})
			nudge := toolsNudge
			if a.proto == protocol.Text {
				nudge = textNudge
			}
			if err := a.append(conv, state.Message{Role: state.RoleUser, Content: nudge}, nil); err != nil {
				return err
			}
			continue
		}
		nudges = 0
		touched = out.touched
	}
}

func (a *Agent) promptState(request string) prompts.Work {
	return prompts.Work{
		Request: request,
		Cwd:     a.session.WorkDir(),
		WorkDir: a.workDir,
		Status:  a.session.Status(),
	}
}

// handleCalls runs structured tool calls in order. Every call id gets exactly
// one tool turn, including the ones skipped after a terminal action.
func (a *Agent) handleCalls(ctx context.Context, conv *state.Conversation, msg state.Message) (turnOutcome, error) {
	var out turnOutcome
	if len(msg.ToolCalls) == 0 {
		if text := strings.TrimSpace(msg.Content); text != "" {
			a.reporter.Report(tooling.RoleBot, text)
		}
		return out, nil
	}
	for _, req := range protocol.DecodeCalls(msg.ToolCalls) {
		content := skippedMessage
		var files map[string]string
		if !out.terminal {
			res := a.dispatch(ctx, req)
			out.dispatched++
			out.touched = append(out.touched, res.Touched...)
			out.terminal = res.Terminal
			content, files = res.Text, res.Files
		}
		turn := state.Message{Role: state.RoleTool, Name: req.Name, ToolCallID: req.ID, Content: content}
		if err := a.append(conv, turn, files); err != nil {
			return out, err
		}
	}
	return out, nil
}

// handleText routes one bracket-protocol reply. In edit or replace mode the
// reply is content, not commands. The results of the turn are joined into a
// single user turn.
func (a *Agent) handleText(ctx context.Context, conv *state.Conversation, content string) (turnOutcome, error) {
	var out turnOutcome
	var results []tooling.Result

	step := a.session.Feed(content)
	switch step.Kind {
	case session.StepWrite:
		res := a.modeStep(ctx, "edit_write", step.File, func() tooling.Result {
			return a.exec.EditWhole(step.File, step.Content)
		})
		results = append(results, res)
	case session.StepCapturedOld:
		results = append(results, tooling.Result{
			Text: fmt.Sprintf("Old text captured for %s. Reply with the new text only.", step.File),
		})
	case session.StepReplace:
		res := a.modeStep(ctx, "replace_apply", step.File, func() tooling.Result {
			return a.exec.ReplaceInFile(step.File, step.Old, step.New)
		})
		results = append(results, res)
	default:
		for _, req := range protocol.ParseText(content) {
			res := a.dispatchText(ctx, req)
			results = append(results, res)
			if res.Terminal {
				break
			}
		}
	}

	files := make(map[string]string)
	texts := make([]string, 0, len(results))
	for _, res := range results {
		out.dispatched++
		out.touched = append(out.touched, res.Touched...)
		if res.Terminal {
			out.terminal = true
			continue
		}
		texts = append(texts, res.Text)
		for path, body := range res.Files {
			files[path] = body
		}
	}
	if out.dispatched == 0 || len(texts) == 0 {
		return out, nil
	}
	turn := state.Message{Role: state.RoleUser, Content: strings.Join(texts, "\n\n")}
	return out, a.append(conv, turn, files)
}

// dispatchText handles the mode-entry commands that only the session can
// serve and sends everything else to the executor.
func (a *Agent) dispatchText(ctx context.Context, req tooling.Request) tooling.Result {
	switch req.Kind {
	case tooling.KindBeginEdit, tooling.KindBeginReplace:
		start := time.Now()
		path, _ := req.Args["path"].(string)
		var res tooling.Result
		if strings.TrimSpace(path) == "" {
			res = a.exec.Execute(ctx, tooling.Request{ID: req.ID, Kind: req.Kind, Name: req.Name, Args: req.Args})
		} else {
			abs := a.exec.Resolve(path)
			if req.Kind == tooling.KindBeginEdit {
				a.session.BeginEdit(abs)
				res.Text = fmt.Sprintf("Edit mode for %s. Your next reply is written to the file verbatim.", abs)
			} else {
				a.session.BeginReplace(abs)
				res.Text = fmt.Sprintf("Replace mode for %s. Reply with the old text only.", abs)
			}
			a.reporter.Report(tooling.RoleLog, res.Text)
		}
		a.record(ctx, req, res, time.Since(start))
		return res
	default:
		return a.dispatch(ctx, req)
	}
}

func (a *Agent) modeStep(ctx context.Context, name, file string, run func() tooling.Result) tooling.Result {
	start := time.Now()
	res := run()
	req := tooling.Request{ID: "mode", Name: name, Args: map[string]any{"path": file}}
	a.record(ctx, req, res, time.Since(start))
	return res
}

func (a *Agent) dispatch(ctx context.Context, req tooling.Request) tooling.Result {
	start := time.Now()
	res := a.exec.Execute(ctx, req)
	a.record(ctx, req, res, time.Since(start))
	return res
}

func (a *Agent) record(ctx context.Context, req tooling.Request, res tooling.Result, elapsed time.Duration) {
	a.seq++
	if a.runID == "" {
		return
	}
	kind := req.Kind.String()
	if req.Kind == tooling.KindUnknown && req.Name != "" {
		kind = req.Name
	}
	action := journal.Action{
		RunID:      a.runID,
		Seq:        a.seq,
		CallID:     req.ID,
		Kind:       kind,
		Args:       req.Args,
		Result:     res.Text,
		Terminal:   res.Terminal,
		Touched:    res.Touched,
		DurationMs: elapsed.Milliseconds(),
	}
	if res.Err != nil {
		action.Error = tooling.KindOf(res.Err).String()
	}
	if err := a.journal.RecordAction(context.WithoutCancel(ctx), action); err != nil {
		logging.ErrorLog("journal record action: %v", err)
	}
}

func (a *Agent) recordCompaction(ev contextprofile.CompactionEvent) {
	a.reporter.Report(tooling.RoleLog, fmt.Sprintf("Folded %d older copies of %s", ev.Collapsed, ev.Filename))
	if a.runID == "" {
		return
	}
	err := a.journal.RecordCompaction(context.Background(), journal.Compaction{
		RunID:       a.runID,
		Filename:    ev.Filename,
		Collapsed:   ev.Collapsed,
		CharsBefore: ev.CharsBefore,
		CharsAfter:  ev.CharsAfter,
		CreatedAt:   ev.Timestamp,
	})
	if err != nil {
		logging.ErrorLog("journal record compaction: %v", err)
	}
}

func (a *Agent) append(conv *state.Conversation, msg state.Message, files map[string]string) error {
	conv.AppendWithFiles(msg, files)
	role := msg.Role
	if msg.Name != "" {
		role += " " + msg.Name
	}
	body := msg.Content
	for _, call := range msg.ToolCalls {
		body += fmt.Sprintf("\n-> %s(%s) [%s]", call.Function.Name, call.Function.Arguments, call.ID)
	}
	a.chat.Write(role, body)
	return a.save(conv)
}

func (a *Agent) save(conv *state.Conversation) error {
	if a.states == nil {
		return nil
	}
	if err := a.states.Save(conv); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (a *Agent) callProviderWithRetry(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	const maxRetries = 5
	delay := a.retryBase
	maxDelay := 16 * a.retryBase
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		start := time.Now()
		resp, err := a.client.Chat(ctx, req)
		elapsed := time.Since(start).Round(time.Millisecond)
		logging.DevLog("provider call finished: err=%v (attempt %d/%d, duration=%s)", err, attempt, maxRetries, elapsed)
		if err == nil {
			if resp.Usage != nil {
				logging.DevLog("token usage: prompt=%d completion=%d total=%d",
					resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return llm.ChatResponse{}, ctx.Err()
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return llm.ChatResponse{}, err
		}

		if pe, ok := llm.IsProviderError(err); ok {
			if !pe.Retryable {
				a.logger.Printf("[agent] provider error (non-retryable): %s", pe.Error())
				return llm.ChatResponse{}, err
			}
			if pe.RetryAfter != nil && *pe.RetryAfter > delay {
				delay = *pe.RetryAfter
			}
		}

		lastErr = err
		if attempt == maxRetries {
			break
		}
		a.logger.Printf("[agent] retrying provider call (attempt %d/%d) after %v", attempt+1, maxRetries, err)
		a.reporter.Report(tooling.RoleLog, fmt.Sprintf("Provider error, retrying in %s: %v", delay, err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return llm.ChatResponse{}, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return llm.ChatResponse{}, lastErr
}
