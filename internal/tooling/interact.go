package tooling

import (
	"context"
	"errors"
	"strings"
)

const noReplyMarker = "The user did not reply."

func (e *Executor) askUser(ctx context.Context, args map[string]any) Result {
	question, _ := stringArg(args, "question")
	if e.asker == nil {
		return Result{Err: collaboratorFailure(KindAskUser, errors.New("no interactive user attached"))}
	}
	reply, err := e.asker.Ask(ctx, question)
	if err != nil {
		return Result{Err: collaboratorFailure(KindAskUser, err)}
	}
	if strings.TrimSpace(reply) == "" {
		return Result{Text: noReplyMarker}
	}
	return Result{Text: "User replied: " + reply}
}

func (e *Executor) emit(role string, args map[string]any) Result {
	message, _ := stringArg(args, "message")
	e.reporter.Report(role, message)
	return Result{Text: "Delivered."}
}
