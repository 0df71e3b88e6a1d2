package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"momoka/internal/llm"
	"momoka/internal/prompts"
	"momoka/internal/state"
	"momoka/internal/tooling"
)

const summaryRequest = "Summarize the work you just did."

// followUp runs the summary and dialogue phases after finish. Both use the
// dialogue system prompt and advertise no tools.
func (a *Agent) followUp(ctx context.Context, conv *state.Conversation) error {
	if !a.cfg.Summary && !a.cfg.Dialogue {
		return nil
	}
	conv.SetSystem(prompts.Dialogue())

	if a.cfg.Summary {
		a.reporter.Report(tooling.RoleLog, "The work is finished, writing a summary...")
		reply, err := a.converse(ctx, conv, summaryRequest)
		if err != nil {
			return fmt.Errorf("summary: %w", err)
		}
		a.reporter.Report(tooling.RoleBot, reply)
	}

	if !a.cfg.Dialogue || a.input == nil {
		return nil
	}
	a.reporter.Report(tooling.RoleLog, fmt.Sprintf("You can now talk to the bot (type %q to end)", EndDialogue))
	for {
		line, err := a.input.ReadLine(ctx, ">> ")
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if line == EndDialogue {
			break
		}
		if line == "" {
			continue
		}
		reply, err := a.converse(ctx, conv, line)
		if err != nil {
			return fmt.Errorf("dialogue: %w", err)
		}
		a.reporter.Report(tooling.RoleBot, reply)
	}
	a.reporter.Report(tooling.RoleLog, "End")
	return nil
}

// converse sends one user line without tools and returns the reply text.
func (a *Agent) converse(ctx context.Context, conv *state.Conversation, text string) (string, error) {
	if err := a.append(conv, state.Message{Role: state.RoleUser, Content: text}, nil); err != nil {
		return "", err
	}
	resp, err := a.callProviderWithRetry(ctx, llm.ChatRequest{
		Model:       a.cfg.Model,
		Messages:    conv.Messages(),
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	msg := resp.Choices[0].Message
	msg.Role = state.RoleAssistant
	msg.ToolCalls = nil
	if err := a.append(conv, msg, nil); err != nil {
		return "", err
	}
	return strings.TrimSpace(msg.Content), nil
}
