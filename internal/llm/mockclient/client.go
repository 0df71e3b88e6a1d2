package mockclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"momoka/internal/llm"
	"momoka/internal/state"
)

// Client is a deterministic llm.Client used for tests and CI. It echoes the
// last user message back through emit_output and then finishes.
type Client struct {
	prefix string
	calls  int
}

// New returns a mock client.
func New() *Client {
	return &Client{prefix: "MOCK"}
}

// Chat satisfies the llm.Client interface. Requests that advertise tools get
// structured calls; requests without tools get the bracket form.
func (c *Client) Chat(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	c.calls++
	echo := fmt.Sprintf("%s RESPONSE", c.prefix)
	if last := lastUserContent(req.Messages); last != "" {
		echo = fmt.Sprintf("%s RESPONSE: %s", c.prefix, last)
	}

	response := state.Message{Role: state.RoleAssistant}
	if len(req.Tools) > 0 {
		args, _ := json.Marshal(map[string]string{"message": echo})
		response.ToolCalls = []state.ToolCall{
			{ID: fmt.Sprintf("mock-%d-1", c.calls), Type: "function", Function: state.FunctionCall{Name: "emit_output", Arguments: string(args)}},
			{ID: fmt.Sprintf("mock-%d-2", c.calls), Type: "function", Function: state.FunctionCall{Name: "finish", Arguments: "{}"}},
		}
	} else {
		safe := strings.NewReplacer("{", "(", "}", ")").Replace(echo)
		response.Content = "{OUTPUT " + safe + "}{FINISH}"
	}

	return llm.ChatResponse{
		Choices: []llm.ChatChoice{
			{Index: 0, Message: response, FinishReason: "stop"},
		},
		Usage: &llm.Usage{
			PromptTokens:     42,
			CompletionTokens: 7,
			TotalTokens:      49,
		},
	}, nil
}

func lastUserContent(messages []state.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == state.RoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}
