package mockclient

import (
	"context"
	"strings"
	"testing"

	"momoka/internal/llm"
	"momoka/internal/state"
	"momoka/internal/tooling"
)

func TestChatPicksProtocolFromTools(t *testing.T) {
	c := New()
	msgs := []state.Message{{Role: state.RoleUser, Content: "say {hi}"}}

	resp, err := c.Chat(context.Background(), llm.ChatRequest{Messages: msgs, Tools: tooling.Definitions()})
	if err != nil {
		t.Fatal(err)
	}
	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) != 2 || calls[0].Function.Name != "emit_output" || calls[1].Function.Name != "finish" {
		t.Fatalf("unexpected calls %+v", calls)
	}

	resp, err = c.Chat(context.Background(), llm.ChatRequest{Messages: msgs})
	if err != nil {
		t.Fatal(err)
	}
	got := resp.Choices[0].Message.Content
	if got != "{OUTPUT MOCK RESPONSE: say (hi)}{FINISH}" {
		t.Fatalf("bracket reply = %q", got)
	}
	if strings.Count(got, "{") != 2 {
		t.Fatal("echoed braces must not open new commands")
	}
}
