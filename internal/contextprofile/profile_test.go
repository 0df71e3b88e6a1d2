package contextprofile

import (
	"context"
	"strings"
	"testing"

	"momoka/internal/state"
)

func conversationWithReads(t *testing.T, file string, bodies ...string) *state.Conversation {
	t.Helper()
	conv := state.NewConversation("t")
	conv.SetSystem("sys")
	for _, body := range bodies {
		conv.AppendWithFiles(state.Message{Role: state.RoleTool, Content: file + ":\n" + body}, map[string]string{file: body})
	}
	return conv
}

func TestFoldProfileDeduplicatesAndReports(t *testing.T) {
	conv := conversationWithReads(t, "/w/a.txt", "first version", "second version")
	var events []CompactionEvent
	profile, err := New("fold", Dependencies{OnCompaction: func(ev CompactionEvent) { events = append(events, ev) }})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	prepared, err := profile.Prepare(context.Background(), conv, []string{"/w/a.txt", "/w/a.txt", "/w/other"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if prepared.Folded != 1 {
		t.Fatalf("folded = %d, want 1", prepared.Folded)
	}
	if len(events) != 1 || events[0].Filename != "/w/a.txt" || events[0].CharsAfter >= events[0].CharsBefore {
		t.Fatalf("unexpected events %+v", events)
	}
	if strings.Contains(prepared.Messages[1].Content, "first version") {
		t.Fatal("older copy should be folded in the prepared snapshot")
	}
	if !strings.Contains(prepared.Messages[2].Content, "second version") {
		t.Fatal("latest copy must survive")
	}
}

func TestNoopProfileLeavesHistory(t *testing.T) {
	conv := conversationWithReads(t, "a", "one", "two")
	profile, err := New("none", Dependencies{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	prepared, err := profile.Prepare(context.Background(), conv, []string{"a"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if prepared.Folded != 0 || !strings.Contains(prepared.Messages[1].Content, "one") {
		t.Fatalf("noop profile changed history: %+v", prepared)
	}
}

func TestUnknownProfile(t *testing.T) {
	if _, err := New("memory", Dependencies{}); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}
