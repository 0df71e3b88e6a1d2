package state

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message mirrors the OpenAI chat schema so that stored history can be
// reused verbatim in requests.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Thinking   string     `json:"thinking,omitempty"`
}

// ToolCall represents a function call request emitted by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall is embedded inside ToolCall for OpenAI-compatible schemas.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// TurnMeta records which files had their full content embedded in a turn,
// keyed by filename.
type TurnMeta struct {
	Files map[string]string `json:"files,omitempty"`
}

// Conversation is an ordered list of turns plus a metadata entry per turn.
// len(meta) always equals len(messages).
type Conversation struct {
	key         string
	messages    []Message
	meta        []TurnMeta
	storagePath string
	createdAt   time.Time
	updatedAt   time.Time
}

// NewConversation returns an empty conversation identified by key.
func NewConversation(key string) *Conversation {
	now := time.Now()
	return &Conversation{key: key, createdAt: now, updatedAt: now}
}

// Key returns the identifier assigned to the conversation.
func (c *Conversation) Key() string {
	return c.key
}

// StoragePath returns the file path where this conversation is persisted.
func (c *Conversation) StoragePath() string {
	return c.storagePath
}

// Len reports the number of turns.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Messages exposes a copy of the history for requests and serialization.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Files returns a copy of the embedded-file metadata recorded for turn i.
func (c *Conversation) Files(i int) map[string]string {
	if i < 0 || i >= len(c.meta) {
		return nil
	}
	out := make(map[string]string, len(c.meta[i].Files))
	for name, content := range c.meta[i].Files {
		out[name] = content
	}
	return out
}

// SetSystem replaces the system turn in place, inserting it at the head when
// the conversation has none. There is never more than one system turn.
func (c *Conversation) SetSystem(content string) {
	if len(c.messages) > 0 && c.messages[0].Role == RoleSystem {
		c.messages[0].Content = content
		c.touch()
		return
	}
	c.messages = append([]Message{{Role: RoleSystem, Content: content}}, c.messages...)
	c.meta = append([]TurnMeta{{}}, c.meta...)
	c.touch()
}

// Append adds a turn that embeds no file content.
func (c *Conversation) Append(msg Message) {
	c.AppendWithFiles(msg, nil)
}

// AppendWithFiles adds a turn and records the files whose full content the
// turn's text carries.
func (c *Conversation) AppendWithFiles(msg Message, files map[string]string) {
	entry := TurnMeta{}
	if len(files) > 0 {
		entry.Files = make(map[string]string, len(files))
		for name, content := range files {
			entry.Files[name] = content
		}
	}
	c.messages = append(c.messages, msg)
	c.meta = append(c.meta, entry)
	c.touch()
}

// FoldPlaceholder is the text that replaces a folded file embedding.
func FoldPlaceholder(filename string) string {
	return fmt.Sprintf("[file content folded: %s]", filename)
}

// Fold collapses every embedding of filename except the most recent one.
// Each older hit has the first occurrence of its recorded content replaced by
// the placeholder, and its metadata entry dropped so later passes skip it.
// It returns the number of turns whose text changed.
func (c *Conversation) Fold(filename string) int {
	var hits []int
	for i, m := range c.meta {
		if _, ok := m.Files[filename]; ok {
			hits = append(hits, i)
		}
	}
	if len(hits) <= 1 {
		return 0
	}

	placeholder := FoldPlaceholder(filename)
	collapsed := 0
	for _, i := range hits[:len(hits)-1] {
		content := c.meta[i].Files[filename]
		original := c.messages[i].Content
		if content != "" && original != "" {
			updated := strings.Replace(original, content, placeholder, 1)
			if updated != original {
				c.messages[i].Content = updated
				collapsed++
			}
		}
		delete(c.meta[i].Files, filename)
	}
	if collapsed > 0 {
		c.touch()
	}
	return collapsed
}

// CharCount approximates the serialized size of the history.
func (c *Conversation) CharCount() int {
	data, err := json.Marshal(c.messages)
	if err != nil {
		total := 0
		for _, msg := range c.messages {
			total += len(msg.Content)
			for _, call := range msg.ToolCalls {
				total += len(call.Function.Arguments)
			}
		}
		return total
	}
	return len(data)
}

// CreatedAt returns when the conversation was first created.
func (c *Conversation) CreatedAt() time.Time {
	return c.createdAt
}

// UpdatedAt returns when the conversation last changed.
func (c *Conversation) UpdatedAt() time.Time {
	return c.updatedAt
}

func (c *Conversation) touch() {
	now := time.Now()
	if c.createdAt.IsZero() {
		c.createdAt = now
	}
	c.updatedAt = now
}
