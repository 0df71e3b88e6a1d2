package contextprofile

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"momoka/internal/state"
)

// Prepared encapsulates the conversation snapshot returned by a profile before an LLM call.
type Prepared struct {
	Messages []state.Message
	Folded   int
}

// Profile shapes the history sent to the model. touched lists the files the
// previous iteration embedded or modified.
type Profile interface {
	Prepare(ctx context.Context, conv *state.Conversation, touched []string) (Prepared, error)
}

// CompactionEvent records one fold.
type CompactionEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Filename    string    `json:"filename"`
	Collapsed   int       `json:"collapsed"`
	CharsBefore int       `json:"chars_before"`
	CharsAfter  int       `json:"chars_after"`
	DurationMs  int64     `json:"duration_ms"`
}

// Dependencies bundles the resources profiles may require.
type Dependencies struct {
	Logger       *log.Logger
	OnCompaction func(CompactionEvent)
}

// New selects the requested profile by name.
func New(name string, deps Dependencies) (Profile, error) {
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	switch strings.ToLower(name) {
	case "", "fold":
		return &foldProfile{logger: deps.Logger, onCompaction: deps.OnCompaction}, nil
	case "none", "off":
		return noopProfile{}, nil
	default:
		return nil, fmt.Errorf("unknown context profile %s", name)
	}
}

// foldProfile collapses older embeddings of every touched file so the
// history holds at most one full copy per file.
type foldProfile struct {
	logger       *log.Logger
	onCompaction func(CompactionEvent)
}

func (p *foldProfile) Prepare(ctx context.Context, conv *state.Conversation, touched []string) (Prepared, error) {
	seen := make(map[string]struct{}, len(touched))
	total := 0
	for _, filename := range touched {
		if err := ctx.Err(); err != nil {
			return Prepared{}, err
		}
		if _, dup := seen[filename]; dup {
			continue
		}
		seen[filename] = struct{}{}

		start := time.Now()
		before := conv.CharCount()
		n := conv.Fold(filename)
		if n == 0 {
			continue
		}
		total += n
		ev := CompactionEvent{
			Timestamp:   start,
			Filename:    filename,
			Collapsed:   n,
			CharsBefore: before,
			CharsAfter:  conv.CharCount(),
			DurationMs:  time.Since(start).Milliseconds(),
		}
		p.logger.Printf("fold: %s (%d older copies, %d -> %d chars)", filename, n, ev.CharsBefore, ev.CharsAfter)
		if p.onCompaction != nil {
			p.onCompaction(ev)
		}
	}
	return Prepared{Messages: conv.Messages(), Folded: total}, nil
}

type noopProfile struct{}

func (noopProfile) Prepare(_ context.Context, conv *state.Conversation, _ []string) (Prepared, error) {
	return Prepared{Messages: conv.Messages()}, nil
}
