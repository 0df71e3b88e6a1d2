// Package journal records runs, dispatched actions, and folding events in a
// local SQLite database so past sessions can be inspected from the CLI.
package journal

import (
	"context"
	"time"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusStalled  = "stalled"
	StatusFailed   = "failed"
)

// Run is one agent run.
type Run struct {
	ID         string
	Request    string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Actions    int
}

// Action is one dispatched request and its normalized result.
type Action struct {
	RunID      string
	Seq        int
	CallID     string
	Kind       string
	Args       map[string]any
	Result     string
	Error      string
	Terminal   bool
	Touched    []string
	DurationMs int64
	CreatedAt  time.Time
}

// Compaction is one fold of a file's older copies.
type Compaction struct {
	RunID       string
	Filename    string
	Collapsed   int
	CharsBefore int
	CharsAfter  int
	CreatedAt   time.Time
}

// Journal is the write side used by the agent loop.
type Journal interface {
	BeginRun(ctx context.Context, request string) (string, error)
	RecordAction(ctx context.Context, a Action) error
	RecordCompaction(ctx context.Context, c Compaction) error
	FinishRun(ctx context.Context, runID, status string) error
	Close() error
}

// Nop discards everything. Used when the journal is disabled.
type Nop struct{}

func (Nop) BeginRun(context.Context, string) (string, error)   { return "", nil }
func (Nop) RecordAction(context.Context, Action) error         { return nil }
func (Nop) RecordCompaction(context.Context, Compaction) error { return nil }
func (Nop) FinishRun(context.Context, string, string) error    { return nil }
func (Nop) Close() error                                       { return nil }
