package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal", "momoka.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	runID, err := store.BeginRun(ctx, "count the files")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	actions := []Action{
		{RunID: runID, Seq: 1, CallID: "c1", Kind: "read_file", Args: map[string]any{"path": "a.txt"}, Result: "Opened file", Touched: []string{"/w/a.txt"}, DurationMs: 3},
		{RunID: runID, Seq: 2, CallID: "c2", Kind: "patch_file", Args: map[string]any{"path": "a.txt"}, Result: "replace failed", Error: "text_not_found"},
		{RunID: runID, Seq: 3, CallID: "c3", Kind: "finish", Terminal: true, Result: "FINISH"},
	}
	for _, a := range actions {
		if err := store.RecordAction(ctx, a); err != nil {
			t.Fatalf("record %d: %v", a.Seq, err)
		}
	}
	if err := store.RecordCompaction(ctx, Compaction{RunID: runID, Filename: "/w/a.txt", Collapsed: 1, CharsBefore: 100, CharsAfter: 40}); err != nil {
		t.Fatalf("compaction: %v", err)
	}
	if err := store.FinishRun(ctx, runID, StatusFinished); err != nil {
		t.Fatalf("finish: %v", err)
	}

	runs, err := store.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != StatusFinished || runs[0].Actions != 3 || runs[0].FinishedAt.IsZero() {
		t.Fatalf("unexpected runs %+v", runs)
	}

	got, err := store.RunActions(ctx, runID[:8])
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(got))
	}
	if got[0].Args["path"] != "a.txt" || len(got[0].Touched) != 1 {
		t.Fatalf("unexpected first action %+v", got[0])
	}
	if got[1].Error != "text_not_found" || !got[2].Terminal {
		t.Fatalf("unexpected actions %+v", got)
	}

	events, err := store.Compactions(ctx, runID)
	if err != nil {
		t.Fatalf("compactions: %v", err)
	}
	if len(events) != 1 || events[0].Collapsed != 1 || events[0].Filename != "/w/a.txt" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestUnknownRun(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	if err := store.FinishRun(ctx, "missing", StatusFailed); !errors.Is(err, ErrUnknownRun) {
		t.Fatalf("finish: expected ErrUnknownRun, got %v", err)
	}
	if _, err := store.RunActions(ctx, "missing"); !errors.Is(err, ErrUnknownRun) {
		t.Fatalf("actions: expected ErrUnknownRun, got %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "momoka.db")
	store, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.BeginRun(ctx, "first"); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	runs, err := reopened.RecentRuns(ctx, 5)
	if err != nil || len(runs) != 1 || runs[0].Request != "first" {
		t.Fatalf("runs = %+v, %v", runs, err)
	}
}

func TestCorruptFileIsRecreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "momoka.db")
	if err := os.WriteFile(path, []byte("this is not a database file at all, just text"), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open corrupt: %v", err)
	}
	defer store.Close()
	if _, err := store.BeginRun(context.Background(), "after recovery"); err != nil {
		t.Fatalf("journal unusable after recovery: %v", err)
	}
}
