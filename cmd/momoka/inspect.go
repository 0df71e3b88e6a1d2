package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"momoka/internal/journal"
	"momoka/internal/state"
)

const previewLen = 120

func printSessionList(w io.Writer, summaries []state.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No stored conversations yet.")
		return
	}
	fmt.Fprintf(w, "Stored conversations (%d):\n", len(summaries))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, s := range summaries {
		fmt.Fprintf(tw, "  %d)\t%s\t%d messages\tupdated %s\n", i+1, s.Key, s.MessageCount, s.UpdatedAt.Format(time.DateTime))
	}
	tw.Flush()
}

func printRuns(ctx context.Context, w io.Writer, store *journal.Store, limit int) error {
	runs, err := store.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tACTIONS\tREQUEST")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", shortID(r.ID), r.StartedAt.Local().Format(time.DateTime), r.Status, r.Actions, preview(r.Request, 60))
	}
	return tw.Flush()
}

func printRun(ctx context.Context, w io.Writer, store *journal.Store, id string) error {
	actions, err := store.RunActions(ctx, id)
	if err != nil {
		return err
	}
	for _, a := range actions {
		status := "ok"
		if a.Error != "" {
			status = a.Error
		}
		if a.Terminal {
			status += ", terminal"
		}
		fmt.Fprintf(w, "#%d %s (%s, %dms)\n", a.Seq, a.Kind, status, a.DurationMs)
		if len(a.Args) > 0 {
			fmt.Fprintf(w, "    args: %v\n", a.Args)
		}
		if len(a.Touched) > 0 {
			fmt.Fprintf(w, "    touched: %s\n", strings.Join(a.Touched, ", "))
		}
		fmt.Fprintf(w, "    %s\n", preview(a.Result, previewLen))
	}
	folds, err := store.Compactions(ctx, id)
	if err != nil {
		return err
	}
	for _, c := range folds {
		fmt.Fprintf(w, "fold %s: %d older copies (%d -> %d chars)\n", c.Filename, c.Collapsed, c.CharsBefore, c.CharsAfter)
	}
	if len(actions) == 0 && len(folds) == 0 {
		fmt.Fprintln(w, "No actions recorded for this run.")
	}
	return nil
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
