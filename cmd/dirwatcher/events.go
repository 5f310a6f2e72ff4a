package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dirwatcher/dirwatcher/internal/journal"
	"github.com/dirwatcher/dirwatcher/internal/storage"
	"github.com/dirwatcher/dirwatcher/internal/watcher"
)

const defaultEventsLimit = 20

func newEventsCommand() *cobra.Command {
	var (
		path  string
		dsn   string
		query storage.EventQuery
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent events from a journal or the PostgreSQL event store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case path == "" && dsn == "":
				return fmt.Errorf("one of --journal or --postgres-dsn is required")
			case path != "" && dsn != "":
				return fmt.Errorf("--journal and --postgres-dsn are mutually exclusive")
			case query.Limit <= 0:
				return fmt.Errorf("--limit must be positive, got %d", query.Limit)
			}
			if path != "" {
				return printEvents(cmd.Context(), cmd.OutOrStdout(), path, query.Limit)
			}

			store, err := storage.New(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer store.Close()
			return printStoredEvents(cmd.Context(), cmd.OutOrStdout(), store, query)
		},
	}
	cmd.Flags().StringVar(&path, "journal", "", "SQLite event journal path")
	cmd.Flags().StringVar(&dsn, "postgres-dsn", "", "PostgreSQL event store connection string")
	cmd.Flags().StringVar(&query.Directory, "directory", "", "only events from this directory (event store only)")
	cmd.Flags().StringVar(&query.File, "file", "", "only events for this file name (event store only)")
	cmd.Flags().StringVar(&query.Kind, "kind", "", "only events of this kind: created, deleted, match, truncated (event store only)")
	cmd.Flags().IntVarP(&query.Limit, "limit", "n", defaultEventsLimit, "maximum number of events to show")
	return cmd
}

// eventQuerier is the read side of the event store.
type eventQuerier interface {
	QueryEvents(ctx context.Context, q storage.EventQuery) ([]watcher.Event, error)
}

func printStoredEvents(ctx context.Context, out io.Writer, store eventQuerier, q storage.EventQuery) error {
	if q.Kind != "" {
		if _, err := watcher.ParseEventKind(q.Kind); err != nil {
			return err
		}
	}
	events, err := store.QueryEvents(ctx, q)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "no events recorded")
		return nil
	}

	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			e.Timestamp.Local().Format(time.DateTime),
			e.Kind.String(),
			e.Directory,
			e.File,
			lineColumn(e),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Time", "Kind", "Directory", "File", "Line"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
	return nil
}

func lineColumn(e watcher.Event) string {
	if e.Kind != watcher.EventMatch {
		return ""
	}
	return strconv.Itoa(e.Line)
}

func printEvents(ctx context.Context, out io.Writer, path string, limit int) error {
	// Open would create an empty journal; a typo should fail instead.
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("journal %s: %w", path, err)
	}

	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "no events recorded")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		forwarded := "no"
		if e.Forwarded {
			forwarded = "yes"
		}
		rows = append(rows, []string{
			strconv.FormatInt(e.Seq, 10),
			e.Event.Timestamp.Local().Format(time.DateTime),
			e.Event.Kind.String(),
			e.Event.File,
			lineColumn(e.Event),
			forwarded,
		})
	}

	fmt.Fprintln(out, renderTable(
		[]string{"Seq", "Time", "Kind", "File", "Line", "Forwarded"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	return nil
}
