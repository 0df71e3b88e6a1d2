package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrUnknownRun is returned when a run id has no row.
var ErrUnknownRun = errors.New("unknown run")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	request TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS actions (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	call_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	args TEXT NOT NULL,
	result TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	terminal INTEGER NOT NULL DEFAULT 0,
	touched TEXT NOT NULL DEFAULT '[]',
	duration_ms INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE TABLE IF NOT EXISTS compaction_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	collapsed INTEGER NOT NULL,
	chars_before INTEGER NOT NULL,
	chars_after INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Store is the SQLite-backed Journal.
type Store struct {
	db     *sql.DB
	path   string
	logger *log.Logger
}

func dsn(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_pragma=journal_mode(WAL)", path)
}

// Open creates or opens the journal database at path.
func Open(path string, logger *log.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("journal path must be set")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db, err = recoverIfCorrupt(db, path, logger)
	if err != nil {
		return nil, fmt.Errorf("journal recovery failed: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Store{db: db, path: path, logger: logger}, nil
}

// recoverIfCorrupt recreates the database when the file exists but cannot be
// queried. A WAL checkpoint is tried first.
func recoverIfCorrupt(db *sql.DB, path string, logger *log.Logger) (*sql.DB, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return db, nil
		}
		db.Close()
		return nil, err
	}
	if info.Size() == 0 {
		// An empty file is a valid empty database.
		return db, nil
	}
	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master`).Scan(&n)
	if err == nil {
		return db, nil
	}
	logger.Printf("journal: schema check failed (%v), attempting recovery", err)
	if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err == nil {
		if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master`).Scan(&n); err == nil {
			logger.Printf("journal: recovered from WAL checkpoint")
			return db, nil
		}
	}

	logger.Printf("journal: recreating %s", path)
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("close corrupted journal: %w", err)
	}
	os.Remove(path)
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")
	return sql.Open("sqlite", dsn(path))
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) BeginRun(ctx context.Context, request string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (id, request, status, started_at) VALUES (?, ?, ?, ?)`,
		id, request, StatusRunning, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

func (s *Store) RecordAction(ctx context.Context, a Action) error {
	args, err := json.Marshal(a.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	touched := a.Touched
	if touched == nil {
		touched = []string{}
	}
	touchedJSON, err := json.Marshal(touched)
	if err != nil {
		return fmt.Errorf("encode touched: %w", err)
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO actions (run_id, seq, call_id, kind, args, result, error, terminal, touched, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Seq, a.CallID, a.Kind, string(args), a.Result, a.Error, boolToInt(a.Terminal), string(touchedJSON), a.DurationMs, created)
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	return nil
}

func (s *Store) RecordCompaction(ctx context.Context, c Compaction) error {
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO compaction_events (run_id, filename, collapsed, chars_before, chars_after, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		c.RunID, c.Filename, c.Collapsed, c.CharsBefore, c.CharsAfter, created)
	if err != nil {
		return fmt.Errorf("record compaction: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, runID, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status=?, finished_at=? WHERE id=?`, status, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return nil
}

// RecentRuns lists the newest runs first with their action counts.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT r.id, r.request, r.status, r.started_at, r.finished_at,
	(SELECT COUNT(*) FROM actions a WHERE a.run_id = r.id)
FROM runs r
ORDER BY r.started_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.Request, &run.Status, &run.StartedAt, &finished, &run.Actions); err != nil {
			return nil, err
		}
		if finished.Valid {
			run.FinishedAt = finished.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunActions returns the actions of runID in dispatch order. A prefix of the
// id is accepted when it is unambiguous.
func (s *Store) RunActions(ctx context.Context, runID string) ([]Action, error) {
	id, err := s.resolveRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, seq, call_id, kind, args, result, error, terminal, touched, duration_ms, created_at
FROM actions
WHERE run_id = ?
ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var a Action
		var args, touched string
		var terminal int
		if err := rows.Scan(&a.RunID, &a.Seq, &a.CallID, &a.Kind, &args, &a.Result, &a.Error, &terminal, &touched, &a.DurationMs, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Terminal = terminal == 1
		if err := json.Unmarshal([]byte(args), &a.Args); err != nil {
			return nil, fmt.Errorf("decode args of %s/%d: %w", a.RunID, a.Seq, err)
		}
		if err := json.Unmarshal([]byte(touched), &a.Touched); err != nil {
			return nil, fmt.Errorf("decode touched of %s/%d: %w", a.RunID, a.Seq, err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Compactions returns the fold events of runID, oldest first.
func (s *Store) Compactions(ctx context.Context, runID string) ([]Compaction, error) {
	id, err := s.resolveRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, filename, collapsed, chars_before, chars_after, created_at
FROM compaction_events
WHERE run_id = ?
ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Compaction
	for rows.Next() {
		var c Compaction
		if err := rows.Scan(&c.RunID, &c.Filename, &c.Collapsed, &c.CharsBefore, &c.CharsAfter, &c.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, c)
	}
	return events, rows.Err()
}

func (s *Store) resolveRun(ctx context.Context, prefix string) (string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs WHERE id LIKE ? || '%' LIMIT 2`, prefix)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrUnknownRun, prefix)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("run prefix %q is ambiguous", prefix)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Journal = (*Store)(nil)
var _ Journal = Nop{}
