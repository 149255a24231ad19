// Package store persists the event log and recording index in SQLite
// (spec.md §6): the "events" table records every loop state transition, the
// "recordings" table indexes completed and in-progress recordings.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrOffsetUnsupported is returned by the paginated query methods when
// offset is non-zero. spec.md §9 Open Question (c): the original silently
// drops OFFSET, which means a requested page silently becomes the first
// page instead. This store rejects the request outright rather than
// returning the wrong page.
var ErrOffsetUnsupported = errors.New("store: non-zero offset is not supported")

// ErrTooManyResults is the paging overflow sentinel (spec.md §6): more rows
// matched the query than the caller's requested page size.
var ErrTooManyResults = errors.New("store: too many results")

// timeLayout matches spec.md §6: "YYYY-MM-DD HH:MM:SS" in UTC, which compares
// lexicographically in timestamp order.
const timeLayout = "2006-01-02 15:04:05"

// Store persists events and recordings in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS events (
	usr     VARCHAR NOT NULL,
	role    VARCHAR NOT NULL,
	loop    VARCHAR NOT NULL,
	evstate VARCHAR NOT NULL,
	evtime  VARCHAR NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_evtime ON events(evtime);
CREATE INDEX IF NOT EXISTS idx_events_loop ON events(loop, evtime);
CREATE INDEX IF NOT EXISTS idx_events_usr ON events(usr, evtime);

CREATE TABLE IF NOT EXISTS recordings (
	id        CHAR(36) PRIMARY KEY,
	uri       VARCHAR NOT NULL,
	loop      VARCHAR NOT NULL,
	starttime VARCHAR NOT NULL,
	endtime   VARCHAR
);
CREATE INDEX IF NOT EXISTS idx_recordings_loop ON recordings(loop, starttime);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}

	slog.Debug("sqlite migrations applied")
	return nil
}

// Event is one row of the events table: a loop participation state
// transition attributed to a user acting under a role.
type Event struct {
	User  string
	Role  string
	Loop  string
	State string
	Time  time.Time
}

// RecordEvent appends one event row. A zero Time is stamped with the
// current UTC time.
func (s *Store) RecordEvent(ctx context.Context, e Event) error {
	t := e.Time
	if t.IsZero() {
		t = time.Now()
	}
	const q = `INSERT INTO events (usr, role, loop, evstate, evtime) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, e.User, e.Role, e.Loop, e.State, t.UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	slog.Debug("event recorded", "user", e.User, "loop", e.Loop, "state", e.State)
	return nil
}

// EventQuery filters QueryEvents. Zero-value fields place no constraint on
// that column. MaxResults defaults to 100 when <= 0. Offset must be zero
// (see ErrOffsetUnsupported).
type EventQuery struct {
	User       string
	Role       string
	Loop       string
	From       time.Time
	Until      time.Time
	MaxResults int
	Offset     int
}

// QueryEvents returns events matching q, oldest first. Returns
// ErrTooManyResults if more than MaxResults rows match.
func (s *Store) QueryEvents(ctx context.Context, q EventQuery) ([]Event, error) {
	if q.Offset != 0 {
		return nil, ErrOffsetUnsupported
	}
	max := q.MaxResults
	if max <= 0 {
		max = 100
	}

	where, args := []string{}, []any{}
	if q.User != "" {
		where = append(where, "usr = ?")
		args = append(args, q.User)
	}
	if q.Role != "" {
		where = append(where, "role = ?")
		args = append(args, q.Role)
	}
	if q.Loop != "" {
		where = append(where, "loop = ?")
		args = append(args, q.Loop)
	}
	if !q.From.IsZero() {
		where = append(where, "evtime >= ?")
		args = append(args, q.From.UTC().Format(timeLayout))
	}
	if !q.Until.IsZero() {
		where = append(where, "evtime <= ?")
		args = append(args, q.Until.UTC().Format(timeLayout))
	}

	sqlText := "SELECT usr, role, loop, evstate, evtime FROM events"
	if len(where) > 0 {
		sqlText += " WHERE " + strings.Join(where, " AND ")
	}
	sqlText += " ORDER BY evtime ASC LIMIT ?"
	args = append(args, max+1)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var evtime string
		if err := rows.Scan(&e.User, &e.Role, &e.Loop, &e.State, &evtime); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Time, err = time.ParseInLocation(timeLayout, evtime, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) > max {
		return nil, ErrTooManyResults
	}
	return out, nil
}

// Recording is one row of the recordings table.
type Recording struct {
	ID        string
	URI       string
	Loop      string
	StartTime time.Time
	EndTime   time.Time // zero means still recording
}

// StartRecording inserts a new in-progress recording row.
func (s *Store) StartRecording(ctx context.Context, id, uri, loopName string, start time.Time) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("recording id is required")
	}
	if start.IsZero() {
		start = time.Now()
	}
	const q = `INSERT INTO recordings (id, uri, loop, starttime, endtime) VALUES (?, ?, ?, ?, NULL)`
	if _, err := s.db.ExecContext(ctx, q, id, uri, loopName, start.UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	slog.Info("recording started", "recording_id", id, "loop", loopName)
	return nil
}

// StopRecording stamps a recording's end time.
func (s *Store) StopRecording(ctx context.Context, id string, end time.Time) error {
	if end.IsZero() {
		end = time.Now()
	}
	const q = `UPDATE recordings SET endtime = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, end.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recording %s not found", id)
	}
	slog.Info("recording stopped", "recording_id", id)
	return nil
}

// RecordingByID returns one recording row by id.
func (s *Store) RecordingByID(ctx context.Context, id string) (Recording, error) {
	const q = `SELECT id, uri, loop, starttime, endtime FROM recordings WHERE id = ?`
	return s.scanRecording(s.db.QueryRowContext(ctx, q, id))
}

// GetRecording implements controller.RecordingStore.
func (s *Store) GetRecording(id string) (string, error) {
	rec, err := s.RecordingByID(context.Background(), id)
	if err != nil {
		return "", err
	}
	return rec.URI, nil
}

func (s *Store) scanRecording(row *sql.Row) (Recording, error) {
	var (
		rec      Recording
		start    string
		end      sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.URI, &rec.Loop, &start, &end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recording{}, fmt.Errorf("recording not found")
		}
		return Recording{}, fmt.Errorf("query recording: %w", err)
	}
	var err error
	rec.StartTime, err = time.ParseInLocation(timeLayout, start, time.UTC)
	if err != nil {
		return Recording{}, fmt.Errorf("parse start time: %w", err)
	}
	if end.Valid {
		rec.EndTime, err = time.ParseInLocation(timeLayout, end.String, time.UTC)
		if err != nil {
			return Recording{}, fmt.Errorf("parse end time: %w", err)
		}
	}
	return rec, nil
}

// RecordingQuery filters QueryRecordings. Offset must be zero.
type RecordingQuery struct {
	Loop       string
	From       time.Time
	Until      time.Time
	MaxResults int
	Offset     int
}

// QueryRecordings returns recordings matching q, oldest first. Returns
// ErrTooManyResults if more than MaxResults rows match.
func (s *Store) QueryRecordings(ctx context.Context, q RecordingQuery) ([]Recording, error) {
	if q.Offset != 0 {
		return nil, ErrOffsetUnsupported
	}
	max := q.MaxResults
	if max <= 0 {
		max = 100
	}

	where, args := []string{}, []any{}
	if q.Loop != "" {
		where = append(where, "loop = ?")
		args = append(args, q.Loop)
	}
	if !q.From.IsZero() {
		where = append(where, "starttime >= ?")
		args = append(args, q.From.UTC().Format(timeLayout))
	}
	if !q.Until.IsZero() {
		where = append(where, "starttime <= ?")
		args = append(args, q.Until.UTC().Format(timeLayout))
	}

	sqlText := "SELECT id, uri, loop, starttime, endtime FROM recordings"
	if len(where) > 0 {
		sqlText += " WHERE " + strings.Join(where, " AND ")
	}
	sqlText += " ORDER BY starttime ASC LIMIT ?"
	args = append(args, max+1)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var (
			rec   Recording
			start string
			end   sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.URI, &rec.Loop, &start, &end); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		rec.StartTime, err = time.ParseInLocation(timeLayout, start, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse start time: %w", err)
		}
		if end.Valid {
			rec.EndTime, err = time.ParseInLocation(timeLayout, end.String, time.UTC)
			if err != nil {
				return nil, fmt.Errorf("parse end time: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) > max {
		return nil, ErrTooManyResults
	}
	return out, nil
}
