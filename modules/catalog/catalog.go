// Package catalog indexes finished recordings in a SQLite database.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// schema.sql creates the recordings table; it is idempotent.
//
//go:embed schema.sql
var schemaSQL string

// Mode is the recording mode an entry was produced by
type Mode string

const (
	// ModeVideo is a single fragmented MP4 file
	ModeVideo Mode = "video"
	// ModeFrameDump is a directory of image pairs and sidecars
	ModeFrameDump Mode = "frame-dump"
)

// ErrNotFound is returned by Get for an unknown id
var ErrNotFound = errors.New("catalog: recording not found")

// Recording is one catalog entry
type Recording struct {
	ID         string
	Mode       Mode
	Path       string
	Frames     int
	Dropped    uint64
	Duration   time.Duration
	StartedAt  time.Time
	FinishedAt time.Time
	// Error is the finalization error, empty on success
	Error string
}

// Catalog is the recordings index
type Catalog struct {
	db *sql.DB
}

// Open opens (or creates) the catalog at path. Use ":memory:" for a
// throwaway catalog.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	// One connection: an in-memory database is per connection, and SQLite
	// serializes writers anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}

	slog.Debug("catalog: opened", "path", path)
	return &Catalog{db: db}, nil
}

// Close closes the database
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Add inserts a recording. An empty ID is filled with a new UUID, which is
// returned.
func (c *Catalog) Add(ctx context.Context, r Recording) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Mode != ModeVideo && r.Mode != ModeFrameDump {
		return "", fmt.Errorf("catalog: unknown mode %q", r.Mode)
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}

	const stmt = `INSERT INTO recordings
		(id, mode, path, frames, dropped, duration_ns, started_at_ns, finished_at_ns, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := c.db.ExecContext(ctx, stmt,
		r.ID, string(r.Mode), r.Path, r.Frames, int64(r.Dropped), int64(r.Duration),
		r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(), r.Error,
	)
	if err != nil {
		return "", fmt.Errorf("catalog: add %s: %w", r.ID, err)
	}

	slog.Info("catalog: recording added",
		"id", r.ID,
		"mode", r.Mode,
		"path", r.Path,
		"frames", r.Frames,
	)
	return r.ID, nil
}

// Get returns one recording
func (c *Catalog) Get(ctx context.Context, id string) (Recording, error) {
	row := c.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	r, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, ErrNotFound
	}
	if err != nil {
		return Recording{}, fmt.Errorf("catalog: get %s: %w", id, err)
	}
	return r, nil
}

// List returns recordings, most recent first. limit <= 0 returns all.
func (c *Catalog) List(ctx context.Context, limit int) ([]Recording, error) {
	query := selectColumns + ` ORDER BY started_at_ns DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: list: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	return out, nil
}

// Delete removes a recording entry (the file itself is left alone)
func (c *Catalog) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("catalog: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: delete %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `SELECT id, mode, path, frames, dropped, duration_ns, started_at_ns, finished_at_ns, error FROM recordings`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecording(s scanner) (Recording, error) {
	var (
		r                   Recording
		mode                string
		dropped, durationNS int64
		startedNS, finishNS int64
	)
	if err := s.Scan(&r.ID, &mode, &r.Path, &r.Frames, &dropped, &durationNS, &startedNS, &finishNS, &r.Error); err != nil {
		return Recording{}, err
	}
	r.Mode = Mode(mode)
	r.Dropped = uint64(dropped)
	r.Duration = time.Duration(durationNS)
	r.StartedAt = time.Unix(0, startedNS)
	r.FinishedAt = time.Unix(0, finishNS)
	return r, nil
}
