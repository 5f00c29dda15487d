// Package storage persists the agent's call history in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clearline/agentvoice/internal/call"
)

// DB wraps the console's SQLite database.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database in the given directory.
func Open(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "calls.db")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for better concurrency between the recorder and readers.
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			call_id       TEXT NOT NULL,
			direction     TEXT NOT NULL,
			remote_ext    TEXT NOT NULL,
			remote_name   TEXT NOT NULL,
			reason        TEXT NOT NULL,
			started_at    INTEGER NOT NULL,
			answered_at   INTEGER,
			ended_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_calls_started ON calls(started_at DESC);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Record implements call.HistorySink. Persistence failures are logged, not
// propagated — history must never break a teardown path.
func (d *DB) Record(rec call.Record) {
	var answered any
	if rec.AnsweredAt != nil {
		answered = rec.AnsweredAt.UnixMilli()
	}
	_, err := d.db.Exec(`
		INSERT INTO calls (call_id, direction, remote_ext, remote_name, reason, started_at, answered_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, string(rec.Direction), rec.RemoteExtension, rec.RemoteDisplayName,
		rec.Reason, rec.StartedAt.UnixMilli(), answered, rec.EndedAt.UnixMilli(),
	)
	if err != nil {
		log.Printf("STORAGE: record call failed: %v", err)
	}
}

// RecentCalls returns up to limit finished calls, newest first.
func (d *DB) RecentCalls(limit int) ([]call.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(`
		SELECT call_id, direction, remote_ext, remote_name, reason, started_at, answered_at, ended_at
		FROM calls ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var out []call.Record
	for rows.Next() {
		var rec call.Record
		var dir string
		var started, ended int64
		var answered sql.NullInt64
		if err := rows.Scan(&rec.CallID, &dir, &rec.RemoteExtension, &rec.RemoteDisplayName,
			&rec.Reason, &started, &answered, &ended); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		rec.Direction = call.Direction(dir)
		rec.StartedAt = time.UnixMilli(started)
		rec.EndedAt = time.UnixMilli(ended)
		if answered.Valid {
			t := time.UnixMilli(answered.Int64)
			rec.AnsweredAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
