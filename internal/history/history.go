// Package history persists the input lines typed at the mash prompt, so
// commands survive across runs.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// DefaultLimit caps how many lines Recent loads for prompt recall.
const DefaultLimit = 1000

// DB wraps the SQLite history database. Safe for use from one process;
// WAL mode and a busy timeout keep concurrent mash runs from tripping
// over each other.
type DB struct {
	db *sql.DB
}

// Entry is one recorded input line.
type Entry struct {
	ID   int64
	Line string
	At   time.Time
}

// Open creates or opens the history database at dbPath.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("history: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: wal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: busy timeout: %w", err)
	}

	h := &DB{db: db}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

// Close closes the database.
func (h *DB) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

func (h *DB) migrate() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			line TEXT NOT NULL,
			typed_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_typed_at ON history(typed_at);
	`)
	if err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	_, err = h.db.Exec(
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		fmt.Sprintf("%d", SchemaVersion))
	if err != nil {
		return fmt.Errorf("history: schema version: %w", err)
	}
	return nil
}

// Append records one typed line. Blank lines and immediate duplicates of
// the most recent entry are skipped, like shell history.
func (h *DB) Append(line string) error {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil
	}

	var last string
	err := h.db.QueryRow(`SELECT line FROM history ORDER BY id DESC LIMIT 1`).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("history: last entry: %w", err)
	}
	if last == line {
		return nil
	}

	_, err = h.db.Exec(`INSERT INTO history (line, typed_at) VALUES (?, ?)`,
		line, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, oldest first. limit <= 0 uses
// DefaultLimit.
func (h *DB) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := h.db.Query(`
		SELECT id, line, typed_at FROM history
		ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.ID, &e.Line, &at); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.At = time.Unix(at, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Prune keeps only the newest keep entries.
func (h *DB) Prune(keep int) error {
	if keep <= 0 {
		keep = DefaultLimit
	}
	_, err := h.db.Exec(`
		DELETE FROM history WHERE id NOT IN (
			SELECT id FROM history ORDER BY id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("history: prune: %w", err)
	}
	return nil
}
