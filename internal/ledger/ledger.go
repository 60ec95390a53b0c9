// Package ledger keeps a SQLite audit log of successful submissions. It is a
// history surface only; idempotence is enforced by the tracker-side
// fingerprint search, never by this store.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS submissions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	fingerprint TEXT NOT NULL,
	ticket_key  TEXT NOT NULL,
	summary     TEXT NOT NULL DEFAULT '',
	labels      TEXT NOT NULL DEFAULT '[]',
	source_file TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_submissions_fingerprint ON submissions(fingerprint);
CREATE INDEX IF NOT EXISTS idx_submissions_created_at ON submissions(created_at);
`

// Entry is one recorded submission.
type Entry struct {
	ID          int64     `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	TicketKey   string    `json:"ticket_key"`
	Summary     string    `json:"summary"`
	Labels      []string  `json:"labels"`
	SourceFile  string    `json:"source_file"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store wraps a sql.DB with submission-log operations.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Record appends one submission to the log.
func (s *Store) Record(e Entry) error {
	labelsJSON, _ := json.Marshal(nonNil(e.Labels))
	_, err := s.conn.Exec(`
		INSERT INTO submissions (fingerprint, ticket_key, summary, labels, source_file, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Fingerprint, e.TicketKey, e.Summary, string(labelsJSON), e.SourceFile, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger: record: %w", err)
	}
	return nil
}

// Recent returns the most recent submissions, newest first. A non-positive
// limit defaults to 50.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(`
		SELECT id, fingerprint, ticket_key, summary, labels, source_file, created_at
		FROM submissions
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var labelsJSON string
		if err := rows.Scan(&e.ID, &e.Fingerprint, &e.TicketKey, &e.Summary,
			&labelsJSON, &e.SourceFile, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(labelsJSON), &e.Labels); err != nil {
			e.Labels = []string{}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Total returns the number of submissions ever recorded.
func (s *Store) Total() (int, error) {
	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM submissions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: total: %w", err)
	}
	return n, nil
}

func nonNil(labels []string) []string {
	if labels == nil {
		return []string{}
	}
	return labels
}
