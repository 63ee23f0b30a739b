// Package audit stores rejected submissions in SQLite.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"coderunner/model"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS security_violations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	client_ip    TEXT NOT NULL,
	language     TEXT NOT NULL,
	issues       TEXT NOT NULL,
	code_snippet TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_security_violations_created_at ON security_violations(created_at);
`

// Store is a SQLite-backed security violation log.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the database at path. ":memory:" gives a
// throwaway store.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: opening database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: pinging database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: running migrations: %w", err)
	}
	return &Store{conn: conn}, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// Record inserts v. A zero CreatedAt is set to now.
func (s *Store) Record(ctx context.Context, v model.SecurityViolation) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	issues, err := json.Marshal(v.Issues)
	if err != nil {
		return fmt.Errorf("audit: encoding issues: %w", err)
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO security_violations (client_ip, language, issues, code_snippet, created_at) VALUES (?, ?, ?, ?, ?)`,
		v.ClientIP, v.Language, string(issues), v.CodeSnippet, v.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("audit: recording violation: %w", err)
	}
	return nil
}

// Recent returns up to limit violations, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.SecurityViolation, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, client_ip, language, issues, code_snippet, created_at
		 FROM security_violations ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: listing violations: %w", err)
	}
	defer rows.Close()

	out := []model.SecurityViolation{}
	for rows.Next() {
		var (
			v      model.SecurityViolation
			issues string
		)
		if err := rows.Scan(&v.ID, &v.ClientIP, &v.Language, &issues, &v.CodeSnippet, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scanning violation row: %w", err)
		}
		if err := json.Unmarshal([]byte(issues), &v.Issues); err != nil {
			return nil, fmt.Errorf("audit: decoding issues: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterating violations: %w", err)
	}
	return out, nil
}

// Count returns the number of stored violations.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_violations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("audit: counting violations: %w", err)
	}
	return n, nil
}
