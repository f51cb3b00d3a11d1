package ticket

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const busyTimeoutMs = 5000

// SQLiteStore persists tickets so they survive gateway restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the ticket database at path.
//
// The database uses WAL mode, a 5 s busy timeout, and a single connection
// (SQLite serialises writes). The schema is migrated automatically.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("ticket: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ticket: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ticket: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMs)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ticket: set busy_timeout: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS tickets (
		ticket     TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		tenant_id  TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ticket: migrate schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Issue implements Store.
func (s *SQLiteStore) Issue(ctx context.Context, ticket string, id Identity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (ticket, user_id, tenant_id) VALUES (?, ?, ?)
		 ON CONFLICT(ticket) DO UPDATE SET user_id = excluded.user_id, tenant_id = excluded.tenant_id`,
		ticket, id.User, id.Tenant)
	if err != nil {
		return fmt.Errorf("ticket: issue: %w", err)
	}
	return nil
}

// Consume implements Store. The DELETE ... RETURNING makes resolve-and-remove
// a single statement, so two racing consumers cannot both succeed.
func (s *SQLiteStore) Consume(ctx context.Context, ticket string) (Identity, error) {
	var id Identity
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM tickets WHERE ticket = ? RETURNING user_id, tenant_id`,
		ticket).Scan(&id.User, &id.Tenant)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, ErrUnknownTicket
	}
	if err != nil {
		return Identity{}, fmt.Errorf("ticket: consume: %w", err)
	}
	return id, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
