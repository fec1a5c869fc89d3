package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ErrNotFound indicates no history entry exists for the requested
// command ID.
var ErrNotFound = errors.New("history: entry not found")

// Entry is one terminal command result.
type Entry struct {
	ID        int64     `json:"-"`
	CommandID string    `json:"command_id"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Source    string    `json:"source"`
	Duration  int64     `json:"duration_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores command history in SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a command history repository and ensures its
// schema exists.
//
// Parameters:
//   - ctx: Context for the schema statement
//   - db: Open SQLite connection
//
// Returns:
//   - *Repository: Repository ready for use
//   - error: nil on success, otherwise the schema error
func NewRepository(ctx context.Context, db *sql.DB) (*Repository, error) {
	r := &Repository{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// ensureSchema creates the command_history table when missing.
func (r *Repository) ensureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS command_history (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			command_id  TEXT NOT NULL UNIQUE,
			action      TEXT NOT NULL,
			status      TEXT NOT NULL,
			message     TEXT NOT NULL DEFAULT '',
			source      TEXT NOT NULL DEFAULT 'socket',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		);
		CREATE INDEX IF NOT EXISTS idx_command_history_created
			ON command_history(created_at);`

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensuring command_history schema: %w", err)
	}
	return nil
}

// Record inserts a terminal command result.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - entry: Result to persist; CommandID, Action and Status are required
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *Repository) Record(ctx context.Context, entry Entry) error {
	if entry.CommandID == "" {
		return fmt.Errorf("command id is required")
	}
	if entry.Action == "" {
		return fmt.Errorf("action is required")
	}
	if entry.Status == "" {
		return fmt.Errorf("status is required")
	}
	if entry.Source == "" {
		entry.Source = "socket"
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_history (command_id, action, status, message, source, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.CommandID,
		entry.Action,
		entry.Status,
		entry.Message,
		entry.Source,
		entry.Duration,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting command history: %w", err)
	}
	return nil
}

// Get returns the terminal result for a command ID.
//
// Returns:
//   - Entry: The stored result
//   - error: ErrNotFound when the command is unknown
func (r *Repository) Get(ctx context.Context, commandID string) (Entry, error) {
	if commandID == "" {
		return Entry{}, fmt.Errorf("command id is required")
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT id, command_id, action, status, message, source, duration_ms, created_at
		 FROM command_history WHERE command_id = ?`,
		commandID,
	)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("querying command history: %w", err)
	}
	return entry, nil
}

// List returns recent entries ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 200)
func (r *Repository) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, command_id, action, status, message, source, duration_ms, created_at
		 FROM command_history
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command history: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command history: %w", err)
	}
	return entries, nil
}

// PruneOlderThan deletes entries older than the given retention window.
//
// Returns:
//   - int64: Number of rows deleted
func (r *Repository) PruneOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM command_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting command history: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var entry Entry
	var createdAt string

	if err := row.Scan(
		&entry.ID,
		&entry.CommandID,
		&entry.Action,
		&entry.Status,
		&entry.Message,
		&entry.Source,
		&entry.Duration,
		&createdAt,
	); err != nil {
		return Entry{}, err
	}

	timestamp, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	entry.CreatedAt = timestamp
	return entry, nil
}
