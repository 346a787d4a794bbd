// Package records persists player registrations. The web layer only sees
// the Recorder interface, so storage stays swappable and optional.
package records

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Player is one registration record.
type Player struct {
	Name        string
	Contact     string
	Institution string
	CreatedAt   time.Time
}

// Recorder is the persistence collaborator the web layer depends on.
type Recorder interface {
	RecordPlayer(ctx context.Context, p Player) error
}

// Discard is a Recorder that keeps nothing, used when recording is
// disabled by configuration.
type Discard struct{}

func (Discard) RecordPlayer(context.Context, Player) error { return nil }

const schema = `
CREATE TABLE IF NOT EXISTS players (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	contact TEXT NOT NULL,
	institution TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL
);`

// Store keeps player records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (or creates) the SQLite file at path and bootstraps the
// schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("records path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open records db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping records db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create players table: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordPlayer inserts one registration. A zero CreatedAt is stamped
// with the current time.
func (s *Store) RecordPlayer(ctx context.Context, p Player) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("player name is required")
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO players (name, contact, institution, created_at_ms) VALUES (?, ?, ?, ?)`,
		p.Name, p.Contact, p.Institution, createdAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}

	return nil
}

// ListPlayers returns all registrations, oldest first.
func (s *Store) ListPlayers(ctx context.Context) ([]Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT name, contact, institution, created_at_ms FROM players ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()

	var players []Player
	for rows.Next() {
		var p Player
		var createdAtMs int64
		if err := rows.Scan(&p.Name, &p.Contact, &p.Institution, &createdAtMs); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		p.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate players: %w", err)
	}

	return players, nil
}
