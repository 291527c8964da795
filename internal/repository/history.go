// Package repository persists the chat history locally so it survives
// restarts of the client.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/sparring/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// HistoryCache stores the last known session list in SQLite.
type HistoryCache struct {
	db *sqlx.DB
}

type sessionRow struct {
	ID        string    `db:"id"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
	UserID    string    `db:"user_id"`
	Position  int       `db:"position"`
}

// NewHistoryCache opens the database at dsn and applies migrations.
func NewHistoryCache(dsn string) (*HistoryCache, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	cache := &HistoryCache{db: db}
	if err := cache.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return cache, nil
}

// migrate applies the embedded migrations. The migrate instance is not closed
// because that would close the shared connection pool.
func (c *HistoryCache) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	drv, err := sqlite3.WithInstance(c.db.DB, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// SaveSessions replaces the cached history, keeping the given order.
func (c *HistoryCache) SaveSessions(ctx context.Context, sessions []domain.ChatSession) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	for i, s := range sessions {
		row := sessionRow{
			ID:        s.ID,
			Title:     s.Title,
			CreatedAt: s.CreatedAt.UTC(),
			UserID:    s.UserID,
			Position:  i,
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO chat_sessions (id, title, created_at, user_id, position)
			VALUES (:id, :title, :created_at, :user_id, :position)
			ON CONFLICT(id) DO UPDATE SET title = excluded.title, position = excluded.position
		`, row)
		if err != nil {
			return fmt.Errorf("failed to save session %s: %w", s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}

// LoadSessions returns the cached history in saved order.
func (c *HistoryCache) LoadSessions(ctx context.Context) ([]domain.ChatSession, error) {
	var rows []sessionRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT id, title, created_at, user_id, position
		FROM chat_sessions
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	sessions := make([]domain.ChatSession, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, domain.ChatSession{
			ID:        r.ID,
			Title:     r.Title,
			CreatedAt: r.CreatedAt,
			UserID:    r.UserID,
		})
	}
	return sessions, nil
}

// Close closes the database.
func (c *HistoryCache) Close() error {
	return c.db.Close()
}
