// Package sqlite provides SQLite storage for the relay history.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/emanuelef/yt-dl-relay/internal/domain"
	_ "modernc.org/sqlite"
)

const sessionColumns = `id, url, range_start, range_end, client_ip, status, lines, exit_code, error, created_at, finished_at`

// ErrNotFound is returned when a relay session does not exist.
var ErrNotFound = errors.New("relay session not found")

// Repository provides database operations for relay sessions.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository with the given data directory.
func NewRepository(dataDir string) (*Repository, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "relays.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := configureDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("Database initialized", "path", dbPath)

	return &Repository{db: db}, nil
}

// configureDB applies SQLite optimizations.
func configureDB(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// createSchema creates the database tables.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS relay_sessions (
			id TEXT PRIMARY KEY,
			url TEXT,
			range_start INTEGER NOT NULL DEFAULT -1,
			range_end INTEGER NOT NULL DEFAULT -1,
			client_ip TEXT,
			status TEXT NOT NULL,
			lines INTEGER NOT NULL DEFAULT 0,
			exit_code INTEGER,
			error TEXT,
			created_at DATETIME NOT NULL,
			finished_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_relay_sessions_created ON relay_sessions(created_at);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new relay session.
func (r *Repository) Create(ctx context.Context, s *domain.RelaySession) error {
	query := `INSERT INTO relay_sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.URL,
		s.Start,
		s.End,
		s.ClientIP,
		s.Status,
		s.Lines,
		nullInt(s.ExitCode),
		s.Error,
		s.CreatedAt,
		nullTime(s.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create relay session: %w", err)
	}

	return nil
}

// Update stores the current state of an existing relay session.
func (r *Repository) Update(ctx context.Context, s *domain.RelaySession) error {
	query := `
		UPDATE relay_sessions
		SET url = ?, range_start = ?, range_end = ?, status = ?, lines = ?, exit_code = ?, error = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		s.URL,
		s.Start,
		s.End,
		s.Status,
		s.Lines,
		nullInt(s.ExitCode),
		s.Error,
		nullTime(s.FinishedAt),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update relay session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, s.ID)
	}

	return nil
}

// GetByID retrieves a relay session by its ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.RelaySession, error) {
	query := `SELECT ` + sessionColumns + ` FROM relay_sessions WHERE id = ?`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relay session: %w", err)
	}

	return s, nil
}

// ListRecent returns up to limit sessions, newest first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]*domain.RelaySession, error) {
	query := `SELECT ` + sessionColumns + ` FROM relay_sessions ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list relay sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*domain.RelaySession, 0, limit)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relay session: %w", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// Count returns the total number of recorded sessions.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM relay_sessions").Scan(&count)
	return count, err
}

// DeleteOlderThan deletes sessions created before now minus age.
func (r *Repository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	threshold := time.Now().UTC().Add(-age)

	result, err := r.db.ExecContext(ctx, `DELETE FROM relay_sessions WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old relay sessions: %w", err)
	}

	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.RelaySession, error) {
	s := &domain.RelaySession{}
	var url, clientIP, errorMsg sql.NullString
	var exitCode sql.NullInt64
	var finishedAt sql.NullTime

	err := row.Scan(
		&s.ID,
		&url,
		&s.Start,
		&s.End,
		&clientIP,
		&s.Status,
		&s.Lines,
		&exitCode,
		&errorMsg,
		&s.CreatedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	s.URL = url.String
	s.ClientIP = clientIP.String
	s.Error = errorMsg.String
	if exitCode.Valid {
		code := int(exitCode.Int64)
		s.ExitCode = &code
	}
	if finishedAt.Valid {
		s.FinishedAt = &finishedAt.Time
	}

	return s, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
