// Package history persists deployment reports in a local SQLite database so
// operators can answer "what was deployed here, and when" after the fact.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/bundleforge/bundleforge/pkg/deploy"
	"github.com/bundleforge/bundleforge/pkg/errdefs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Deployment is one persisted deployment record.
type Deployment struct {
	ID         string
	Bundle     string
	Version    string
	Mode       string
	Success    bool
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []StepRecord
}

// StepRecord is one persisted step outcome.
type StepRecord struct {
	Position int
	Name     string
	Success  bool
	Message  string
}

// Store is a SQLite-backed deployment history.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a history store at the given database path. Call Init
// before use.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &Store{path: path}, nil
}

// Init opens the database and enables WAL mode.
func (s *Store) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One deployment runs at a time; a small pool is plenty.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *Store) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RecordDeployment persists a finished deployment report with its steps.
func (s *Store) RecordDeployment(ctx context.Context, report *deploy.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deployments (id, bundle, version, mode, success, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.RunID,
		report.Bundle,
		report.Version,
		report.Mode,
		report.Success(),
		strings.Join(report.Errors, "; "),
		report.StartedAt,
		report.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deployment: %w", err)
	}

	for i, step := range report.Steps {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO deployment_steps (deployment_id, position, name, success, message)
			VALUES (?, ?, ?, ?, ?)
		`,
			report.RunID, i, step.Name, step.Success, step.Message,
		)
		if err != nil {
			return fmt.Errorf("failed to insert step: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deployment record: %w", err)
	}
	return nil
}

// GetDeployment retrieves one deployment with its steps.
func (s *Store) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	d := &Deployment{}
	var errMsg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bundle, version, mode, success, error, started_at, finished_at
		FROM deployments
		WHERE id = ?
	`, id).Scan(&d.ID, &d.Bundle, &d.Version, &d.Mode, &d.Success, &errMsg, &d.StartedAt, &d.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, errdefs.NewNotFound(fmt.Sprintf("deployment %s not found", id), nil).WithResource(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	d.Error = errMsg.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, name, success, message
		FROM deployment_steps
		WHERE deployment_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step StepRecord
		var msg sql.NullString
		if err := rows.Scan(&step.Position, &step.Name, &step.Success, &msg); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.Message = msg.String
		d.Steps = append(d.Steps, step)
	}
	return d, rows.Err()
}

// ListDeployments returns deployments newest-first, optionally filtered by
// bundle name. Steps are not loaded.
func (s *Store) ListDeployments(ctx context.Context, bundleName string, limit int) ([]*Deployment, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, bundle, version, mode, success, error, started_at, finished_at
		FROM deployments
	`
	args := []any{}
	if bundleName != "" {
		query += " WHERE bundle = ?"
		args = append(args, bundleName)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	out := []*Deployment{}
	for rows.Next() {
		d := &Deployment{}
		var errMsg sql.NullString
		if err := rows.Scan(&d.ID, &d.Bundle, &d.Version, &d.Mode, &d.Success, &errMsg, &d.StartedAt, &d.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		d.Error = errMsg.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// HealthCheck verifies the database answers.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Open is a convenience that creates, initializes, and migrates a store.
func Open(ctx context.Context, path string) (*Store, error) {
	s, err := NewStore(path)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
