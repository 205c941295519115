package store

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
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Run Operations
// =============================================================================

// runRow represents a run row in the database.
type runRow struct {
	ID            string `db:"id"`
	SourceImage   string `db:"source_image"`
	Repository    string `db:"repository"`
	RepositoryURI string `db:"repository_uri"`
	Region        string `db:"region"`
	AccountID     string `db:"account_id"`
	Digest        string `db:"digest"`
	Status        string `db:"status"`
	FailedStep    string `db:"failed_step"`
	Error         string `db:"error"`
	StartedAt     string `db:"started_at"`
	FinishedAt    string `db:"finished_at"`
}

func rowFromRun(run *Run) runRow {
	return runRow{
		ID:            run.ID,
		SourceImage:   run.SourceImage,
		Repository:    run.Repository,
		RepositoryURI: run.RepositoryURI,
		Region:        run.Region,
		AccountID:     run.AccountID,
		Digest:        run.Digest,
		Status:        string(run.Status),
		FailedStep:    run.FailedStep,
		Error:         run.Error,
		StartedAt:     run.StartedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt:    run.FinishedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (r runRow) toRun() Run {
	startedAt, _ := time.Parse(time.RFC3339Nano, r.StartedAt)
	finishedAt, _ := time.Parse(time.RFC3339Nano, r.FinishedAt)
	return Run{
		ID:            r.ID,
		SourceImage:   r.SourceImage,
		Repository:    r.Repository,
		RepositoryURI: r.RepositoryURI,
		Region:        r.Region,
		AccountID:     r.AccountID,
		Digest:        r.Digest,
		Status:        RunStatus(r.Status),
		FailedStep:    r.FailedStep,
		Error:         r.Error,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
	}
}

// SaveRun inserts a completed run.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	row := rowFromRun(run)

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (
			id, source_image, repository, repository_uri, region, account_id,
			digest, status, failed_step, error, started_at, finished_at
		) VALUES (
			:id, :source_image, :repository, :repository_uri, :region, :account_id,
			:digest, :status, :failed_step, :error, :started_at, :finished_at
		)`, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return NewStoreError("SaveRun", run.ID, "run already recorded", ErrDuplicateID)
		}
		return NewStoreError("SaveRun", run.ID, err.Error(), err)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", id, err.Error(), err)
	}

	run := row.toRun()
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, NewStoreError("ListRuns", "", err.Error(), err)
	}

	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toRun())
	}
	return runs, nil
}
