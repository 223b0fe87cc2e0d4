package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx via database/sql
)

// Config holds PostgreSQL connection configuration for the audit store.
type Config struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// PostgresRecorder persists audit records to PostgreSQL.
type PostgresRecorder struct {
	db *sqlx.DB
}

// OpenDB opens the audit database with pool settings from config.
func OpenDB(cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}
	return db, nil
}

// NewPostgresRecorder creates a recorder on an open connection.
func NewPostgresRecorder(db *sqlx.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// Record inserts one audit entry.
func (r *PostgresRecorder) Record(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO request_audit (id, source, operation, code, attempts, duration_ns, success, created_at)
		VALUES (:id, :source, :operation, :code, :attempts, :duration_ns, :success, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}
