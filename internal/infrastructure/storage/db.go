// Package storage is the relational metadata store: chains, jobs,
// artifacts, transfers, and approval requests, persisted through Bun.
// It is the single source of truth for cross-workflow state.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/renderfleet/orchestrator/internal/infrastructure/storage/models"
)

// Config holds database configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Debug           bool
}

// DefaultConfig returns default database configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// NewDB opens a Bun database for the configured DSN. Postgres DSNs use
// the pgdriver; "sqlite://" and "file:" DSNs use the sqlite shim, which
// also backs hermetic tests.
func NewDB(cfg *Config) (*bun.DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var db *bun.DB

	switch {
	case strings.HasPrefix(cfg.DSN, "sqlite://"), strings.HasPrefix(cfg.DSN, "file:"):
		dsn := strings.TrimPrefix(cfg.DSN, "sqlite://")
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite tolerates exactly one writer.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())

	default:
		connector := pgdriver.NewConnector(
			pgdriver.WithDSN(cfg.DSN),
			pgdriver.WithTimeout(30*time.Second),
			pgdriver.WithDialTimeout(10*time.Second),
			pgdriver.WithReadTimeout(10*time.Second),
			pgdriver.WithWriteTimeout(10*time.Second),
		)
		sqldb := sql.OpenDB(connector)
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
		db = bun.NewDB(sqldb, pgdialect.New())
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}

	registerModels(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// registerModels registers all Bun models.
func registerModels(db *bun.DB) {
	db.RegisterModel(
		(*models.ChainModel)(nil),
		(*models.JobModel)(nil),
		(*models.ArtifactModel)(nil),
		(*models.TransferModel)(nil),
		(*models.ApprovalModel)(nil),
	)
}

// InitSchema creates all tables and indexes when they do not exist yet.
// SQLite deployments rely on this; Postgres deployments may instead
// manage the schema externally.
func InitSchema(ctx context.Context, db *bun.DB) error {
	tables := []any{
		(*models.ChainModel)(nil),
		(*models.JobModel)(nil),
		(*models.ArtifactModel)(nil),
		(*models.TransferModel)(nil),
		(*models.ApprovalModel)(nil),
	}
	for _, table := range tables {
		if _, err := db.NewCreateTable().Model(table).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", table, err)
		}
	}

	indexes := []struct {
		name    string
		table   string
		columns string
		unique  bool
	}{
		{"idx_chains_engine", "chains", "engine_workflow_id", false},
		{"idx_chains_status", "chains", "status", false},
		{"idx_jobs_chain_step", "jobs", "chain_id, step_id", false},
		{"idx_jobs_backend_prompt", "jobs", "backend_address, backend_prompt_id", false},
		{"idx_jobs_status", "jobs", "status", false},
		{"idx_artifacts_job", "artifacts", "job_id", false},
		{"idx_artifacts_latest", "artifacts", "job_id, is_latest", false},
		{"idx_artifacts_local", "artifacts", "local_filename", true},
		{"idx_transfers_artifact", "artifact_transfers", "artifact_id", false},
		{"idx_transfers_status", "artifact_transfers", "status", false},
		{"idx_approvals_token", "approval_requests", "token", true},
		{"idx_approvals_chain", "approval_requests", "chain_id", false},
	}
	for _, idx := range indexes {
		q := db.NewCreateIndex().IfNotExists().Index(idx.name).Table(idx.table).ColumnExpr(idx.columns)
		if idx.unique {
			q = q.Unique()
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// WithTransaction executes a function within a database transaction.
func WithTransaction(ctx context.Context, db *bun.DB, fn func(tx bun.Tx) error) error {
	return db.RunInTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	}, func(ctx context.Context, tx bun.Tx) error {
		return fn(tx)
	})
}
