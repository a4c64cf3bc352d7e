package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/llm-safety-gateway/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the evidence schema. Receipts are append-only:
// no UPDATE or DELETE path exists in the repository.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS decision_receipts (
			id BIGSERIAL PRIMARY KEY,
			request_id UUID NOT NULL,
			tenant_id VARCHAR(255) NOT NULL,
			workspace_id VARCHAR(255),
			actor_id VARCHAR(255) NOT NULL,
			capability VARCHAR(50) NOT NULL,
			decision VARCHAR(20) NOT NULL,
			terminal_state VARCHAR(50) NOT NULL,
			risk_flags JSONB,
			policy_snapshot_id VARCHAR(255),
			policy_version_ids JSONB,
			policy_degraded BOOLEAN NOT NULL DEFAULT false,
			degradation_stage INTEGER NOT NULL DEFAULT 0,
			provider VARCHAR(100),
			prompt_digest VARCHAR(64) NOT NULL,
			output_digest VARCHAR(64),
			dry_run BOOLEAN NOT NULL DEFAULT false,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			recorded_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_decision_receipts_tenant_id ON decision_receipts(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_decision_receipts_request_id ON decision_receipts(request_id);
		CREATE INDEX IF NOT EXISTS idx_decision_receipts_recorded_at ON decision_receipts(recorded_at);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("evidence schema initialized successfully")
	return nil
}
