package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/opshub/exception-plane/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
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

	// Check if we can query
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

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Tenants table
		CREATE TABLE IF NOT EXISTS tenants (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			slug VARCHAR(100) NOT NULL UNIQUE,
			sla_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.8,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Exceptions table
		CREATE TABLE IF NOT EXISTS exceptions (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			domain VARCHAR(100) NOT NULL,
			type VARCHAR(100) NOT NULL,
			severity VARCHAR(20) NOT NULL,
			status VARCHAR(50) NOT NULL,
			owner VARCHAR(255),
			sla_deadline TIMESTAMP,
			current_playbook_id UUID,
			current_step INTEGER,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Playbooks table
		CREATE TABLE IF NOT EXISTS playbooks (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Playbook steps table
		CREATE TABLE IF NOT EXISTS playbook_steps (
			id UUID PRIMARY KEY,
			playbook_id UUID NOT NULL REFERENCES playbooks(id) ON DELETE CASCADE,
			step_order INTEGER NOT NULL,
			action_type VARCHAR(100) NOT NULL,
			params JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(playbook_id, step_order) DEFERRABLE INITIALLY IMMEDIATE
		);

		-- Exception events table (append-only; seq preserves insertion order)
		CREATE TABLE IF NOT EXISTS exception_events (
			id UUID PRIMARY KEY,
			seq BIGSERIAL,
			tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			exception_id UUID NOT NULL REFERENCES exceptions(id) ON DELETE CASCADE,
			event_type VARCHAR(100) NOT NULL,
			actor_type VARCHAR(20) NOT NULL,
			actor_id UUID,
			payload JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Event processing ledger
		CREATE TABLE IF NOT EXISTS event_processing (
			event_id UUID NOT NULL REFERENCES exception_events(id) ON DELETE CASCADE,
			worker_kind VARCHAR(100) NOT NULL,
			status VARCHAR(20) NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			next_attempt_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(event_id, worker_kind)
		);

		-- Indexes for performance
		CREATE INDEX IF NOT EXISTS idx_exceptions_tenant_id ON exceptions(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_exceptions_status ON exceptions(status);
		CREATE INDEX IF NOT EXISTS idx_exceptions_sla_deadline ON exceptions(sla_deadline);

		CREATE INDEX IF NOT EXISTS idx_playbooks_tenant_id ON playbooks(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_playbook_steps_playbook_id ON playbook_steps(playbook_id);

		CREATE INDEX IF NOT EXISTS idx_exception_events_tenant_id ON exception_events(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_exception_events_exception_id ON exception_events(exception_id);
		CREATE INDEX IF NOT EXISTS idx_exception_events_event_type ON exception_events(event_type);
		CREATE INDEX IF NOT EXISTS idx_exception_events_seq ON exception_events(seq);
		CREATE INDEX IF NOT EXISTS idx_exception_events_payload_playbook
			ON exception_events((payload->>'playbook_id'));

		CREATE INDEX IF NOT EXISTS idx_event_processing_status ON event_processing(status);
		CREATE INDEX IF NOT EXISTS idx_event_processing_next_attempt_at ON event_processing(next_attempt_at);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
