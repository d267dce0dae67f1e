package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alexnthnz/notification-engine/internal/config"
	"github.com/alexnthnz/notification-engine/internal/monitoring"
	_ "github.com/lib/pq"
)

// PostgresDB wraps sql.DB for PostgreSQL operations
type PostgresDB struct {
	*sql.DB
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(ctx context.Context, cfg config.DatabaseConfig) (*PostgresDB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{DB: db}, nil
}

// InitSchema initializes the database schema
func (db *PostgresDB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// ReportPoolStats publishes connection pool gauges every interval until ctx is done
func (db *PostgresDB) ReportPoolStats(ctx context.Context, metrics *monitoring.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		stats := db.Stats()
		metrics.SetDatabaseConnections("postgres", "open", stats.OpenConnections)
		metrics.SetDatabaseConnections("postgres", "in_use", stats.InUse)
		metrics.SetDatabaseConnections("postgres", "idle", stats.Idle)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close closes the database connection
func (db *PostgresDB) Close() error {
	return db.DB.Close()
}

const schema = `
	-- Users table
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(255) PRIMARY KEY,
		email VARCHAR(255) NOT NULL DEFAULT '',
		push_token VARCHAR(500) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Notifications table
	CREATE TABLE IF NOT EXISTS notifications (
		id UUID PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		notification_type VARCHAR(50) NOT NULL,
		priority VARCHAR(20) NOT NULL DEFAULT 'medium',
		title VARCHAR(200) NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		email_subject VARCHAR(255) NOT NULL DEFAULT '',
		email_body TEXT NOT NULL DEFAULT '',
		channels TEXT[] NOT NULL DEFAULT '{}',
		template_name VARCHAR(100) NOT NULL DEFAULT '',
		template_context JSONB,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		email_sent BOOLEAN NOT NULL DEFAULT false,
		push_sent BOOLEAN NOT NULL DEFAULT false,
		in_app_sent BOOLEAN NOT NULL DEFAULT false,
		resource_type VARCHAR(50) NOT NULL DEFAULT '',
		resource_id VARCHAR(255) NOT NULL DEFAULT '',
		action_url VARCHAR(500) NOT NULL DEFAULT '',
		action_text VARCHAR(100) NOT NULL DEFAULT '',
		metadata JSONB,
		scheduled_at TIMESTAMPTZ,
		sent_at TIMESTAMPTZ,
		read_at TIMESTAMPTZ,
		expires_at TIMESTAMPTZ,
		is_read BOOLEAN NOT NULL DEFAULT false,
		is_archived BOOLEAN NOT NULL DEFAULT false,
		is_deleted BOOLEAN NOT NULL DEFAULT false,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		last_error TEXT NOT NULL DEFAULT '',
		lease_owner VARCHAR(64),
		lease_until TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Notification templates table
	CREATE TABLE IF NOT EXISTS notification_templates (
		id UUID PRIMARY KEY,
		name VARCHAR(100) UNIQUE NOT NULL,
		notification_type VARCHAR(50) NOT NULL,
		title_template VARCHAR(200) NOT NULL,
		message_template TEXT NOT NULL,
		email_subject_template VARCHAR(200) NOT NULL DEFAULT '',
		email_body_template TEXT NOT NULL DEFAULT '',
		default_channels TEXT[] NOT NULL DEFAULT '{}',
		default_priority VARCHAR(20) NOT NULL DEFAULT 'medium',
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Per-user, per-type notification settings
	CREATE TABLE IF NOT EXISTS notification_settings (
		id UUID PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		notification_type VARCHAR(50) NOT NULL,
		email_enabled BOOLEAN NOT NULL DEFAULT true,
		push_enabled BOOLEAN NOT NULL DEFAULT true,
		in_app_enabled BOOLEAN NOT NULL DEFAULT true,
		quiet_hours_start VARCHAR(5) NOT NULL DEFAULT '',
		quiet_hours_end VARCHAR(5) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(user_id, notification_type)
	);

	-- Create indexes for better performance
	CREATE INDEX IF NOT EXISTS idx_notifications_user_id ON notifications(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_notifications_user_unread ON notifications(user_id) WHERE NOT is_read AND NOT is_deleted;
	CREATE INDEX IF NOT EXISTS idx_notifications_due ON notifications(status, scheduled_at) WHERE NOT is_deleted;
	CREATE INDEX IF NOT EXISTS idx_notification_settings_user_id ON notification_settings(user_id);
	`
