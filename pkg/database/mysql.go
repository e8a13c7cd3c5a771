package database

import (
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/zapleads/crm-service/environments"
	"github.com/zapleads/crm-service/pkg/logger"
)

// NewCentralDB connects to the central database that stores tenant accounts.
func NewCentralDB(cfg environments.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
	)

	db, err := Connect(dsn)
	if err != nil {
		return nil, err
	}

	logger.Infof("Connected to central MySQL database")
	return db, nil
}

// Connect opens a pooled connection for a DSN. Used for the central database
// and, via the tenant router, for every tenant database.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// RunCentralMigrations creates the tenant account table. instance_hash is
// nullable: accounts provisioned before hashing existed are backfilled lazily
// by the instance lookup cache.
func RunCentralMigrations(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		database_url TEXT NOT NULL,
		instance_name TEXT NOT NULL,
		instance_api_key TEXT NOT NULL,
		instance_phone VARCHAR(20) NOT NULL DEFAULT '',
		instance_hash VARCHAR(64),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_tenants_instance_hash (instance_hash)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to run central migrations: %w", err)
	}

	logger.Infof("Central database migrations completed")
	return nil
}

// RunTenantMigrations creates the per-tenant schema. Called at provisioning
// time and by the dev seeder; the worker and webhook paths assume the tables
// exist.
func RunTenantMigrations(db *sqlx.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS leads (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(150) NOT NULL,
			phone VARCHAR(20) NOT NULL,
			tag VARCHAR(20) NOT NULL DEFAULT 'NEW',
			interest TEXT,
			ai_score INT,
			ai_summary TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_leads_phone (phone),
			INDEX idx_leads_updated_at (updated_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS whatsapp_contacts (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			phone VARCHAR(20) NOT NULL,
			name VARCHAR(150) NOT NULL,
			manual BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_contacts_phone (phone)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS campaigns (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(150) NOT NULL,
			template TEXT NOT NULL,
			target_tag VARCHAR(20),
			status VARCHAR(20) NOT NULL DEFAULT 'DRAFT',
			scheduled_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_campaigns_status (status)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS campaign_messages (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			campaign_id BIGINT,
			lead_id BIGINT NOT NULL,
			content TEXT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			last_error TEXT,
			retry_count INT NOT NULL DEFAULT 0,
			priority INT NOT NULL DEFAULT 0,
			scheduled_at DATETIME NOT NULL,
			sent_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_queue_status_scheduled (status, scheduled_at),
			INDEX idx_queue_campaign (campaign_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS chat_history (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			contact_id BIGINT NOT NULL,
			session_id VARCHAR(50) NOT NULL,
			direction VARCHAR(10) NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_chat_session (session_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run tenant migrations: %w", err)
		}
	}

	logger.Infof("Tenant database migrations completed")
	return nil
}
