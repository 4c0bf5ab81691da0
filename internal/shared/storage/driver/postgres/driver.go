// Package postgres PostgreSQL 数据库驱动
//
// 提供 PostgreSQL 连接管理、方言实现和自动 Schema 迁移。
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"resume-optimizer/internal/shared/storage/dbutil"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// uniqueViolation PostgreSQL 唯一约束冲突错误码
const uniqueViolation = "23505"

// Dialect PostgreSQL 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverPostgres
}

func (d *Dialect) Rebind(query string) string {
	return query
}

func (d *Dialect) CurrentTimestamp() string {
	return "NOW()"
}

func (d *Dialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Open 创建 PostgreSQL 数据库连接
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

// NewDialect 创建 PostgreSQL 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    job_id VARCHAR(64) PRIMARY KEY,
    client_id VARCHAR(128) NOT NULL DEFAULT '',
    status VARCHAR(32) NOT NULL DEFAULT 'queued',
    application_id VARCHAR(64),
    last_event_id BIGINT NOT NULL DEFAULT 0,
    error TEXT,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_runs_client ON runs (client_id, created_at);

CREATE TABLE IF NOT EXISTS stream_events (
    job_id VARCHAR(64) NOT NULL,
    event_id BIGINT NOT NULL,
    type VARCHAR(64) NOT NULL,
    timestamp BIGINT NOT NULL,
    data JSONB NOT NULL,
    PRIMARY KEY (job_id, event_id)
);
`
