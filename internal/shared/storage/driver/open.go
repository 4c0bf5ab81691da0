// Package driver 按配置选择并打开 storage.RunStore 实现
package driver

import (
	"fmt"
	"log"

	"resume-optimizer/internal/config"
	"resume-optimizer/internal/shared/storage"
	"resume-optimizer/internal/shared/storage/dbutil"
	"resume-optimizer/internal/shared/storage/driver/postgres"
	"resume-optimizer/internal/shared/storage/driver/sqlite"
	"resume-optimizer/internal/shared/storage/memstore"
	"resume-optimizer/internal/shared/storage/mongostore"
	redisstore "resume-optimizer/internal/shared/storage/redis"
	"resume-optimizer/internal/shared/storage/repository"
)

// Open 根据配置打开作业存储
// 支持的驱动类型：sqlite, postgres, mongodb, redis, memory
func Open(cfg *config.Config) (storage.RunStore, error) {
	driver := dbutil.DriverType(cfg.DatabaseDriver)
	log.Printf("[Storage] Opening %s store", driver)

	switch driver {
	case dbutil.DriverSQLite:
		return OpenSQL(driver, sqliteDSN(cfg.DatabaseURL))
	case dbutil.DriverPostgres:
		return OpenSQL(driver, cfg.DatabaseURL)
	case dbutil.DriverMongoDB:
		dbName := cfg.DatabaseDBName
		if dbName == "" {
			dbName = "resume_optimizer"
		}
		return mongostore.NewStore(cfg.DatabaseURL, dbName)
	case dbutil.DriverRedis:
		return redisstore.NewStoreFromURL(cfg.DatabaseURL)
	case dbutil.DriverMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// OpenSQL 打开 SQL 存储（含自动建表）
func OpenSQL(driver dbutil.DriverType, dsn string) (*repository.Store, error) {
	var dialect dbutil.Dialect
	switch driver {
	case dbutil.DriverSQLite:
		dialect = sqlite.NewDialect()
	case dbutil.DriverPostgres:
		dialect = postgres.NewDialect()
	default:
		return nil, fmt.Errorf("not a SQL driver: %s", driver)
	}

	db, err := openDB(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s auto-migrate failed: %w", driver, err)
	}
	return repository.NewStore(db, dialect), nil
}
