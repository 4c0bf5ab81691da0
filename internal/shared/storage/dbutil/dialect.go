// Package dbutil 提供数据库方言抽象和工具函数
//
// 通过 Dialect 接口屏蔽 PostgreSQL 与 SQLite 的 SQL 差异，
// 使 repository 层可以编写与数据库无关的存储逻辑。
package dbutil

import (
	"database/sql"
	"regexp"
)

// DriverType 存储驱动类型
type DriverType string

const (
	DriverPostgres DriverType = "postgres"
	DriverSQLite   DriverType = "sqlite"
	DriverMongoDB  DriverType = "mongodb"
	DriverRedis    DriverType = "redis"
	DriverMemory   DriverType = "memory"
)

// IsSQL 是否为 database/sql 驱动
func (d DriverType) IsSQL() bool {
	return d == DriverPostgres || d == DriverSQLite
}

// Dialect 数据库方言接口
//
// 不同数据库的 SQL 语法差异通过该接口屏蔽：
//   - 占位符：PostgreSQL 用 $1, $2；SQLite 用 ?
//   - 时间函数：PostgreSQL 用 NOW()；SQLite 用 datetime('now')
//   - 唯一键冲突：错误类型各不相同
type Dialect interface {
	// DriverType 返回驱动类型标识
	DriverType() DriverType

	// Rebind 将 PostgreSQL 风格的占位符 ($1, $2, ...) 转换为目标数据库的占位符格式
	Rebind(query string) string

	// CurrentTimestamp 返回当前时间戳的 SQL 表达式
	CurrentTimestamp() string

	// IsUniqueViolation 判断错误是否为唯一键冲突
	IsUniqueViolation(err error) bool

	// AutoMigrate 自动创建/迁移数据库 Schema
	AutoMigrate(db *sql.DB) error
}

// pgPlaceholderRe 匹配 PostgreSQL 风格占位符 $1, $2, ...
var pgPlaceholderRe = regexp.MustCompile(`\$(\d+)`)

// pgCastRe 匹配 PostgreSQL 类型转换 ::type
var pgCastRe = regexp.MustCompile(`::(\w+)`)

// RebindToQuestion 将 $N 占位符转换为 ?（SQLite 专用）
func RebindToQuestion(query string) string {
	return pgPlaceholderRe.ReplaceAllString(query, "?")
}

// StripPgCasts 去除 PostgreSQL 类型转换 (::varchar, ::text 等)
func StripPgCasts(query string) string {
	return pgCastRe.ReplaceAllString(query, "")
}
