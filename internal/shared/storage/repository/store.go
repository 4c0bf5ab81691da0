// Package repository 数据库无关的作业存储层
//
// 通过 dbutil.Dialect 接口屏蔽不同数据库的 SQL 差异，
// 所有 SQL 以 PostgreSQL 风格编写，运行时由 Dialect.Rebind() 转换。
package repository

import (
	"database/sql"

	"resume-optimizer/internal/shared/storage"
	"resume-optimizer/internal/shared/storage/dbutil"
)

// Store 通用 SQL 存储实现
// 实现了 storage.RunStore 接口
type Store struct {
	db      *sql.DB
	dialect dbutil.Dialect
}

var _ storage.RunStore = (*Store)(nil)

// NewStore 创建通用存储
func NewStore(db *sql.DB, dialect dbutil.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// DB 返回底层数据库连接（仅用于测试）
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect 返回当前方言
func (s *Store) Dialect() dbutil.Dialect {
	return s.dialect
}

// rebind 快捷方法：将 PG 风格 SQL 转换为当前方言
func (s *Store) rebind(query string) string {
	return s.dialect.Rebind(query)
}

// now 返回当前时间戳 SQL 表达式
func (s *Store) now() string {
	return s.dialect.CurrentTimestamp()
}

// wrapError 将驱动错误转换为领域错误
func (s *Store) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if s.dialect.IsUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

// requireAffected 更新语句未命中任何行时返回 ErrNotFound
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
