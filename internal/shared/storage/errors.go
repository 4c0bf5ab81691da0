// Package storage 定义存储层领域错误
//
// 各驱动实现（repository/mongostore/redis/memstore）负责将底层错误
// 转换为这些领域错误，调用方只通过 errors.Is 判断。
package storage

import "errors"

var (
	// ErrNotFound 实体不存在
	// 替代 sql.ErrNoRows / mongo.ErrNoDocuments / redis.Nil
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate 唯一键冲突（重复的 job_id，或同一作业内重复的 event_id）
	ErrDuplicate = errors.New("duplicate: entity already exists")
)
