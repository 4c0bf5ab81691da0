// Package repository Run 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"resume-optimizer/internal/shared/model"
)

const runColumns = `job_id, client_id, status, application_id, last_event_id, error, created_at, updated_at`

// CreateRun 创建 Run
func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	query := s.rebind(`
		INSERT INTO runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	_, err := s.db.ExecContext(ctx, query,
		run.JobID, run.ClientID, run.Status, run.ApplicationID, run.LastEventID,
		run.Error, run.CreatedAt, run.UpdatedAt)
	return s.wrapError(err)
}

// GetRun 获取 Run，不存在时返回 (nil, nil)
func (s *Store) GetRun(ctx context.Context, jobID string) (*model.Run, error) {
	query := s.rebind(`SELECT ` + runColumns + ` FROM runs WHERE job_id = $1`)
	run, err := scanRun(s.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// UpdateRunStatus 更新作业状态并记录写穿时的事件序号
func (s *Store) UpdateRunStatus(ctx context.Context, jobID string, status model.RunStatus, lastEventID int64) error {
	query := s.rebind(`UPDATE runs SET status = $1, last_event_id = $2, updated_at = $3 WHERE job_id = $4`)
	res, err := s.db.ExecContext(ctx, query, status, lastEventID, time.Now().UTC(), jobID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// UpdateRunError 记录失败原因
func (s *Store) UpdateRunError(ctx context.Context, jobID string, message string) error {
	query := s.rebind(`UPDATE runs SET error = $1, updated_at = ` + s.now() + ` WHERE job_id = $2`)
	res, err := s.db.ExecContext(ctx, query, message, jobID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SetRunApplication 关联求职申请记录
func (s *Store) SetRunApplication(ctx context.Context, jobID string, applicationID string) error {
	query := s.rebind(`UPDATE runs SET application_id = $1, updated_at = ` + s.now() + ` WHERE job_id = $2`)
	res, err := s.db.ExecContext(ctx, query, applicationID, jobID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ListRunsByClient 按创建时间倒序列出客户端的作业
func (s *Store) ListRunsByClient(ctx context.Context, clientID string, limit int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.rebind(`SELECT ` + runColumns + ` FROM runs WHERE client_id = $1 ORDER BY created_at DESC LIMIT $2`)
	rows, err := s.db.QueryContext(ctx, query, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// scanRun 辅助函数
func scanRun(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Run, error) {
	run := &model.Run{}
	var status string
	err := scanner.Scan(
		&run.JobID, &run.ClientID, &status, &run.ApplicationID, &run.LastEventID,
		&run.Error, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	return run, nil
}

// scanRuns 批量扫描
func scanRuns(rows *sql.Rows) ([]*model.Run, error) {
	runs := []*model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
