package archive

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"

	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/stream"
)

// ErrNotArchived 作业没有归档
var ErrNotArchived = errors.New("archive: job not archived")

// Source 归档读取事件的来源，由 *stream.Manager 实现
type Source interface {
	SubscribeInternal(ctx context.Context, jobID string, after int64) (*stream.Subscriber, error)
	Unsubscribe(sub *stream.Subscriber)
}

// Exporter 事件日志导出器
type Exporter struct {
	src     Source
	objects ObjectStore
}

// NewExporter 创建导出器
func NewExporter(src Source, objects ObjectStore) *Exporter {
	return &Exporter{src: src, objects: objects}
}

// Key 作业归档对象的路径
func Key(jobID string) string {
	return "jobs/" + jobID + "/events.ndjson"
}

// Archive 读取作业完整事件流（直到 done）并上传为 NDJSON，返回对象路径
//
// 通过订阅读取，作业尚未结束时会一直等待。
func (e *Exporter) Archive(ctx context.Context, jobID string) (string, error) {
	envs, err := e.collect(ctx, jobID)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	for _, env := range envs {
		data, err := model.MarshalEnvelope(env)
		if err != nil {
			return "", fmt.Errorf("encode event %d: %w", env.EventID, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	key := Key(jobID)
	if err := e.objects.Upload(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/x-ndjson"); err != nil {
		return "", err
	}
	log.Printf("[minio] Archived job %s: %d events, %d bytes", jobID, len(envs), buf.Len())
	return key, nil
}

// collect 订阅并读取到通道关闭，被丢弃时从最后的 event_id 续读
func (e *Exporter) collect(ctx context.Context, jobID string) ([]*model.Envelope, error) {
	var envs []*model.Envelope
	var last int64
	for {
		sub, err := e.src.SubscribeInternal(ctx, jobID, last)
		if err != nil {
			return nil, err
		}
		finished, err := drain(ctx, sub, &envs, &last)
		e.src.Unsubscribe(sub)
		if err != nil {
			return nil, err
		}
		if finished {
			return envs, nil
		}
	}
}

func drain(ctx context.Context, sub *stream.Subscriber, envs *[]*model.Envelope, last *int64) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case env, ok := <-sub.C():
			if !ok {
				return !sub.Dropped(), nil
			}
			if env.EventID <= *last {
				continue
			}
			*last = env.EventID
			// 与事件日志一致，心跳不归档
			if env.Type().IsDurable() {
				*envs = append(*envs, env)
			}
		}
	}
}

// Load 读取作业归档
func (e *Exporter) Load(ctx context.Context, jobID string) ([]*model.Envelope, error) {
	rc, err := e.objects.Download(ctx, Key(jobID))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var envs []*model.Envelope
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		env, err := model.UnmarshalEnvelope(line)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read archive %s: %w", jobID, err)
	}
	return envs, nil
}
