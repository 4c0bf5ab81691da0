// Package storagetest 提供 storage.RunStore 的通用一致性测试
//
// 各驱动在自己的 _test.go 中调用 Run，传入创建空存储的工厂函数。
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/shared/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory 创建一个空的存储实例，清理由工厂自行注册到 t.Cleanup
type Factory func(t *testing.T) storage.RunStore

// Run 执行全部一致性测试
func Run(t *testing.T, newStore Factory) {
	t.Run("RunCRUD", func(t *testing.T) { testRunCRUD(t, newStore(t)) })
	t.Run("RunNotFound", func(t *testing.T) { testRunNotFound(t, newStore(t)) })
	t.Run("ListRunsByClient", func(t *testing.T) { testListRunsByClient(t, newStore(t)) })
	t.Run("EventLog", func(t *testing.T) { testEventLog(t, newStore(t)) })
	t.Run("EventLogDuplicate", func(t *testing.T) { testEventLogDuplicate(t, newStore(t)) })
	t.Run("EventLogIsolation", func(t *testing.T) { testEventLogIsolation(t, newStore(t)) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, newStore(t)) })
}

func testRunCRUD(t *testing.T, s storage.RunStore) {
	ctx := context.Background()
	run := model.NewRun("job-crud", "client-1")

	require.NoError(t, s.CreateRun(ctx, run))
	assert.ErrorIs(t, s.CreateRun(ctx, run), storage.ErrDuplicate)

	got, err := s.GetRun(ctx, run.JobID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, run.JobID, got.JobID)
	assert.Equal(t, "client-1", got.ClientID)
	assert.Equal(t, model.RunStatusQueued, got.Status)
	assert.Nil(t, got.ApplicationID)
	assert.Zero(t, got.LastEventID)

	require.NoError(t, s.UpdateRunStatus(ctx, run.JobID, model.RunStatusRunning, 3))
	require.NoError(t, s.SetRunApplication(ctx, run.JobID, "app-7"))
	require.NoError(t, s.UpdateRunError(ctx, run.JobID, "producer failed"))

	got, err = s.GetRun(ctx, run.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Equal(t, int64(3), got.LastEventID)
	require.NotNil(t, got.ApplicationID)
	assert.Equal(t, "app-7", *got.ApplicationID)
	require.NotNil(t, got.Error)
	assert.Equal(t, "producer failed", *got.Error)
}

func testRunNotFound(t *testing.T, s storage.RunStore) {
	ctx := context.Background()

	got, err := s.GetRun(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, s.UpdateRunStatus(ctx, "missing", model.RunStatusFailed, 1), storage.ErrNotFound)
	assert.ErrorIs(t, s.UpdateRunError(ctx, "missing", "x"), storage.ErrNotFound)
	assert.ErrorIs(t, s.SetRunApplication(ctx, "missing", "app"), storage.ErrNotFound)
}

func testListRunsByClient(t *testing.T, s storage.RunStore) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		run := model.NewRun(fmt.Sprintf("job-list-%d", i), "client-a")
		run.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		run.UpdatedAt = run.CreatedAt
		require.NoError(t, s.CreateRun(ctx, run))
	}
	require.NoError(t, s.CreateRun(ctx, model.NewRun("job-other", "client-b")))

	runs, err := s.ListRunsByClient(ctx, "client-a", 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "job-list-2", runs[0].JobID)
	assert.Equal(t, "job-list-0", runs[2].JobID)

	runs, err = s.ListRunsByClient(ctx, "client-a", 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListRunsByClient(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func appendN(t *testing.T, s storage.RunStore, jobID string, from, to int64) {
	t.Helper()
	for id := from; id <= to; id++ {
		ev := model.NewAgentChunk(jobID, "rewriting", int(id), fmt.Sprintf("chunk %d", id))
		require.NoError(t, s.AppendEvent(context.Background(), model.NewEnvelope(id, ev)))
	}
}

func testEventLog(t *testing.T, s storage.RunStore) {
	ctx := context.Background()

	maxID, err := s.GetMaxEventID(ctx, "job-log")
	require.NoError(t, err)
	assert.Zero(t, maxID)

	empty, err := s.GetEventsAfter(ctx, "job-log", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	appendN(t, s, "job-log", 1, 20)

	maxID, err = s.GetMaxEventID(ctx, "job-log")
	require.NoError(t, err)
	assert.Equal(t, int64(20), maxID)

	envs, err := s.GetEventsAfter(ctx, "job-log", 15, 0)
	require.NoError(t, err)
	require.Len(t, envs, 5)
	for i, env := range envs {
		assert.Equal(t, int64(16+i), env.EventID)
		chunk, ok := env.Event.(model.AgentChunk)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("chunk %d", 16+i), chunk.Text)
		assert.Equal(t, "job-log", chunk.JobID())
	}

	envs, err = s.GetEventsAfter(ctx, "job-log", 0, 4)
	require.NoError(t, err)
	require.Len(t, envs, 4)
	assert.Equal(t, int64(1), envs[0].EventID)
	assert.Equal(t, int64(4), envs[3].EventID)

	envs, err = s.GetEventsAfter(ctx, "job-log", 20, 0)
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func testEventLogDuplicate(t *testing.T, s storage.RunStore) {
	ctx := context.Background()
	appendN(t, s, "job-dup", 1, 2)

	err := s.AppendEvent(ctx, model.NewEnvelope(2, model.NewHeartbeat("job-dup")))
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	envs, err := s.GetEventsAfter(ctx, "job-dup", 0, 0)
	require.NoError(t, err)
	assert.Len(t, envs, 2)
}

func testEventLogIsolation(t *testing.T, s storage.RunStore) {
	ctx := context.Background()
	appendN(t, s, "job-a", 1, 3)
	appendN(t, s, "job-b", 1, 5)

	envs, err := s.GetEventsAfter(ctx, "job-a", 0, 0)
	require.NoError(t, err)
	assert.Len(t, envs, 3)

	maxID, err := s.GetMaxEventID(ctx, "job-b")
	require.NoError(t, err)
	assert.Equal(t, int64(5), maxID)
}

func testConcurrentAppend(t *testing.T, s storage.RunStore) {
	ctx := context.Background()
	const jobs = 4
	const perJob = 25

	var wg sync.WaitGroup
	errs := make(chan error, jobs*perJob)
	for j := 0; j < jobs; j++ {
		wg.Add(1)
		go func(jobID string) {
			defer wg.Done()
			for id := int64(1); id <= perJob; id++ {
				if err := s.AppendEvent(ctx, model.NewEnvelope(id, model.NewAgentChunk(jobID, "s", int(id), "x"))); err != nil {
					errs <- err
				}
			}
		}(fmt.Sprintf("job-conc-%d", j))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for j := 0; j < jobs; j++ {
		maxID, err := s.GetMaxEventID(ctx, fmt.Sprintf("job-conc-%d", j))
		require.NoError(t, err)
		assert.Equal(t, int64(perJob), maxID)
	}
}
