package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/shared/storage/memstore"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts Options) (*Manager, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	return NewManager(store, opts), store
}

func chunk(jobID string, i int) model.Event {
	return model.NewAgentChunk(jobID, "rewriting", i, fmt.Sprintf("text-%d", i))
}

// drainAll 读取订阅直到通道关闭
func drainAll(t *testing.T, sub *Subscriber) []*model.Envelope {
	t.Helper()
	var out []*model.Envelope
	timeout := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, env)
		case <-timeout:
			t.Fatalf("subscriber for %s not closed, got %d events", sub.JobID(), len(out))
			return out
		}
	}
}

// readN 读取 n 个事件
func readN(t *testing.T, sub *Subscriber, n int) []*model.Envelope {
	t.Helper()
	out := make([]*model.Envelope, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case env, ok := <-sub.C():
			require.True(t, ok, "channel closed after %d events", len(out))
			out = append(out, env)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func ids(envs []*model.Envelope) []int64 {
	out := make([]int64, len(envs))
	for i, env := range envs {
		out[i] = env.EventID
	}
	return out
}

func seq(from, to int64) []int64 {
	out := []int64{}
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

// ============================================================================
// 序号
// ============================================================================

func TestEmitAssignsGapFreeIDsPerJob(t *testing.T) {
	m, store := newTestManager(t, Options{})
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		id, ok := m.Emit(chunk("job-a", i))
		require.True(t, ok)
		assert.Equal(t, int64(i), id)

		if i%2 == 0 {
			id, ok = m.Emit(chunk("job-b", i))
			require.True(t, ok)
			assert.Equal(t, int64(i/2), id)
		}
	}

	stored, err := store.GetEventsAfter(ctx, "job-a", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, seq(1, 10), ids(stored))

	stored, err = store.GetEventsAfter(ctx, "job-b", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, seq(1, 5), ids(stored))
}

func TestHeartbeatTakesIDButIsNotPersisted(t *testing.T) {
	m, store := newTestManager(t, Options{})
	ctx := context.Background()

	m.Emit(chunk("job-1", 1))
	id, ok := m.Emit(model.NewHeartbeat("job-1"))
	require.True(t, ok)
	assert.Equal(t, int64(2), id)
	m.Emit(chunk("job-1", 2))

	stored, err := store.GetEventsAfter(ctx, "job-1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids(stored))

	sub, err := m.Subscribe(ctx, "job-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids(readN(t, sub, 3)))
}

func TestSequenceRecoveredAfterRestart(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	for i := int64(1); i <= 20; i++ {
		require.NoError(t, store.AppendEvent(ctx, model.NewEnvelope(i, chunk("job-r", int(i)))))
	}

	m := NewManager(store, Options{})
	sub, err := m.Subscribe(ctx, "job-r", 15)
	require.NoError(t, err)
	assert.Equal(t, seq(16, 20), ids(readN(t, sub, 5)))

	id, ok := m.Emit(chunk("job-r", 21))
	require.True(t, ok)
	assert.Equal(t, int64(21), id)
	assert.Equal(t, []int64{21}, ids(readN(t, sub, 1)))
}

func TestFinishedJobRecoveredAsSealed(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	run := model.NewRun("job-f", "c")
	run.Status = model.RunStatusCompleted
	run.LastEventID = 2
	require.NoError(t, store.CreateRun(ctx, run))
	require.NoError(t, store.AppendEvent(ctx, model.NewEnvelope(1, chunk("job-f", 1))))
	require.NoError(t, store.AppendEvent(ctx, model.NewEnvelope(2, model.NewDone("job-f", model.RunStatusCompleted))))

	m := NewManager(store, Options{})
	sub, err := m.Subscribe(ctx, "job-f", 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(drainAll(t, sub)))

	_, ok := m.Emit(chunk("job-f", 3))
	assert.False(t, ok)
}

func TestFinishedJobWithoutDoneIsSealedOnRecovery(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, model.NewRun("job-c", "c")))

	// 状态已写穿为 completed，但进程在 done 之前退出
	before := NewManager(store, Options{})
	before.Emit(model.NewJobStatus("job-c", model.RunStatusRunning, ""))
	before.Emit(chunk("job-c", 1))
	before.Emit(model.NewJobStatus("job-c", model.RunStatusCompleted, ""))

	m := NewManager(store, Options{})
	sub, err := m.Subscribe(ctx, "job-c", 0)
	require.NoError(t, err)
	got := drainAll(t, sub)
	require.Equal(t, []int64{1, 2, 3, 4}, ids(got))
	done, ok := got[3].Event.(model.Done)
	require.True(t, ok)
	assert.Equal(t, model.RunStatusCompleted, done.Status)
	assert.False(t, sub.Dropped())

	_, ok = m.Emit(chunk("job-c", 2))
	assert.False(t, ok)

	// 补发的 done 已落库，再次恢复不会重复
	again := NewManager(store, Options{})
	sub, err = again.Subscribe(ctx, "job-c", 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, ids(drainAll(t, sub)))
}

func TestRejectedJobGetsDoneOnSubscribe(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	run := model.NewRun("job-q", "c")
	run.Status = model.RunStatusFailed
	require.NoError(t, store.CreateRun(ctx, run))

	m := NewManager(store, Options{})
	sub, err := m.Subscribe(ctx, "job-q", 0)
	require.NoError(t, err)
	got := drainAll(t, sub)
	require.Len(t, got, 1)
	assert.Equal(t, model.RunStatusFailed, got[0].Event.(model.Done).Status)
}

// ============================================================================
// 订阅与回放
// ============================================================================

func TestSubscribeReplaysAfterID(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	m.Emit(model.NewJobStatus("job-e2e", model.RunStatusRunning, ""))
	for i := 1; i <= 7; i++ {
		m.Emit(chunk("job-e2e", i))
	}
	m.Emit(model.NewDone("job-e2e", model.RunStatusCompleted))

	all, err := m.Subscribe(ctx, "job-e2e", 0)
	require.NoError(t, err)
	assert.Equal(t, seq(1, 9), ids(drainAll(t, all)))

	tail, err := m.Subscribe(ctx, "job-e2e", 5)
	require.NoError(t, err)
	got := drainAll(t, tail)
	assert.Equal(t, seq(6, 9), ids(got))
	assert.Equal(t, model.EventTypeDone, got[len(got)-1].Type())
}

func TestSubscribeDuringConcurrentEmits(t *testing.T) {
	m, _ := newTestManager(t, Options{HistorySize: 50, SubscriberQueue: 5000})
	ctx := context.Background()
	const total = 2000

	for i := 1; i <= 100; i++ {
		m.Emit(chunk("job-c", i))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 101; i <= total; i++ {
			m.Emit(chunk("job-c", i))
		}
		m.Emit(model.NewDone("job-c", model.RunStatusCompleted))
	}()

	// 订阅发生在发送过程中的任意时刻
	var subs []*Subscriber
	afters := []int64{0, 10, 60, 99}
	for _, after := range afters {
		sub, err := m.Subscribe(ctx, "job-c", after)
		require.NoError(t, err)
		subs = append(subs, sub)
	}
	wg.Wait()

	for i, sub := range subs {
		got := ids(drainAll(t, sub))
		assert.Equal(t, seq(afters[i]+1, total+1), got, "after=%d", afters[i])
	}
}

func TestHistoryFallsBackToStoreBeyondRing(t *testing.T) {
	m, _ := newTestManager(t, Options{HistorySize: 5})
	ctx := context.Background()
	m.Emit(chunk("job-h", 1))
	m.Emit(model.NewHeartbeat("job-h"))
	for i := 3; i <= 20; i++ {
		m.Emit(chunk("job-h", i))
	}

	sub, err := m.Subscribe(ctx, "job-h", 0)
	require.NoError(t, err)
	// 心跳不在事件日志中，也已被挤出环形缓冲
	want := append([]int64{1}, seq(3, 20)...)
	assert.Equal(t, want, ids(readN(t, sub, len(want))))
}

func TestSlowSubscriberIsDroppedWithoutBlocking(t *testing.T) {
	m, _ := newTestManager(t, Options{SubscriberQueue: 2})
	ctx := context.Background()

	slow, err := m.Subscribe(ctx, "job-s", 0)
	require.NoError(t, err)
	fast, err := m.Subscribe(ctx, "job-s", 0)
	require.NoError(t, err)

	// fast 每收到一条才发送下一条，slow 从不读取
	result := make(chan []int64, 1)
	go func() {
		var got []int64
		for i := 1; i <= 10; i++ {
			m.Emit(chunk("job-s", i))
			got = append(got, (<-fast.C()).EventID)
		}
		m.Emit(model.NewDone("job-s", model.RunStatusCompleted))
		got = append(got, (<-fast.C()).EventID)
		result <- got
	}()

	var fastGot []int64
	select {
	case fastGot = <-result:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a full subscriber")
	}

	assert.Equal(t, seq(1, 11), fastGot)
	assert.Empty(t, drainAll(t, fast))
	assert.False(t, fast.Dropped())

	assert.True(t, slow.Dropped())
	assert.Equal(t, []int64{1, 2}, ids(drainAll(t, slow)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Metrics().SubscribersDropped))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Metrics().SubscribersActive))
}

// ============================================================================
// 结束与清理
// ============================================================================

func TestDoneSealsJob(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	sub, err := m.Subscribe(ctx, "job-d", 0)
	require.NoError(t, err)
	assert.True(t, m.HasSubscribers("job-d"))

	m.Emit(chunk("job-d", 1))
	m.Emit(model.NewDone("job-d", model.RunStatusCompleted))
	assert.Equal(t, []int64{1, 2}, ids(drainAll(t, sub)))
	assert.False(t, m.HasSubscribers("job-d"))

	_, ok := m.Emit(chunk("job-d", 2))
	assert.False(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Metrics().EventsRejected))

	late, err := m.Subscribe(ctx, "job-d", 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(drainAll(t, late)))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	sub, err := m.Subscribe(context.Background(), "job-u", 0)
	require.NoError(t, err)

	m.Unsubscribe(sub)
	m.Unsubscribe(sub)
	m.Unsubscribe(nil)
	assert.False(t, m.HasSubscribers("job-u"))
	assert.Empty(t, drainAll(t, sub))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Metrics().SubscribersActive))

	_, ok := m.Emit(chunk("job-u", 1))
	assert.True(t, ok)
}

func TestCleanupJob(t *testing.T) {
	m, store := newTestManager(t, Options{})
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, model.NewRun("job-x", "client")))

	sub, err := m.Subscribe(ctx, "job-x", 0)
	require.NoError(t, err)
	m.Emit(model.NewJobStatus("job-x", model.RunStatusRunning, ""))
	m.Emit(model.NewHeartbeat("job-x"))

	m.CleanupJob("job-x", false)
	got := drainAll(t, sub)
	require.Equal(t, []int64{1, 2, 3}, ids(got))
	done, ok := got[2].Event.(model.Done)
	require.True(t, ok)
	assert.Equal(t, model.RunStatusRunning, done.Status)
	assert.False(t, sub.Dropped())
	assert.False(t, m.HasSubscribers("job-x"))

	// 已结束，之后的事件被拒绝，再次清理不会再发 done
	_, ok = m.Emit(chunk("job-x", 1))
	assert.False(t, ok)
	m.CleanupJob("job-x", true)

	// 内存历史已释放，回放改读事件日志（心跳不落库）
	late, err := m.Subscribe(ctx, "job-x", 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids(drainAll(t, late)))

	run, err := store.GetRun(ctx, "job-x")
	require.NoError(t, err)
	assert.Equal(t, int64(3), run.LastEventID)

	m.CleanupJob("unknown", true)
}

func TestEvictFinished(t *testing.T) {
	m, store := newTestManager(t, Options{})
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.Emit(chunk("job-old", 1))
	m.Emit(model.NewDone("job-old", model.RunStatusCompleted))
	m.Emit(chunk("job-live", 1))

	now = now.Add(5 * time.Minute)
	m.Emit(chunk("job-new", 1))
	m.Emit(model.NewDone("job-new", model.RunStatusCompleted))

	assert.Equal(t, 0, m.EvictFinished(10*time.Minute))
	now = now.Add(6 * time.Minute)
	assert.Equal(t, 1, m.EvictFinished(10*time.Minute))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Metrics().JobsEvicted))

	m.mu.Lock()
	_, oldKept := m.jobs["job-old"]
	_, liveKept := m.jobs["job-live"]
	m.mu.Unlock()
	assert.False(t, oldKept)
	assert.True(t, liveKept)

	// 被移出的作业从存储恢复：回放完整、仍然是结束状态
	sub, err := m.Subscribe(ctx, "job-old", 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(drainAll(t, sub)))
	_, ok := m.Emit(chunk("job-old", 2))
	assert.False(t, ok)
	maxID, err := store.GetMaxEventID(ctx, "job-old")
	require.NoError(t, err)
	assert.Equal(t, int64(2), maxID)
}

func TestEvictFinishedWithoutStoreKeepsSequence(t *testing.T) {
	m := NewManager(nil, Options{})
	m.Emit(chunk("job-m", 1))
	m.Emit(model.NewDone("job-m", model.RunStatusCompleted))

	assert.Equal(t, 1, m.EvictFinished(0))
	assert.Equal(t, 0, m.EvictFinished(0))

	m.mu.Lock()
	job := m.jobs["job-m"]
	m.mu.Unlock()
	require.NotNil(t, job)
	assert.Nil(t, job.history)
	assert.Equal(t, int64(2), job.lastID)
	assert.True(t, job.done)
}

func TestRunRetention(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	m.Emit(model.NewDone("job-r", model.RunStatusFailed))
	m.mu.Lock()
	m.jobs["job-r"].finishedAt = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- m.RunRetention(ctx, time.Minute, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Metrics().JobsEvicted) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-result, context.Canceled)

	assert.NoError(t, m.RunRetention(context.Background(), 0, time.Second))
}

func TestHasClientsIgnoresInternalSubscribers(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	internal, err := m.SubscribeInternal(ctx, "job-h", 0)
	require.NoError(t, err)
	assert.True(t, m.HasSubscribers("job-h"))
	assert.False(t, m.HasClients("job-h"))

	client, err := m.Subscribe(ctx, "job-h", 0)
	require.NoError(t, err)
	assert.True(t, m.HasClients("job-h"))

	m.Unsubscribe(client)
	assert.False(t, m.HasClients("job-h"))
	m.Unsubscribe(internal)
	assert.False(t, m.HasSubscribers("job-h"))
	assert.False(t, m.HasClients("unknown"))
}

// ============================================================================
// 持久化
// ============================================================================

func TestStatusWriteThrough(t *testing.T) {
	m, store := newTestManager(t, Options{})
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, model.NewRun("job-w", "client")))

	m.Emit(model.NewJobStatus("job-w", model.RunStatusRunning, ""))
	m.Emit(chunk("job-w", 1))

	run, err := store.GetRun(ctx, "job-w")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.Equal(t, int64(1), run.LastEventID)

	m.Emit(model.NewJobStatus("job-w", model.RunStatusCompleted, ""))
	m.Emit(model.NewDone("job-w", model.RunStatusCompleted))

	run, err = store.GetRun(ctx, "job-w")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, int64(4), run.LastEventID)
}

func TestPersistFailureDoesNotStopDelivery(t *testing.T) {
	m, store := newTestManager(t, Options{})
	ctx := context.Background()
	store.FailAppends(errors.New("disk full"))

	sub, err := m.Subscribe(ctx, "job-p", 0)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, ok := m.Emit(chunk("job-p", i))
		require.True(t, ok)
	}
	assert.Equal(t, seq(1, 3), ids(readN(t, sub, 3)))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Metrics().PersistErrors))

	// 写穿失败（Run 不存在）同样只计数
	m.Emit(model.NewJobStatus("job-p", model.RunStatusRunning, ""))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.Metrics().PersistErrors))
}

// ============================================================================
// 协调循环
// ============================================================================

func TestEmitFromThreadWithoutLoopIsCounted(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	m.EmitFromThread(chunk("job-t", 1))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Metrics().MarshalDropped))
	assert.False(t, m.HasSubscribers("job-t"))
}

func TestEmitFromThreadDeliversThroughLoop(t *testing.T) {
	m, _ := newTestManager(t, Options{IngestQueue: 4})
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() { loopDone <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		m.loopMu.Lock()
		defer m.loopMu.Unlock()
		return m.running
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, m.Run(ctx), ErrLoopRunning)

	sub, err := m.Subscribe(context.Background(), "job-t", 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				m.EmitFromThread(chunk("job-t", w*100+i))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, seq(1, 100), ids(readN(t, sub, 100)))

	cancel()
	assert.ErrorIs(t, <-loopDone, context.Canceled)
	m.EmitFromThread(chunk("job-t", 999))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Metrics().MarshalDropped))
}

// ============================================================================
// 快照
// ============================================================================

func TestSnapshot(t *testing.T) {
	m, store := newTestManager(t, Options{RecentChunks: 3, RecentInsights: 2})
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, model.NewRun("job-snap", "client")))

	snap, err := m.Snapshot(ctx, "job-snap")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, snap.Status)
	assert.Empty(t, snap.History)

	m.Emit(model.NewJobStatus("job-snap", model.RunStatusRunning, ""))
	for i := 1; i <= 5; i++ {
		m.Emit(chunk("job-snap", i))
		m.Emit(model.NewInsightEmitted("job-snap", fmt.Sprintf("ins-%d", i), "rewriting", "resume_rewrite", "msg"))
	}

	snap, err = m.Snapshot(ctx, "job-snap")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, snap.Status)
	assert.False(t, snap.Done)
	assert.Equal(t, int64(11), snap.LastEventID)
	assert.Len(t, snap.History, 11)
	assert.Equal(t, []int64{6, 8, 10}, ids(snap.RecentChunks))
	assert.Equal(t, []int64{9, 11}, ids(snap.RecentInsights))
}

func TestSnapshotUnknownJobUsesStore(t *testing.T) {
	m, store := newTestManager(t, Options{})
	ctx := context.Background()
	run := model.NewRun("job-old", "client")
	run.Status = model.RunStatusFailed
	require.NoError(t, store.CreateRun(ctx, run))
	require.NoError(t, store.AppendEvent(ctx, model.NewEnvelope(1, model.NewError("job-old", "rewriting", "producer_failed", "x"))))

	snap, err := m.Snapshot(ctx, "job-old")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, snap.Status)
	assert.True(t, snap.Done)
	assert.Equal(t, int64(1), snap.LastEventID)
	assert.False(t, m.HasSubscribers("job-old"))
}
