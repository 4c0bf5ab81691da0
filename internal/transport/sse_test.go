package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/shared/storage/memstore"
	"resume-optimizer/internal/stream"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emitScenario 一个完整作业：started、5 个片段、步骤完成、completed、done
func emitScenario(m *stream.Manager, jobID string) {
	m.Emit(model.NewJobStatus(jobID, model.RunStatusRunning, "started"))
	for i := 1; i <= 5; i++ {
		m.Emit(model.NewAgentChunk(jobID, "analyzing", i, "chunk"))
	}
	m.Emit(model.NewAgentStepCompleted(jobID, "analyzing", "analyst", 25, "m", 0.01))
	m.Emit(model.NewJobStatus(jobID, model.RunStatusCompleted, ""))
	m.Emit(model.NewDone(jobID, model.RunStatusCompleted))
}

func newSSEServer(t *testing.T, m *stream.Manager, opts Options) (*httptest.Server, *SSE) {
	t.Helper()
	sse := NewSSE(m, opts, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse.ServeSSE(w, r, strings.TrimPrefix(r.URL.Path, "/jobs/"))
	}))
	t.Cleanup(srv.Close)
	return srv, sse
}

// readEvents 读取直到连接结束，返回事件 id 和保活帧数
func readEvents(t *testing.T, body io.Reader) ([]int64, int) {
	t.Helper()
	rd := NewReader(body)
	var ids []int64
	keepAlives := 0
	for {
		f, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return ids, keepAlives
		}
		require.NoError(t, err)
		if f.KeepAlive() {
			keepAlives++
			continue
		}
		env, err := f.Envelope()
		require.NoError(t, err)
		ids = append(ids, env.EventID)
	}
}

func TestSSEReplayAndResume(t *testing.T) {
	m := stream.NewManager(memstore.New(), stream.Options{})
	emitScenario(m, "job-1")
	srv, sse := newSSEServer(t, m, Options{MinFrameBytes: 512})

	resp, err := http.Get(srv.URL + "/jobs/job-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	ids, keepAlives := readEvents(t, resp.Body)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9}, ids)
	assert.Equal(t, 1, keepAlives)

	req, _ := http.NewRequest("GET", srv.URL+"/jobs/job-1", nil)
	req.Header.Set("Last-Event-ID", "5")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	ids, _ = readEvents(t, resp2.Body)
	assert.Equal(t, []int64{6, 7, 8, 9}, ids)

	assert.Equal(t, float64(1), testutil.ToFloat64(sse.metrics.Resumes.WithLabelValues("sse")))
	assert.Equal(t, float64(13), testutil.ToFloat64(sse.metrics.Frames.WithLabelValues("sse", "event")))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(sse.metrics.Connections.WithLabelValues("sse")) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSSEFramesArePadded(t *testing.T) {
	m := stream.NewManager(memstore.New(), stream.Options{})
	m.Emit(model.NewDone("job-p", model.RunStatusCompleted))
	srv, _ := newSSEServer(t, m, Options{MinFrameBytes: DefaultMinFrameBytes})

	resp, err := http.Get(srv.URL + "/jobs/job-p")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	// 保活帧 + done 帧
	assert.Len(t, body, 2*DefaultMinFrameBytes)
}

func TestSSELiveWithKeepAlive(t *testing.T) {
	m := stream.NewManager(memstore.New(), stream.Options{})
	srv, _ := newSSEServer(t, m, Options{KeepAlive: 20 * time.Millisecond})

	resp, err := http.Get(srv.URL + "/jobs/job-live")
	require.NoError(t, err)
	defer resp.Body.Close()

	rd := NewReader(resp.Body)
	f, err := rd.Next()
	require.NoError(t, err)
	assert.True(t, f.KeepAlive())

	// 空闲时持续收到保活帧
	f, err = rd.Next()
	require.NoError(t, err)
	assert.True(t, f.KeepAlive())

	m.Emit(model.NewAgentChunk("job-live", "polishing", 1, "hello"))
	m.Emit(model.NewDone("job-live", model.RunStatusCompleted))

	ids, _ := readEvents(t, rd.r)
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestSSEClientDisconnectUnsubscribes(t *testing.T) {
	m := stream.NewManager(memstore.New(), stream.Options{})
	srv, _ := newSSEServer(t, m, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/jobs/job-gone", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_, err = NewReader(resp.Body).Next()
	require.NoError(t, err)
	assert.True(t, m.HasSubscribers("job-gone"))

	cancel()
	resp.Body.Close()
	require.Eventually(t, func() bool { return !m.HasSubscribers("job-gone") }, 2*time.Second, 5*time.Millisecond)
}
