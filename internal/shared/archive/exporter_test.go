package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"resume-optimizer/internal/config"
	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/shared/storage/memstore"
	"resume-optimizer/internal/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memObjects) Upload(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: %d != %d", len(data), size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memObjects) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotArchived
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestArchiveFinishedJob(t *testing.T) {
	sm := stream.NewManager(memstore.New(), stream.Options{})
	sm.Emit(model.NewJobStatus("job-1", model.RunStatusRunning, ""))
	sm.Emit(model.NewAgentChunk("job-1", "analyzing", 1, "line one\nline two"))
	sm.Emit(model.NewHeartbeat("job-1"))
	sm.Emit(model.NewDone("job-1", model.RunStatusCompleted))

	objects := newMemObjects()
	exp := NewExporter(sm, objects)
	key, err := exp.Archive(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "jobs/job-1/events.ndjson", key)
	assert.Equal(t, "application/x-ndjson", objects.types[key])
	// 心跳不归档
	assert.Equal(t, 3, strings.Count(string(objects.objects[key]), "\n"))

	envs, err := exp.Load(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, envs, 3)
	assert.Equal(t, int64(4), envs[2].EventID)
	assert.Equal(t, model.EventTypeDone, envs[2].Type())
	assert.Equal(t, "line one\nline two", envs[1].Event.(model.AgentChunk).Text)
}

func TestArchiveWaitsForDone(t *testing.T) {
	sm := stream.NewManager(memstore.New(), stream.Options{})
	sm.Emit(model.NewAgentChunk("job-2", "rewriting", 1, "a"))

	exp := NewExporter(sm, newMemObjects())
	result := make(chan error, 1)
	go func() {
		_, err := exp.Archive(context.Background(), "job-2")
		result <- err
	}()

	require.Eventually(t, func() bool { return sm.HasSubscribers("job-2") }, time.Second, 5*time.Millisecond)
	sm.Emit(model.NewAgentChunk("job-2", "rewriting", 2, "b"))
	sm.Emit(model.NewDone("job-2", model.RunStatusFailed))
	require.NoError(t, <-result)

	envs, err := exp.Load(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Len(t, envs, 3)
}

func TestArchiveCancelled(t *testing.T) {
	sm := stream.NewManager(memstore.New(), stream.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewExporter(sm, newMemObjects()).Archive(ctx, "job-3")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, sm.HasSubscribers("job-3"))
}

func TestLoadMissing(t *testing.T) {
	_, err := NewExporter(nil, newMemObjects()).Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotArchived)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(config.ArchiveConfig{})
	assert.Error(t, err)
	_, err = NewClient(config.ArchiveConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)

	c, err := NewClient(config.ArchiveConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)
	assert.Equal(t, "resume-events", c.bucket)
}
