package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFrames(t *testing.T, w http.ResponseWriter, envs ...*model.Envelope) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Write(transport.KeepAliveFrame())
	for _, env := range envs {
		frame, err := transport.EncodeFrame(env)
		require.NoError(t, err)
		w.Write(frame)
	}
}

func TestTailReconnectsWithLastEventID(t *testing.T) {
	var calls atomic.Int32
	var resumedFrom atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/job-1/stream", r.URL.Path)
		switch calls.Add(1) {
		case 1:
			writeFrames(t, w,
				model.NewEnvelope(1, model.NewJobStatus("job-1", model.RunStatusRunning, "")),
				model.NewEnvelope(2, model.NewAgentChunk("job-1", "analyzing", 1, "hello")),
			)
		default:
			resumedFrom.Store(r.Header.Get("Last-Event-ID"))
			writeFrames(t, w,
				model.NewEnvelope(2, model.NewAgentChunk("job-1", "analyzing", 1, "hello")),
				model.NewEnvelope(3, model.NewDone("job-1", model.RunStatusCompleted)),
			)
		}
	}))
	defer srv.Close()

	var got []int64
	err := newAPIClient(srv.URL, "").tail(context.Background(), "job-1", 0, 2, time.Millisecond, func(env *model.Envelope) error {
		got = append(got, env.EventID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, got)
	assert.Equal(t, "2", resumedFrom.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestTailGivesUpWithoutProgress(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeFrames(t, w)
	}))
	defer srv.Close()

	err := newAPIClient(srv.URL, "").tail(context.Background(), "job-1", 0, 2, time.Millisecond, func(*model.Envelope) error {
		return nil
	})
	assert.ErrorIs(t, err, errStreamEnded)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTailReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"job not found"}`))
	}))
	defer srv.Close()

	err := newAPIClient(srv.URL, "tok").tail(context.Background(), "nope", 0, 0, time.Millisecond, func(*model.Envelope) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found")
}

func TestSubmitAndSnapshotCommands(t *testing.T) {
	var submitted submitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/jobs":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"job_id":"job-9"}`))
		case r.URL.Path == "/api/v1/jobs/job-9/snapshot":
			w.Write([]byte(`{"job_id":"job-9","status":"running","done":false,"last_event_id":4,"history":[],"recent_chunks":[],"recent_insights":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	jobFile := dir + "/jd.txt"
	resumeFile := dir + "/resume.txt"
	require.NoError(t, writeFile(jobFile, "Go engineer"))
	require.NoError(t, writeFile(resumeFile, "Jane Doe"))

	out := new(bytes.Buffer)
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--server", srv.URL, "submit", "--job", jobFile, "--resume", resumeFile, "--application-id", "app-3"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "job-9\n", out.String())
	assert.Equal(t, "Go engineer", submitted.JobDescription)
	assert.Equal(t, "Jane Doe", submitted.Resume)
	assert.Equal(t, "app-3", submitted.ApplicationID)

	out.Reset()
	cmd = newRootCmd()
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--server", srv.URL, "snapshot", "job-9"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"last_event_id": 4`)
	assert.Contains(t, out.String(), `"status": "running"`)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	out := new(bytes.Buffer)
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetArgs([]string{"token", "client-1"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out.String()), "."))
}

func TestPrintEvent(t *testing.T) {
	out := new(bytes.Buffer)
	printEvent(out, model.NewEnvelope(7, model.NewInsightEmitted("j", "i1", "analyzing", "gap", "Missing Kubernetes")))
	assert.Contains(t, out.String(), "insight(gap): Missing Kubernetes")
	assert.True(t, strings.HasPrefix(out.String(), "    7 "))
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
