package driver

import (
	"context"
	"path/filepath"
	"testing"

	"resume-optimizer/internal/config"
	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/shared/storage/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "r.db")
	cfg := &config.Config{DatabaseDriver: "sqlite", DatabaseURL: "file:" + path + "?mode=rwc"}

	s, err := Open(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, model.NewRun("job-1", "c")))
	require.NoError(t, s.AppendEvent(ctx, model.NewEnvelope(1, model.NewHeartbeat("job-1"))))
	require.NoError(t, s.Close())

	// 重新打开后数据仍在
	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()
	maxID, err := s.GetMaxEventID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), maxID)
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(&config.Config{DatabaseDriver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memstore.Store{}, s)
}

func TestOpenUnsupported(t *testing.T) {
	_, err := Open(&config.Config{DatabaseDriver: "oracle"})
	assert.Error(t, err)

	_, err = OpenSQL("mongodb", "x")
	assert.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file:/tmp/x.db", sqliteDSN("sqlite:///tmp/x.db"))
	assert.Equal(t, "file:a.db?mode=rwc", sqliteDSN("file:a.db?mode=rwc"))
}
