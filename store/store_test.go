package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/harvest/models"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := s.Record(ctx, models.RunSummary{
		StartedAt: base, DurationMs: 1200, Attempts: 1,
		Status: models.RunStatusSuccess, Listings: 12,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	second, err := s.Record(ctx, models.RunSummary{
		StartedAt: base.Add(time.Minute), DurationMs: 9000, Attempts: 3,
		Status: models.RunStatusFailed, Code: models.ErrCodeHTTP,
		Error: "API HTTP Error 503 Service Unavailable. Body: ",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, second.ID, runs[0].ID, "newest first")
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Equal(t, models.ErrCodeHTTP, runs[0].Code)
	assert.Equal(t, 3, runs[0].Attempts)
	assert.True(t, base.Add(time.Minute).Equal(runs[0].StartedAt))

	assert.Equal(t, first.ID, runs[1].ID)
	assert.Equal(t, 12, runs[1].Listings)
	assert.Equal(t, int64(1200), runs[1].DurationMs)
}

func TestStore_RecentLimit(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Record(ctx, models.RunSummary{
			StartedAt: time.Now().Add(time.Duration(i) * time.Second),
			Status:    models.RunStatusSuccess,
		})
		require.NoError(t, err)
	}
	runs, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestStore_EmptyHistory(t *testing.T) {
	runs, err := openTest(t).Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestStore_KeepsExplicitID(t *testing.T) {
	s := openTest(t)
	run, err := s.Record(context.Background(), models.RunSummary{ID: "fixed", StartedAt: time.Now(), Status: models.RunStatusSuccess})
	require.NoError(t, err)
	assert.Equal(t, "fixed", run.ID)

	_, err = s.Record(context.Background(), models.RunSummary{ID: "fixed", StartedAt: time.Now(), Status: models.RunStatusSuccess})
	assert.Error(t, err, "duplicate id must be rejected")
}

func TestStore_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "harvest.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Record(context.Background(), models.RunSummary{StartedAt: time.Now(), Status: models.RunStatusSuccess})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestWriteJSON(t *testing.T) {
	dir := t.TempDir()

	raw := filepath.Join(dir, "out", "payload.json")
	require.NoError(t, WriteJSON(raw, json.RawMessage(`{"Results":[{"Id":"1"}]}`)))
	data, err := os.ReadFile(raw)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"Results\": [\n    {\n      \"Id\": \"1\"\n    }\n  ]\n}\n", string(data))

	listings := filepath.Join(dir, "report.json")
	require.NoError(t, WriteJSON(listings, []models.Phone{{Type: "Fax", Number: "416-555-0100"}}))
	data, err = os.ReadFile(listings)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"Fax","number":"416-555-0100"}]`, string(data))

	assert.Error(t, WriteJSON(filepath.Join(dir, "bad.json"), json.RawMessage(`{`)))
}
