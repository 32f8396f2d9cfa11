package runstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id, err := db.BeginRun("data/scene1", started)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, db.RecordStage(StageRecord{
		RunID:    id,
		Stage:    "preprocess",
		Artifact: "output/left_resized",
		Duration: 1500 * time.Millisecond,
	}))
	require.NoError(t, db.RecordStage(StageRecord{
		RunID:    id,
		Stage:    "corners",
		Error:    "chessboard not found",
		Duration: 300 * time.Millisecond,
	}))
	require.NoError(t, db.FinishRun(id, started.Add(time.Minute), 12345, 0.42))

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "data/scene1", runs[0].DataDir)
	assert.Equal(t, 12345, runs[0].Points)
	assert.InDelta(t, 0.42, runs[0].RMSError, 1e-9)

	stages, err := db.ListStages(id)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "preprocess", stages[0].Stage)
	assert.Equal(t, "output/left_resized", stages[0].Artifact)
	assert.Equal(t, 1500*time.Millisecond, stages[0].Duration)
	assert.Equal(t, "chessboard not found", stages[1].Error)
}

func TestListRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	old, err := db.BeginRun("data/old", base)
	require.NoError(t, err)
	recent, err := db.BeginRun("data/recent", base.Add(time.Hour))
	require.NoError(t, err)

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, recent, runs[0].ID)
	assert.Equal(t, old, runs[1].ID)
}

func TestListRunsHonorsLimit(t *testing.T) {
	db := openTestDB(t)
	base := time.Now()
	for i := 0; i < 5; i++ {
		_, err := db.BeginRun("data", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	runs, err := db.ListRuns(3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestListStagesUnknownRun(t *testing.T) {
	db := openTestDB(t)
	stages, err := db.ListStages("no-such-run")
	require.NoError(t, err)
	assert.Empty(t, stages)
}

func TestNewRunIDsAreUnique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
