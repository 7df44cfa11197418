package journal

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equipviz/internal/core"
	"equipviz/internal/log"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []core.Activity{
		{Username: "alice", Kind: core.ActivityLogin, At: base},
		{Username: "alice", Kind: core.ActivityUpload, DatasetID: 7, Filename: "plant.csv", At: base.Add(time.Minute)},
		{Username: "bob", Kind: core.ActivityLogin, At: base.Add(2 * time.Minute)},
		{Username: "alice", Kind: core.ActivityReport, DatasetID: 7, At: base.Add(3 * time.Minute)},
	}
	for _, a := range entries {
		require.NoError(t, j.Record(ctx, a))
	}

	got, err := j.Recent(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.ActivityReport, got[0].Kind)
	assert.Equal(t, core.DatasetID(7), got[0].DatasetID)
	assert.Equal(t, core.ActivityUpload, got[1].Kind)
	assert.Equal(t, "plant.csv", got[1].Filename)
	assert.True(t, got[1].At.Equal(base.Add(time.Minute)))

	all, err := j.All(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "alice", all[0].Username)
}

func TestRecordLogsWithJournalComponent(t *testing.T) {
	var buf bytes.Buffer
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), log.New(log.Config{Level: slog.LevelDebug, Output: &buf}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	a := core.NewActivity("alice", core.ActivityReport)
	a.DatasetID = 7
	require.NoError(t, j.Record(context.Background(), a))

	out := buf.String()
	assert.Contains(t, out, "component=journal")
	assert.Contains(t, out, "username=alice")
	assert.Contains(t, out, "dataset_id=7")
}

func TestRecordWithoutDataset(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, core.NewActivity("carol", core.ActivityLoginFailed)))
	got, err := j.Recent(ctx, "carol", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].DatasetID.Valid())
	assert.False(t, got[0].At.IsZero())
}

func TestRecentUnknownUser(t *testing.T) {
	j := openTestJournal(t)
	got, err := j.Recent(context.Background(), "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), core.NewActivity("alice", core.ActivityLogout)))
	require.NoError(t, j.Close())

	j, err = Open(path, nil)
	require.NoError(t, err)
	defer j.Close()
	got, err := j.Recent(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
