package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/rendertest/internal/history"
	"github.com/harrison/rendertest/internal/models"
)

func seedHistory(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := history.NewStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	attempts := []*history.Attempt{
		{BatchID: "b-1", TestGroup: "Smoke", CaseName: "A", Attempt: 1, Status: models.StatusCrash, TimedOut: true, Duration: 30 * time.Second, StartedAt: started, Message: "render timed out after 30s on try #1"},
		{BatchID: "b-1", TestGroup: "Smoke", CaseName: "A", Attempt: 2, Status: models.StatusSuccess, Duration: 12 * time.Second, StartedAt: started.Add(time.Minute)},
		{BatchID: "b-1", TestGroup: "Smoke", CaseName: "B", Attempt: 1, Status: models.StatusDiff, Duration: 8 * time.Second, StartedAt: started.Add(2 * time.Minute), Message: "output image is truncated"},
	}
	for _, a := range attempts {
		require.NoError(t, store.RecordAttempt(context.Background(), a))
	}
	return dbPath
}

func TestHistoryCommand_Case(t *testing.T) {
	dbPath := seedHistory(t)

	output, err := executeCommand(t, "history", "--db", dbPath, "--case", "A")
	require.NoError(t, err)

	assert.Contains(t, output, "=== History for A ===")
	assert.Contains(t, output, "Attempts:     2")
	assert.Contains(t, output, "Success rate: 50.0%")
	assert.Contains(t, output, "Timeouts:     1")
	assert.Contains(t, output, "Last status:  success (batch b-1)")
	assert.Contains(t, output, "(timed out)")
	assert.NotContains(t, output, "truncated", "attempts of other cases must not be listed")
}

func TestHistoryCommand_AllCases(t *testing.T) {
	dbPath := seedHistory(t)

	output, err := executeCommand(t, "history", "--db", dbPath, "--limit", "2")
	require.NoError(t, err)

	assert.NotContains(t, output, "=== History for")
	assert.Contains(t, output, "Recent attempts:")
	assert.Contains(t, output, "output image is truncated")
	assert.NotContains(t, output, "#1  crash", "limit should keep only the newest attempts")
}

func TestHistoryCommand_UnknownCase(t *testing.T) {
	dbPath := seedHistory(t)

	output, err := executeCommand(t, "history", "--db", dbPath, "--case", "missing")
	require.NoError(t, err)
	assert.Contains(t, output, "No attempts recorded for case: missing")
}

func TestHistoryCommand_NoDatabase(t *testing.T) {
	home := isolateHome(t)

	output, err := executeCommand(t, "history")
	require.NoError(t, err)
	assert.Contains(t, output, "No attempt history found")
	assert.Contains(t, output, filepath.Join(home, "history.db"))
}

func TestShowHistory_EmptyStore(t *testing.T) {
	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	var out bytes.Buffer
	require.NoError(t, showHistory(context.Background(), store, "", 10, &out))
	assert.Contains(t, out.String(), "No attempts recorded")
}
