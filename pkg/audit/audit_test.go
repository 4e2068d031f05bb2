package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, time.May, 4, 8, 0, 0, 0, time.UTC)

func TestLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)

	require.NoError(t, l.Log(Event{Type: EventWaterRefill, HouseholdID: "h-1", Timestamp: t0, Success: true}))
	require.NoError(t, l.Log(Event{Type: EventWaterRefill, HouseholdID: "h-1", Timestamp: t0, Success: true}))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second Event
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID, "ids are unique within a timestamp")
	assert.True(t, first.Timestamp.Equal(t0))

	t.Run("requires_type_and_time", func(t *testing.T) {
		assert.Error(t, l.Log(Event{Timestamp: t0}))
		assert.Error(t, l.Log(Event{Type: EventLogin}))
	})

	t.Run("closed", func(t *testing.T) {
		require.NoError(t, l.Close())
		assert.ErrorIs(t, l.Log(Event{Type: EventLogin, Timestamp: t0}), ErrClosed)
	})
}

func TestLogger_Disabled(t *testing.T) {
	l, err := NewLogger(Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, l.Enabled())
	assert.NoError(t, l.Log(Event{}))

	var nilLogger *Logger
	assert.False(t, nilLogger.Enabled())
	assert.NoError(t, nilLogger.Log(Event{Type: EventLogin, Timestamp: t0}))
	assert.NoError(t, nilLogger.Close())
}

func TestReader_Query(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "activity.log")
	l, err := NewLogger(Config{Enabled: true, LogPath: path, SyncWrites: true})
	require.NoError(t, err)

	require.NoError(t, l.LogAuth(EventLogin, "h-1", t0, true, ""))
	require.NoError(t, l.LogAuth(EventLoginFailed, "h-1", t0.Add(time.Minute), false, "wrong passphrase"))
	require.NoError(t, l.Log(Event{Type: EventTaskComplete, HouseholdID: "h-1", Timestamp: t0.Add(time.Hour), Resource: "task", ResourceID: "litter", Success: true}))
	require.NoError(t, l.Log(Event{Type: EventWaterRefill, HouseholdID: "h-2", Timestamp: t0.Add(2 * time.Hour), Success: true}))
	require.NoError(t, l.Close())

	// A torn line is skipped.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o640)
	require.NoError(t, err)
	_, err = f.WriteString("{\"type\":\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r := NewReader(path)

	t.Run("by_household", func(t *testing.T) {
		res, err := r.Query(Query{HouseholdID: "h-1"})
		require.NoError(t, err)
		assert.Equal(t, 3, res.TotalCount)
		assert.False(t, res.HasMore)
	})

	t.Run("newest_first_paged", func(t *testing.T) {
		res, err := r.Query(Query{HouseholdID: "h-1", Newest: true, Limit: 1})
		require.NoError(t, err)
		require.Len(t, res.Events, 1)
		assert.Equal(t, EventTaskComplete, res.Events[0].Type)
		assert.True(t, res.HasMore)
	})

	t.Run("failures_only", func(t *testing.T) {
		failed := false
		res, err := r.Query(Query{Success: &failed})
		require.NoError(t, err)
		require.Len(t, res.Events, 1)
		assert.Equal(t, "wrong passphrase", res.Events[0].Reason)
	})

	t.Run("time_and_type", func(t *testing.T) {
		res, err := r.Query(Query{StartTime: t0.Add(30 * time.Minute), EventTypes: []EventType{EventWaterRefill, EventTaskComplete}})
		require.NoError(t, err)
		assert.Equal(t, 2, res.TotalCount)

		res, err = r.Query(Query{ResourceID: "litter"})
		require.NoError(t, err)
		assert.Equal(t, 1, res.TotalCount)
	})

	t.Run("offset_past_end", func(t *testing.T) {
		res, err := r.Query(Query{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, res.Events)
		assert.Equal(t, 4, res.TotalCount)
	})

	t.Run("missing_file", func(t *testing.T) {
		res, err := NewReader(filepath.Join(t.TempDir(), "none.log")).Query(Query{})
		require.NoError(t, err)
		assert.Empty(t, res.Events)
	})
}
