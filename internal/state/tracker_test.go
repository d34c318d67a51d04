package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return NewTracker(filepath.Join(t.TempDir(), "latest_records.json"), zap.NewNop())
}

func TestIsNew_NoPriorState(t *testing.T) {
	tr := newTestTracker(t)

	assert.True(t, tr.IsNew(0, "100", time.Now()))
	assert.True(t, tr.IsNew(5, "1", time.Time{}))
}

func TestIsNew_SameIDNeverNew(t *testing.T) {
	tr := newTestTracker(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.Update(0, "100", base)

	// Same id is rejected even with a later timestamp.
	assert.False(t, tr.IsNew(0, "100", base.Add(10*time.Minute)))
	assert.False(t, tr.IsNew(0, "100", base))
}

func TestIsNew_DifferentIDRequiresLaterTimestamp(t *testing.T) {
	tr := newTestTracker(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.Update(0, "100", base)

	assert.False(t, tr.IsNew(0, "99", base.Add(-time.Minute)), "older timestamp must be rejected")
	assert.False(t, tr.IsNew(0, "101", base), "equal timestamp must be rejected")
	assert.True(t, tr.IsNew(0, "101", base.Add(5*time.Minute)))
}

func TestIsNew_ColumnsAreIndependent(t *testing.T) {
	tr := newTestTracker(t)
	tr.Update(0, "100", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	assert.True(t, tr.IsNew(1, "100", time.Time{}), "other columns have no prior state")
}

func TestUpdate_AcceptanceScenario(t *testing.T) {
	tr := newTestTracker(t)
	tr.Update(0, "100", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	newTS := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)
	require.True(t, tr.IsNew(0, "101", newTS))
	tr.Update(0, "101", newTS)

	cs, ok := tr.Get(0)
	require.True(t, ok)
	assert.Equal(t, "101", cs.LastID)
	assert.Equal(t, newTS, cs.LastTimestamp)
}

func TestUpdate_RejectedRecordLeavesStateUnchanged(t *testing.T) {
	tr := newTestTracker(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.Update(0, "100", base)

	// Same id with a later timestamp: rejected, no update performed.
	require.False(t, tr.IsNew(0, "100", base.Add(10*time.Minute)))

	cs, ok := tr.Get(0)
	require.True(t, ok)
	assert.Equal(t, "100", cs.LastID)
	assert.Equal(t, base, cs.LastTimestamp)
}

func TestPersistence_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest_records.json")
	ts := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)

	tr := NewTracker(path, zap.NewNop())
	tr.Update(0, "101", ts)
	tr.Update(3, "555", ts.Add(time.Hour))

	reloaded := NewTracker(path, zap.NewNop())
	require.NoError(t, reloaded.Load())
	require.Equal(t, 2, reloaded.Len())

	cs, ok := reloaded.Get(0)
	require.True(t, ok)
	assert.Equal(t, "101", cs.LastID)
	assert.True(t, cs.LastTimestamp.Equal(ts))

	assert.False(t, reloaded.IsNew(0, "101", ts.Add(time.Hour)))
	assert.True(t, reloaded.IsNew(0, "200", ts.Add(time.Hour)))
}

func TestPersistence_FileShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest_records.json")

	tr := NewTracker(path, zap.NewNop())
	tr.Update(0, "101", time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var m map[string]struct {
		ID        string    `json:"id"`
		Timestamp time.Time `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(data, &m))
	require.Contains(t, m, "0")
	assert.Equal(t, "101", m["0"].ID)
}

func TestCompact_KeepsEntriesAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest_records.json")
	ts := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)

	tr := NewTracker(path, zap.NewNop())
	tr.Update(0, "101", ts)
	tr.Update(1, "202", ts)

	tr.Compact()

	require.Equal(t, 2, tr.Len())
	assert.False(t, tr.IsNew(0, "101", ts.Add(time.Hour)),
		"recency entries survive the cleanup pass")

	reloaded := NewTracker(path, zap.NewNop())
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 2, reloaded.Len())
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	tr := NewTracker(filepath.Join(t.TempDir(), "nope.json"), zap.NewNop())
	require.NoError(t, tr.Load())
	assert.Zero(t, tr.Len())
}

func TestLoad_CorruptFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest_records.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	tr := NewTracker(path, zap.NewNop())
	assert.Error(t, tr.Load())
}
