// Package state tracks the last accepted record per deck column and decides
// whether a freshly extracted record is actually new.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ColumnState is the last accepted record identity for one column.
type ColumnState struct {
	LastID        string    `json:"id"`
	LastTimestamp time.Time `json:"timestamp"`
}

// Tracker maintains per-column recency state, persisted as a single JSON
// file that is rewritten whole on every update. The ingestion loop is the
// only writer; the mutex exists so cleanup hooks can read sizes safely.
type Tracker struct {
	mu      sync.Mutex
	path    string
	columns map[string]ColumnState
	log     *zap.Logger
}

// NewTracker creates a tracker persisting to path.
func NewTracker(path string, log *zap.Logger) *Tracker {
	return &Tracker{
		path:    path,
		columns: make(map[string]ColumnState),
		log:     log,
	}
}

// Load reads the persisted state. A missing file is not an error and leaves
// the tracker empty.
func (t *Tracker) Load() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	columns := make(map[string]ColumnState)
	if err := json.Unmarshal(data, &columns); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}

	t.mu.Lock()
	t.columns = columns
	t.mu.Unlock()

	t.log.Info("loaded recency state", zap.Int("columns", len(columns)))
	return nil
}

// IsNew reports whether a record with the given identity should be accepted
// for the column. No prior state means new. The same id as stored is never
// new, regardless of timestamp. A different id is new only when its
// timestamp is strictly later than the stored one, which guards against a
// pinned or promoted older item transiently appearing at the top.
func (t *Tracker) IsNew(columnIndex int, id string, ts time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.columns[key(columnIndex)]
	if !ok {
		return true
	}
	if id == prev.LastID {
		return false
	}
	return ts.After(prev.LastTimestamp)
}

// Update overwrites the column's entry and rewrites the persisted file. A
// persistence failure is logged, never surfaced: the in-memory state is
// already authoritative for this process.
func (t *Tracker) Update(columnIndex int, id string, ts time.Time) {
	t.mu.Lock()
	t.columns[key(columnIndex)] = ColumnState{LastID: id, LastTimestamp: ts}
	t.mu.Unlock()

	if err := t.save(); err != nil {
		t.log.Error("failed to persist recency state", zap.Error(err))
	}
}

// Compact rebuilds the column map at its current size, releasing capacity
// left over from columns that no longer exist. Called by the resource
// guardian's cleanup pass; the recency entries themselves are kept.
func (t *Tracker) Compact() {
	t.mu.Lock()
	columns := make(map[string]ColumnState, len(t.columns))
	for k, v := range t.columns {
		columns[k] = v
	}
	t.columns = columns
	t.mu.Unlock()

	if err := t.save(); err != nil {
		t.log.Error("failed to persist recency state", zap.Error(err))
	}
}

// Get returns the stored state for a column, if any.
func (t *Tracker) Get(columnIndex int) (ColumnState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs, ok := t.columns[key(columnIndex)]
	return cs, ok
}

// Len returns the number of tracked columns.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.columns)
}

func (t *Tracker) save() error {
	t.mu.Lock()
	data, err := json.MarshalIndent(t.columns, "", "  ")
	t.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(t.path, data, 0o600)
}

func key(columnIndex int) string {
	return strconv.Itoa(columnIndex)
}
