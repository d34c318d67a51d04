// Package monitor runs the ingestion loop: locate columns, pull the newest
// record from each, keep only what the recency tracker has not seen, verify
// media, and hand accepted records to storage and notification. The loop
// never terminates because of a scraping error; it pauses briefly and tries
// again.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"deckwatch/internal/types"
)

// Extractor pulls the newest record from one column.
type Extractor interface {
	ExtractNewest(ctx context.Context, columnIndex int) (*types.Record, error)
}

// ColumnLocator discovers the deck's columns.
type ColumnLocator interface {
	LocateColumns(ctx context.Context) ([]types.Column, error)
}

// MediaFilter drops media references that no longer resolve.
type MediaFilter interface {
	FilterRecord(ctx context.Context, rec *types.Record) error
}

// RecencyTracker decides whether a record is new for its column.
type RecencyTracker interface {
	IsNew(columnIndex int, id string, ts time.Time) bool
	Update(columnIndex int, id string, ts time.Time)
}

// Recorder persists accepted records for one column and day.
type Recorder interface {
	SaveRecords(records []types.Record, date string, columnIndex int) error
}

// Loop is the ingestion loop. Construct with NewLoop and drive with Run.
type Loop struct {
	locator   ColumnLocator
	extractor Extractor
	tracker   RecencyTracker
	media     MediaFilter
	store     Recorder
	gate      *Gate
	log       *zap.Logger

	// sessionMu serializes browser access with the resource guardian's
	// session restart. Held for the duration of each tick.
	sessionMu *sync.Mutex

	tickInterval time.Duration
	errorPause   time.Duration

	// notify receives each accepted record after persistence. Optional.
	notify func(rec types.Record)

	now func() time.Time
}

// LoopOptions carries the loop's collaborators and tuning.
type LoopOptions struct {
	Locator      ColumnLocator
	Extractor    Extractor
	Tracker      RecencyTracker
	Media        MediaFilter
	Store        Recorder
	Gate         *Gate
	SessionMu    *sync.Mutex
	TickInterval time.Duration
	ErrorPause   time.Duration
	Notify       func(rec types.Record)
	Log          *zap.Logger
}

func NewLoop(opts LoopOptions) *Loop {
	l := &Loop{
		locator:      opts.Locator,
		extractor:    opts.Extractor,
		tracker:      opts.Tracker,
		media:        opts.Media,
		store:        opts.Store,
		gate:         opts.Gate,
		sessionMu:    opts.SessionMu,
		tickInterval: opts.TickInterval,
		errorPause:   opts.ErrorPause,
		notify:       opts.Notify,
		log:          opts.Log,
		now:          time.Now,
	}
	if l.gate == nil {
		l.gate = NewGate()
	}
	if l.sessionMu == nil {
		l.sessionMu = &sync.Mutex{}
	}
	if l.tickInterval <= 0 {
		l.tickInterval = 100 * time.Millisecond
	}
	if l.errorPause <= 0 {
		l.errorPause = time.Second
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	return l
}

// Run drives ticks until ctx is cancelled. A failed tick is logged and
// followed by a longer pause; it never stops the loop.
func (l *Loop) Run(ctx context.Context) {
	l.log.Info("ingestion loop started",
		zap.Duration("tick_interval", l.tickInterval))

	for {
		pause := l.tickInterval

		if l.gate.Paused() {
			l.log.Debug("scraping paused, skipping tick")
		} else if err := l.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Error("tick failed", zap.Error(err))
			pause = l.errorPause
		}

		select {
		case <-ctx.Done():
			l.log.Info("ingestion loop stopped")
			return
		case <-time.After(pause):
		}
	}
}

// Tick performs one full pass over the deck.
func (l *Loop) Tick(ctx context.Context) error {
	l.sessionMu.Lock()
	defer l.sessionMu.Unlock()

	columns, err := l.locator.LocateColumns(ctx)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return nil
	}

	accepted := make([][]types.Record, len(columns))
	var wg sync.WaitGroup
	for i, col := range columns {
		wg.Add(1)
		go func(slot int, col types.Column) {
			defer wg.Done()
			if rec := l.processColumn(ctx, col); rec != nil {
				accepted[slot] = []types.Record{*rec}
			}
		}(i, col)
	}
	wg.Wait()

	date := l.now().Format("20060102")
	for i, recs := range accepted {
		if len(recs) == 0 {
			continue
		}
		if err := l.store.SaveRecords(recs, date, columns[i].Index); err != nil {
			l.log.Error("failed to persist records",
				zap.Int("column", columns[i].Index), zap.Error(err))
		}
		if l.notify != nil {
			for _, r := range recs {
				l.notify(r)
			}
		}
	}
	return nil
}

// processColumn extracts, dedups, and media-verifies one column's newest
// record. Failures are contained here so one broken column never affects
// the others.
func (l *Loop) processColumn(ctx context.Context, col types.Column) *types.Record {
	rec, err := l.extractor.ExtractNewest(ctx, col.Index)
	if err != nil {
		l.log.Warn("column extraction failed",
			zap.Int("column", col.Index), zap.Error(err))
		return nil
	}
	if rec == nil {
		return nil
	}

	if !l.tracker.IsNew(col.Index, rec.ID, rec.Timestamp) {
		return nil
	}

	// Update before persistence. A crash between here and the storage
	// write loses this record rather than re-emitting it on restart.
	l.tracker.Update(col.Index, rec.ID, rec.Timestamp)

	if rec.HasMedia && l.media != nil {
		if err := l.media.FilterRecord(ctx, rec); err != nil {
			l.log.Warn("media verification failed, keeping record as-is",
				zap.Int("column", col.Index), zap.String("id", rec.ID), zap.Error(err))
		}
	}

	if !rec.Valid() {
		l.log.Debug("record empty after media filtering, dropping",
			zap.Int("column", col.Index), zap.String("id", rec.ID))
		return nil
	}

	rec.ColumnIndex = col.Index
	l.log.Info("new record accepted",
		zap.Int("column", col.Index),
		zap.String("id", rec.ID),
		zap.String("author", rec.Author))
	return rec
}
