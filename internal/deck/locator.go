package deck

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"deckwatch/internal/types"
)

// coldPageWait is how long the locator waits before its single retry when
// the first pass finds no columns; a freshly navigated deck may not have
// rendered yet.
const coldPageWait = 8 * time.Second

// Locator finds the deck's content columns.
type Locator struct {
	session Evaluator
	log     *zap.Logger
	wait    time.Duration
}

// NewLocator creates a locator over a page session.
func NewLocator(session Evaluator, log *zap.Logger) *Locator {
	return &Locator{session: session, log: log, wait: coldPageWait}
}

// LocateColumns returns the ordered deck columns. On an empty first pass it
// waits once and retries. An empty deck after the retry is not an error,
// only a failed page query on both passes is.
func (l *Locator) LocateColumns(ctx context.Context) ([]types.Column, error) {
	columns, err := l.query(ctx)
	if err != nil {
		l.log.Warn("column query failed", zap.Error(err))
	}
	if len(columns) > 0 {
		return columns, nil
	}

	l.log.Info("no columns found, waiting for deck to render",
		zap.Duration("wait", l.wait))

	select {
	case <-time.After(l.wait):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	columns, err = l.query(ctx)
	if err != nil {
		return nil, fmt.Errorf("column query failed after retry: %w", err)
	}
	if len(columns) == 0 {
		l.log.Warn("no deck columns found after retry")
	}
	return columns, nil
}

func (l *Locator) query(ctx context.Context) ([]types.Column, error) {
	var columns []types.Column
	if err := l.session.Evaluate(ctx, locateColumnsJS, &columns); err != nil {
		return nil, err
	}
	return columns, nil
}
