// Package app wires the daemon together: browser session, ingestion loop,
// resource guardian, scheduled summary and cleanup jobs.
package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"deckwatch/internal/auth"
	"deckwatch/internal/browser"
	"deckwatch/internal/config"
	"deckwatch/internal/deck"
	"deckwatch/internal/guardian"
	"deckwatch/internal/media"
	"deckwatch/internal/monitor"
	"deckwatch/internal/processor"
	"deckwatch/internal/scheduler"
	"deckwatch/internal/scorer"
	"deckwatch/internal/state"
	"deckwatch/internal/storage"
	"deckwatch/internal/telegram"
	"deckwatch/internal/types"
)

// App owns the daemon's components and their lifecycle.
type App struct {
	cfg   *config.Config
	creds *config.Credentials
	log   *zap.Logger

	session  *browser.Session
	tracker  *state.Tracker
	store    *storage.Store
	proc     *processor.Processor
	scorer   *scorer.Scorer
	notifier *telegram.Notifier
	sched    *scheduler.Scheduler
	gate     *monitor.Gate

	// columnTitles holds the deck titles captured at bootstrap, used as the
	// category fallback for columns the config does not name.
	columnTitles map[int]string

	// sessionMu serializes browser use between the ingestion loop and the
	// guardian's session restarts.
	sessionMu sync.Mutex
}

// New builds the daemon. Anything that must be present for the daemon to
// function fails construction; optional surfaces (scoring, delivery) are
// skipped with a log line when their credentials are absent.
func New(cfg *config.Config, creds *config.Credentials, log *zap.Logger) (*App, error) {
	store, err := storage.New(cfg.DBPath(), cfg.DataDir, log)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	sched, err := scheduler.New(cfg.Summary.Timezone, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		creds:   creds,
		log:     log,
		store:   store,
		sched:   sched,
		tracker: state.NewTracker(cfg.StatePath(), log),
		proc:    processor.New(store, cfg.ProcessedDir(), log),
		gate:    monitor.NewGate(),
		session: browser.NewSession(cfg.Browser, creds, auth.NewCookieStore(cfg.CookiePath()), log),
	}

	if creds.AnthropicAPIKey != "" {
		a.scorer = scorer.New(cfg.Scoring, creds.AnthropicAPIKey, log)
	} else {
		log.Info("ANTHROPIC_API_KEY not set, summaries will not be scored")
	}

	if creds.TelegramBotToken != "" && creds.TelegramChannel != "" {
		notifier, err := telegram.New(creds.TelegramBotToken, creds.TelegramChannel, log)
		if err != nil {
			log.Warn("telegram unavailable, continuing without delivery", zap.Error(err))
		} else {
			a.notifier = notifier
		}
	} else {
		log.Info("telegram credentials not set, delivery disabled")
	}

	return a, nil
}

// Run starts everything and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.tracker.Load(); err != nil {
		return fmt.Errorf("loading recency state: %w", err)
	}

	if err := a.session.Start(ctx); err != nil {
		return fmt.Errorf("starting browser session: %w", err)
	}
	defer a.session.Close()
	defer a.store.Close()

	locator := deck.NewLocator(a.session, a.log)
	columns, err := locator.LocateColumns(ctx)
	if err != nil {
		return fmt.Errorf("identifying deck columns: %w", err)
	}
	a.log.Info("deck ready", zap.Int("columns", len(columns)))
	a.columnTitles = make(map[int]string, len(columns))
	for _, col := range columns {
		a.columnTitles[col.Index] = col.Title
	}

	loop := monitor.NewLoop(monitor.LoopOptions{
		Locator:      locator,
		Extractor:    deck.NewExtractor(a.session, a.log),
		Tracker:      a.tracker,
		Media:        media.NewVerifier(a.session, a.cfg.Media, a.log),
		Store:        a.store,
		Gate:         a.gate,
		SessionMu:    &a.sessionMu,
		TickInterval: a.cfg.Monitor.TickInterval(),
		ErrorPause:   a.cfg.Monitor.ErrorPause(),
		Notify:       a.notifyRecord,
		Log:          a.log,
	})

	guard := guardian.New(guardian.Options{
		Restarter:    a.session,
		SessionMu:    &a.sessionMu,
		Interval:     a.cfg.Guardian.SampleInterval(),
		CeilingBytes: a.cfg.Guardian.MemoryCeilingMB << 20,
		Cleanups:     []func(){a.tracker.Compact, a.store.ReleaseMemory},
		Log:          a.log,
	})

	if err := a.registerJobs(); err != nil {
		return err
	}
	a.sched.Start()
	defer a.sched.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		guard.Run(ctx)
	}()

	wg.Wait()
	a.log.Info("daemon stopped")
	return nil
}

func (a *App) registerJobs() error {
	if err := a.sched.AddJob("summary", a.cfg.Summary.Cron, a.RunSummary); err != nil {
		return err
	}
	return a.sched.AddJob("cleanup", a.cfg.Retention.CleanupCron, func(ctx context.Context) error {
		return a.store.PurgeOlderThan(a.cfg.Retention.MaxDaysToKeep)
	})
}

func (a *App) notifyRecord(rec types.Record) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.SendRecord(rec); err != nil {
		a.log.Warn("realtime delivery failed",
			zap.String("id", rec.ID), zap.Error(err))
	}
}

// RunSummary processes, scores, and delivers today's captures. Scraping is
// paused for the duration so the summary sees a stable dataset.
func (a *App) RunSummary(ctx context.Context) error {
	a.gate.Pause()
	defer a.gate.Resume()

	date := types.Today()
	res, err := a.proc.ProcessDay(date)
	if err != nil {
		return err
	}
	if res.Kept == 0 {
		a.log.Info("no records to summarize", zap.String("date", date))
		return nil
	}

	if a.scorer == nil {
		return nil
	}

	categories := make(map[int]string, len(res.Records))
	for idx := range res.Records {
		categories[idx] = a.cfg.Scoring.CategoryFor(idx, a.columnTitles[idx])
	}
	scored, err := a.scorer.ScoreAll(ctx, res.Records, categories)
	if err != nil {
		return err
	}
	top := a.scorer.AboveThreshold(scored)
	a.log.Info("summary scored",
		zap.String("date", date),
		zap.Int("scored", len(scored)),
		zap.Int("above_threshold", len(top)))

	if a.notifier == nil {
		return nil
	}
	return a.notifier.SendDigest(date, top)
}
