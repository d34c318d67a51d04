// Package guardian watches the process's resident memory and recycles the
// browser session when it grows past a configured ceiling. Headless Chrome
// leaks slowly on long-lived pages; a periodic restart is cheaper than
// chasing the leak.
package guardian

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Sampler reports the process tree's resident set size in bytes.
type Sampler interface {
	RSS() (uint64, error)
}

// Restarter tears down and rebuilds the browser session.
type Restarter interface {
	Reinitialize(ctx context.Context) error
}

// Guardian periodically samples memory and restarts the session on breach.
type Guardian struct {
	sampler   Sampler
	restarter Restarter

	// sessionMu is shared with the ingestion loop; holding it during the
	// restart keeps ticks off the dying session.
	sessionMu *sync.Mutex

	interval time.Duration
	ceiling  uint64

	// cleanups release in-process caches before the expensive restart is
	// considered.
	cleanups []func()

	log *zap.Logger
}

// Options configures a Guardian.
type Options struct {
	Sampler      Sampler
	Restarter    Restarter
	SessionMu    *sync.Mutex
	Interval     time.Duration
	CeilingBytes uint64
	Cleanups     []func()
	Log          *zap.Logger
}

func New(opts Options) *Guardian {
	g := &Guardian{
		sampler:   opts.Sampler,
		restarter: opts.Restarter,
		sessionMu: opts.SessionMu,
		interval:  opts.Interval,
		ceiling:   opts.CeilingBytes,
		cleanups:  opts.Cleanups,
		log:       opts.Log,
	}
	if g.sampler == nil {
		g.sampler = NewProcessSampler()
	}
	if g.sessionMu == nil {
		g.sessionMu = &sync.Mutex{}
	}
	if g.interval <= 0 {
		g.interval = 5 * time.Minute
	}
	if g.ceiling == 0 {
		g.ceiling = 1536 << 20
	}
	if g.log == nil {
		g.log = zap.NewNop()
	}
	return g
}

// Run samples on the configured interval until ctx is cancelled.
func (g *Guardian) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	g.log.Info("resource guardian started",
		zap.Duration("interval", g.interval),
		zap.Uint64("ceiling_mb", g.ceiling>>20))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Check(ctx)
		}
	}
}

// Check performs one sample and, on breach, one escalation pass: release
// caches and collect garbage, re-sample, and only if still over the ceiling
// restart the session. At most one restart per breach.
func (g *Guardian) Check(ctx context.Context) {
	rss, err := g.sampler.RSS()
	if err != nil {
		g.log.Warn("memory sample failed", zap.Error(err))
		return
	}
	g.log.Debug("memory sampled", zap.Uint64("rss_mb", rss>>20))
	if rss <= g.ceiling {
		return
	}

	g.log.Warn("memory ceiling breached, releasing caches",
		zap.Uint64("rss_mb", rss>>20),
		zap.Uint64("ceiling_mb", g.ceiling>>20))
	for _, fn := range g.cleanups {
		fn()
	}
	runtime.GC()

	rss, err = g.sampler.RSS()
	if err != nil {
		g.log.Warn("memory re-sample failed", zap.Error(err))
		return
	}
	if rss <= g.ceiling {
		g.log.Info("memory recovered without restart", zap.Uint64("rss_mb", rss>>20))
		return
	}

	if g.restarter == nil {
		g.log.Warn("memory still over ceiling, no restarter configured")
		return
	}

	g.log.Warn("memory still over ceiling, restarting browser session",
		zap.Uint64("rss_mb", rss>>20))

	g.sessionMu.Lock()
	err = g.restarter.Reinitialize(ctx)
	g.sessionMu.Unlock()
	if err != nil {
		g.log.Error("session restart failed", zap.Error(err))
		return
	}
	g.log.Info("browser session restarted")
}

// processSampler reads RSS for this process and its children, which is
// where the browser's memory actually lives.
type processSampler struct {
	pid int32
}

func NewProcessSampler() Sampler {
	return &processSampler{pid: int32(os.Getpid())}
}

func (p *processSampler) RSS() (uint64, error) {
	proc, err := process.NewProcess(p.pid)
	if err != nil {
		return 0, err
	}

	mem, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	total := mem.RSS

	children, err := proc.Children()
	if err == nil {
		for _, child := range children {
			if cm, err := child.MemoryInfo(); err == nil {
				total += cm.RSS
			}
		}
	}
	return total, nil
}
