// Package media confirms that embedded media references are actually
// reachable before records are handed downstream.
package media

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deckwatch/internal/config"
	"deckwatch/internal/types"
)

// Fetcher runs a promise-returning script in the authenticated page
// context. Satisfied by browser.Session.
type Fetcher interface {
	EvaluateAsync(ctx context.Context, script string, out any) error
}

// headResult is the outcome of the lightweight existence check.
type headResult string

const (
	headOK      headResult = "ok"      // reachable
	headMissing headResult = "missing" // definitive negative (4xx/5xx)
	headError   headResult = "error"   // abort/network-class failure, retry heavier
)

// Verifier checks media URLs with bounded concurrency. The primary check is
// a HEAD fetch issued inside the page context so it carries the
// authenticated browser state; a network-class failure is retried once with
// a full retrieval through a plain HTTP client.
type Verifier struct {
	log          *zap.Logger
	concurrency  int
	batchSize    int
	batchPause   time.Duration
	checkTimeout time.Duration

	headCheck func(ctx context.Context, url string) headResult
	fullCheck func(ctx context.Context, url string) bool
}

// NewVerifier creates a verifier over the given page session.
func NewVerifier(session Fetcher, cfg config.MediaConfig, log *zap.Logger) *Verifier {
	v := &Verifier{
		log:          log,
		concurrency:  cfg.Concurrency,
		batchSize:    cfg.BatchSize,
		batchPause:   cfg.BatchPause(),
		checkTimeout: cfg.CheckTimeout(),
	}
	if v.concurrency <= 0 {
		v.concurrency = 3
	}
	if v.batchSize <= 0 {
		v.batchSize = v.concurrency
	}

	client := &http.Client{Timeout: v.checkTimeout}
	v.headCheck = func(ctx context.Context, url string) headResult {
		return pageHeadCheck(ctx, session, url, v.checkTimeout)
	}
	v.fullCheck = func(ctx context.Context, url string) bool {
		return fullRetrievalCheck(ctx, client, url)
	}
	return v
}

// Verify checks each URL and returns a bool slice aligned to the input
// order. Work is chunked into fixed-size batches with a short pause between
// them to bound peak resource use.
func (v *Verifier) Verify(ctx context.Context, urls []string) []bool {
	results := make([]bool, len(urls))

	for start := 0; start < len(urls); start += v.batchSize {
		end := start + v.batchSize
		if end > len(urls) {
			end = len(urls)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(v.concurrency)
		for i := start; i < end; i++ {
			idx := i
			g.Go(func() error {
				results[idx] = v.verifyOne(gctx, urls[idx])
				return nil
			})
		}
		// Workers never return errors; failures resolve to false.
		_ = g.Wait()

		if end < len(urls) {
			select {
			case <-time.After(v.batchPause):
			case <-ctx.Done():
				return results
			}
		}
	}

	return results
}

func (v *Verifier) verifyOne(ctx context.Context, url string) bool {
	switch v.headCheck(ctx, url) {
	case headOK:
		return true
	case headMissing:
		return false
	default:
		// Network-class failure: one heavier retry before giving up.
		ok := v.fullCheck(ctx, url)
		if !ok {
			v.log.Debug("media unreachable after retry", zap.String("url", url))
		}
		return ok
	}
}

// FilterRecord drops unreachable media from the record's sequences and
// recomputes HasMedia. The verification order matches MediaSet.URLs:
// images, videos, gifs.
func (v *Verifier) FilterRecord(ctx context.Context, rec *types.Record) error {
	urls := rec.Media.URLs()
	if len(urls) == 0 {
		return nil
	}

	results := v.Verify(ctx, urls)
	if err := ctx.Err(); err != nil {
		// Cancelled mid-verify; leave the record untouched.
		return err
	}

	i := 0
	keep := func(items []types.MediaItem) []types.MediaItem {
		out := items[:0]
		for _, it := range items {
			if results[i] {
				out = append(out, it)
			}
			i++
		}
		return out
	}

	rec.Media.Images = keep(rec.Media.Images)
	rec.Media.Videos = keep(rec.Media.Videos)
	rec.Media.GIFs = keep(rec.Media.GIFs)
	rec.RecomputeHasMedia()
	return nil
}

// pageHeadCheck issues a HEAD fetch from inside the page context with a
// hard timeout. The three-way result keeps "definitely gone" distinct from
// "the check itself failed".
func pageHeadCheck(ctx context.Context, session Fetcher, url string, timeout time.Duration) headResult {
	script := fmt.Sprintf(`
		fetch(%q, { method: 'HEAD', signal: AbortSignal.timeout(%d) })
			.then(r => r.ok ? 'ok' : 'missing')
			.catch(() => 'error')
	`, url, timeout.Milliseconds())

	var result string
	if err := session.EvaluateAsync(ctx, script, &result); err != nil {
		return headError
	}
	return headResult(result)
}

// fullRetrievalCheck fetches the URL outright; some CDN endpoints refuse
// HEAD but serve GET fine.
func fullRetrievalCheck(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
