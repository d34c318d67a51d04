package media

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deckwatch/internal/config"
	"deckwatch/internal/types"
)

func newTestVerifier(head map[string]headResult, full map[string]bool) *Verifier {
	v := &Verifier{
		log:         zap.NewNop(),
		concurrency: 3,
		batchSize:   3,
	}
	v.headCheck = func(_ context.Context, url string) headResult {
		if r, ok := head[url]; ok {
			return r
		}
		return headMissing
	}
	v.fullCheck = func(_ context.Context, url string) bool {
		return full[url]
	}
	return v
}

func TestVerify_ResultsAlignedToInput(t *testing.T) {
	v := newTestVerifier(map[string]headResult{
		"a": headOK,
		"b": headMissing,
		"c": headOK,
		"d": headMissing,
	}, nil)

	results := v.Verify(context.Background(), []string{"a", "b", "c", "d"})
	assert.Equal(t, []bool{true, false, true, false}, results)
}

func TestVerify_NetworkFailureRetriesWithFullRetrieval(t *testing.T) {
	v := newTestVerifier(
		map[string]headResult{"flaky": headError, "dead": headError},
		map[string]bool{"flaky": true},
	)

	results := v.Verify(context.Background(), []string{"flaky", "dead"})
	assert.Equal(t, []bool{true, false}, results)
}

func TestVerify_DefinitiveMissingSkipsRetry(t *testing.T) {
	fullCalls := int32(0)
	v := newTestVerifier(map[string]headResult{"gone": headMissing}, nil)
	v.fullCheck = func(_ context.Context, _ string) bool {
		atomic.AddInt32(&fullCalls, 1)
		return true
	}

	results := v.Verify(context.Background(), []string{"gone"})
	assert.Equal(t, []bool{false}, results)
	assert.Zero(t, atomic.LoadInt32(&fullCalls), "a definitive 4xx must not trigger the heavy retry")
}

func TestVerify_ConcurrencyBounded(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0

	v := &Verifier{log: zap.NewNop(), concurrency: 2, batchSize: 8}
	v.headCheck = func(_ context.Context, _ string) headResult {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return headOK
	}

	urls := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	results := v.Verify(context.Background(), urls)

	for _, ok := range results {
		assert.True(t, ok)
	}
	assert.LessOrEqual(t, peak, 2)
}

func TestVerify_EmptyInput(t *testing.T) {
	v := newTestVerifier(nil, nil)
	assert.Empty(t, v.Verify(context.Background(), nil))
}

func TestFilterRecord_DropsUnreachableAndRecomputesHasMedia(t *testing.T) {
	v := newTestVerifier(map[string]headResult{
		"img1": headOK,
		"img2": headMissing,
		"vid1": headOK,
		"gif1": headMissing,
	}, nil)

	rec := &types.Record{
		ID:     "1",
		Author: "alice",
		Media: types.MediaSet{
			Images: []types.MediaItem{{URL: "img1"}, {URL: "img2"}},
			Videos: []types.MediaItem{{URL: "vid1"}},
			GIFs:   []types.MediaItem{{URL: "gif1"}},
		},
		HasMedia: true,
	}

	require.NoError(t, v.FilterRecord(context.Background(), rec))

	require.Len(t, rec.Media.Images, 1)
	assert.Equal(t, "img1", rec.Media.Images[0].URL)
	require.Len(t, rec.Media.Videos, 1)
	assert.Empty(t, rec.Media.GIFs)
	assert.True(t, rec.HasMedia)
}

func TestFilterRecord_AllFilteredFlipsHasMedia(t *testing.T) {
	v := newTestVerifier(map[string]headResult{"img1": headMissing}, nil)

	rec := &types.Record{
		ID:       "1",
		Author:   "alice",
		Media:    types.MediaSet{Images: []types.MediaItem{{URL: "img1"}}},
		HasMedia: true,
	}

	require.NoError(t, v.FilterRecord(context.Background(), rec))

	assert.True(t, rec.Media.Empty())
	assert.False(t, rec.HasMedia, "hasMedia must flip to false when everything is filtered")
	assert.False(t, rec.Valid(), "text-less record with no surviving media is invalid")
}

func TestFilterRecord_NoMediaIsNoop(t *testing.T) {
	called := false
	v := newTestVerifier(nil, nil)
	v.headCheck = func(_ context.Context, _ string) headResult {
		called = true
		return headOK
	}

	rec := &types.Record{ID: "1", Author: "alice", Text: "hi"}
	require.NoError(t, v.FilterRecord(context.Background(), rec))

	assert.False(t, called)
	assert.False(t, rec.HasMedia)
}

func TestNewVerifier_Defaults(t *testing.T) {
	v := NewVerifier(nil, config.MediaConfig{}, zap.NewNop())
	assert.Equal(t, 3, v.concurrency)
	assert.Equal(t, 3, v.batchSize)
}
