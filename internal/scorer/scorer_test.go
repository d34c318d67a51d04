package scorer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deckwatch/internal/config"
	"deckwatch/internal/types"
)

type fakeProvider struct {
	mu         sync.Mutex
	calls      int
	categories []string
	failures   int
	score      float64
	err        error
}

func (f *fakeProvider) Score(ctx context.Context, category string, records []types.Record) ([]types.ScoredRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.categories = append(f.categories, category)
	if f.err != nil {
		return nil, f.err
	}
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("transient")
	}
	out := make([]types.ScoredRecord, len(records))
	for i, r := range records {
		s := types.Score{Relevance: f.score, Significance: f.score, Impact: f.score, Ecosystem: f.score}
		s.Average = f.score
		out[i] = types.ScoredRecord{Record: r, Score: s, Summary: "summary of " + r.ID}
	}
	return out, nil
}

func testConfig() config.ScoringConfig {
	return config.ScoringConfig{Model: "test", Threshold: 7.0, BatchSize: 2, MaxRetries: 3}
}

func makeRecords(n int) []types.Record {
	recs := make([]types.Record, n)
	for i := range recs {
		recs[i] = types.Record{ID: fmt.Sprintf("%d", i+1), Text: "some text", Author: "alice"}
	}
	return recs
}

func oneColumn(recs []types.Record) map[int][]types.Record {
	return map[int][]types.Record{0: recs}
}

func TestScoreAllBatches(t *testing.T) {
	p := &fakeProvider{score: 8}
	s := NewWithProvider(p, testConfig(), zap.NewNop())

	scored, err := s.ScoreAll(context.Background(), oneColumn(makeRecords(5)), nil)
	require.NoError(t, err)
	assert.Len(t, scored, 5)
	assert.Equal(t, 3, p.calls, "5 records with batch size 2 is 3 batches")
}

func TestScoreAllEmptyInput(t *testing.T) {
	p := &fakeProvider{}
	s := NewWithProvider(p, testConfig(), zap.NewNop())
	scored, err := s.ScoreAll(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, scored)
	assert.Zero(t, p.calls)
}

func TestScoreAllKeepsColumnsApart(t *testing.T) {
	p := &fakeProvider{score: 8}
	s := NewWithProvider(p, testConfig(), zap.NewNop())

	byColumn := map[int][]types.Record{
		0: {{ID: "a", Text: "t", Author: "x"}, {ID: "b", Text: "t", Author: "x"}, {ID: "c", Text: "t", Author: "x"}},
		5: {{ID: "d", Text: "t", Author: "x"}},
	}
	categories := map[int]string{0: "NEAR Ecosystem", 5: "DefAI"}

	scored, err := s.ScoreAll(context.Background(), byColumn, categories)
	require.NoError(t, err)
	assert.Len(t, scored, 4)
	// Column 0 splits into two batches, column 5 is one; no batch mixes
	// categories.
	assert.ElementsMatch(t, []string{"NEAR Ecosystem", "NEAR Ecosystem", "DefAI"}, p.categories)
}

func TestScoreAllUnnamedColumnGetsFallbackCategory(t *testing.T) {
	p := &fakeProvider{score: 8}
	s := NewWithProvider(p, testConfig(), zap.NewNop())

	_, err := s.ScoreAll(context.Background(), map[int][]types.Record{3: makeRecords(1)}, nil)
	require.NoError(t, err)
	require.Len(t, p.categories, 1)
	assert.Equal(t, "column 3", p.categories[0])
}

func TestFailedBatchIsDroppedNotFatal(t *testing.T) {
	p := &fakeProvider{err: errors.New("api down")}
	s := NewWithProvider(p, testConfig(), zap.NewNop())
	s.backoff = time.Millisecond

	scored, err := s.ScoreAll(context.Background(), oneColumn(makeRecords(2)), nil)
	require.NoError(t, err)
	assert.Empty(t, scored)
	assert.Equal(t, 3, p.calls, "one batch retried MaxRetries times")
}

func TestBuildPromptCarriesCategory(t *testing.T) {
	records := makeRecords(1)

	near := buildPrompt("NEAR Ecosystem", records)
	defai := buildPrompt("DefAI", records)

	assert.Contains(t, near, "NEAR Ecosystem")
	assert.Contains(t, defai, "DefAI")
	assert.NotEqual(t, near, defai,
		"identical records in different columns must produce different prompts")
}

func TestParseScoreResponseJoinsByID(t *testing.T) {
	records := []types.Record{
		{ID: "1", Text: "first", Author: "a"},
		{ID: "2", Text: "second", Author: "b"},
	}
	raw := `[
		{"id": "2", "relevance": 8, "significance": 6, "impact": 4, "ecosystem_relevance": 2, "summary": "s2"},
		{"id": "999", "relevance": 1, "significance": 1, "impact": 1, "ecosystem_relevance": 1, "summary": "ghost"}
	]`

	scored, err := parseScoreResponse([]byte(raw), records)
	require.NoError(t, err)
	require.Len(t, scored, 1, "unknown ids are dropped")
	assert.Equal(t, "2", scored[0].Record.ID)
	assert.Equal(t, "s2", scored[0].Summary)
	assert.InDelta(t, 5.0, scored[0].Score.Average, 1e-9)
}

func TestParseScoreResponseClampsOutOfRange(t *testing.T) {
	records := []types.Record{{ID: "1", Text: "t", Author: "a"}}
	raw := `[{"id": "1", "relevance": 15, "significance": -3, "impact": 5, "ecosystem_relevance": 5, "summary": ""}]`

	scored, err := parseScoreResponse([]byte(raw), records)
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, 10.0, scored[0].Score.Relevance)
	assert.Equal(t, 0.0, scored[0].Score.Significance)
}

func TestParseScoreResponseRejectsGarbage(t *testing.T) {
	_, err := parseScoreResponse([]byte("not json"), nil)
	assert.Error(t, err)
}

func TestScoreAllSortsByAverageDescending(t *testing.T) {
	// A provider that scores by record id gives deterministic ordering.
	p := &idScoreProvider{}
	s := NewWithProvider(p, testConfig(), zap.NewNop())

	scored, err := s.ScoreAll(context.Background(), oneColumn(makeRecords(4)), nil)
	require.NoError(t, err)
	require.Len(t, scored, 4)
	for i := 1; i < len(scored); i++ {
		assert.GreaterOrEqual(t, scored[i-1].Score.Average, scored[i].Score.Average)
	}
}

type idScoreProvider struct{}

func (idScoreProvider) Score(ctx context.Context, category string, records []types.Record) ([]types.ScoredRecord, error) {
	out := make([]types.ScoredRecord, len(records))
	for i, r := range records {
		var v float64
		fmt.Sscanf(r.ID, "%f", &v)
		s := types.Score{Average: v}
		out[i] = types.ScoredRecord{Record: r, Score: s}
	}
	return out, nil
}

func TestAboveThreshold(t *testing.T) {
	s := NewWithProvider(&fakeProvider{}, testConfig(), zap.NewNop())
	scored := []types.ScoredRecord{
		{Score: types.Score{Average: 7.5}},
		{Score: types.Score{Average: 6.9}},
		{Score: types.Score{Average: 7.0}},
	}
	kept := s.AboveThreshold(scored)
	require.Len(t, kept, 2)
}
