// Package scorer ranks processed records by relevance using the Anthropic
// API. Batches run concurrently; each batch retries with backoff before the
// batch is given up on.
package scorer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deckwatch/internal/config"
	"deckwatch/internal/types"
)

// Provider scores one batch of records against the category they were
// captured under.
type Provider interface {
	Score(ctx context.Context, category string, records []types.Record) ([]types.ScoredRecord, error)
}

// Scorer batches records through a Provider.
type Scorer struct {
	provider   Provider
	batchSize  int
	maxRetries int
	threshold  float64
	backoff    time.Duration
	log        *zap.Logger
}

func New(cfg config.ScoringConfig, apiKey string, log *zap.Logger) *Scorer {
	return NewWithProvider(newAnthropicProvider(apiKey, cfg.Model), cfg, log)
}

// NewWithProvider wires a custom provider, used in tests.
func NewWithProvider(p Provider, cfg config.ScoringConfig, log *zap.Logger) *Scorer {
	return &Scorer{
		provider:   p,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		threshold:  cfg.Threshold,
		backoff:    2 * time.Second,
		log:        log,
	}
}

// ScoreAll scores every record grouped by column, highest average first.
// Batches never cross a column boundary so each prompt carries exactly one
// category. A batch that keeps failing after retries is dropped rather than
// failing the whole run.
func (s *Scorer) ScoreAll(ctx context.Context, byColumn map[int][]types.Record, categories map[int]string) ([]types.ScoredRecord, error) {
	batchSize := s.batchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	type columnBatch struct {
		category string
		records  []types.Record
	}
	var batches []columnBatch

	indexes := make([]int, 0, len(byColumn))
	for idx := range byColumn {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		records := byColumn[idx]
		category := categories[idx]
		if category == "" {
			category = fmt.Sprintf("column %d", idx)
		}
		for i := 0; i < len(records); i += batchSize {
			end := min(i+batchSize, len(records))
			batches = append(batches, columnBatch{category: category, records: records[i:end]})
		}
	}
	if len(batches) == 0 {
		return nil, nil
	}

	results := make([][]types.ScoredRecord, len(batches))
	g, ctx := errgroup.WithContext(ctx)
	for batchIdx, b := range batches {
		g.Go(func() error {
			scored, err := s.scoreBatchWithRetry(ctx, b.category, b.records)
			if err != nil {
				s.log.Error("batch scoring abandoned",
					zap.Int("batch", batchIdx),
					zap.String("category", b.category),
					zap.Int("size", len(b.records)), zap.Error(err))
				return nil
			}
			results[batchIdx] = scored
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []types.ScoredRecord
	for _, batch := range results {
		all = append(all, batch...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Score.Average > all[j].Score.Average
	})
	return all, nil
}

// AboveThreshold filters a scored set down to the records worth delivering.
func (s *Scorer) AboveThreshold(scored []types.ScoredRecord) []types.ScoredRecord {
	var out []types.ScoredRecord
	for _, sr := range scored {
		if sr.Score.Average >= s.threshold {
			out = append(out, sr)
		}
	}
	return out
}

func (s *Scorer) scoreBatchWithRetry(ctx context.Context, category string, batch []types.Record) ([]types.ScoredRecord, error) {
	retries := s.maxRetries
	if retries <= 0 {
		retries = 3
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * s.backoff
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		scored, err := s.provider.Score(ctx, category, batch)
		if err == nil {
			return scored, nil
		}
		lastErr = err
		s.log.Warn("batch scoring attempt failed",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, fmt.Errorf("all %d attempts failed: %w", retries, lastErr)
}

// anthropicProvider scores batches with Claude, prefilling the assistant
// turn with "[" so the response continues as a bare JSON array.
type anthropicProvider struct {
	client *anthropic.Client
	model  string
}

func newAnthropicProvider(apiKey, model string) *anthropicProvider {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &anthropicProvider{client: &client, model: model}
}

func (p *anthropicProvider) Score(ctx context.Context, category string, records []types.Record) ([]types.ScoredRecord, error) {
	prompt := buildPrompt(category, records)

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock("[")),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call Claude API: %w", err)
	}

	var responseText string
	for _, block := range message.Content {
		if block.Type == "text" {
			responseText = block.Text
			break
		}
	}
	if responseText == "" {
		return nil, fmt.Errorf("Claude returned empty response")
	}

	// The prefilled "[" is not part of the response text.
	return parseScoreResponse([]byte("["+responseText), records)
}
