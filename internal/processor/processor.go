// Package processor turns a day's raw captures into a cleaned, deduplicated
// dataset ready for scoring and delivery.
package processor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"deckwatch/internal/deck"
	"deckwatch/internal/types"
)

// Source yields a day's records grouped by column.
type Source interface {
	GetByDate(date string) (map[int][]types.Record, error)
}

// Processor cleans and dedups daily captures.
type Processor struct {
	source       Source
	processedDir string
	log          *zap.Logger
}

func New(source Source, processedDir string, log *zap.Logger) *Processor {
	return &Processor{source: source, processedDir: processedDir, log: log}
}

// Result summarizes one processing run.
type Result struct {
	Date    string
	Kept    int
	Dropped int
	Path    string
	Records map[int][]types.Record
}

// ProcessDay normalizes, validates, and dedups one day of records, then
// writes the cleaned set to processed_tweets_<date>.json.
func (p *Processor) ProcessDay(date string) (*Result, error) {
	grouped, err := p.source.GetByDate(date)
	if err != nil {
		return nil, fmt.Errorf("loading records for %s: %w", date, err)
	}

	res := &Result{Date: date, Records: make(map[int][]types.Record)}
	seen := make(map[string]bool)

	cols := make([]int, 0, len(grouped))
	for col := range grouped {
		cols = append(cols, col)
	}
	sort.Ints(cols)

	for _, col := range cols {
		for _, rec := range grouped[col] {
			rec.Text = deck.NormalizeText(rec.Text)
			if !usable(rec) {
				res.Dropped++
				continue
			}
			if seen[rec.ID] {
				res.Dropped++
				continue
			}
			seen[rec.ID] = true
			res.Records[col] = append(res.Records[col], rec)
			res.Kept++
		}
	}

	path, err := p.write(date, res.Records)
	if err != nil {
		return nil, err
	}
	res.Path = path

	p.log.Info("daily processing complete",
		zap.String("date", date),
		zap.Int("kept", res.Kept),
		zap.Int("dropped", res.Dropped))
	return res, nil
}

// usable rejects records whose normalized text carries no substance: fewer
// than two words with no media to compensate.
func usable(rec types.Record) bool {
	if rec.ID == "" || rec.Author == "" {
		return false
	}
	if rec.HasMedia {
		return true
	}
	return len(strings.Fields(rec.Text)) >= 2
}

func (p *Processor) write(date string, records map[int][]types.Record) (string, error) {
	if err := os.MkdirAll(p.processedDir, 0o755); err != nil {
		return "", err
	}

	// JSON objects need string keys.
	out := make(map[string][]types.Record, len(records))
	for col, recs := range records {
		out[fmt.Sprintf("%d", col)] = recs
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(p.processedDir, fmt.Sprintf("processed_tweets_%s.json", date))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// LoadProcessed reads a previously written processed day file.
func (p *Processor) LoadProcessed(date string) (map[int][]types.Record, error) {
	path := filepath.Join(p.processedDir, fmt.Sprintf("processed_tweets_%s.json", date))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string][]types.Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	out := make(map[int][]types.Record, len(raw))
	for key, recs := range raw {
		var col int
		if _, err := fmt.Sscanf(key, "%d", &col); err != nil {
			continue
		}
		out[col] = recs
	}
	return out, nil
}
