package scorer

import (
	"encoding/json"
	"fmt"
	"strings"

	"deckwatch/internal/types"
)

// scoreResult is the JSON shape the model must return, one element per
// record submitted.
type scoreResult struct {
	ID           string  `json:"id"`
	Relevance    float64 `json:"relevance"`
	Significance float64 `json:"significance"`
	Impact       float64 `json:"impact"`
	Ecosystem    float64 `json:"ecosystem_relevance"`
	Summary      string  `json:"summary"`
}

// buildPrompt assembles the scoring prompt for one batch of records, all
// drawn from the same column. The column's category name shapes every
// scoring axis.
func buildPrompt(category string, records []types.Record) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are scoring social media posts from a column monitoring %s.\n\n", category))
	sb.WriteString("## Posts\n\n")

	for i, r := range records {
		sb.WriteString(fmt.Sprintf("### Post %d (ID: %s)\n", i+1, r.ID))
		sb.WriteString(fmt.Sprintf("Author: @%s (%s)\n", r.Author, r.AuthorDisplayName))
		sb.WriteString(fmt.Sprintf("Content: %s\n", r.Text))
		if r.IsRepost && r.RepostedContent != nil {
			sb.WriteString(fmt.Sprintf("Type: Repost of @%s\n", r.RepostedContent.AuthorHandle))
		}
		if r.IsQuoteRetweet && r.QuotedContent != nil {
			sb.WriteString(fmt.Sprintf("Quoting @%s: %s\n", r.QuotedContent.AuthorHandle, r.QuotedContent.Text))
		}
		if r.HasMedia {
			sb.WriteString(fmt.Sprintf("Media: %d attachments\n", len(r.Media.URLs())))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Task\n\n")
	sb.WriteString("Score each post on four axes, each 0.0 to 10.0:\n")
	sb.WriteString(fmt.Sprintf("1. relevance: how directly the post relates to %s, considering mentions of its key projects and technologies\n", category))
	sb.WriteString(fmt.Sprintf("2. significance: how important this news is for %s, considering the scale and scope of impact\n", category))
	sb.WriteString(fmt.Sprintf("3. impact: the potential effect on the development or adoption of %s, short and long term\n", category))
	sb.WriteString(fmt.Sprintf("4. ecosystem_relevance: the contribution to the overall growth of the ecosystem around %s\n\n", category))
	sb.WriteString("Also give a one-sentence summary per post.\n\n")
	sb.WriteString("Respond with a JSON array in this exact format:\n")
	sb.WriteString("```json\n")
	sb.WriteString("[\n")
	sb.WriteString("  {\n")
	sb.WriteString("    \"id\": \"...\",\n")
	sb.WriteString("    \"relevance\": 7.5,\n")
	sb.WriteString("    \"significance\": 6.0,\n")
	sb.WriteString("    \"impact\": 5.5,\n")
	sb.WriteString("    \"ecosystem_relevance\": 8.0,\n")
	sb.WriteString("    \"summary\": \"...\"\n")
	sb.WriteString("  }\n")
	sb.WriteString("]\n")
	sb.WriteString("```\n")

	return sb.String()
}

// parseScoreResponse parses the assembled JSON array and joins it back to
// the submitted records by ID. Records the model skipped are omitted.
func parseScoreResponse(jsonBytes []byte, records []types.Record) ([]types.ScoredRecord, error) {
	var results []scoreResult
	if err := json.Unmarshal(jsonBytes, &results); err != nil {
		return nil, fmt.Errorf("failed to parse score JSON: %w (response was: %.500s)", err, string(jsonBytes))
	}

	byID := make(map[string]types.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	scored := make([]types.ScoredRecord, 0, len(results))
	for _, res := range results {
		rec, ok := byID[res.ID]
		if !ok {
			continue
		}
		score := types.Score{
			Relevance:    clampScore(res.Relevance),
			Significance: clampScore(res.Significance),
			Impact:       clampScore(res.Impact),
			Ecosystem:    clampScore(res.Ecosystem),
		}
		score.Average = (score.Relevance + score.Significance + score.Impact + score.Ecosystem) / 4
		scored = append(scored, types.ScoredRecord{
			Record:  rec,
			Score:   score,
			Summary: res.Summary,
		})
	}
	return scored, nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
