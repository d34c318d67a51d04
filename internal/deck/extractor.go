package deck

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"deckwatch/internal/types"
)

// repostMarker is the fixed phrase the social context annotation carries on
// a repost; the text preceding it is the reposting account's display name.
const repostMarker = "reposted"

// Evaluator executes a script in the page context and unmarshals its JSON
// result. Satisfied by browser.Session.
type Evaluator interface {
	Evaluate(ctx context.Context, script string, out any) error
}

// Extractor projects the newest post of a deck column into a Record.
type Extractor struct {
	session Evaluator
	log     *zap.Logger
	now     func() time.Time
}

// NewExtractor creates an extractor over a page session.
func NewExtractor(session Evaluator, log *zap.Logger) *Extractor {
	return &Extractor{session: session, log: log, now: time.Now}
}

// rawRecord is the single-round-trip projection produced in page context.
// Everything the decision logic needs is captured in one query so a page
// mutation mid-extraction cannot yield a partial read.
type rawRecord struct {
	Found           bool       `json:"found"`
	ID              string     `json:"id"`
	Text            string     `json:"text"`
	AuthorHandle    string     `json:"authorHandle"`
	AuthorName      string     `json:"authorName"`
	AvatarURL       string     `json:"avatarUrl"`
	Timestamp       string     `json:"timestamp"`
	SocialContext   string     `json:"socialContext"`
	TextBlocks      int        `json:"textBlocks"`
	UserBlocks      int        `json:"userBlocks"`
	SecondaryText   string     `json:"secondaryText"`
	SecondaryHandle string     `json:"secondaryHandle"`
	Images          []rawMedia `json:"images"`
	Videos          []rawMedia `json:"videos"`
	GIFs            []rawMedia `json:"gifs"`
}

type rawMedia struct {
	URL       string `json:"url"`
	Alt       string `json:"alt"`
	Secondary bool   `json:"secondary"`
}

// ExtractNewest finds the most recent real post in the given column and
// extracts it. Returns (nil, nil) when the column has no qualifying post;
// placeholder and promoted cells are common and not an error.
func (e *Extractor) ExtractNewest(ctx context.Context, columnIndex int) (*types.Record, error) {
	var raw rawRecord
	script := fmt.Sprintf(extractNewestJS, columnIndex)
	if err := e.session.Evaluate(ctx, script, &raw); err != nil {
		return nil, fmt.Errorf("extraction query failed for column %d: %w", columnIndex, err)
	}

	if !raw.Found {
		return nil, nil
	}

	return e.build(raw), nil
}

// build applies the decision order to a raw projection. A nil result means
// the node failed the validity gate, silently.
func (e *Extractor) build(raw rawRecord) *types.Record {
	if raw.ID == "" || raw.AuthorHandle == "" {
		return nil
	}

	rec := &types.Record{
		ID:                raw.ID,
		Text:              raw.Text,
		Author:            strings.TrimPrefix(raw.AuthorHandle, "@"),
		AuthorDisplayName: raw.AuthorName,
		AvatarURL:         NormalizeAvatarURL(raw.AvatarURL),
		URL:               fmt.Sprintf("https://twitter.com/i/status/%s", raw.ID),
		ScrapedAt:         e.now(),
	}

	// Timestamp drives ordering; fall back to extraction time only when the
	// temporal marker could not be parsed.
	if ts, err := time.Parse(time.RFC3339, raw.Timestamp); err == nil {
		rec.Timestamp = ts
	} else {
		rec.Timestamp = rec.ScrapedAt
	}

	// Repost first: the social context annotation wins over quote structure.
	// The article body is the reposted post itself, so its text and handle
	// fill the embedded content; the annotation only names who reposted.
	if ctx := raw.SocialContext; ctx != "" && strings.Contains(strings.ToLower(ctx), repostMarker) {
		rec.IsRepost = true
		origin := ctx
		if i := strings.Index(strings.ToLower(ctx), repostMarker); i >= 0 {
			origin = ctx[:i]
		}
		rec.RepostedBy = strings.TrimSpace(origin)
		rec.RepostedContent = &types.EmbeddedContent{
			Text:         raw.Text,
			AuthorHandle: rec.Author,
		}
	} else if raw.TextBlocks == 2 && raw.UserBlocks == 2 {
		// Exactly two embedded text and author blocks mark a quote-retweet;
		// the second pair is the quoted content.
		rec.IsQuoteRetweet = true
		rec.QuotedContent = &types.EmbeddedContent{
			Text:         raw.SecondaryText,
			AuthorHandle: strings.TrimPrefix(raw.SecondaryHandle, "@"),
		}
	}

	rec.Media = types.MediaSet{
		Images: upgradeItems(raw.Images),
		Videos: convertItems(raw.Videos),
		GIFs:   convertItems(raw.GIFs),
	}
	rec.RecomputeHasMedia()

	if !rec.Valid() {
		return nil
	}
	return rec
}

// upgradeItems converts raw media entries, rewriting image URLs to request
// the large rendition.
func upgradeItems(items []rawMedia) []types.MediaItem {
	out := make([]types.MediaItem, 0, len(items))
	for _, it := range items {
		if it.URL == "" {
			continue
		}
		out = append(out, types.MediaItem{
			URL:        UpgradeMediaURL(it.URL),
			Alt:        it.Alt,
			FromQuoted: it.Secondary,
		})
	}
	return out
}

func convertItems(items []rawMedia) []types.MediaItem {
	out := make([]types.MediaItem, 0, len(items))
	for _, it := range items {
		if it.URL == "" {
			continue
		}
		out = append(out, types.MediaItem{URL: it.URL, Alt: it.Alt, FromQuoted: it.Secondary})
	}
	return out
}
