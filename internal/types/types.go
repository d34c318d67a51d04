package types

import "time"

// Record is one structured post extracted from a deck column.
type Record struct {
	ID                string           `json:"id"`
	Text              string           `json:"text"`
	Author            string           `json:"authorHandle"`
	AuthorDisplayName string           `json:"authorName"`
	AvatarURL         string           `json:"avatarUrl,omitempty"`
	Timestamp         time.Time        `json:"timestamp"`
	URL               string           `json:"url"`
	IsRepost          bool             `json:"isRepost"`
	// RepostedBy is the display name from the repost annotation, the
	// account whose action surfaced the post.
	RepostedBy        string           `json:"originalAuthor,omitempty"`
	IsQuoteRetweet    bool             `json:"isQuoteRetweet"`
	RepostedContent   *EmbeddedContent `json:"repostedContent,omitempty"`
	QuotedContent     *EmbeddedContent `json:"quotedContent,omitempty"`
	Media             MediaSet         `json:"media"`
	HasMedia          bool             `json:"hasMedia"`
	ColumnIndex       int              `json:"columnIndex"`
	ScrapedAt         time.Time        `json:"scrapedAt"`
}

// EmbeddedContent is the nested text of a repost or quote-retweet.
type EmbeddedContent struct {
	Text         string `json:"text"`
	AuthorHandle string `json:"authorHandle"`
}

// MediaItem is one media reference carried by a record.
type MediaItem struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
	// FromQuoted marks media that belongs to the quoted or reposted
	// original rather than the outer post.
	FromQuoted bool `json:"fromQuoted,omitempty"`
}

// MediaSet holds the ordered media sequences of a record.
type MediaSet struct {
	Images []MediaItem `json:"images,omitempty"`
	Videos []MediaItem `json:"videos,omitempty"`
	GIFs   []MediaItem `json:"gifs,omitempty"`
}

// Empty reports whether no sequence has any items.
func (m MediaSet) Empty() bool {
	return len(m.Images) == 0 && len(m.Videos) == 0 && len(m.GIFs) == 0
}

// URLs returns every media URL in sequence order: images, videos, gifs.
func (m MediaSet) URLs() []string {
	urls := make([]string, 0, len(m.Images)+len(m.Videos)+len(m.GIFs))
	for _, it := range m.Images {
		urls = append(urls, it.URL)
	}
	for _, it := range m.Videos {
		urls = append(urls, it.URL)
	}
	for _, it := range m.GIFs {
		urls = append(urls, it.URL)
	}
	return urls
}

// RecomputeHasMedia refreshes the derived HasMedia flag. Must be called any
// time a media sequence is filtered.
func (r *Record) RecomputeHasMedia() {
	r.HasMedia = !r.Media.Empty()
}

// Valid reports whether the record may leave extraction: identity and author
// are required, and a record with no text must carry media.
func (r *Record) Valid() bool {
	if r.ID == "" || r.Author == "" {
		return false
	}
	return r.Text != "" || !r.Media.Empty()
}

// Column describes one deck column as located on the page.
type Column struct {
	Index int    `json:"index"`
	Title string `json:"title"`
}

// ScoredRecord pairs a record with its relevance scoring result.
type ScoredRecord struct {
	Record  Record
	Score   Score
	Summary string
}

// Score holds the per-axis relevance scores for a record.
type Score struct {
	Relevance    float64 `json:"relevance"`
	Significance float64 `json:"significance"`
	Impact       float64 `json:"impact"`
	Ecosystem    float64 `json:"ecosystem_relevance"`
	Average      float64 `json:"average_score"`
}

// DayFormat is the layout of day keys used for raw directories, processed
// files, and database dates.
const DayFormat = "20060102"

// Today returns the current day key.
func Today() string {
	return time.Now().Format(DayFormat)
}
