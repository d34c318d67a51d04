package deck

// TweetDeck DOM selectors.
// These are isolated here because X changes their DOM frequently.
// Update these when scraping breaks.

const (
	// Deck layout selectors
	ColumnContent = `div[data-testid="multi-column-layout-column-content"]`
	ColumnHeader  = `div[data-testid="columnHeader"]`
	ColumnCell    = `div[data-testid="cellInnerDiv"]`

	// Post selectors
	TweetArticle   = `article[data-testid="tweet"]`
	TweetText      = `[data-testid="tweetText"]`
	TweetAuthor    = `[data-testid="User-Name"]`
	TweetTimestamp = `time[datetime]`
	TweetLink      = `a[href*="/status/"]`
	TweetAvatar    = `[data-testid^="UserAvatar-Container"] img`

	// Media selectors; tweetPhoto marks genuine content images, which keeps
	// emoji and avatar <img> elements out of the media set.
	TweetPhoto = `[data-testid="tweetPhoto"] img`
	TweetVideo = `[data-testid="videoPlayer"] video`

	// Post type indicators
	RepostIndicator = `[data-testid="socialContext"]`
	QuoteContainer  = `div[tabindex="0"][role="link"]`

	// Login page indicators
	LoggedInView = `[data-testid="logged-in-view"]`
)
