// Package telegram delivers scored summaries to a Telegram channel.
package telegram

import (
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"deckwatch/internal/types"
)

// maxMessageLen is Telegram's hard limit per message.
const maxMessageLen = 4096

// Sender is the slice of the bot API the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier formats and sends digest messages.
type Notifier struct {
	bot        Sender
	channelID  string
	maxRetries int
	retryPause time.Duration
	log        *zap.Logger
}

// New connects to the bot API. Returns an error when the token is rejected.
func New(token, channelID string, log *zap.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init failed: %w", err)
	}
	return NewWithSender(bot, channelID, log), nil
}

// NewWithSender wires a custom sender, used in tests.
func NewWithSender(bot Sender, channelID string, log *zap.Logger) *Notifier {
	return &Notifier{
		bot:        bot,
		channelID:  channelID,
		maxRetries: 3,
		retryPause: 2 * time.Second,
		log:        log,
	}
}

// SendDigest formats and delivers the day's top records. Each record failing
// to send is logged and skipped; the digest keeps going.
func (n *Notifier) SendDigest(date string, scored []types.ScoredRecord) error {
	if len(scored) == 0 {
		n.log.Info("nothing to deliver", zap.String("date", date))
		return nil
	}

	header := fmt.Sprintf("<b>Daily digest %s</b> (%d posts)", date, len(scored))
	if err := n.send(header); err != nil {
		return fmt.Errorf("digest header failed: %w", err)
	}

	var failed int
	for _, sr := range scored {
		if err := n.send(FormatRecord(sr)); err != nil {
			failed++
			n.log.Warn("record delivery failed",
				zap.String("id", sr.Record.ID), zap.Error(err))
		}
	}
	if failed > 0 {
		n.log.Warn("digest delivered with failures",
			zap.Int("failed", failed), zap.Int("total", len(scored)))
	}
	return nil
}

// SendRecord delivers a single freshly captured record as it arrives.
func (n *Notifier) SendRecord(rec types.Record) error {
	return n.send(FormatLive(rec))
}

func (n *Notifier) send(text string) error {
	msg := tgbotapi.NewMessageToChannel(n.channelID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	var lastErr error
	for attempt := 0; attempt < n.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(n.retryDelay(attempt))
		}
		if _, err := n.bot.Send(msg); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// retryDelay scales the pause with the attempt number.
func (n *Notifier) retryDelay(attempt int) time.Duration {
	return time.Duration(attempt) * n.retryPause
}

// FormatLive renders an unscored record for realtime delivery.
func FormatLive(rec types.Record) string {
	return FormatRecord(types.ScoredRecord{Record: rec, Score: types.Score{Average: -1}})
}

// FormatRecord renders one scored record as Telegram HTML: bold author,
// linked post, score line, then the summary and text.
func FormatRecord(sr types.ScoredRecord) string {
	r := sr.Record
	var sb strings.Builder

	author := r.AuthorDisplayName
	if author == "" {
		author = r.Author
	}
	sb.WriteString(fmt.Sprintf("<b>%s</b> (@%s)\n", html.EscapeString(author), html.EscapeString(r.Author)))
	// Live records carry no score.
	if sr.Score.Average >= 0 {
		sb.WriteString(fmt.Sprintf("Score: %.1f\n", sr.Score.Average))
	}
	sb.WriteString("\n")

	if sr.Summary != "" {
		sb.WriteString(fmt.Sprintf("<i>%s</i>\n\n", html.EscapeString(sr.Summary)))
	}
	if r.Text != "" {
		sb.WriteString(html.EscapeString(r.Text))
		sb.WriteString("\n\n")
	}
	// A repost's body already is the reposted text, so only the attribution
	// line is added.
	if r.IsRepost && r.RepostedContent != nil {
		if r.RepostedBy != "" {
			sb.WriteString(fmt.Sprintf("↪ %s reposted @%s\n\n",
				html.EscapeString(r.RepostedBy),
				html.EscapeString(r.RepostedContent.AuthorHandle)))
		} else {
			sb.WriteString(fmt.Sprintf("↪ Repost of @%s\n\n",
				html.EscapeString(r.RepostedContent.AuthorHandle)))
		}
	}
	if r.IsQuoteRetweet && r.QuotedContent != nil && r.QuotedContent.Text != "" {
		sb.WriteString(fmt.Sprintf("❝ @%s: %s\n\n",
			html.EscapeString(r.QuotedContent.AuthorHandle),
			html.EscapeString(r.QuotedContent.Text)))
	}
	if r.URL != "" {
		sb.WriteString(fmt.Sprintf(`<a href="%s">View post</a>`, r.URL))
	}

	text := strings.TrimRight(sb.String(), "\n")
	if runes := []rune(text); len(runes) > maxMessageLen {
		text = string(runes[:maxMessageLen-1]) + "…"
	}
	return text
}
