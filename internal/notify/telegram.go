package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tweetcurator/internal/markdown"
	"tweetcurator/internal/ratelimiter"
	"tweetcurator/internal/summarizer"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	maxCaptionRunes = 280
	ellipsis        = "..."
)

type TelegramSink struct {
	bot        *bot.Bot
	chatID     int64
	limiter    *ratelimiter.RateLimiter
	summarizer summarizer.Summarizer
	log        *slog.Logger
}

// NewTelegramSink builds a sink posting to one chat. A nil summarizer
// truncates long captions instead.
func NewTelegramSink(
	token string,
	chatID int64,
	s summarizer.Summarizer,
	limiter *ratelimiter.RateLimiter,
	log *slog.Logger,
	opts ...bot.Option,
) (*TelegramSink, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("chat ID is empty")
	}

	b, err := bot.New(token, append([]bot.Option{bot.WithSkipGetMe()}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	return &TelegramSink{
		bot:        b,
		chatID:     chatID,
		limiter:    limiter,
		summarizer: s,
		log:        log,
	}, nil
}

func (s *TelegramSink) Name() string {
	return "telegram"
}

func (s *TelegramSink) Notify(ctx context.Context, n Notification) error {
	caption := s.caption(ctx, n)
	text := FormatTelegramMessage(n, caption)

	return s.limiter.Send(ctx, s.chatID, func(ctx context.Context) error {
		_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    s.chatID,
			Text:      text,
			ParseMode: models.ParseModeMarkdown,
		})
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}

		return nil
	})
}

func (s *TelegramSink) caption(ctx context.Context, n Notification) string {
	original := n.Item.Original()
	text := strings.TrimSpace(original.Text)

	if len([]rune(text)) <= maxCaptionRunes {
		return text
	}

	if s.summarizer != nil {
		summary, err := s.summarizer.Summarize(ctx, summarizer.Input{
			Text:      text,
			SourceURL: original.Permalink(),
			Author:    original.Author.ScreenName,
			Labels:    n.Labels,
			MaxRunes:  maxCaptionRunes,
		})
		if err == nil {
			return summary
		}

		s.log.WarnContext(ctx, "Failed to summarize caption",
			"error", err,
			"itemID", n.Item.ID)
	}

	return truncateRunes(text, maxCaptionRunes)
}

// FormatTelegramMessage renders a MarkdownV2 message: bold labels, the
// author line, the caption and one link per line.
func FormatTelegramMessage(n Notification, caption string) string {
	original := n.Item.Original()

	var m markdown.Builder

	m.Bold(strings.Join(n.Labels, ", ")).Line()

	m.Text(authorName(original.Author))
	if n.Item.ReblogOf != nil {
		m.Text(" via @" + n.Item.Author.ScreenName)
	}
	m.Line()

	if caption != "" {
		m.Text(caption).Line()
	}

	for _, link := range n.Links {
		m.Line().Text(link)
	}

	return m.String()
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	keep := max(limit-len(ellipsis), 0)

	return strings.TrimSpace(string(runes[:keep])) + ellipsis
}
