package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tweetcurator/internal/domain"

	"github.com/slack-go/slack"
)

const (
	slackClientTimeout = 20 * time.Second
	attachmentColor    = "#00acee"
	protectedGlyph     = "🔒"
	thumbHost          = "pbs.twimg.com"
)

// SlackSink posts a header message with the item attachment, then one
// message per link so that Slack unfurls each of them.
type SlackSink struct {
	webhookURL string
	httpClient *http.Client
	log        *slog.Logger
}

func NewSlackSink(webhookURL string, log *slog.Logger) (*SlackSink, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil, errors.New("webhook URL is empty")
	}

	if _, err := url.Parse(webhookURL); err != nil {
		return nil, fmt.Errorf("parse webhook URL: %w", err)
	}

	return &SlackSink{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: slackClientTimeout},
		log:        log,
	}, nil
}

func (s *SlackSink) Name() string {
	return "slack"
}

func (s *SlackSink) Notify(ctx context.Context, n Notification) error {
	if err := s.post(ctx, HeaderMessage(n)); err != nil {
		return fmt.Errorf("post header (itemID = %d): %w", n.Item.ID, err)
	}

	var errs []error
	for _, link := range n.Links {
		if err := s.post(ctx, LinkMessage(link)); err != nil {
			errs = append(errs, fmt.Errorf("post link (link = %s): %w", link, err))
		}
	}

	return errors.Join(errs...)
}

func (s *SlackSink) post(ctx context.Context, msg *slack.WebhookMessage) error {
	return slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.httpClient, msg)
}

func HeaderMessage(n Notification) *slack.WebhookMessage {
	return &slack.WebhookMessage{
		Text:        "*" + strings.Join(n.Labels, ", ") + "*",
		Attachments: []slack.Attachment{ItemAttachment(n.Item)},
	}
}

func LinkMessage(link string) *slack.WebhookMessage {
	return &slack.WebhookMessage{
		Text:        link,
		UnfurlLinks: true,
	}
}

// ItemAttachment renders the reshared original when item is a reshare and
// credits the resharer in the footer.
func ItemAttachment(item *domain.FeedItem) slack.Attachment {
	original := item.Original()

	attachment := slack.Attachment{
		AuthorName: authorName(original.Author),
		AuthorLink: item.Permalink(),
		AuthorIcon: original.Author.AvatarURL,
		Color:      attachmentColor,
		Text:       original.Text,
	}

	if !original.CreatedAt.IsZero() {
		attachment.Ts = json.Number(strconv.FormatInt(original.CreatedAt.Unix(), 10))
	}

	if item.ReblogOf != nil {
		attachment.Footer = "Retweeted by " + authorName(item.Author)
		attachment.FooterIcon = item.Author.AvatarURL
	}

	if thumb := thumbURL(original.Media); thumb != "" {
		attachment.ThumbURL = thumb
	}

	return attachment
}

func authorName(a domain.Author) string {
	name := fmt.Sprintf("%s (@%s)", a.Name, a.ScreenName)
	if a.Protected {
		name += " " + protectedGlyph
	}

	return name
}

// thumbURL returns the first attached media URL, switched to the resized
// variant on the media host.
func thumbURL(media []domain.Media) string {
	if len(media) == 0 || media[0].URL == "" {
		return ""
	}

	raw := media[0].URL

	u, err := url.Parse(raw)
	if err != nil || u.Hostname() != thumbHost {
		return raw
	}

	q := u.Query()
	q.Set("name", "thumb")
	u.RawQuery = q.Encode()

	return u.String()
}
