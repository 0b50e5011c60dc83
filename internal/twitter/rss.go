package twitter

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"tweetcurator/internal/domain"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const (
	rssClientTimeout  = 20 * time.Second
	listIDPlaceholder = "{list_id}"
	statusPathSegment = "status"
)

// RSSTransport reads timelines from RSS mirrors of the feed, one URL per
// source kind. A list URL may contain the {list_id} placeholder.
type RSSTransport struct {
	feedURLs map[domain.SourceKind]string
	parser   *gofeed.Parser
	log      *slog.Logger
}

func NewRSSTransport(homeURL string, listURL string, log *slog.Logger) *RSSTransport {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: rssClientTimeout}

	return &RSSTransport{
		feedURLs: map[domain.SourceKind]string{
			domain.SourceHome: strings.TrimSpace(homeURL),
			domain.SourceList: strings.TrimSpace(listURL),
		},
		parser: parser,
		log:    log,
	}
}

func (t *RSSTransport) Timeline(ctx context.Context, q Query) ([]domain.FeedItem, error) {
	feedURL := t.feedURLs[q.Source.Kind]
	if feedURL == "" {
		return nil, fmt.Errorf("RSS URL is not configured (source = %s)", q.Source.String())
	}

	if q.Source.Kind == domain.SourceList {
		feedURL = strings.ReplaceAll(feedURL, listIDPlaceholder, url.PathEscape(q.Source.ListID))
	}

	parsed, err := t.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			return nil, &StatusError{StatusCode: httpErr.StatusCode, Body: httpErr.Status}
		}

		return nil, fmt.Errorf("parse feed (URL = %s): %w", feedURL, err)
	}

	items := make([]domain.FeedItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		item, ok := parseRSSItem(it)
		if !ok {
			t.log.DebugContext(ctx, "Skipping RSS item without status ID",
				"feedURL", feedURL,
				"link", it.Link)

			continue
		}

		items = append(items, item)
	}

	return selectPage(items, q), nil
}

func (t *RSSTransport) Item(_ context.Context, _ int64) (domain.FeedItem, error) {
	return domain.FeedItem{}, ErrUnsupported
}

// selectPage applies the since/max cursors of q and returns at most q.Count
// items, newest first.
func selectPage(items []domain.FeedItem, q Query) []domain.FeedItem {
	slices.SortFunc(items, func(a, b domain.FeedItem) int { return cmp.Compare(b.ID, a.ID) })

	page := make([]domain.FeedItem, 0, len(items))
	for _, item := range items {
		if q.SinceID > 0 && item.ID <= q.SinceID {
			continue
		}
		if q.MaxID > 0 && item.ID > q.MaxID {
			continue
		}

		page = append(page, item)
		if q.Count > 0 && len(page) == q.Count {
			break
		}
	}

	return page
}

func parseRSSItem(it *gofeed.Item) (domain.FeedItem, bool) {
	screenName, id, ok := parseStatusLink(it.Link)
	if !ok {
		return domain.FeedItem{}, false
	}

	item := domain.FeedItem{
		ID:   id,
		Text: strings.TrimSpace(it.Title),
		Author: domain.Author{
			ScreenName: screenName,
			Name:       screenName,
		},
	}

	if len(it.Authors) > 0 && it.Authors[0] != nil {
		if name := strings.TrimPrefix(strings.TrimSpace(it.Authors[0].Name), "@"); name != "" {
			item.Author.Name = name
		}
	}

	if it.PublishedParsed != nil {
		item.CreatedAt = it.PublishedParsed.UTC()
	} else if it.UpdatedParsed != nil {
		item.CreatedAt = it.UpdatedParsed.UTC()
	}

	item.URLs, item.Media = extractDescriptionLinks(it.Description)

	return item, true
}

// parseStatusLink extracts the author and id from a ".../<name>/status/<id>" link.
func parseStatusLink(raw string) (string, int64, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", 0, false
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 1; i+1 < len(parts); i++ {
		if parts[i] != statusPathSegment {
			continue
		}

		id, parseErr := strconv.ParseInt(parts[i+1], 10, 64)
		if parseErr != nil || id <= 0 {
			return "", 0, false
		}

		return parts[i-1], id, true
	}

	return "", 0, false
}

func extractDescriptionLinks(description string) ([]string, []domain.Media) {
	if strings.TrimSpace(description) == "" {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(description))
	if err != nil {
		return nil, nil
	}

	var urls []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
			urls = append(urls, href)
		}
	})

	var media []domain.Media
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src != "" {
			media = append(media, domain.Media{Type: "photo", URL: src})
		}
	})

	return urls, media
}
