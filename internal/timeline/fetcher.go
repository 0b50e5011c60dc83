package timeline

import (
	"context"
	"fmt"
	"log/slog"

	"tweetcurator/internal/domain"
	"tweetcurator/internal/twitter"
)

const (
	DefaultPageSize = 200
	DefaultMaxItems = 800
)

type Transport interface {
	Timeline(ctx context.Context, q twitter.Query) ([]domain.FeedItem, error)
	Item(ctx context.Context, id int64) (domain.FeedItem, error)
}

// Fetcher assembles one newest-first batch from several timeline pages.
type Fetcher struct {
	transport Transport
	pageSize  int
	maxPages  int
	log       *slog.Logger
}

func NewFetcher(transport Transport, pageSize int, maxItems int, log *slog.Logger) *Fetcher {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	return &Fetcher{
		transport: transport,
		pageSize:  pageSize,
		maxPages:  (maxItems + pageSize - 1) / pageSize,
		log:       log,
	}
}

// Fetch returns the items of source newer than sinceID (zero means no lower
// bound), newest first, with strictly decreasing ids. Any non-retriable
// transport error aborts the whole fetch and no partial batch is returned.
func (f *Fetcher) Fetch(
	ctx context.Context,
	source domain.Source,
	sinceID int64,
) ([]domain.FeedItem, error) {
	q := twitter.Query{
		Source:  source,
		Count:   f.pageSize,
		SinceID: sinceID,
	}

	var batch []domain.FeedItem

	for page := range f.maxPages {
		fetched, err := f.fetchPage(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("fetch page (source = %s, page = %d): %w", source.String(), page, err)
		}

		if len(fetched) == 0 {
			break
		}

		batch = append(batch, newerThanCursor(fetched, q)...)

		if len(fetched) < f.pageSize {
			break
		}

		// Cursors are inclusive, so the next page starts with this item again.
		q.MaxID = fetched[len(fetched)-1].ID
	}

	f.log.DebugContext(ctx, "Timeline is fetched",
		"source", source.String(),
		"sinceID", sinceID,
		"count", len(batch))

	return batch, nil
}

func (f *Fetcher) FetchItem(ctx context.Context, id int64) (domain.FeedItem, error) {
	for attempt := 1; ; attempt++ {
		item, err := f.transport.Item(ctx, id)
		if err == nil {
			return item, nil
		}

		if !twitter.IsRetriable(err) || ctx.Err() != nil {
			return domain.FeedItem{}, fmt.Errorf("fetch item (id = %d): %w", id, err)
		}

		f.log.InfoContext(ctx, "Retrying item request",
			"error", err,
			"id", id,
			"attempt", attempt)
	}
}

// fetchPage repeats retriable failures without limit; only the context
// bounds the number of attempts.
func (f *Fetcher) fetchPage(ctx context.Context, q twitter.Query) ([]domain.FeedItem, error) {
	for attempt := 1; ; attempt++ {
		items, err := f.transport.Timeline(ctx, q)
		if err == nil {
			return items, nil
		}

		if !twitter.IsRetriable(err) || ctx.Err() != nil {
			return nil, err
		}

		f.log.InfoContext(ctx, "Retrying timeline request",
			"error", err,
			"source", q.Source.String(),
			"maxID", q.MaxID,
			"attempt", attempt)
	}
}

// newerThanCursor drops the boundary item repeated from the previous page
// and anything at or below the since cursor.
func newerThanCursor(items []domain.FeedItem, q twitter.Query) []domain.FeedItem {
	kept := make([]domain.FeedItem, 0, len(items))

	for _, item := range items {
		if q.MaxID > 0 && item.ID >= q.MaxID {
			continue
		}
		if q.SinceID > 0 && item.ID <= q.SinceID {
			continue
		}

		kept = append(kept, item)
	}

	return kept
}
