package timeline_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"tweetcurator/internal/domain"
	"tweetcurator/internal/timeline"
	"tweetcurator/internal/twitter"
)

// fakeTransport serves a descending id range with inclusive max/since cursors.
type fakeTransport struct {
	mu       sync.Mutex
	ids      []int64
	queries  []twitter.Query
	failures []error
	itemErr  error
}

func newFakeTransport(newest int64, count int) *fakeTransport {
	ids := make([]int64, 0, count)
	for i := range count {
		ids = append(ids, newest-int64(i))
	}

	return &fakeTransport{ids: ids}
}

func (t *fakeTransport) Timeline(_ context.Context, q twitter.Query) ([]domain.FeedItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.queries = append(t.queries, q)

	if len(t.failures) > 0 {
		err := t.failures[0]
		t.failures = t.failures[1:]
		return nil, err
	}

	var page []domain.FeedItem
	for _, id := range t.ids {
		if q.MaxID > 0 && id > q.MaxID {
			continue
		}
		if q.SinceID > 0 && id <= q.SinceID {
			continue
		}

		page = append(page, domain.FeedItem{ID: id})
		if len(page) == q.Count {
			break
		}
	}

	return page, nil
}

func (t *fakeTransport) Item(_ context.Context, id int64) (domain.FeedItem, error) {
	if t.itemErr != nil {
		err := t.itemErr
		t.itemErr = nil
		return domain.FeedItem{}, err
	}

	return domain.FeedItem{ID: id}, nil
}

func (t *fakeTransport) calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.queries)
}

func assertStrictlyDecreasing(t *testing.T, items []domain.FeedItem) {
	t.Helper()

	seen := make(map[int64]struct{}, len(items))
	for i, item := range items {
		if _, ok := seen[item.ID]; ok {
			t.Fatalf("repeated id %d at index %d", item.ID, i)
		}
		seen[item.ID] = struct{}{}

		if i > 0 && items[i-1].ID <= item.ID {
			t.Fatalf("ids are not strictly decreasing at index %d: %d then %d", i, items[i-1].ID, item.ID)
		}
	}
}

func TestFetchStopsOnShortPage(t *testing.T) {
	transport := newFakeTransport(1000, 300)
	fetcher := timeline.NewFetcher(transport, 200, 800, slog.Default())

	items, err := fetcher.Fetch(context.Background(), domain.HomeSource(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := transport.calls(); got != 2 {
		t.Fatalf("expected 2 page requests, got %d", got)
	}

	if len(items) != 300 {
		t.Fatalf("expected 300 items, got %d", len(items))
	}

	assertStrictlyDecreasing(t, items)

	if transport.queries[0].MaxID != 0 {
		t.Fatalf("expected first request without max ID, got %d", transport.queries[0].MaxID)
	}

	if want := items[199].ID; transport.queries[1].MaxID != want {
		t.Fatalf("expected cursor at last item of first page %d, got %d", want, transport.queries[1].MaxID)
	}
}

func TestFetchRespectsPageCeiling(t *testing.T) {
	transport := newFakeTransport(10000, 5000)
	fetcher := timeline.NewFetcher(transport, 200, 800, slog.Default())

	items, err := fetcher.Fetch(context.Background(), domain.HomeSource(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := transport.calls(); got != 4 {
		t.Fatalf("expected 4 page requests, got %d", got)
	}

	// 200 + 3 * 199 because every later page repeats its boundary item.
	if len(items) != 797 {
		t.Fatalf("expected 797 items, got %d", len(items))
	}

	assertStrictlyDecreasing(t, items)
}

func TestFetchPassesSinceIDOnEveryCall(t *testing.T) {
	transport := newFakeTransport(1000, 1000)
	fetcher := timeline.NewFetcher(transport, 200, 800, slog.Default())

	items, err := fetcher.Fetch(context.Background(), domain.HomeSource(), 700)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, q := range transport.queries {
		if q.SinceID != 700 {
			t.Fatalf("expected since ID on request %d, got %d", i, q.SinceID)
		}
	}

	if len(items) != 300 {
		t.Fatalf("expected 300 items newer than since ID, got %d", len(items))
	}

	for _, item := range items {
		if item.ID <= 700 {
			t.Fatalf("unexpected item at or below since ID: %d", item.ID)
		}
	}

	assertStrictlyDecreasing(t, items)
}

func TestFetchEmptyTimeline(t *testing.T) {
	transport := newFakeTransport(100, 0)
	fetcher := timeline.NewFetcher(transport, 200, 800, slog.Default())

	items, err := fetcher.Fetch(context.Background(), domain.ListSource("1"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(items) != 0 || transport.calls() != 1 {
		t.Fatalf("expected one request and no items, got %d requests and %d items", transport.calls(), len(items))
	}
}

func TestFetchRetriesDoNotCountAsPages(t *testing.T) {
	transport := newFakeTransport(10000, 5000)
	transport.failures = []error{
		&twitter.StatusError{StatusCode: 429},
		&twitter.StatusError{StatusCode: 503},
	}
	fetcher := timeline.NewFetcher(transport, 200, 800, slog.Default())

	items, err := fetcher.Fetch(context.Background(), domain.HomeSource(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := transport.calls(); got != 6 {
		t.Fatalf("expected 4 pages plus 2 retries, got %d requests", got)
	}

	if len(items) != 797 {
		t.Fatalf("expected retries not to count as pages, got %d items", len(items))
	}
}

func TestFetchAbortsOnTransportError(t *testing.T) {
	transport := newFakeTransport(10000, 5000)

	// Fail the second page after a successful first one.
	wrapped := &failingAfter{fakeTransport: transport, after: 1, err: &twitter.StatusError{StatusCode: 401}}
	fetcher := timeline.NewFetcher(wrapped, 200, 800, slog.Default())

	items, err := fetcher.Fetch(context.Background(), domain.HomeSource(), 0)
	if err == nil {
		t.Fatalf("expected error")
	}

	var statusErr *twitter.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 401 {
		t.Fatalf("expected wrapped status error, got %v", err)
	}

	if items != nil {
		t.Fatalf("expected no partial batch, got %d items", len(items))
	}
}

func TestFetchItemRetries(t *testing.T) {
	transport := newFakeTransport(1, 1)
	transport.itemErr = &twitter.StatusError{StatusCode: 429}
	fetcher := timeline.NewFetcher(transport, 0, 0, slog.Default())

	item, err := fetcher.FetchItem(context.Background(), 55)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if item.ID != 55 {
		t.Fatalf("unexpected item: %+v", item)
	}
}

type failingAfter struct {
	*fakeTransport
	after int
	err   error
}

func (f *failingAfter) Timeline(ctx context.Context, q twitter.Query) ([]domain.FeedItem, error) {
	if f.fakeTransport.calls() >= f.after {
		f.fakeTransport.mu.Lock()
		f.fakeTransport.queries = append(f.fakeTransport.queries, q)
		f.fakeTransport.mu.Unlock()

		return nil, f.err
	}

	return f.fakeTransport.Timeline(ctx, q)
}
