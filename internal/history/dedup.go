package history

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"tweetcurator/internal/domain"
)

// StopIndex returns the position of the first item of a newest-first batch
// whose id is already recorded, or len(batch) when none is.
func StopIndex(batch []domain.FeedItem, recentIDs []int64) int {
	for i := range batch {
		if slices.Contains(recentIDs, batch[i].ID) {
			return i
		}
	}

	return len(batch)
}

// Recorder applies the dedup-then-append algorithm to one stream.
// It assumes a single writer per stream.
type Recorder struct {
	store  Store
	stream string
	window int
	log    *slog.Logger
}

func NewRecorder(store Store, stream string, window int, log *slog.Logger) *Recorder {
	if window <= 0 {
		window = DefaultWindow
	}

	return &Recorder{
		store:  store,
		stream: stream,
		window: window,
		log:    log,
	}
}

// Fresh truncates a newest-first batch to the items newer than the most
// recently recorded ones and returns them oldest first.
func (r *Recorder) Fresh(ctx context.Context, batch []domain.FeedItem) ([]domain.FeedItem, error) {
	recent, err := r.store.Restore(ctx, r.stream, FirstN(r.window), []Field{FieldID})
	if err != nil {
		return nil, fmt.Errorf("restore recent ids: %w", err)
	}

	recentIDs := make([]int64, 0, len(recent))
	for _, e := range recent {
		recentIDs = append(recentIDs, e.ID)
	}

	stop := StopIndex(batch, recentIDs)

	fresh := slices.Clone(batch[:stop])
	slices.Reverse(fresh)

	r.log.DebugContext(ctx, "Batch is deduplicated",
		"stream", r.stream,
		"fetched", len(batch),
		"fresh", len(fresh))

	return fresh, nil
}

// Record stores oldest-first items one by one so the newest ends up first.
func (r *Recorder) Record(ctx context.Context, items []domain.FeedItem) error {
	for i := range items {
		entry := domain.NewHistoryEntry(&items[i])

		if err := r.store.Store(ctx, r.stream, entry); err != nil {
			return fmt.Errorf("store entry (id = %d): %w", entry.ID, err)
		}
	}

	r.log.InfoContext(ctx, "History is recorded",
		"stream", r.stream,
		"count", len(items))

	return nil
}
