package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tweetcurator/internal/domain"
	"tweetcurator/internal/history"
	"tweetcurator/internal/notify"
	"tweetcurator/internal/snapshot"
)

type Task string

const (
	// TaskMedia classifies, resolves and notifies fresh items, then records them.
	TaskMedia Task = "media"
	// TaskHistory only records fresh items.
	TaskHistory Task = "history"
)

func ParseTask(raw string) (Task, error) {
	switch Task(raw) {
	case "", TaskMedia:
		return TaskMedia, nil
	case TaskHistory:
		return TaskHistory, nil
	default:
		return "", fmt.Errorf("unknown task: %s", raw)
	}
}

type Fetcher interface {
	Fetch(ctx context.Context, source domain.Source, sinceID int64) ([]domain.FeedItem, error)
	FetchItem(ctx context.Context, id int64) (domain.FeedItem, error)
}

type Classifier interface {
	Classify(item *domain.FeedItem) domain.ClassificationResult
}

// Linker turns a classification into output links.
type Linker interface {
	Links(ctx context.Context, result domain.ClassificationResult) []string
}

type Recorder interface {
	ItemsFetched(source string, n int)
	ItemsNew(source string, n int)
	ItemMatched(category string)
}

type Options struct {
	Source domain.Source
	// ItemID selects single-item mode: no watermark and no history.
	ItemID       int64
	Task         Task
	Filter       Filter
	SnapshotPath string
}

type Pipeline struct {
	fetcher       Fetcher
	classifier    Classifier
	linker        Linker
	sink          notify.Sink
	backend       history.Backend
	metrics       Recorder
	historyPrefix string
	window        int
	lockTTL       time.Duration
	log           *slog.Logger
}

type Deps struct {
	Fetcher    Fetcher
	Classifier Classifier
	Linker     Linker
	Sink       notify.Sink
	Backend    history.Backend
	Metrics    Recorder
}

type Settings struct {
	HistoryPrefix string
	DedupWindow   int
	LockTTL       time.Duration
}

func New(deps Deps, settings Settings, log *slog.Logger) *Pipeline {
	return &Pipeline{
		fetcher:       deps.Fetcher,
		classifier:    deps.Classifier,
		linker:        deps.Linker,
		sink:          deps.Sink,
		backend:       deps.Backend,
		metrics:       deps.Metrics,
		historyPrefix: settings.HistoryPrefix,
		window:        settings.DedupWindow,
		lockTTL:       settings.LockTTL,
		log:           log,
	}
}

// HistoryStream names the history list of a source.
func HistoryStream(prefix string, source domain.Source) string {
	if source.Kind == domain.SourceHome {
		return prefix
	}

	return prefix + ":" + string(source.Kind)
}

func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	if opts.ItemID > 0 {
		return p.runItem(ctx, opts)
	}

	unlock, ok, err := p.backend.TryLock(ctx, string(opts.Source.Kind), p.lockTTL)
	if err != nil {
		return fmt.Errorf("take run lock: %w", err)
	}
	if !ok {
		p.log.InfoContext(ctx, "Run lock is held elsewhere so run is skipped",
			"source", opts.Source.String())

		return nil
	}
	defer func() {
		// The run context may be canceled already.
		if unlockErr := unlock(context.WithoutCancel(ctx)); unlockErr != nil {
			p.log.ErrorContext(ctx, "Failed to release run lock",
				"error", unlockErr,
				"source", opts.Source.String())
		}
	}()

	return p.runTimeline(ctx, opts)
}

func (p *Pipeline) runTimeline(ctx context.Context, opts Options) error {
	source := opts.Source
	watermarkKey := source.WatermarkKey()

	sinceID, _, err := p.backend.Watermark(ctx, watermarkKey)
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}

	batch, replay, err := p.batch(ctx, opts, func(ctx context.Context) ([]domain.FeedItem, error) {
		return p.fetcher.Fetch(ctx, source, sinceID)
	})
	if err != nil {
		return err
	}

	p.metrics.ItemsFetched(string(source.Kind), len(batch))

	recorder := history.NewRecorder(p.backend, HistoryStream(p.historyPrefix, source), p.window, p.log)

	fresh, err := recorder.Fresh(ctx, batch)
	if err != nil {
		return fmt.Errorf("deduplicate batch: %w", err)
	}

	p.metrics.ItemsNew(string(source.Kind), len(fresh))

	notified := 0
	if opts.Task == TaskMedia {
		notified = p.notifyItems(ctx, fresh, opts.Filter)
	}

	// A snapshot is a local fixture and never moves persisted state.
	if !replay {
		if err = recorder.Record(ctx, fresh); err != nil {
			return fmt.Errorf("record history: %w", err)
		}

		if len(batch) > 0 {
			if err = p.backend.SetWatermark(ctx, watermarkKey, batch[0].ID); err != nil {
				return fmt.Errorf("write watermark: %w", err)
			}
		}
	}

	p.log.InfoContext(ctx, "Run is finished",
		"source", source.String(),
		"task", string(opts.Task),
		"sinceID", sinceID,
		"fetched", len(batch),
		"fresh", len(fresh),
		"notified", notified,
		"replay", replay)

	return nil
}

func (p *Pipeline) runItem(ctx context.Context, opts Options) error {
	batch, _, err := p.batch(ctx, opts, func(ctx context.Context) ([]domain.FeedItem, error) {
		item, err := p.fetcher.FetchItem(ctx, opts.ItemID)
		if err != nil {
			return nil, err
		}

		return []domain.FeedItem{item}, nil
	})
	if err != nil {
		return err
	}

	if opts.Task != TaskMedia {
		p.log.InfoContext(ctx, "History is not recorded in single item mode",
			"itemID", opts.ItemID)

		return nil
	}

	notified := p.notifyItems(ctx, batch, opts.Filter)

	p.log.InfoContext(ctx, "Run is finished",
		"itemID", opts.ItemID,
		"notified", notified)

	return nil
}

// batch reads the snapshot when one exists, and otherwise fetches and
// saves a new one. replay reports that the items came from the snapshot.
func (p *Pipeline) batch(
	ctx context.Context,
	opts Options,
	fetch func(ctx context.Context) ([]domain.FeedItem, error),
) (items []domain.FeedItem, replay bool, err error) {
	if opts.SnapshotPath != "" {
		loaded, ok, loadErr := snapshot.Load(opts.SnapshotPath)
		if loadErr != nil {
			return nil, false, fmt.Errorf("load snapshot: %w", loadErr)
		}
		if ok {
			p.log.InfoContext(ctx, "Batch is read from snapshot",
				"path", opts.SnapshotPath,
				"count", len(loaded))

			return loaded, true, nil
		}
	}

	items, err = fetch(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("fetch batch: %w", err)
	}

	if opts.SnapshotPath != "" {
		if err = snapshot.Save(opts.SnapshotPath, items); err != nil {
			p.log.ErrorContext(ctx, "Failed to save snapshot",
				"error", err,
				"path", opts.SnapshotPath)
		}
	}

	return items, false, nil
}

// notifyItems posts every matching item of an oldest-first slice and
// returns how many were delivered. Delivery errors never stop the batch.
func (p *Pipeline) notifyItems(ctx context.Context, items []domain.FeedItem, filter Filter) int {
	if p.sink == nil {
		p.log.WarnContext(ctx, "No notification sink is configured",
			"count", len(items))

		return 0
	}

	notified := 0

	for i := range items {
		if ctx.Err() != nil {
			break
		}

		item := &items[i]

		result := p.classifier.Classify(item)
		if result.Empty() {
			continue
		}

		for _, c := range result.Categories {
			p.metrics.ItemMatched(string(c))
		}

		if !filter.Allows(result) {
			p.log.DebugContext(ctx, "Item is filtered out",
				"itemID", item.ID,
				"categories", result.Categories,
				"filter", filter.String())

			continue
		}

		n := notify.Notification{
			Item:       item,
			Categories: result.Categories,
			Labels:     result.Labels,
			Links:      p.linker.Links(ctx, result),
		}

		if err := p.sink.Notify(ctx, n); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}

			p.log.WarnContext(ctx, "Item notification failed",
				"error", err,
				"itemID", item.ID)

			continue
		}

		notified++
	}

	return notified
}
