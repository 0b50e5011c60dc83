package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tweetcurator/internal/classifier"
	"tweetcurator/internal/config"
	"tweetcurator/internal/domain"
	"tweetcurator/internal/history"
	"tweetcurator/internal/metrics"
	"tweetcurator/internal/notify"
	"tweetcurator/internal/pipeline"
	"tweetcurator/internal/ratelimiter"
	"tweetcurator/internal/resolver"
	"tweetcurator/internal/scheduler"
	"tweetcurator/internal/summarizer"
	"tweetcurator/internal/timeline"
	"tweetcurator/internal/twitter"
)

const (
	pushTimeout       = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

type flags struct {
	debug        bool
	dotenv       string
	home         bool
	listID       string
	itemID       int64
	snapshotPath string
	filter       string
	cronSpec     string
	task         string
}

func main() {
	if err := run(); err != nil {
		slog.Error("Run failed",
			"error", err)

		os.Exit(1)
	}
}

func parseFlags() (flags, error) {
	var f flags

	flag.BoolVar(&f.debug, "debug", false, "enable debug logging")
	flag.StringVar(&f.dotenv, "dotenv", "", "load environment variables from this file")
	flag.BoolVar(&f.home, "home", false, "process the home timeline")
	flag.StringVar(&f.listID, "list-id", "", "process the list with this ID")
	flag.Int64Var(&f.itemID, "tweet-id", 0, "process a single item by ID")
	flag.StringVar(&f.snapshotPath, "json", "", "read the batch from this file if it exists, otherwise save it there")
	flag.StringVar(&f.filter, "filter", pipeline.DefaultFilter, "comma-separated media filter: all, music, image, video")
	flag.StringVar(&f.cronSpec, "cron", "", "run on this cron schedule (UTC) instead of once")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] (-home | -list-id ID | -tweet-id ID) [media|history]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() > 1 {
		return f, fmt.Errorf("expected at most one task, got %d", flag.NArg())
	}
	f.task = flag.Arg(0)

	modes := 0
	if f.home {
		modes++
	}
	if strings.TrimSpace(f.listID) != "" {
		modes++
	}
	if f.itemID != 0 {
		modes++
	}
	if modes != 1 {
		return f, errors.New("exactly one of -home, -list-id and -tweet-id is required")
	}

	if f.itemID < 0 {
		return f, fmt.Errorf("invalid item ID: %d", f.itemID)
	}

	return f, nil
}

func run() error {
	f, err := parseFlags()
	if err != nil {
		flag.Usage()

		return fmt.Errorf("parse flags: %w", err)
	}

	level := slog.LevelInfo
	if f.debug {
		level = slog.LevelDebug
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg, err := config.Load(f.dotenv)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	task, err := pipeline.ParseTask(f.task)
	if err != nil {
		return err
	}

	filter, err := pipeline.ParseFilter(f.filter)
	if err != nil {
		return err
	}

	cronSpec := strings.TrimSpace(f.cronSpec)
	if cronSpec == "" {
		cronSpec = strings.TrimSpace(cfg.CronSpec)
	}
	if cronSpec != "" && f.itemID != 0 {
		return errors.New("single item mode cannot be scheduled")
	}

	opts := pipeline.Options{
		ItemID:       f.itemID,
		Task:         task,
		Filter:       filter,
		SnapshotPath: strings.TrimSpace(f.snapshotPath),
	}
	if f.home {
		opts.Source = domain.HomeSource()
	} else {
		opts.Source = domain.ListSource(f.listID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	transport, err := newTransport(cfg, opts.SnapshotPath, log)
	if err != nil {
		return err
	}

	backend, err := history.Open(ctx, history.Options{
		Backend:  history.BackendKind(cfg.HistoryBackend),
		RedisURL: cfg.RedisURL,
		Layout:   history.Layout(cfg.HistoryLayout),
		DBPath:   cfg.DBPath,
	}, log)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			log.ErrorContext(ctx, "Failed to close history",
				"error", closeErr,
				"backend", cfg.HistoryBackend)
		}
	}()
	log.InfoContext(ctx, "History is opened",
		"backend", cfg.HistoryBackend,
		"layout", cfg.HistoryLayout)

	limiter := ratelimiter.New(log)
	defer limiter.Stop()

	sinks, err := newSinks(ctx, cfg, limiter, log)
	if err != nil {
		return err
	}
	if task == pipeline.TaskMedia && len(sinks) == 0 {
		return errors.New("media task requires SLACK_WEBHOOK_URL or TELEGRAM_TOKEN")
	}

	res := resolver.New(resolver.Options{
		BaseURL:     cfg.OdesliBaseURL,
		APIKey:      cfg.OdesliAPIKey,
		UserCountry: cfg.OdesliUserCountry,
		Platforms:   cfg.OdesliPlatforms,
		Attempts:    cfg.ResolverAttempts,
		RetryDelay:  cfg.ResolverRetryDelay,
		Timeout:     cfg.ResolverTimeout,
		OnOutcome:   m.ResolverOutcome,
	}, log)

	p := pipeline.New(pipeline.Deps{
		Fetcher:    timeline.NewFetcher(transport, cfg.TimelinePageSize, cfg.TimelineMaxItems, log),
		Classifier: classifier.New(),
		Linker:     res,
		Sink:       notify.NewMulti(sinks, m.Notification),
		Backend:    backend,
		Metrics:    m,
	}, pipeline.Settings{
		HistoryPrefix: cfg.HistoryPrefix,
		DedupWindow:   cfg.DedupWindow,
		LockTTL:       cfg.RunLockTTL,
	}, log)

	job := func(ctx context.Context) error {
		start := time.Now()
		err := p.Run(ctx, opts)
		m.RunFinished(start, err)

		return err
	}

	if cronSpec != "" {
		return runDaemon(ctx, cfg, cronSpec, job, m, log)
	}

	return runOnce(ctx, cfg, job, m, log)
}

func runOnce(
	ctx context.Context,
	cfg config.Config,
	job scheduler.Job,
	m *metrics.Metrics,
	log *slog.Logger,
) error {
	runCtx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	runErr := job(runCtx)

	if gatewayURL := strings.TrimSpace(cfg.PushgatewayURL); gatewayURL != "" {
		pushCtx, pushCancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer pushCancel()

		if err := m.Push(pushCtx, gatewayURL); err != nil {
			log.ErrorContext(ctx, "Failed to push metrics",
				"error", err,
				"gatewayURL", gatewayURL)
		}
	}

	return runErr
}

func runDaemon(
	ctx context.Context,
	cfg config.Config,
	cronSpec string,
	job scheduler.Job,
	m *metrics.Metrics,
	log *slog.Logger,
) error {
	start := time.Now()

	var server *http.Server
	if addr := strings.TrimSpace(cfg.MetricsAddr); addr != "" {
		server = &http.Server{
			Addr:              addr,
			Handler:           m.Router(),
			ReadHeaderTimeout: readHeaderTimeout,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.ErrorContext(ctx, "Metrics server failed",
					"error", err,
					"addr", addr)
			}
		}()
		log.InfoContext(ctx, "Metrics server is started",
			"addr", addr)
	}

	sched := scheduler.New(ctx, cronSpec, cfg.RunTimeout, job, log)

	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	log.InfoContext(ctx, "Scheduler is started",
		"spec", cronSpec,
		"timezone", scheduler.Timezone)

	<-ctx.Done()
	log.InfoContext(ctx, "Shutdown signal is received",
		"uptimeSeconds", time.Since(start).Seconds())

	sched.Stop()
	log.InfoContext(ctx, "Scheduler is stopped")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.ErrorContext(ctx, "Failed to shut down metrics server",
				"error", err)
		}
	}

	return nil
}

// offlineTransport stands in for a client that could not be built when a
// snapshot replaces the fetch.
type offlineTransport struct {
	err error
}

func (t offlineTransport) Timeline(context.Context, twitter.Query) ([]domain.FeedItem, error) {
	return nil, t.err
}

func (t offlineTransport) Item(context.Context, int64) (domain.FeedItem, error) {
	return domain.FeedItem{}, t.err
}

func newTransport(cfg config.Config, snapshotPath string, log *slog.Logger) (timeline.Transport, error) {
	if cfg.UsesRSS() {
		log.Info("Using RSS transport",
			"homeConfigured", cfg.RSSHomeURL != "",
			"listConfigured", cfg.RSSListURL != "")

		return twitter.NewRSSTransport(cfg.RSSHomeURL, cfg.RSSListURL, log), nil
	}

	client, err := twitter.NewClient(twitter.Credentials{
		ConsumerKey:       cfg.TwitterConsumerKey,
		ConsumerSecret:    cfg.TwitterConsumerSecret,
		AccessToken:       cfg.TwitterAccessToken,
		AccessTokenSecret: cfg.TwitterAccessTokenSecret,
	}, cfg.TwitterBaseURL, cfg.TwitterRequestsPerSecond, log)
	if err != nil {
		err = fmt.Errorf("create API client: %w", err)

		if snapshotPath != "" {
			if _, statErr := os.Stat(snapshotPath); statErr == nil {
				log.Warn("API client is unavailable so only the snapshot is read",
					"error", err,
					"path", snapshotPath)

				return offlineTransport{err: err}, nil
			}
		}

		return nil, err
	}

	return client, nil
}

func newSinks(
	ctx context.Context,
	cfg config.Config,
	limiter *ratelimiter.RateLimiter,
	log *slog.Logger,
) ([]notify.Sink, error) {
	var sinks []notify.Sink

	if strings.TrimSpace(cfg.SlackWebhookURL) != "" {
		slack, err := notify.NewSlackSink(cfg.SlackWebhookURL, log)
		if err != nil {
			return nil, fmt.Errorf("create Slack sink: %w", err)
		}

		sinks = append(sinks, slack)
	}

	if strings.TrimSpace(cfg.TelegramToken) != "" {
		telegram, err := notify.NewTelegramSink(
			cfg.TelegramToken,
			cfg.TelegramChatID,
			initOpenAISummarizer(ctx, cfg, log),
			limiter,
			log,
		)
		if err != nil {
			return nil, fmt.Errorf("create Telegram sink: %w", err)
		}

		sinks = append(sinks, telegram)
	}

	return sinks, nil
}

func initOpenAISummarizer(ctx context.Context, cfg config.Config, log *slog.Logger) summarizer.Summarizer {
	apiKey := strings.TrimSpace(cfg.OpenAIAPIKey)
	if apiKey == "" {
		log.WarnContext(ctx, "OPENAI_API_KEY is missing so captions will be truncated",
			"envVar", "OPENAI_API_KEY")

		return nil
	}

	s, err := summarizer.NewOpenAISummarizer(apiKey)
	if err != nil {
		log.ErrorContext(ctx, "Failed to create OpenAI summarizer so captions will be truncated",
			"error", err,
			"envVar", "OPENAI_API_KEY")

		return nil
	}

	log.InfoContext(ctx, "OpenAI summarizer is initialized",
		"provider", "openai")

	return s
}
