package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	TwitterConsumerKey       string  `env:"TWITTER_CONSUMER_KEY"`
	TwitterConsumerSecret    string  `env:"TWITTER_CONSUMER_SECRET"`
	TwitterAccessToken       string  `env:"TWITTER_ACCESS_TOKEN"`
	TwitterAccessTokenSecret string  `env:"TWITTER_ACCESS_TOKEN_SECRET"`
	TwitterBaseURL           string  `env:"TWITTER_BASE_URL"            envDefault:"https://api.twitter.com"`
	TwitterRequestsPerSecond float64 `env:"TWITTER_REQUESTS_PER_SECOND" envDefault:"1"`
	TimelinePageSize         int     `env:"TIMELINE_PAGE_SIZE"          envDefault:"200"`
	TimelineMaxItems         int     `env:"TIMELINE_MAX_ITEMS"          envDefault:"800"`

	RSSHomeURL string `env:"RSS_HOME_URL"`
	RSSListURL string `env:"RSS_LIST_URL"`

	SlackWebhookURL string `env:"SLACK_WEBHOOK_URL"`
	TelegramToken   string `env:"TELEGRAM_TOKEN"`
	TelegramChatID  int64  `env:"TELEGRAM_CHAT_ID"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`

	OdesliAPIKey       string        `env:"ODESLI_API_KEY"`
	OdesliBaseURL      string        `env:"ODESLI_BASE_URL"      envDefault:"https://api.song.link/v1-alpha.1/links"`
	OdesliUserCountry  string        `env:"ODESLI_USER_COUNTRY"  envDefault:"JP"`
	OdesliPlatforms    []string      `env:"ODESLI_PLATFORMS"     envDefault:"appleMusic,itunes,spotify"`
	ResolverAttempts   int           `env:"RESOLVER_ATTEMPTS"    envDefault:"3"`
	ResolverRetryDelay time.Duration `env:"RESOLVER_RETRY_DELAY" envDefault:"1s"`
	ResolverTimeout    time.Duration `env:"RESOLVER_TIMEOUT"     envDefault:"10s"`

	HistoryBackend string `env:"HISTORY_BACKEND" envDefault:"sqlite"`
	RedisURL       string `env:"REDIS_URL"`
	DBPath         string `env:"DB_PATH"         envDefault:"tweetcurator.sqlite"`
	HistoryPrefix  string `env:"HISTORY_PREFIX"  envDefault:"min_tweets"`
	HistoryLayout  string `env:"HISTORY_LAYOUT"  envDefault:"records"`
	DedupWindow    int    `env:"DEDUP_WINDOW"    envDefault:"5"`

	RunTimeout     time.Duration `env:"RUN_TIMEOUT"     envDefault:"15m"`
	RunLockTTL     time.Duration `env:"RUN_LOCK_TTL"    envDefault:"30m"`
	PushgatewayURL string        `env:"PUSHGATEWAY_URL"`
	CronSpec       string        `env:"CRON_SPEC"`
	MetricsAddr    string        `env:"METRICS_ADDR"`
}

// Load reads the environment, after loading dotenvPath into it when set.
// Variables already present in the environment win over the file.
func Load(dotenvPath string) (Config, error) {
	if dotenvPath = strings.TrimSpace(dotenvPath); dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil {
			return Config{}, fmt.Errorf("load dotenv (path = %s): %w", dotenvPath, err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err = cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.TimelinePageSize <= 0 {
		errs = append(errs, fmt.Errorf("TIMELINE_PAGE_SIZE must be positive: %d", c.TimelinePageSize))
	}
	if c.TimelineMaxItems < c.TimelinePageSize {
		errs = append(errs, fmt.Errorf("TIMELINE_MAX_ITEMS %d is below TIMELINE_PAGE_SIZE %d",
			c.TimelineMaxItems, c.TimelinePageSize))
	}
	if c.ResolverAttempts <= 0 {
		errs = append(errs, fmt.Errorf("RESOLVER_ATTEMPTS must be positive: %d", c.ResolverAttempts))
	}
	if c.DedupWindow <= 0 {
		errs = append(errs, fmt.Errorf("DEDUP_WINDOW must be positive: %d", c.DedupWindow))
	}

	switch c.HistoryBackend {
	case "sqlite":
	case "redis":
		if strings.TrimSpace(c.RedisURL) == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis history backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown HISTORY_BACKEND: %s", c.HistoryBackend))
	}

	switch c.HistoryLayout {
	case "records", "fields":
	default:
		errs = append(errs, fmt.Errorf("unknown HISTORY_LAYOUT: %s", c.HistoryLayout))
	}

	return errors.Join(errs...)
}

// UsesRSS reports whether the timeline is read from RSS mirrors instead of
// the signed REST API.
func (c Config) UsesRSS() bool {
	return strings.TrimSpace(c.TwitterConsumerKey) == "" &&
		(strings.TrimSpace(c.RSSHomeURL) != "" || strings.TrimSpace(c.RSSListURL) != "")
}
