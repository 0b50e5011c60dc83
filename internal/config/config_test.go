package config_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"tweetcurator/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.TimelinePageSize != 200 || cfg.TimelineMaxItems != 800 {
		t.Fatalf("unexpected paging defaults: %d %d", cfg.TimelinePageSize, cfg.TimelineMaxItems)
	}

	if !reflect.DeepEqual(cfg.OdesliPlatforms, []string{"appleMusic", "itunes", "spotify"}) {
		t.Fatalf("unexpected platforms: %v", cfg.OdesliPlatforms)
	}

	if cfg.ResolverAttempts != 3 || cfg.ResolverRetryDelay != time.Second || cfg.DedupWindow != 5 {
		t.Fatalf("unexpected resolver or dedup defaults: %+v", cfg)
	}

	if cfg.HistoryBackend != "sqlite" || cfg.HistoryPrefix != "min_tweets" || cfg.HistoryLayout != "records" {
		t.Fatalf("unexpected history defaults: %+v", cfg)
	}
}

func TestLoadDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "TIMELINE_PAGE_SIZE=50\nTIMELINE_MAX_ITEMS=100\nODESLI_PLATFORMS=spotify\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write dotenv: %v", err)
	}

	// Loaded values are process-wide; restore them for other tests.
	for _, key := range []string{"TIMELINE_PAGE_SIZE", "TIMELINE_MAX_ITEMS", "ODESLI_PLATFORMS"} {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.TimelinePageSize != 50 || cfg.TimelineMaxItems != 100 {
		t.Fatalf("unexpected paging: %d %d", cfg.TimelinePageSize, cfg.TimelineMaxItems)
	}

	if !reflect.DeepEqual(cfg.OdesliPlatforms, []string{"spotify"}) {
		t.Fatalf("unexpected platforms: %v", cfg.OdesliPlatforms)
	}
}

func TestLoadMissingDotenv(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"redis without URL", map[string]string{"HISTORY_BACKEND": "redis"}, true},
		{"redis with URL", map[string]string{"HISTORY_BACKEND": "redis", "REDIS_URL": "redis://localhost:6379"}, false},
		{"unknown backend", map[string]string{"HISTORY_BACKEND": "mongo"}, true},
		{"unknown layout", map[string]string{"HISTORY_LAYOUT": "columns"}, true},
		{"max below page", map[string]string{"TIMELINE_MAX_ITEMS": "10"}, true},
		{"zero window", map[string]string{"DEDUP_WINDOW": "0"}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			for k, v := range test.env {
				t.Setenv(k, v)
			}

			_, err := config.Load("")
			if (err != nil) != test.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
		})
	}
}

func TestUsesRSS(t *testing.T) {
	if !(config.Config{RSSHomeURL: "https://nitter/home/rss"}).UsesRSS() {
		t.Fatalf("expected RSS transport without API credentials")
	}

	if (config.Config{TwitterConsumerKey: "k", RSSHomeURL: "https://nitter/home/rss"}).UsesRSS() {
		t.Fatalf("expected REST transport with API credentials")
	}
}
