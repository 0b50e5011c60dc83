package twitter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tweetcurator/internal/domain"

	"golang.org/x/time/rate"
)

const homePage = `[
  {
    "id": 103,
    "created_at": "Wed Oct 10 20:19:24 +0000 2018",
    "full_text": "Now playing: something https://t.co/a",
    "user": {"screen_name": "alice", "name": "Alice", "protected": true, "profile_image_url_https": "https://pbs.twimg.com/a.jpg"},
    "entities": {"urls": [{"url": "https://t.co/a", "expanded_url": "https://open.spotify.com/track/1"}]},
    "extended_entities": {"media": [{"type": "video", "media_url_https": "https://pbs.twimg.com/thumb.jpg",
      "video_info": {"variants": [
        {"content_type": "video/mp4", "bitrate": 800000, "url": "https://video.twimg.com/800.mp4"},
        {"content_type": "application/x-mpegURL", "url": "https://video.twimg.com/pl.m3u8"}
      ]}}]}
  },
  {
    "id": 102,
    "created_at": "Wed Oct 10 20:18:24 +0000 2018",
    "text": "RT @bob: hi",
    "user": {"screen_name": "alice", "name": "Alice"},
    "entities": {"urls": []},
    "retweeted_status": {
      "id": 90,
      "created_at": "Wed Oct 10 10:00:00 +0000 2018",
      "full_text": "hi",
      "user": {"screen_name": "bob", "name": "Bob"},
      "entities": {"urls": []}
    }
  },
  {
    "id": 101,
    "created_at": "Wed Oct 10 20:17:24 +0000 2018",
    "full_text": "@carol yes",
    "in_reply_to_status_id": 55,
    "user": {"screen_name": "alice", "name": "Alice"},
    "entities": {"urls": []}
  }
]`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return newClient(srv.Client(), srv.URL, rate.NewLimiter(rate.Inf, 1), slog.Default())
}

func TestClientTimelineSendsPagingParams(t *testing.T) {
	var gotPath string
	var gotQuery map[string]string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		_, _ = w.Write([]byte(homePage))
	})

	items, err := client.Timeline(context.Background(), Query{
		Source:  domain.HomeSource(),
		Count:   200,
		SinceID: 99,
		MaxID:   150,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/1.1/statuses/home_timeline.json" {
		t.Fatalf("unexpected path: %q", gotPath)
	}

	want := map[string]string{
		"count":       "200",
		"include_rts": "true",
		"tweet_mode":  "extended",
		"since_id":    "99",
		"max_id":      "150",
	}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Fatalf("unexpected %s param: got %q want %q", k, gotQuery[k], v)
		}
	}

	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
}

func TestClientTimelineListOmitsUnsetCursors(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte("[]"))
	})

	_, err := client.Timeline(context.Background(), Query{
		Source: domain.ListSource("42"),
		Count:  200,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/1.1/lists/statuses.json" {
		t.Fatalf("unexpected path: %q", gotPath)
	}

	if _, ok := gotQuery["since_id"]; ok {
		t.Fatalf("expected since_id to be omitted")
	}

	if _, ok := gotQuery["max_id"]; ok {
		t.Fatalf("expected max_id to be omitted")
	}

	if got := gotQuery["list_id"]; len(got) != 1 || got[0] != "42" {
		t.Fatalf("unexpected list_id: %v", got)
	}
}

func TestClientStatusErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRetriable bool
	}{
		{"Rate limited", http.StatusTooManyRequests, true},
		{"Enhance your calm", statusEnhanceYourCalm, true},
		{"Service unavailable", http.StatusServiceUnavailable, true},
		{"Unauthorized", http.StatusUnauthorized, false},
		{"Not found", http.StatusNotFound, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(test.status)
				_, _ = w.Write([]byte(`{"errors":[{"code":88}]}`))
			})

			_, err := client.Timeline(context.Background(), Query{Source: domain.HomeSource(), Count: 1})
			if err == nil {
				t.Fatalf("expected error")
			}

			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("expected StatusError, got %T", err)
			}

			if statusErr.StatusCode != test.status {
				t.Fatalf("unexpected status: %d", statusErr.StatusCode)
			}

			if got := IsRetriable(err); got != test.wantRetriable {
				t.Fatalf("unexpected retriable: got %v want %v", got, test.wantRetriable)
			}
		})
	}
}

func TestClientItem(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1.1/statuses/show.json" || r.URL.Query().Get("id") != "7" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id": 7, "text": "single", "user": {"screen_name": "dave"}, "entities": {"urls": []}}`))
	})

	item, err := client.Item(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if item.ID != 7 || item.Text != "single" || item.Author.ScreenName != "dave" {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestDecodeItems(t *testing.T) {
	items, err := DecodeItems([]byte(homePage))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := items[0]
	if first.Text != "Now playing: something https://t.co/a" {
		t.Fatalf("expected full_text to win, got %q", first.Text)
	}

	if !first.Author.Protected || first.Author.AvatarURL != "https://pbs.twimg.com/a.jpg" {
		t.Fatalf("unexpected author: %+v", first.Author)
	}

	if len(first.URLs) != 1 || first.URLs[0] != "https://open.spotify.com/track/1" {
		t.Fatalf("expected expanded URL, got %v", first.URLs)
	}

	if len(first.Media) != 1 || len(first.Media[0].Variants) != 2 {
		t.Fatalf("unexpected media: %+v", first.Media)
	}

	wantTime := time.Date(2018, 10, 10, 20, 19, 24, 0, time.UTC)
	if !first.CreatedAt.Equal(wantTime) {
		t.Fatalf("unexpected created at: %v", first.CreatedAt)
	}

	if items[1].ReblogOf == nil || items[1].ReblogOf.Author.ScreenName != "bob" {
		t.Fatalf("expected reshared original, got %+v", items[1].ReblogOf)
	}

	if got := items[1].Kind(); got != domain.KindRetweet {
		t.Fatalf("unexpected kind: %s", got)
	}

	if got := items[2].Kind(); got != domain.KindReply {
		t.Fatalf("unexpected kind: %s", got)
	}

	if got := first.Kind(); got != domain.KindNormal {
		t.Fatalf("unexpected kind: %s", got)
	}
}

func TestCredentialsValidate(t *testing.T) {
	if err := (Credentials{ConsumerKey: "a"}).Validate(); err == nil {
		t.Fatalf("expected incomplete credentials to fail")
	}

	full := Credentials{
		ConsumerKey:       "a",
		ConsumerSecret:    "b",
		AccessToken:       "c",
		AccessTokenSecret: "d",
	}
	if err := full.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
