package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL     = "https://api.song.link/v1-alpha.1/links"
	DefaultUserCountry = "JP"
	DefaultAttempts    = 3
	DefaultRetryDelay  = time.Second
	DefaultTimeout     = 10 * time.Second

	cacheTTL         = 24 * time.Hour
	maxResponseBytes = 4 << 20
)

// DefaultPlatforms is the preferred platform priority of the aggregator response.
var DefaultPlatforms = []string{"appleMusic", "itunes", "spotify"}

type outcome int

const (
	outcomeResolved outcome = iota
	outcomeMissing
	outcomeRetriable
	outcomeFatal
)

func (o outcome) String() string {
	switch o {
	case outcomeResolved:
		return "resolved"
	case outcomeMissing:
		return "missing"
	case outcomeRetriable:
		return "retriable"
	case outcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type Options struct {
	BaseURL     string
	APIKey      string
	UserCountry string
	Platforms   []string
	Attempts    int
	RetryDelay  time.Duration
	Timeout     time.Duration

	// OnOutcome receives the label of every attempt outcome and of cache hits.
	OnOutcome func(outcome string)
}

// Resolver maps a music link to a preferred platform's canonical link
// through the Odesli aggregation API.
type Resolver struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	userCountry string
	platforms   []string
	attempts    int
	retryDelay  time.Duration
	timeout     time.Duration
	onOutcome   func(string)
	cache       *linkCache
	now         func() time.Time
	log         *slog.Logger
}

func New(opts Options, log *slog.Logger) *Resolver {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	userCountry := strings.TrimSpace(opts.UserCountry)
	if userCountry == "" {
		userCountry = DefaultUserCountry
	}

	platforms := opts.Platforms
	if len(platforms) == 0 {
		platforms = DefaultPlatforms
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	retryDelay := opts.RetryDelay
	if retryDelay < 0 {
		retryDelay = DefaultRetryDelay
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	onOutcome := opts.OnOutcome
	if onOutcome == nil {
		onOutcome = func(string) {}
	}

	return &Resolver{
		httpClient:  &http.Client{},
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(opts.APIKey),
		userCountry: userCountry,
		platforms:   platforms,
		attempts:    attempts,
		retryDelay:  retryDelay,
		timeout:     timeout,
		onOutcome:   onOutcome,
		cache:       newLinkCache(defaultCacheMaxEntries),
		now:         time.Now,
		log:         log,
	}
}

// Resolve returns the preferred alternate link for rawURL. It never fails:
// any error degrades to false and the caller keeps the original link.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (string, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", false
	}

	if link, ok := r.cache.get(rawURL, r.now()); ok {
		r.onOutcome("cached")

		return link, true
	}

	for attempt := 1; attempt <= r.attempts; attempt++ {
		link, result, err := r.attempt(ctx, rawURL)
		r.onOutcome(result.String())

		switch result {
		case outcomeResolved:
			r.cache.set(rawURL, link, r.now().Add(cacheTTL), r.now())

			return link, true
		case outcomeMissing:
			return "", false
		case outcomeFatal:
			r.log.WarnContext(ctx, "Failed to resolve link",
				"error", err,
				"url", rawURL)

			return "", false
		case outcomeRetriable:
			r.log.WarnContext(ctx, "Retriable resolver failure",
				"error", err,
				"url", rawURL,
				"attempt", attempt,
				"attempts", r.attempts)
		}

		if attempt == r.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(r.retryDelay):
		}
	}

	r.log.WarnContext(ctx, "Resolver attempts are exhausted",
		"url", rawURL,
		"attempts", r.attempts)

	return "", false
}

type linksResponse struct {
	LinksByPlatform map[string]struct {
		URL string `json:"url"`
	} `json:"linksByPlatform"`
}

func (r *Resolver) attempt(ctx context.Context, rawURL string) (string, outcome, error) {
	if ctx.Err() != nil {
		return "", outcomeFatal, ctx.Err()
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("url", rawURL)
	params.Set("userCountry", r.userCountry)
	if r.apiKey != "" {
		params.Set("key", r.apiKey)
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, r.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", outcomeFatal, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.httpClient.Do(req) //nolint:gosec // Configured API URL
	if err != nil {
		// Any transport failure is retried while the run context is alive.
		if ctx.Err() == nil {
			return "", outcomeRetriable, fmt.Errorf("do request: %w", err)
		}

		return "", outcomeFatal, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			r.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"operation", "resolve")
		}
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return "", outcomeRetriable, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", outcomeFatal, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var decoded linksResponse
	if err = json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		if ctx.Err() == nil && isTimeout(err) {
			return "", outcomeRetriable, fmt.Errorf("decode response: %w", err)
		}

		return "", outcomeFatal, fmt.Errorf("decode response: %w", err)
	}

	link := r.preferredLink(decoded, rawURL)
	if link == "" {
		return "", outcomeMissing, nil
	}

	return link, outcomeResolved, nil
}

// preferredLink returns the link of the first preferred platform present
// in the response. A platform whose link equals the input is passed over,
// so an Apple Music input resolves to the next platform instead of itself.
func (r *Resolver) preferredLink(resp linksResponse, rawURL string) string {
	for _, platform := range r.platforms {
		entry, ok := resp.LinksByPlatform[platform]
		if !ok {
			continue
		}

		link := strings.TrimSpace(entry.URL)
		if link == "" || link == rawURL {
			continue
		}

		return link
	}

	return ""
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
