package twitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tweetcurator/internal/domain"

	"github.com/dghubble/oauth1"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.twitter.com"
	apiVersion     = "1.1"

	clientTimeout      = 30 * time.Second
	maxResponseBytes   = 32 << 20
	maxErrorBodyLength = 512

	homeTimelineEndpoint = "/statuses/home_timeline.json"
	listTimelineEndpoint = "/lists/statuses.json"
	showEndpoint         = "/statuses/show.json"

	extendedTweetMode = "extended"
)

type Credentials struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
}

func (c Credentials) Validate() error {
	var missing []string

	if strings.TrimSpace(c.ConsumerKey) == "" {
		missing = append(missing, "consumer key")
	}
	if strings.TrimSpace(c.ConsumerSecret) == "" {
		missing = append(missing, "consumer secret")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		missing = append(missing, "access token")
	}
	if strings.TrimSpace(c.AccessTokenSecret) == "" {
		missing = append(missing, "access token secret")
	}

	if len(missing) > 0 {
		return fmt.Errorf("credentials are incomplete (missing = %s)", strings.Join(missing, ", "))
	}

	return nil
}

// Query selects one page of a timeline. Zero SinceID/MaxID mean unset.
type Query struct {
	Source  domain.Source
	Count   int
	SinceID int64
	MaxID   int64
}

// Client is the OAuth1-signed REST transport of the feed API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

func NewClient(
	creds Credentials,
	baseURL string,
	requestsPerSecond float64,
	log *slog.Logger,
) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("validate credentials: %w", err)
	}

	config := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret)

	httpClient := config.Client(context.Background(), token)
	httpClient.Timeout = clientTimeout

	return newClient(httpClient, baseURL, newLimiter(requestsPerSecond), log), nil
}

func newClient(
	httpClient *http.Client,
	baseURL string,
	limiter *rate.Limiter,
	log *slog.Logger,
) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    limiter,
		log:        log,
	}
}

func newLimiter(requestsPerSecond float64) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}

	return rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
}

func (c *Client) Timeline(ctx context.Context, q Query) ([]domain.FeedItem, error) {
	params := url.Values{}
	params.Set("count", strconv.Itoa(q.Count))
	params.Set("include_rts", "true")
	params.Set("tweet_mode", extendedTweetMode)

	if q.SinceID > 0 {
		params.Set("since_id", strconv.FormatInt(q.SinceID, 10))
	}
	if q.MaxID > 0 {
		params.Set("max_id", strconv.FormatInt(q.MaxID, 10))
	}

	var endpoint string

	switch q.Source.Kind {
	case domain.SourceHome:
		endpoint = homeTimelineEndpoint
	case domain.SourceList:
		if q.Source.ListID == "" {
			return nil, errors.New("list ID is empty")
		}
		endpoint = listTimelineEndpoint
		params.Set("list_id", q.Source.ListID)
	default:
		return nil, fmt.Errorf("unknown source kind: %s", q.Source.Kind)
	}

	body, err := c.get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	items, err := DecodeItems(body)
	if err != nil {
		return nil, fmt.Errorf("decode items (endpoint = %s): %w", endpoint, err)
	}

	c.log.DebugContext(ctx, "Timeline page is fetched",
		"source", q.Source.String(),
		"count", len(items),
		"sinceID", q.SinceID,
		"maxID", q.MaxID)

	return items, nil
}

func (c *Client) Item(ctx context.Context, id int64) (domain.FeedItem, error) {
	params := url.Values{}
	params.Set("id", strconv.FormatInt(id, 10))
	params.Set("tweet_mode", extendedTweetMode)

	body, err := c.get(ctx, showEndpoint, params)
	if err != nil {
		return domain.FeedItem{}, err
	}

	item, err := DecodeItem(body)
	if err != nil {
		return domain.FeedItem{}, fmt.Errorf("decode item (id = %d): %w", id, err)
	}

	return item, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for limiter: %w", err)
	}

	requestURL := c.baseURL + "/" + apiVersion + endpoint
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // Configured API URL
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			c.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"endpoint", endpoint,
				"operation", "get")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       truncateBody(body),
		}
	}

	return body, nil
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBodyLength {
		return s[:maxErrorBodyLength]
	}

	return s
}
