package classifier

import (
	"net/url"
	"regexp"
	"slices"
	"strings"

	"tweetcurator/internal/domain"

	"mvdan.cc/xurls/v2"
)

const (
	nowPlayingLabel = "Now playing"
	videoLabel      = "Video"
	videoTypePrefix = "video/"
)

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	nowPlayingRe *regexp.Regexp
	textURLRe    *regexp.Regexp
	hosts        []hostMatcher
}

func New() *Classifier {
	return &Classifier{
		nowPlayingRe: regexp.MustCompile(`(?i)now\s*playing`),
		textURLRe:    xurls.Strict(),
		hosts:        defaultHostTable(),
	}
}

// Classify tags an item in a fixed order: the now-playing text signal, the
// best attached video, then every distinct URL in source order. A reshare
// is classified by the original it wraps.
func (c *Classifier) Classify(item *domain.FeedItem) domain.ClassificationResult {
	original := item.Original()
	var b resultBuilder

	if c.nowPlayingRe.MatchString(original.Text) {
		b.add(domain.Match{Category: domain.CategoryNowPlaying, Service: nowPlayingLabel})
	}

	if variant, ok := BestVideoVariant(original.Media); ok {
		b.add(domain.Match{Category: domain.CategoryVideo, Service: videoLabel, URL: variant.URL})
	}

	urls := original.URLs
	if len(urls) == 0 {
		urls = c.textURLRe.FindAllString(original.Text, -1)
	}

	seen := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)

		key, host, ok := normalizeURL(raw)
		if !ok {
			continue
		}

		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if m, matched := c.matchHost(host); matched {
			b.add(domain.Match{
				Category:    m.category,
				Service:     m.service,
				URL:         raw,
				Convertible: m.convertible,
			})
		}
	}

	return b.result
}

func (c *Classifier) matchHost(host string) (hostMatcher, bool) {
	for _, m := range c.hosts {
		if m.matches(host) {
			return m, true
		}
	}

	return hostMatcher{}, false
}

// BestVideoVariant returns the highest-bitrate variant with a video content
// type across all attached media.
func BestVideoVariant(media []domain.Media) (domain.VideoVariant, bool) {
	var best domain.VideoVariant
	found := false

	for _, m := range media {
		for _, v := range m.Variants {
			if !strings.HasPrefix(strings.ToLower(v.ContentType), videoTypePrefix) || v.URL == "" {
				continue
			}

			if !found || v.Bitrate > best.Bitrate {
				best = v
				found = true
			}
		}
	}

	return best, found
}

// normalizeURL returns a dedup key and the normalized host of raw.
func normalizeURL(raw string) (string, string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", "", false
	}

	host := normalizeHost(u.Hostname())
	path := strings.TrimRight(u.EscapedPath(), "/")

	key := strings.ToLower(u.Scheme) + "://" + host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}

	return key, host, true
}

type resultBuilder struct {
	result domain.ClassificationResult
}

func (b *resultBuilder) add(m domain.Match) {
	if !b.result.Has(m.Category) {
		b.result.Categories = append(b.result.Categories, m.Category)
	}

	if !slices.Contains(b.result.Labels, m.Service) {
		b.result.Labels = append(b.result.Labels, m.Service)
	}

	b.result.Matches = append(b.result.Matches, m)

	if m.URL != "" {
		b.result.Links = append(b.result.Links, m.URL)
	}
}
