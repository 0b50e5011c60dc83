package classifier

import (
	"regexp"
	"strings"

	"tweetcurator/internal/domain"
)

// hostMatcher tags a URL host with a category. Either host (exact match
// after normalization) or pattern is set.
type hostMatcher struct {
	category    domain.Category
	service     string
	convertible bool
	host        string
	pattern     *regexp.Regexp
}

func (m hostMatcher) matches(host string) bool {
	if m.pattern != nil {
		return m.pattern.MatchString(host)
	}

	return m.host == host
}

func exact(category domain.Category, service string, convertible bool, host string) hostMatcher {
	return hostMatcher{
		category:    category,
		service:     service,
		convertible: convertible,
		host:        host,
	}
}

func pattern(category domain.Category, service string, convertible bool, expr string) hostMatcher {
	return hostMatcher{
		category:    category,
		service:     service,
		convertible: convertible,
		pattern:     regexp.MustCompile(expr),
	}
}

// defaultHostTable is evaluated top to bottom; the first match wins, so
// music.youtube.com must precede the generic YouTube entries.
func defaultHostTable() []hostMatcher {
	const (
		music = domain.CategoryMusic
		video = domain.CategoryVideo
		image = domain.CategoryImage
	)

	return []hostMatcher{
		// Convertible music: aggregators and streaming services with a canonical store link.
		exact(music, "Odesli", true, "song.link"),
		exact(music, "Odesli", true, "album.link"),
		exact(music, "Odesli", true, "odesli.co"),
		exact(music, "Odesli", true, "pods.link"),
		exact(music, "Spotify", true, "open.spotify.com"),
		exact(music, "Spotify", true, "spotify.link"),
		pattern(music, "Amazon Music", true, `^music\.amazon\.(com|co\.jp|co\.uk|de|fr)$`),
		exact(music, "YouTube Music", true, "music.youtube.com"),
		pattern(music, "Deezer", true, `(^|\.)deezer\.(com|page\.link)$`),
		pattern(music, "TIDAL", true, `(^|\.)tidal\.com$`),
		exact(music, "LINE MUSIC", true, "music.line.me"),

		// Direct music.
		exact(music, "Apple Music", false, "music.apple.com"),
		exact(music, "Apple Music", false, "itunes.apple.com"),
		pattern(music, "SoundCloud", false, `(^|\.)soundcloud\.com$`),
		pattern(music, "Bandcamp", false, `(^|\.)bandcamp\.com$`),

		// Video.
		pattern(video, "YouTube", false, `^(m\.)?youtube\.com$`),
		exact(video, "YouTube", false, "youtu.be"),
		pattern(video, "Vimeo", false, `(^|\.)vimeo\.com$`),
		pattern(video, "niconico", false, `(^|\.)nicovideo\.jp$`),
		exact(video, "niconico", false, "nico.ms"),
		pattern(video, "Twitch", false, `(^|\.)twitch\.tv$`),

		// Image.
		exact(image, "Twitter", false, "pbs.twimg.com"),
		pattern(image, "Imgur", false, `(^|\.)imgur\.com$`),
		exact(image, "Instagram", false, "instagram.com"),
		pattern(image, "Flickr", false, `(^|\.)flickr\.com$`),
		exact(image, "Flickr", false, "flic.kr"),
	}
}

func normalizeHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), "www.")
}
