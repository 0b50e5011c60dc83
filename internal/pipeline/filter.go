package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"tweetcurator/internal/domain"
)

type FilterType string

const (
	FilterAll   FilterType = "all"
	FilterMusic FilterType = "music"
	FilterImage FilterType = "image"
	FilterVideo FilterType = "video"

	DefaultFilter = "music"
)

var filterTypes = []FilterType{FilterAll, FilterMusic, FilterImage, FilterVideo}

// Filter selects which classified items are notified.
type Filter []FilterType

// ParseFilter reads a comma-separated filter list. An empty string selects
// the default.
func ParseFilter(raw string) (Filter, error) {
	if strings.TrimSpace(raw) == "" {
		raw = DefaultFilter
	}

	var f Filter
	for part := range strings.SplitSeq(raw, ",") {
		t := FilterType(strings.ToLower(strings.TrimSpace(part)))
		if !slices.Contains(filterTypes, t) {
			return nil, fmt.Errorf("invalid filter type: %s", part)
		}

		if !slices.Contains(f, t) {
			f = append(f, t)
		}
	}

	return f, nil
}

// Allows reports whether a classification passes the filter. A now-playing
// signal counts as music.
func (f Filter) Allows(result domain.ClassificationResult) bool {
	if result.Empty() {
		return false
	}

	for _, t := range f {
		switch t {
		case FilterAll:
			return true
		case FilterMusic:
			if result.Has(domain.CategoryMusic) || result.Has(domain.CategoryNowPlaying) {
				return true
			}
		case FilterImage:
			if result.Has(domain.CategoryImage) {
				return true
			}
		case FilterVideo:
			if result.Has(domain.CategoryVideo) {
				return true
			}
		}
	}

	return false
}

func (f Filter) String() string {
	parts := make([]string, 0, len(f))
	for _, t := range f {
		parts = append(parts, string(t))
	}

	return strings.Join(parts, ",")
}
