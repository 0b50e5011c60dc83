package resolver

import (
	"context"

	"tweetcurator/internal/domain"
)

const linkSeparator = " => "

func FormatLink(original, resolved string) string {
	return original + linkSeparator + resolved
}

// Links returns the output links of a classification in order. Convertible
// music links that resolve become "original => resolved"; every other link
// is kept as is.
func (r *Resolver) Links(ctx context.Context, result domain.ClassificationResult) []string {
	links := make([]string, 0, len(result.Links))

	for _, m := range result.Matches {
		if m.URL == "" {
			continue
		}

		if m.Category == domain.CategoryMusic && m.Convertible {
			if resolved, ok := r.Resolve(ctx, m.URL); ok {
				links = append(links, FormatLink(m.URL, resolved))
				continue
			}
		}

		links = append(links, m.URL)
	}

	return links
}
