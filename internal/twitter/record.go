package twitter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tweetcurator/internal/domain"
)

// createdAtLayout is the timestamp format of the v1.1 REST API.
const createdAtLayout = time.RubyDate

type record struct {
	ID                int64           `json:"id"`
	CreatedAt         string          `json:"created_at"`
	FullText          string          `json:"full_text"`
	Text              string          `json:"text"`
	User              recordUser      `json:"user"`
	Entities          recordEntities  `json:"entities"`
	ExtendedEntities  *recordEntities `json:"extended_entities"`
	InReplyToStatusID *int64          `json:"in_reply_to_status_id"`
	IsQuoteStatus     bool            `json:"is_quote_status"`
	QuotedStatus      *record         `json:"quoted_status"`
	RetweetedStatus   *record         `json:"retweeted_status"`
}

type recordUser struct {
	ScreenName           string `json:"screen_name"`
	Name                 string `json:"name"`
	Protected            bool   `json:"protected"`
	ProfileImageURLHTTPS string `json:"profile_image_url_https"`
}

type recordEntities struct {
	URLs  []recordURL   `json:"urls"`
	Media []recordMedia `json:"media"`
}

type recordURL struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url"`
}

type recordMedia struct {
	Type          string `json:"type"`
	MediaURLHTTPS string `json:"media_url_https"`
	VideoInfo     *struct {
		Variants []struct {
			ContentType string `json:"content_type"`
			Bitrate     int    `json:"bitrate"`
			URL         string `json:"url"`
		} `json:"variants"`
	} `json:"video_info"`
}

func DecodeItems(data []byte) ([]domain.FeedItem, error) {
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal records: %w", err)
	}

	items := make([]domain.FeedItem, 0, len(records))
	for i := range records {
		items = append(items, records[i].toItem())
	}

	return items, nil
}

func DecodeItem(data []byte) (domain.FeedItem, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.FeedItem{}, fmt.Errorf("unmarshal record: %w", err)
	}

	return r.toItem(), nil
}

func (r *record) toItem() domain.FeedItem {
	text := r.FullText
	if text == "" {
		text = r.Text
	}

	item := domain.FeedItem{
		ID:   r.ID,
		Text: text,
		Author: domain.Author{
			ScreenName: strings.TrimSpace(r.User.ScreenName),
			Name:       strings.TrimSpace(r.User.Name),
			Protected:  r.User.Protected,
			AvatarURL:  strings.TrimSpace(r.User.ProfileImageURLHTTPS),
		},
		Quoted: r.IsQuoteStatus || r.QuotedStatus != nil,
	}

	if createdAt, err := time.Parse(createdAtLayout, r.CreatedAt); err == nil {
		item.CreatedAt = createdAt.UTC()
	}

	if r.InReplyToStatusID != nil {
		item.InReplyToID = *r.InReplyToStatusID
	}

	for _, u := range r.Entities.URLs {
		expanded := strings.TrimSpace(u.ExpandedURL)
		if expanded == "" {
			expanded = strings.TrimSpace(u.URL)
		}
		if expanded == "" {
			continue
		}

		item.URLs = append(item.URLs, expanded)
	}

	media := r.Entities.Media
	if r.ExtendedEntities != nil && len(r.ExtendedEntities.Media) > 0 {
		media = r.ExtendedEntities.Media
	}

	for _, m := range media {
		converted := domain.Media{
			Type: m.Type,
			URL:  m.MediaURLHTTPS,
		}

		if m.VideoInfo != nil {
			for _, v := range m.VideoInfo.Variants {
				converted.Variants = append(converted.Variants, domain.VideoVariant{
					ContentType: v.ContentType,
					Bitrate:     v.Bitrate,
					URL:         v.URL,
				})
			}
		}

		item.Media = append(item.Media, converted)
	}

	if r.RetweetedStatus != nil {
		original := r.RetweetedStatus.toItem()
		item.ReblogOf = &original
	}

	return item
}
