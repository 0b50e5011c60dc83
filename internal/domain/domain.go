package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type SourceKind string

const (
	SourceHome SourceKind = "home"
	SourceList SourceKind = "list"
)

type Source struct {
	Kind   SourceKind
	ListID string
}

func HomeSource() Source {
	return Source{Kind: SourceHome}
}

func ListSource(listID string) Source {
	return Source{Kind: SourceList, ListID: strings.TrimSpace(listID)}
}

// WatermarkKey is the persisted key holding the last seen top item id.
// It is fixed per source kind.
func (s Source) WatermarkKey() string {
	return string(s.Kind) + "_since_id"
}

func (s Source) String() string {
	if s.Kind == SourceList {
		return fmt.Sprintf("%s:%s", s.Kind, s.ListID)
	}

	return string(s.Kind)
}

type Author struct {
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
	Protected  bool   `json:"protected"`
	AvatarURL  string `json:"avatar_url"`
}

type VideoVariant struct {
	ContentType string `json:"content_type"`
	Bitrate     int    `json:"bitrate"`
	URL         string `json:"url"`
}

type Media struct {
	Type     string         `json:"type"`
	URL      string         `json:"url"`
	Variants []VideoVariant `json:"variants,omitempty"`
}

type FeedItem struct {
	ID          int64     `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Author      Author    `json:"author"`
	Text        string    `json:"text"`
	URLs        []string  `json:"urls"`
	Media       []Media   `json:"media,omitempty"`
	InReplyToID int64     `json:"in_reply_to_id,omitempty"`
	Quoted      bool      `json:"quoted,omitempty"`
	ReblogOf    *FeedItem `json:"reblog_of,omitempty"`
}

// Original returns the reshared item for a reshare and the item itself otherwise.
func (f *FeedItem) Original() *FeedItem {
	if f.ReblogOf != nil {
		return f.ReblogOf
	}

	return f
}

func (f *FeedItem) Permalink() string {
	return ItemURL(f.Author.ScreenName, f.ID)
}

func (f *FeedItem) Kind() ItemKind {
	switch {
	case f.ReblogOf != nil:
		return KindRetweet
	case f.InReplyToID != 0:
		return KindReply
	case f.Quoted:
		return KindQuoted
	default:
		return KindNormal
	}
}

func ItemURL(screenName string, id int64) string {
	return fmt.Sprintf("https://twitter.com/%s/status/%d", screenName, id)
}

type ItemKind string

const (
	KindRetweet ItemKind = "retweet"
	KindReply   ItemKind = "reply"
	KindQuoted  ItemKind = "quoted"
	KindNormal  ItemKind = "normal"
	KindUnknown ItemKind = "unknown"
)

const UnknownScreenName = "unknown"

// HistoryEntry is the compact persisted projection of a FeedItem.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	Time       time.Time `json:"time"`
	ScreenName string    `json:"screen_name"`
	Type       ItemKind  `json:"type"`
}

func NewHistoryEntry(item *FeedItem) HistoryEntry {
	return HistoryEntry{
		ID:         item.ID,
		Time:       item.CreatedAt,
		ScreenName: item.Author.ScreenName,
		Type:       item.Kind(),
	}
}

type Category string

const (
	CategoryNowPlaying Category = "now-playing"
	CategoryMusic      Category = "music"
	CategoryVideo      Category = "video"
	CategoryImage      Category = "image"
	CategoryOther      Category = "other"
)

// Match is one classified signal of an item. NowPlaying matches carry no URL.
type Match struct {
	Category    Category
	Service     string
	URL         string
	Convertible bool
}

type ClassificationResult struct {
	Categories []Category
	Labels     []string
	Matches    []Match
	Links      []string
}

func (r *ClassificationResult) Empty() bool {
	return len(r.Categories) == 0
}

func (r *ClassificationResult) Has(c Category) bool {
	return slices.Contains(r.Categories, c)
}
