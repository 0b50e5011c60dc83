package history

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"tweetcurator/internal/domain"
)

type Field string

const (
	FieldID         Field = "id"
	FieldTime       Field = "time"
	FieldScreenName Field = "screen_name"
	FieldType       Field = "type"
)

// Fields is the persisted field order of a HistoryEntry.
var Fields = []Field{FieldID, FieldTime, FieldScreenName, FieldType}

const (
	missingID int64 = -1

	// DefaultWindow is how many recent ids the dedup step compares against.
	DefaultWindow = 5
)

// Range selects list positions Start..Stop inclusive, newest first.
// A negative Stop reads to the end.
type Range struct {
	Start int
	Stop  int
}

func FirstN(n int) Range {
	return Range{Start: 0, Stop: n - 1}
}

func (r Range) Validate() error {
	if r.Start < 0 {
		return fmt.Errorf("range start is negative: %d", r.Start)
	}
	if r.Stop >= 0 && r.Stop < r.Start {
		return fmt.Errorf("range stop %d precedes start %d", r.Stop, r.Start)
	}

	return nil
}

// limit returns the row count of the range, or -1 for an open range.
func (r Range) limit() int {
	if r.Stop < 0 {
		return -1
	}

	return r.Stop - r.Start + 1
}

// Store persists watermarks and the per-stream history. Entries are kept
// newest first: Store puts an entry at position 0.
type Store interface {
	Watermark(ctx context.Context, key string) (int64, bool, error)
	SetWatermark(ctx context.Context, key string, id int64) error
	Store(ctx context.Context, stream string, entry domain.HistoryEntry) error
	Restore(ctx context.Context, stream string, r Range, fields []Field) ([]domain.HistoryEntry, error)
	Close() error
}

// Unlock releases a lock taken by TryLock. It is a no-op once the lock has
// expired and was taken by someone else.
type Unlock func(ctx context.Context) error

type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (Unlock, bool, error)
}

type Backend interface {
	Store
	Locker
}

func validateFields(fields []Field) error {
	if len(fields) == 0 {
		return errors.New("at least one field is required")
	}

	for _, f := range fields {
		if !slices.Contains(Fields, f) {
			return fmt.Errorf("unknown field: %s", f)
		}
	}

	return nil
}

// emptyEntry carries the defaults of fields that were not restored.
func emptyEntry() domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:         missingID,
		ScreenName: domain.UnknownScreenName,
		Type:       domain.KindUnknown,
	}
}

// project keeps the requested fields of entry and defaults the rest.
func project(entry domain.HistoryEntry, fields []Field) domain.HistoryEntry {
	out := emptyEntry()

	for _, f := range fields {
		switch f {
		case FieldID:
			out.ID = entry.ID
		case FieldTime:
			out.Time = entry.Time
		case FieldScreenName:
			out.ScreenName = entry.ScreenName
		case FieldType:
			out.Type = entry.Type
		}
	}

	return out
}

func encodeField(entry domain.HistoryEntry, f Field) string {
	switch f {
	case FieldID:
		return strconv.FormatInt(entry.ID, 10)
	case FieldTime:
		return entry.Time.UTC().Format(time.RFC3339)
	case FieldScreenName:
		return entry.ScreenName
	case FieldType:
		return string(entry.Type)
	default:
		return ""
	}
}

// setField parses raw into entry. Values that cannot be parsed keep the
// entry defaults.
func setField(entry *domain.HistoryEntry, f Field, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}

	switch f {
	case FieldID:
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			entry.ID = id
		}
	case FieldTime:
		entry.Time = parseTime(raw)
	case FieldScreenName:
		entry.ScreenName = raw
	case FieldType:
		entry.Type = domain.ItemKind(raw)
	}
}

// legacyTimeLayout is how the parallel-list layout stored item times.
const legacyTimeLayout = "2006-01-02 15:04:05 -0700"

func parseTime(raw string) time.Time {
	for _, layout := range []string{time.RFC3339, legacyTimeLayout, time.RubyDate} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}

	return time.Time{}
}

func newLockToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}

	return hex.EncodeToString(b), nil
}
