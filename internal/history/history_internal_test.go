package history

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"tweetcurator/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testStream = "min_tweets"

type backendFactory struct {
	name string
	open func(t *testing.T) Backend
}

func newMiniredisStore(t *testing.T, layout Layout) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := newRedisStore(rdb, layout, slog.Default())
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

func newTempSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "history.sqlite"), slog.Default())
	if err != nil {
		t.Fatalf("failed to open SQLite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func backends() []backendFactory {
	return []backendFactory{
		{"redis-records", func(t *testing.T) Backend {
			store, _ := newMiniredisStore(t, LayoutRecords)
			return store
		}},
		{"redis-fields", func(t *testing.T) Backend {
			store, _ := newMiniredisStore(t, LayoutFields)
			return store
		}},
		{"sqlite", func(t *testing.T) Backend {
			return newTempSQLiteStore(t)
		}},
	}
}

func entry(id int64, screenName string, kind domain.ItemKind) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:         id,
		Time:       time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC).Add(time.Duration(id) * time.Minute),
		ScreenName: screenName,
		Type:       kind,
	}
}

func TestWatermarkRoundTrip(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)

			if _, ok, err := store.Watermark(ctx, "home_since_id"); err != nil || ok {
				t.Fatalf("expected missing watermark, got ok=%v err=%v", ok, err)
			}

			for _, id := range []int64{100, 250} {
				if err := store.SetWatermark(ctx, "home_since_id", id); err != nil {
					t.Fatalf("failed to set watermark: %v", err)
				}
			}

			id, ok, err := store.Watermark(ctx, "home_since_id")
			if err != nil || !ok || id != 250 {
				t.Fatalf("unexpected watermark: id=%d ok=%v err=%v", id, ok, err)
			}

			if _, ok, _ = store.Watermark(ctx, "list_since_id"); ok {
				t.Fatalf("expected watermarks to be independent per key")
			}
		})
	}
}

func TestStoreAndRestoreNewestFirst(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)

			stored := []domain.HistoryEntry{
				entry(1, "alice", domain.KindNormal),
				entry(2, "bob", domain.KindRetweet),
				entry(3, "carol", domain.KindReply),
			}
			for _, e := range stored {
				if err := store.Store(ctx, testStream, e); err != nil {
					t.Fatalf("failed to store: %v", err)
				}
			}

			got, err := store.Restore(ctx, testStream, Range{Start: 0, Stop: -1}, Fields)
			if err != nil {
				t.Fatalf("failed to restore: %v", err)
			}

			want := []domain.HistoryEntry{stored[2], stored[1], stored[0]}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("unexpected entries:\n got %+v\nwant %+v", got, want)
			}

			window, err := store.Restore(ctx, testStream, Range{Start: 1, Stop: 1}, Fields)
			if err != nil {
				t.Fatalf("failed to restore window: %v", err)
			}
			if len(window) != 1 || window[0].ID != 2 {
				t.Fatalf("unexpected window: %+v", window)
			}

			other, err := store.Restore(ctx, "other", FirstN(5), Fields)
			if err != nil || len(other) != 0 {
				t.Fatalf("expected empty stream, got %+v (%v)", other, err)
			}
		})
	}
}

func TestRestoreDefaultsUnrequestedFields(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)

			if err := store.Store(ctx, testStream, entry(7, "dave", domain.KindQuoted)); err != nil {
				t.Fatalf("failed to store: %v", err)
			}

			got, err := store.Restore(ctx, testStream, FirstN(5), []Field{FieldID})
			if err != nil {
				t.Fatalf("failed to restore: %v", err)
			}

			want := []domain.HistoryEntry{{ID: 7, ScreenName: "unknown", Type: domain.KindUnknown}}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("unexpected entries: %+v", got)
			}
		})
	}
}

func TestRestoreRejectsInvalidInput(t *testing.T) {
	store := newTempSQLiteStore(t)
	ctx := context.Background()

	if _, err := store.Restore(ctx, testStream, FirstN(5), nil); err == nil {
		t.Fatalf("expected error for empty field list")
	}

	if _, err := store.Restore(ctx, testStream, FirstN(5), []Field{"color"}); err == nil {
		t.Fatalf("expected error for unknown field")
	}

	if _, err := store.Restore(ctx, testStream, Range{Start: 3, Stop: 1}, Fields); err == nil {
		t.Fatalf("expected error for inverted range")
	}
}

func TestFieldsLayoutZipsToShortestList(t *testing.T) {
	ctx := context.Background()
	store, mr := newMiniredisStore(t, LayoutFields)

	for _, id := range []int64{1, 2} {
		if err := store.Store(ctx, testStream, entry(id, "alice", domain.KindNormal)); err != nil {
			t.Fatalf("failed to store: %v", err)
		}
	}

	// A write interrupted after the id list was pushed.
	if _, err := mr.Lpush(fieldKey(testStream, FieldID), "3"); err != nil {
		t.Fatalf("failed to push: %v", err)
	}

	got, err := store.Restore(ctx, testStream, FirstN(5), []Field{FieldID, FieldScreenName})
	if err != nil {
		t.Fatalf("failed to restore: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected zip to stop at shortest list, got %+v", got)
	}

	// Positional alignment is lost for the interrupted item.
	if got[0].ID != 3 || got[1].ID != 2 {
		t.Fatalf("unexpected ids: %+v", got)
	}

	ids, err := store.Restore(ctx, testStream, FirstN(5), []Field{FieldID})
	if err != nil || len(ids) != 3 {
		t.Fatalf("expected single-field restore to see every id, got %+v (%v)", ids, err)
	}
}

func TestFieldsLayoutReadsLegacyTimestamps(t *testing.T) {
	ctx := context.Background()
	store, mr := newMiniredisStore(t, LayoutFields)

	legacy := map[Field]string{
		FieldID:         "1189",
		FieldTime:       "2019-11-02 10:11:12 +0900",
		FieldScreenName: "alice",
		FieldType:       "normal",
	}
	for f, v := range legacy {
		if _, err := mr.Lpush(fieldKey(testStream, f), v); err != nil {
			t.Fatalf("failed to push: %v", err)
		}
	}

	got, err := store.Restore(ctx, testStream, FirstN(1), Fields)
	if err != nil || len(got) != 1 {
		t.Fatalf("unexpected restore: %+v (%v)", got, err)
	}

	if want := time.Date(2019, 11, 2, 1, 11, 12, 0, time.UTC); !got[0].Time.Equal(want) {
		t.Fatalf("unexpected time: %v", got[0].Time)
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2019, 11, 2, 1, 11, 12, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{name: "rfc3339", raw: "2019-11-02T01:11:12Z", want: want},
		{name: "legacy list value", raw: "2019-11-02 10:11:12 +0900", want: want},
		{name: "api created_at", raw: "Sat Nov 02 01:11:12 +0000 2019", want: want},
		{name: "garbage", raw: "yesterday", want: time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseTime(tt.raw); !got.Equal(tt.want) {
				t.Fatalf("parseTime(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestRecordsLayoutSkipsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	store, mr := newMiniredisStore(t, LayoutRecords)

	if err := store.Store(ctx, testStream, entry(1, "alice", domain.KindNormal)); err != nil {
		t.Fatalf("failed to store: %v", err)
	}
	if _, err := mr.Lpush(recordsKey(testStream), "{not json"); err != nil {
		t.Fatalf("failed to push: %v", err)
	}

	got, err := store.Restore(ctx, testStream, FirstN(5), Fields)
	if err != nil || len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("unexpected restore: %+v (%v)", got, err)
	}
}

func TestTryLock(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)

			unlock, ok, err := store.TryLock(ctx, "home", time.Minute)
			if err != nil || !ok {
				t.Fatalf("expected first lock to succeed, got ok=%v err=%v", ok, err)
			}

			if _, ok, err = store.TryLock(ctx, "home", time.Minute); err != nil || ok {
				t.Fatalf("expected second lock to fail, got ok=%v err=%v", ok, err)
			}

			if _, ok, err = store.TryLock(ctx, "list", time.Minute); err != nil || !ok {
				t.Fatalf("expected independent lock names, got ok=%v err=%v", ok, err)
			}

			if err = unlock(ctx); err != nil {
				t.Fatalf("failed to unlock: %v", err)
			}

			if _, ok, err = store.TryLock(ctx, "home", time.Minute); err != nil || !ok {
				t.Fatalf("expected lock after release, got ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestSQLiteLockExpires(t *testing.T) {
	ctx := context.Background()
	store := newTempSQLiteStore(t)

	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	staleUnlock, ok, err := store.TryLock(ctx, "home", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock, got ok=%v err=%v", ok, err)
	}

	now = now.Add(2 * time.Minute)

	if _, ok, err = store.TryLock(ctx, "home", time.Minute); err != nil || !ok {
		t.Fatalf("expected expired lock to be taken over, got ok=%v err=%v", ok, err)
	}

	// The stale holder must not release the new holder's lock.
	if err = staleUnlock(ctx); err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}

	if _, ok, err = store.TryLock(ctx, "home", time.Minute); err != nil || ok {
		t.Fatalf("expected lock to be still held, got ok=%v err=%v", ok, err)
	}
}

func TestRedisLockExpires(t *testing.T) {
	ctx := context.Background()
	store, mr := newMiniredisStore(t, LayoutRecords)

	staleUnlock, ok, err := store.TryLock(ctx, "home", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock, got ok=%v err=%v", ok, err)
	}

	mr.FastForward(2 * time.Minute)

	if _, ok, err = store.TryLock(ctx, "home", time.Minute); err != nil || !ok {
		t.Fatalf("expected expired lock to be taken over, got ok=%v err=%v", ok, err)
	}

	if err = staleUnlock(ctx); err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}

	if !mr.Exists(lockKeyPrefix + "home") {
		t.Fatalf("expected stale unlock to keep the new holder's lock")
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Options{Backend: "mongo"}, slog.Default()); err == nil {
		t.Fatalf("expected error")
	}

	if _, err := Open(context.Background(), Options{Backend: BackendRedis}, slog.Default()); err == nil {
		t.Fatalf("expected error for empty Redis URL")
	}
}

func TestOpenRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	backend, err := Open(context.Background(), Options{
		Backend:  BackendRedis,
		RedisURL: "redis://" + mr.Addr(),
		Layout:   LayoutFields,
	}, slog.Default())
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer func() { _ = backend.Close() }()

	if err = backend.Store(context.Background(), testStream, entry(1, "alice", domain.KindNormal)); err != nil {
		t.Fatalf("failed to store: %v", err)
	}

	if !mr.Exists(fieldKey(testStream, FieldID)) {
		t.Fatalf("expected fields layout keys")
	}
}
