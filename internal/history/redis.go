package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"tweetcurator/internal/domain"

	"github.com/redis/go-redis/v9"
)

type Layout string

const (
	// LayoutRecords keeps one JSON record per entry in a single list.
	LayoutRecords Layout = "records"
	// LayoutFields keeps one list per field with entries aligned by position.
	LayoutFields Layout = "fields"
)

const lockKeyPrefix = "lock:"

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisStore struct {
	rdb    *redis.Client
	layout Layout
	log    *slog.Logger
}

func NewRedisStore(ctx context.Context, redisURL string, layout Layout, log *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	if err = rdb.Ping(ctx).Err(); err != nil {
		if closeErr := rdb.Close(); closeErr != nil {
			log.ErrorContext(ctx, "Failed to close Redis client",
				"error", closeErr)
		}

		return nil, fmt.Errorf("ping Redis: %w", err)
	}

	return newRedisStore(rdb, layout, log), nil
}

func newRedisStore(rdb *redis.Client, layout Layout, log *slog.Logger) *RedisStore {
	if layout == "" {
		layout = LayoutRecords
	}

	return &RedisStore{rdb: rdb, layout: layout, log: log}
}

func (s *RedisStore) Watermark(ctx context.Context, key string) (int64, bool, error) {
	raw, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get watermark (key = %s): %w", key, err)
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse watermark (key = %s): %w", key, err)
	}

	return id, true, nil
}

func (s *RedisStore) SetWatermark(ctx context.Context, key string, id int64) error {
	if err := s.rdb.Set(ctx, key, strconv.FormatInt(id, 10), 0).Err(); err != nil {
		return fmt.Errorf("set watermark (key = %s): %w", key, err)
	}

	return nil
}

func (s *RedisStore) Store(ctx context.Context, stream string, entry domain.HistoryEntry) error {
	if s.layout == LayoutFields {
		// One transaction keeps the per-field lists aligned.
		pipe := s.rdb.TxPipeline()
		for _, f := range Fields {
			pipe.LPush(ctx, fieldKey(stream, f), encodeField(entry, f))
		}

		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("push fields: %w", err)
		}

		return nil
	}

	record, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	if err = s.rdb.LPush(ctx, recordsKey(stream), record).Err(); err != nil {
		return fmt.Errorf("push record: %w", err)
	}

	return nil
}

func (s *RedisStore) Restore(
	ctx context.Context,
	stream string,
	r Range,
	fields []Field,
) ([]domain.HistoryEntry, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("validate range: %w", err)
	}
	if err := validateFields(fields); err != nil {
		return nil, fmt.Errorf("validate fields: %w", err)
	}

	if s.layout == LayoutFields {
		return s.restoreFields(ctx, stream, r, fields)
	}

	return s.restoreRecords(ctx, stream, r, fields)
}

func (s *RedisStore) restoreRecords(
	ctx context.Context,
	stream string,
	r Range,
	fields []Field,
) ([]domain.HistoryEntry, error) {
	raws, err := s.rdb.LRange(ctx, recordsKey(stream), int64(r.Start), int64(r.Stop)).Result()
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	entries := make([]domain.HistoryEntry, 0, len(raws))
	for i, raw := range raws {
		entry := emptyEntry()
		if err = json.Unmarshal([]byte(raw), &entry); err != nil {
			s.log.WarnContext(ctx, "Skipping malformed history record",
				"error", err,
				"stream", stream,
				"index", r.Start+i)

			continue
		}

		entries = append(entries, project(entry, fields))
	}

	return entries, nil
}

// restoreFields zips the per-field lists by position. The result is as
// long as the shortest requested list.
func (s *RedisStore) restoreFields(
	ctx context.Context,
	stream string,
	r Range,
	fields []Field,
) ([]domain.HistoryEntry, error) {
	pipe := s.rdb.Pipeline()

	cmds := make([]*redis.StringSliceCmd, len(fields))
	for i, f := range fields {
		cmds[i] = pipe.LRange(ctx, fieldKey(stream, f), int64(r.Start), int64(r.Stop))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read fields: %w", err)
	}

	n := -1
	values := make([][]string, len(fields))
	for i, cmd := range cmds {
		values[i] = cmd.Val()
		if n < 0 || len(values[i]) < n {
			n = len(values[i])
		}
	}

	if n <= 0 {
		return nil, nil
	}

	entries := make([]domain.HistoryEntry, n)
	for row := range n {
		entry := emptyEntry()
		for i, f := range fields {
			setField(&entry, f, values[i][row])
		}
		entries[row] = entry
	}

	return entries, nil
}

func (s *RedisStore) TryLock(ctx context.Context, name string, ttl time.Duration) (Unlock, bool, error) {
	token, err := newLockToken()
	if err != nil {
		return nil, false, fmt.Errorf("create lock token: %w", err)
	}

	key := lockKeyPrefix + name

	ok, err := s.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("set lock (name = %s): %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		if err := releaseLockScript.Run(ctx, s.rdb, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release lock (name = %s): %w", name, err)
		}

		return nil
	}

	return unlock, true, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func recordsKey(stream string) string {
	return stream + ":records"
}

func fieldKey(stream string, f Field) string {
	return stream + ":" + string(f)
}
