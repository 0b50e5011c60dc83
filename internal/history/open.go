package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

type BackendKind string

const (
	BackendSQLite BackendKind = "sqlite"
	BackendRedis  BackendKind = "redis"
)

type Options struct {
	Backend  BackendKind
	RedisURL string
	Layout   Layout
	DBPath   string
}

func Open(ctx context.Context, opts Options, log *slog.Logger) (Backend, error) {
	switch BackendKind(strings.ToLower(string(opts.Backend))) {
	case BackendRedis:
		if strings.TrimSpace(opts.RedisURL) == "" {
			return nil, errors.New("redis URL is empty")
		}

		switch opts.Layout {
		case "", LayoutRecords, LayoutFields:
		default:
			return nil, fmt.Errorf("unknown history layout: %s", opts.Layout)
		}

		store, err := NewRedisStore(ctx, opts.RedisURL, opts.Layout, log)
		if err != nil {
			return nil, fmt.Errorf("create Redis store: %w", err)
		}

		return store, nil
	case BackendSQLite, "":
		store, err := NewSQLiteStore(ctx, opts.DBPath, log)
		if err != nil {
			return nil, fmt.Errorf("create SQLite store: %w", err)
		}

		return store, nil
	default:
		return nil, fmt.Errorf("unknown history backend: %s", opts.Backend)
	}
}
