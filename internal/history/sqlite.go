package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tweetcurator/internal/domain"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // Required by the library implementation.
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps entries as rows, so fields can never drift out of
// alignment.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
	log *slog.Logger
}

func NewSQLiteStore(ctx context.Context, dbPath string, log *slog.Logger) (*SQLiteStore, error) {
	dbFile, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open DB file: %w", err)
	}

	if err = migrateUp(ctx, dbFile, dbPath, log); err != nil {
		if closeErr := dbFile.Close(); closeErr != nil {
			log.ErrorContext(ctx, "Failed to close DB",
				"error", closeErr,
				"dbPath", dbPath)
		}

		return nil, err
	}

	return &SQLiteStore{db: dbFile, now: time.Now, log: log}, nil
}

func migrateUp(ctx context.Context, dbFile *sql.DB, dbPath string, log *slog.Logger) error {
	dbInstance, err := sqlite3.WithInstance(dbFile, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create DB instance: %w", err)
	}

	srcInstance, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create source instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcInstance, "sqlite3", dbInstance)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	migrateErr := m.Up()

	version, dirty, versionErr := m.Version()
	fields := []any{
		"dbPath", dbPath,
	}

	if versionErr == nil {
		fields = append(fields, "version", version, "dirty", dirty)
	} else if !errors.Is(versionErr, migrate.ErrNilVersion) {
		log.WarnContext(ctx, "Failed to fetch migration version",
			"error", versionErr,
			"dbPath", dbPath)
	}

	if migrateErr != nil {
		if !errors.Is(migrateErr, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", migrateErr)
		}

		log.InfoContext(ctx, "No migrations to apply", fields...)
	} else {
		log.InfoContext(ctx, "DB is migrated", fields...)
	}

	return nil
}

func (s *SQLiteStore) Watermark(ctx context.Context, key string) (int64, bool, error) {
	query := "select item_id from watermarks where key = ?"

	var id int64
	err := s.db.QueryRowContext(ctx, query, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to execute query: %w", err)
	}

	return id, true, nil
}

func (s *SQLiteStore) SetWatermark(ctx context.Context, key string, id int64) error {
	query := `insert into watermarks (key, item_id, updated_at) values (?, ?, ?)
		on conflict (key) do update set item_id = excluded.item_id, updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query, key, id, s.now().Unix())

	return err
}

func (s *SQLiteStore) Store(ctx context.Context, stream string, entry domain.HistoryEntry) error {
	query := `insert into history_entries (stream, item_id, created_at, screen_name, type)
		values (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		stream,
		entry.ID,
		encodeField(entry, FieldTime),
		entry.ScreenName,
		string(entry.Type))

	return err
}

func (s *SQLiteStore) Restore(
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

	query := `select item_id, created_at, screen_name, type from history_entries
		where stream = ? order by seq desc limit ? offset ?`

	rows, err := s.db.QueryContext(ctx, query, stream, r.limit(), r.Start)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			s.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"stream", stream,
				"operation", "Restore")
		}
	}()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			entry     domain.HistoryEntry
			createdAt string
			kind      string
		)

		if err = rows.Scan(&entry.ID, &createdAt, &entry.ScreenName, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		entry.Time = parseTime(createdAt)
		entry.Type = domain.ItemKind(kind)

		entries = append(entries, project(entry, fields))
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return entries, nil
}

func (s *SQLiteStore) TryLock(ctx context.Context, name string, ttl time.Duration) (Unlock, bool, error) {
	token, err := newLockToken()
	if err != nil {
		return nil, false, fmt.Errorf("create lock token: %w", err)
	}

	now := s.now()

	query := `insert into run_locks (name, token, expires_at) values (?, ?, ?)
		on conflict (name) do update set token = excluded.token, expires_at = excluded.expires_at
		where run_locks.expires_at <= ?`

	res, err := s.db.ExecContext(ctx, query, name, token, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, false, fmt.Errorf("failed to execute query: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("get affected rows: %w", err)
	}
	if affected == 0 {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		query := "delete from run_locks where name = ? and token = ?"

		if _, err := s.db.ExecContext(ctx, query, name, token); err != nil {
			return fmt.Errorf("release lock (name = %s): %w", name, err)
		}

		return nil
	}

	return unlock, true, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
