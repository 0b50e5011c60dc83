package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"tweetcurator/internal/domain"
)

// Load reads a batch saved by Save. ok is false when the file does not exist.
func Load(path string) ([]domain.FeedItem, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Operator-provided path
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot: %w", err)
	}

	var items []domain.FeedItem
	if err = json.Unmarshal(data, &items); err != nil {
		return nil, false, fmt.Errorf("decode snapshot (path = %s): %w", path, err)
	}

	return items, true, nil
}

// Save writes items to a new file. An existing file is never overwritten.
func Save(path string, items []domain.FeedItem) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("snapshot path is empty")
	}

	if items == nil {
		items = []domain.FeedItem{}
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // Operator-provided path
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	if _, err = f.Write(data); err != nil {
		return errors.Join(fmt.Errorf("write snapshot: %w", err), f.Close())
	}

	return f.Close()
}
