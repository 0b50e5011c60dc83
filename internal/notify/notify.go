package notify

import (
	"context"
	"errors"
	"fmt"

	"tweetcurator/internal/domain"
)

// Notification is one matched item ready to be posted. Links are either
// original URLs or "original => resolved".
type Notification struct {
	Item       *domain.FeedItem
	Categories []domain.Category
	Labels     []string
	Links      []string
}

type Sink interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Observer receives the outcome of every delivery attempt.
type Observer func(sink string, err error)

// Multi fans a notification out to every sink. A failing sink does not
// stop the others. Failures are returned, prefixed with the sink name, and
// left to the caller to log.
type Multi struct {
	sinks   []Sink
	observe Observer
}

func NewMulti(sinks []Sink, observe Observer) *Multi {
	if observe == nil {
		observe = func(string, error) {}
	}

	return &Multi{sinks: sinks, observe: observe}
}

func (m *Multi) Name() string {
	return "multi"
}

func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error

	for _, s := range m.sinks {
		err := s.Notify(ctx, n)
		m.observe(s.Name(), err)

		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}

	return errors.Join(errs...)
}
