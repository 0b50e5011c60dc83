// Package ratelimiter paces outbound chat messages.
package ratelimiter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultPrivateInterval = time.Second
	DefaultGroupInterval   = 3 * time.Second

	queueSize = 1000
)

// SendFunc performs one outbound message delivery.
type SendFunc func(ctx context.Context) error

type request struct {
	ctx      context.Context
	chatID   int64
	send     SendFunc
	response chan error
}

// RateLimiter runs sends one at a time and keeps a minimum interval
// between two sends to the same chat. Group chats have negative IDs.
type RateLimiter struct {
	queue           chan request
	privateInterval time.Duration
	groupInterval   time.Duration

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
}

type Option func(*RateLimiter)

// WithIntervals overrides the minimum gap between sends to one chat.
func WithIntervals(private time.Duration, group time.Duration) Option {
	return func(rl *RateLimiter) {
		if private > 0 {
			rl.privateInterval = private
		}
		if group > 0 {
			rl.groupInterval = group
		}
	}
}

func New(log *slog.Logger, opts ...Option) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())

	rl := &RateLimiter{
		queue:           make(chan request, queueSize),
		privateInterval: DefaultPrivateInterval,
		groupInterval:   DefaultGroupInterval,
		limiters:        make(map[int64]*rate.Limiter),
		ctx:             ctx,
		cancel:          cancel,
		log:             log,
	}
	for _, opt := range opts {
		opt(rl)
	}

	go rl.loop()

	return rl
}

// Send queues one delivery and waits for its result.
func (rl *RateLimiter) Send(ctx context.Context, chatID int64, send SendFunc) error {
	if err := rl.ctx.Err(); err != nil {
		return err
	}

	req := request{
		ctx:      ctx,
		chatID:   chatID,
		send:     send,
		response: make(chan error, 1),
	}

	select {
	case rl.queue <- req:
	case <-rl.ctx.Done():
		return rl.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.response:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop fails queued and future sends with context.Canceled.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

func (rl *RateLimiter) loop() {
	for {
		select {
		case req := <-rl.queue:
			req.response <- rl.handle(req)
		case <-rl.ctx.Done():
			for {
				select {
				case req := <-rl.queue:
					req.response <- rl.ctx.Err()
				default:
					return
				}
			}
		}
	}
}

func (rl *RateLimiter) handle(req request) error {
	if err := rl.ctx.Err(); err != nil {
		return err
	}

	// Stop interrupts a pending wait as well as the caller's context.
	ctx, cancel := context.WithCancel(req.ctx)
	defer cancel()
	stop := context.AfterFunc(rl.ctx, cancel)
	defer stop()

	limiter := rl.limiter(req.chatID)

	if limiter.Tokens() < 1 {
		rl.log.DebugContext(ctx, "Message is rate limited",
			"chatID", req.chatID,
			"interval", rl.interval(req.chatID),
			"queueLen", len(rl.queue))
	}

	if err := limiter.Wait(ctx); err != nil {
		if rl.ctx.Err() != nil {
			return rl.ctx.Err()
		}
		return err
	}

	return req.send(req.ctx)
}

func (rl *RateLimiter) limiter(chatID int64) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[chatID]
	if !ok {
		l = rate.NewLimiter(rate.Every(rl.interval(chatID)), 1)
		rl.limiters[chatID] = l
	}

	return l
}

func (rl *RateLimiter) interval(chatID int64) time.Duration {
	if chatID < 0 {
		return rl.groupInterval
	}
	return rl.privateInterval
}
