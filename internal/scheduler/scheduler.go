package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	Timezone              = "UTC"
	TimezoneOffsetSeconds = 0
	DefaultRunTimeout     = 15 * time.Minute
)

// Job is one pipeline run.
type Job func(ctx context.Context) error

type Scheduler struct {
	ctx        context.Context
	cron       *cron.Cron
	spec       string
	job        Job
	runTimeout time.Duration
	log        *slog.Logger
}

func New(ctx context.Context, spec string, runTimeout time.Duration, job Job, log *slog.Logger) *Scheduler {
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}

	logger := cronLogger{log: log}

	c := cron.New(
		cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	return &Scheduler{
		ctx:        ctx,
		cron:       c,
		spec:       spec,
		job:        job,
		runTimeout: runTimeout,
		log:        log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.run); err != nil {
		return fmt.Errorf("add job (spec = %s): %w", s.spec, err)
	}

	s.cron.Start()

	return nil
}

// Stop stops scheduling and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(s.ctx, s.runTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return
	default:
	}

	start := time.Now()

	if err := s.job(ctx); err != nil {
		s.log.ErrorContext(ctx, "Scheduled run failed",
			"error", err,
			"spec", s.spec,
			"durationSeconds", time.Since(start).Seconds())

		return
	}

	s.log.InfoContext(ctx, "Scheduled run is done",
		"spec", s.spec,
		"durationSeconds", time.Since(start).Seconds())
}

// cronLogger routes cron's own logs to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("Cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("Cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
