// Package scheduler closes sessions the learner never synced. It runs only in
// the long-lived local server; the Lambda deployment relies on the client.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"tutor-agent/internal/domain"
)

// SessionCloser is satisfied by *usecase.Summarizer.
type SessionCloser interface {
	Today() string
	CloseOpenSession(ctx context.Context, date string) (domain.SessionRecord, bool, error)
}

type Scheduler struct {
	cron    *cron.Cron
	closer  SessionCloser
	spec    string
	timeout time.Duration
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Scheduler)

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.cron = cron.New(cron.WithLocation(loc))
		}
	}
}

// WithJobTimeout bounds one close-out run.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New validates spec, a standard five-field cron expression.
func New(closer SessionCloser, spec string, opts ...Option) (*Scheduler, error) {
	if closer == nil {
		return nil, errors.New("scheduler: session closer must not be nil")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("scheduler: parse schedule %q: %w", spec, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		closer:  closer,
		spec:    spec,
		timeout: 2 * time.Minute,
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(s.ctx) }); err != nil {
		return fmt.Errorf("scheduler: add job: %w", err)
	}
	s.cron.Start()
	s.logger.Info("session close-out scheduled", "schedule", s.spec)
	return nil
}

// Stop waits for a running job to finish, then cancels the scheduler context.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.logger.Info("session close-out stopped")
}

// RunOnce closes today's open session, if any. Failures are logged; the next
// run tries again.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	date := s.closer.Today()
	rec, skipped, err := s.closer.CloseOpenSession(ctx, date)
	switch {
	case errors.Is(err, domain.ErrNoSession):
		s.logger.Info("close-out: nothing to close", "date", date)
	case err != nil:
		s.logger.Error("close-out failed", "date", date, "err", err)
	case skipped:
		s.logger.Info("close-out: session already recorded", "date", date, "course", rec.CourseName, "chapter", rec.ChapterName)
	default:
		s.logger.Info("close-out: session recorded", "date", date, "course", rec.CourseName, "chapter", rec.ChapterName, "duration", rec.DurationMinutes)
	}
}
