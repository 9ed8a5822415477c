package usecase

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tutor-agent/internal/domain"
)

const (
	summaryMaxRunes   = 50
	challengeMaxRunes = 30
	summaryMaxTokens  = 100
	truncationMarker  = "..."

	SummaryPlaceholder   = "Summary unavailable"
	ChallengePlaceholder = "Challenge unavailable"
)

type RecordStore interface {
	RecordFinder
	Save(ctx context.Context, rec domain.SessionRecord) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, messages []domain.ChatMessage, maxTokens int) (string, error)
}

// Summarizer closes a session: it turns the day's turns for one course and
// chapter into a single SessionRecord.
type Summarizer struct {
	logs    LogReader
	records RecordStore
	llm     LLMClient
	prompts Prompts
	now     func() time.Time
	logger  *slog.Logger
}

type SummarizerOption func(*Summarizer)

func WithSummaryPrompts(p Prompts) SummarizerOption {
	return func(s *Summarizer) {
		s.prompts = p
	}
}

func WithSummarizerClock(now func() time.Time) SummarizerOption {
	return func(s *Summarizer) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSummarizerLogger(logger *slog.Logger) SummarizerOption {
	return func(s *Summarizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSummarizer(logs LogReader, records RecordStore, llm LLMClient, opts ...SummarizerOption) (*Summarizer, error) {
	if logs == nil {
		return nil, errors.New("usecase: log reader must not be nil")
	}
	if records == nil {
		return nil, errors.New("usecase: record store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	s := &Summarizer{
		logs:    logs,
		records: records,
		llm:     llm,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Today is the partition CloseOpenSession targets when run at the end of the
// day.
func (s *Summarizer) Today() string {
	return s.logs.Today()
}

// Summarize closes today's session for course and chapter.
func (s *Summarizer) Summarize(ctx context.Context, course, chapter string) (domain.SessionRecord, error) {
	course = strings.TrimSpace(course)
	chapter = strings.TrimSpace(chapter)
	if course == "" || chapter == "" {
		return domain.SessionRecord{}, newError(ErrorInvalidInput, "missing_course_or_chapter", nil)
	}
	return s.summarize(ctx, s.logs.Today(), course, chapter)
}

// CloseOpenSession summarizes the session the last turn of date belongs to,
// unless a completed record already covers that turn. A covered session is
// returned with skipped set.
func (s *Summarizer) CloseOpenSession(ctx context.Context, date string) (rec domain.SessionRecord, skipped bool, err error) {
	p, err := s.logs.Read(ctx, date)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		var parseErr *domain.ContentParseError
		if !errors.As(err, &parseErr) {
			return domain.SessionRecord{}, false, storageError("log_read_error", err)
		}
		s.logger.Warn("close session: unreadable log treated as empty", "date", date, "err", err)
	}
	if len(p.Turns) == 0 {
		return domain.SessionRecord{}, false, newError(ErrorNoSession, "empty_log", domain.ErrNoSession)
	}
	last := p.Turns[len(p.Turns)-1]

	latest, err := s.records.FindMostRecentCompleted(ctx)
	switch {
	case err == nil:
		if !latest.EndTime.Before(last.Time) {
			return latest, true, nil
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return domain.SessionRecord{}, false, storageError("record_lookup_error", err)
	}

	rec, err = s.summarize(ctx, date, last.Course, last.Chapter)
	return rec, false, err
}

func (s *Summarizer) summarize(ctx context.Context, date, course, chapter string) (domain.SessionRecord, error) {
	p, err := s.logs.Read(ctx, date)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		var parseErr *domain.ContentParseError
		if !errors.As(err, &parseErr) {
			return domain.SessionRecord{}, storageError("log_read_error", err)
		}
		s.logger.Warn("summarize: unreadable log treated as empty", "date", date, "err", err)
	}
	turns := filterSession(p.Turns, course, chapter)
	if len(turns) == 0 {
		return domain.SessionRecord{}, newError(ErrorNoSession, "no_turns", domain.ErrNoSession)
	}

	end := s.now()
	start := turns[0].Time
	rec := domain.SessionRecord{
		CourseName:      course,
		ChapterName:     chapter,
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: durationMinutes(start, end),
		MasteryLevel:    domain.MasteryPendingReview,
		Status:          domain.StatusCompleted,
	}

	// Both generations degrade to placeholders, so neither goroutine returns
	// an error and one failure never cancels the other.
	var g errgroup.Group
	g.Go(func() error {
		rec.Summary = s.generate(ctx, "summary", buildSummaryMessages(s.prompts, turns), summaryMaxRunes, SummaryPlaceholder)
		return nil
	})
	g.Go(func() error {
		rec.Challenge = s.generate(ctx, "challenge", buildChallengeMessages(s.prompts, course, chapter, turns), challengeMaxRunes, ChallengePlaceholder)
		return nil
	})
	_ = g.Wait()

	id, err := s.records.Save(ctx, rec)
	if err != nil {
		s.logger.Error("summarize: record write failed", "course", course, "chapter", chapter, "err", err)
		return domain.SessionRecord{}, storageError("record_write_error", err)
	}
	rec.ID = id
	return rec, nil
}

func (s *Summarizer) generate(ctx context.Context, kind string, messages []domain.ChatMessage, limit int, placeholder string) string {
	out, err := s.llm.Chat(ctx, messages, summaryMaxTokens)
	if err != nil {
		s.logger.Warn("summarize: generation failed", "kind", kind, "err", err)
		return placeholder
	}
	return truncateRunes(out, limit)
}

// durationMinutes rounds up to whole minutes and never goes negative under
// clock skew.
func durationMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + truncationMarker
}
