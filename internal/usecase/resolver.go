package usecase

import (
	"context"
	"errors"
	"log/slog"

	"tutor-agent/internal/domain"
	"tutor-agent/internal/logstore"
)

// resumeWindow is how many prior turns a ResumePoint carries.
const resumeWindow = 10

type RecordFinder interface {
	FindMostRecentCompleted(ctx context.Context) (domain.SessionRecord, error)
}

type LogReader interface {
	Today() string
	Read(ctx context.Context, date string) (logstore.Partition, error)
	FindMostRecentPartition(ctx context.Context) (string, error)
}

// Resolver works out where the learner left off from the record store and
// the daily logs.
type Resolver struct {
	records RecordFinder
	logs    LogReader
	logger  *slog.Logger
}

func NewResolver(records RecordFinder, logs LogReader, logger *slog.Logger) (*Resolver, error) {
	if records == nil {
		return nil, errors.New("usecase: record finder must not be nil")
	}
	if logs == nil {
		return nil, errors.New("usecase: log reader must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{records: records, logs: logs, logger: logger}, nil
}

// Resolve never fails: a store that cannot be reached counts as holding
// nothing, and the learner starts fresh.
func (r *Resolver) Resolve(ctx context.Context) domain.ResumePoint {
	rp := domain.EmptyResumePoint()

	rec, err := r.records.FindMostRecentCompleted(ctx)
	switch {
	case err == nil:
		rp.HasPrior = true
		rp.CourseName = rec.CourseName
		rp.ChapterName = rec.ChapterName
		rp.LastTime = domain.FormatTime(rec.EndTime)
	case errors.Is(err, domain.ErrNotFound):
	default:
		r.logger.Warn("resolve: record lookup failed", "err", err)
	}

	turns := r.latestTurns(ctx)
	if len(turns) == 0 {
		return rp
	}
	last := turns[len(turns)-1]
	if rp.HasPrior {
		if !last.SameSession(rp.CourseName, rp.ChapterName) {
			return rp
		}
	} else {
		rp.HasPrior = true
		rp.CourseName = last.Course
		rp.ChapterName = last.Chapter
		rp.LastTime = domain.FormatTime(last.Time)
	}
	rp.PriorTurns = window(turns, rp.CourseName, rp.ChapterName, resumeWindow)
	return rp
}

// latestTurns reads today's partition, falling back to the most recently
// modified one.
func (r *Resolver) latestTurns(ctx context.Context) []domain.Turn {
	date := r.logs.Today()
	p, err := r.logs.Read(ctx, date)
	if errors.Is(err, domain.ErrNotFound) {
		date, err = r.logs.FindMostRecentPartition(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			r.logger.Warn("resolve: partition listing failed", "err", err)
			return nil
		}
		p, err = r.logs.Read(ctx, date)
	}
	if err != nil {
		r.logger.Warn("resolve: log read failed", "date", date, "err", err)
		return nil
	}
	return p.Turns
}

// window keeps the last n turns of one course and chapter, oldest first.
func window(turns []domain.Turn, course, chapter string, n int) []domain.PriorTurn {
	matched := filterSession(turns, course, chapter)
	if len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	out := make([]domain.PriorTurn, 0, len(matched))
	for _, t := range matched {
		out = append(out, domain.PriorTurn{Role: t.Role, Content: t.Content})
	}
	return out
}

func filterSession(turns []domain.Turn, course, chapter string) []domain.Turn {
	var out []domain.Turn
	for _, t := range turns {
		if t.SameSession(course, chapter) {
			out = append(out, t)
		}
	}
	return out
}
