// Package logstore keeps the append-only daily logs of tutoring turns. Each
// calendar date is one partition holding a JSON array, written with
// compare-and-swap on an opaque version token.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tutor-agent/internal/domain"
	"tutor-agent/internal/retry"
)

// DateLayout is the partition key format.
const DateLayout = "2006-01-02"

var (
	// ErrAlreadyExists is returned by a create (empty version) when the
	// partition is already present.
	ErrAlreadyExists = errors.New("logstore: partition already exists")
	// ErrVersionConflict is returned when the stored version no longer
	// matches the expected one.
	ErrVersionConflict = errors.New("logstore: version conflict")
)

// Blob is a raw partition payload and its version token.
type Blob struct {
	Content []byte
	Version string
}

// Entry describes one partition as reported by a backend listing.
type Entry struct {
	Date      string
	UpdatedAt time.Time
}

// Backend is a versioned blob store addressed by partition date.
// Get returns domain.ErrNotFound for a missing partition. Put with an empty
// version creates and fails with ErrAlreadyExists if the partition exists;
// with a version it fails with ErrVersionConflict on mismatch.
type Backend interface {
	Get(ctx context.Context, date string) (Blob, error)
	Put(ctx context.Context, date string, content []byte, version string) error
	List(ctx context.Context) ([]Entry, error)
}

// Partition is a decoded daily log.
type Partition struct {
	Date    string
	Turns   []domain.Turn
	Version string
}

// Store reads and appends daily logs on top of a Backend.
type Store struct {
	backend Backend
	policy  retry.Policy
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Store)

// WithPolicy sets the retry budget of the read-append-write loop.
func WithPolicy(p retry.Policy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

// WithLocation sets the time zone that decides which date "today" is.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Store over backend.
func New(backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("logstore: backend must not be nil")
	}
	s := &Store{
		backend: backend,
		policy:  retry.DefaultPolicy(nil),
		loc:     time.UTC,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.policy.Retryable = isWriteRace
	return s, nil
}

// Today returns the partition key for the current date in the store's zone.
func (s *Store) Today() string {
	return s.now().In(s.loc).Format(DateLayout)
}

// Read loads one partition. A missing partition yields domain.ErrNotFound. A
// payload that cannot be decoded, here or by the backend, yields the
// partition's version with no turns and a *domain.ContentParseError.
func (s *Store) Read(ctx context.Context, date string) (Partition, error) {
	if err := validateDate(date); err != nil {
		return Partition{}, err
	}
	blob, err := s.backend.Get(ctx, date)
	if err != nil {
		var parseErr *domain.ContentParseError
		if errors.As(err, &parseErr) {
			return Partition{Date: date, Version: blob.Version}, fmt.Errorf("logstore: read %s: %w", date, err)
		}
		return Partition{}, fmt.Errorf("logstore: read %s: %w", date, err)
	}
	turns, err := DecodeTurns(blob.Content)
	if err != nil {
		return Partition{Date: date, Version: blob.Version}, &domain.ContentParseError{Source: "daily log " + date, Err: err}
	}
	return Partition{Date: date, Turns: turns, Version: blob.Version}, nil
}

// Write stores turns as the whole partition. An empty expectedVersion creates
// the partition.
func (s *Store) Write(ctx context.Context, date string, turns []domain.Turn, expectedVersion string) error {
	if err := validateDate(date); err != nil {
		return err
	}
	content, err := EncodeTurns(turns)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, date, content, expectedVersion); err != nil {
		return fmt.Errorf("logstore: write %s: %w", date, err)
	}
	return nil
}

// Append adds turns to the end of a partition. The store does not serialize
// writers, so the read-append-write cycle is repeated on ErrVersionConflict
// and ErrAlreadyExists until it lands or the retry budget is spent.
func (s *Store) Append(ctx context.Context, date string, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	if err := validateDate(date); err != nil {
		return err
	}
	attempt := 0
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		current, err := s.Read(ctx, date)
		var parseErr *domain.ContentParseError
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNotFound):
		case errors.As(err, &parseErr) && current.Version != "":
			s.logger.Warn("daily log is corrupt, rewriting it", "date", date, "err", err)
		default:
			return err
		}

		merged := make([]domain.Turn, 0, len(current.Turns)+len(turns))
		merged = append(merged, current.Turns...)
		merged = append(merged, turns...)

		err = s.Write(ctx, date, merged, current.Version)
		if isWriteRace(err) {
			s.logger.Warn("daily log changed underneath append", "date", date, "attempt", attempt, "err", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("logstore: append %s: %w", date, err)
	}
	return nil
}

// FindMostRecentPartition returns the date of the partition with the latest
// modification time reported by the backend. This is not necessarily the
// largest date, since an old day may have been rewritten later. Ties go to the
// earliest entry in the backend's listing order.
func (s *Store) FindMostRecentPartition(ctx context.Context) (string, error) {
	entries, err := s.backend.List(ctx)
	if err != nil {
		return "", fmt.Errorf("logstore: list partitions: %w", err)
	}
	var (
		best  Entry
		found bool
	)
	for _, e := range entries {
		if validateDate(e.Date) != nil {
			continue
		}
		if !found || e.UpdatedAt.After(best.UpdatedAt) {
			best = e
			found = true
		}
	}
	if !found {
		return "", fmt.Errorf("logstore: list partitions: %w", domain.ErrNotFound)
	}
	return best.Date, nil
}

func isWriteRace(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrAlreadyExists)
}

func validateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("logstore: invalid partition date %q", date)
	}
	return nil
}
