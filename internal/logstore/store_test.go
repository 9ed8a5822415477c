package logstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tutor-agent/internal/domain"
	"tutor-agent/internal/retry"
)

// memBackend is an in-memory Backend with the same CAS rules as the real ones.
type memBackend struct {
	mu      sync.Mutex
	blobs   map[string]Blob
	entries []Entry
	seq     int
	puts    int

	getErr  error
	listErr error
	// beforePut runs before each Put is checked, outside the lock, so tests
	// can slip in a competing writer.
	beforePut func(date string, attempt int)
}

func newMemBackend() *memBackend {
	return &memBackend{blobs: map[string]Blob{}}
}

func (m *memBackend) Get(_ context.Context, date string) (Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return Blob{Version: m.blobs[date].Version}, m.getErr
	}
	b, ok := m.blobs[date]
	if !ok {
		return Blob{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *memBackend) Put(_ context.Context, date string, content []byte, version string) error {
	m.mu.Lock()
	m.puts++
	attempt := m.puts
	hook := m.beforePut
	m.mu.Unlock()
	if hook != nil {
		hook(date, attempt)
	}
	return m.put(date, content, version)
}

func (m *memBackend) put(date string, content []byte, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.blobs[date]
	if version == "" && exists {
		return ErrAlreadyExists
	}
	if version != "" && (!exists || current.Version != version) {
		return ErrVersionConflict
	}
	m.seq++
	m.blobs[date] = Blob{Content: content, Version: fmt.Sprintf("v%d", m.seq)}
	return nil
}

func (m *memBackend) List(context.Context) ([]Entry, error) {
	return m.entries, m.listErr
}

func mustStore(t *testing.T, b Backend, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithPolicy(retry.Policy{MaxRetries: 3})}, opts...)
	s, err := New(b, opts...)
	require.NoError(t, err)
	return s
}

func turn(role domain.Role, content, course, chapter string) domain.Turn {
	return domain.Turn{
		Time:    time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		Role:    role,
		Content: content,
		Course:  course,
		Chapter: chapter,
	}
}

func TestNew_NilBackend(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestAppend_ReadReturnsTurnsAsSuffix(t *testing.T) {
	b := newMemBackend()
	s := mustStore(t, b)
	ctx := context.Background()

	first := []domain.Turn{turn(domain.RoleLearner, "hi", "Go", "1"), turn(domain.RoleAssistant, "hello", "Go", "1")}
	require.NoError(t, s.Append(ctx, "2026-01-10", first...))

	second := []domain.Turn{turn(domain.RoleLearner, "next", "Go", "1"), turn(domain.RoleAssistant, "sure", "Go", "1")}
	require.NoError(t, s.Append(ctx, "2026-01-10", second...))

	p, err := s.Read(ctx, "2026-01-10")
	require.NoError(t, err)
	require.Len(t, p.Turns, 4)
	require.Equal(t, second, p.Turns[2:])
	require.Equal(t, first, p.Turns[:2])
	require.NotEmpty(t, p.Version)
}

func TestAppend_ConflictingWriterIsRetriedAndBothSurvive(t *testing.T) {
	b := newMemBackend()
	s := mustStore(t, b)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "2026-01-10", turn(domain.RoleLearner, "seed", "Go", "1")))

	other := turn(domain.RoleLearner, "other writer", "Go", "1")
	b.beforePut = func(date string, attempt int) {
		if attempt != 2 {
			return
		}
		current := b.blobs[date]
		turns, err := DecodeTurns(current.Content)
		require.NoError(t, err)
		content, err := EncodeTurns(append(turns, other))
		require.NoError(t, err)
		require.NoError(t, b.put(date, content, current.Version))
	}

	mine := turn(domain.RoleLearner, "mine", "Go", "1")
	require.NoError(t, s.Append(ctx, "2026-01-10", mine))

	p, err := s.Read(ctx, "2026-01-10")
	require.NoError(t, err)
	require.Equal(t, []string{"seed", "other writer", "mine"}, contents(p.Turns))
}

func TestAppend_RaceOnEmptyPartitionKeepsBothWriters(t *testing.T) {
	b := newMemBackend()
	s := mustStore(t, b)
	ctx := context.Background()

	theirs := []domain.Turn{turn(domain.RoleLearner, "theirs", "Go", "1"), turn(domain.RoleAssistant, "theirs-reply", "Go", "1")}
	b.beforePut = func(date string, attempt int) {
		if attempt != 1 {
			return
		}
		content, err := EncodeTurns(theirs)
		require.NoError(t, err)
		require.NoError(t, b.put(date, content, ""))
	}

	mine := []domain.Turn{turn(domain.RoleLearner, "mine", "Go", "1"), turn(domain.RoleAssistant, "mine-reply", "Go", "1")}
	require.NoError(t, s.Append(ctx, "2026-01-10", mine...))

	p, err := s.Read(ctx, "2026-01-10")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"theirs", "theirs-reply", "mine", "mine-reply"}, contents(p.Turns))
	require.Equal(t, mine, p.Turns[2:])
}

func TestAppend_PersistentConflictExhaustsRetries(t *testing.T) {
	b := newMemBackend()
	s := mustStore(t, b)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "2026-01-10", turn(domain.RoleLearner, "seed", "Go", "1")))

	b.beforePut = func(date string, _ int) {
		current := b.blobs[date]
		require.NoError(t, b.put(date, current.Content, current.Version))
	}
	err := s.Append(ctx, "2026-01-10", turn(domain.RoleLearner, "lost?", "Go", "1"))
	require.Error(t, err)
	require.ErrorIs(t, err, retry.ErrExhaustedRetries)
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestAppend_CorruptPartitionIsRewritten(t *testing.T) {
	b := newMemBackend()
	b.blobs["2026-01-10"] = Blob{Content: []byte(`{"not":"an array"}`), Version: "v0"}
	s := mustStore(t, b)
	ctx := context.Background()

	_, err := s.Read(ctx, "2026-01-10")
	var parseErr *domain.ContentParseError
	require.True(t, errors.As(err, &parseErr))

	require.NoError(t, s.Append(ctx, "2026-01-10", turn(domain.RoleLearner, "fresh", "Go", "1")))
	p, err := s.Read(ctx, "2026-01-10")
	require.NoError(t, err)
	require.Equal(t, []string{"fresh"}, contents(p.Turns))
}

func TestAppend_BackendParseErrorKeepsVersionAndRewrites(t *testing.T) {
	b := newMemBackend()
	b.blobs["2026-01-10"] = Blob{Version: "v1"}
	b.getErr = &domain.ContentParseError{Source: "daily log", Err: errors.New("unsupported encoding")}
	b.beforePut = func(string, int) { b.getErr = nil }
	s := mustStore(t, b)
	ctx := context.Background()

	p, err := s.Read(ctx, "2026-01-10")
	var parseErr *domain.ContentParseError
	require.True(t, errors.As(err, &parseErr))
	require.Equal(t, "v1", p.Version)
	require.Empty(t, p.Turns)

	require.NoError(t, s.Append(ctx, "2026-01-10", turn(domain.RoleLearner, "fresh", "Go", "1")))
	require.Equal(t, 1, b.puts)

	p, err = s.Read(ctx, "2026-01-10")
	require.NoError(t, err)
	require.Equal(t, []string{"fresh"}, contents(p.Turns))
}

func TestAppend_NoTurnsIsNoop(t *testing.T) {
	b := newMemBackend()
	s := mustStore(t, b)
	require.NoError(t, s.Append(context.Background(), "2026-01-10"))
	require.Equal(t, 0, b.puts)
}

func TestAppend_ReadFailureIsReturned(t *testing.T) {
	b := newMemBackend()
	b.getErr = errors.New("github down")
	s := mustStore(t, b)
	err := s.Append(context.Background(), "2026-01-10", turn(domain.RoleLearner, "x", "Go", "1"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "github down")
	require.Equal(t, 0, b.puts)
}

func TestRead_NotFound(t *testing.T) {
	s := mustStore(t, newMemBackend())
	_, err := s.Read(context.Background(), "2026-01-10")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRead_InvalidDate(t *testing.T) {
	s := mustStore(t, newMemBackend())
	_, err := s.Read(context.Background(), "../etc/passwd")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid partition date")
}

func TestWrite_CreateOverExistingFails(t *testing.T) {
	b := newMemBackend()
	s := mustStore(t, b)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, "2026-01-10", nil, ""))
	err := s.Write(ctx, "2026-01-10", nil, "")
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestWrite_StaleVersionConflicts(t *testing.T) {
	b := newMemBackend()
	s := mustStore(t, b)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, "2026-01-10", nil, ""))
	err := s.Write(ctx, "2026-01-10", nil, "stale")
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestFindMostRecentPartition_UsesModificationTime(t *testing.T) {
	b := newMemBackend()
	b.entries = []Entry{
		{Date: "2026-01-10", UpdatedAt: time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)},
		{Date: "2026-01-14", UpdatedAt: time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)},
	}
	s := mustStore(t, b)
	date, err := s.FindMostRecentPartition(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2026-01-10", date)
}

func TestFindMostRecentPartition_TieGoesToFirstListed(t *testing.T) {
	ts := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)
	b := newMemBackend()
	b.entries = []Entry{
		{Date: "2026-01-14", UpdatedAt: ts},
		{Date: "2026-01-10", UpdatedAt: ts},
	}
	s := mustStore(t, b)
	date, err := s.FindMostRecentPartition(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2026-01-14", date)
}

func TestFindMostRecentPartition_Empty(t *testing.T) {
	b := newMemBackend()
	b.entries = []Entry{{Date: "README"}}
	s := mustStore(t, b)
	_, err := s.FindMostRecentPartition(context.Background())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindMostRecentPartition_ListError(t *testing.T) {
	b := newMemBackend()
	b.listErr = errors.New("boom")
	s := mustStore(t, b)
	_, err := s.FindMostRecentPartition(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestToday_UsesConfiguredZone(t *testing.T) {
	utc8 := time.FixedZone("UTC+8", 8*60*60)
	clock := func() time.Time { return time.Date(2026, 1, 10, 17, 30, 0, 0, time.UTC) }
	s := mustStore(t, newMemBackend(), WithLocation(utc8), WithClock(clock))
	require.Equal(t, "2026-01-11", s.Today())

	s = mustStore(t, newMemBackend(), WithClock(clock))
	require.Equal(t, "2026-01-10", s.Today())
}

func contents(turns []domain.Turn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Content)
	}
	return out
}
