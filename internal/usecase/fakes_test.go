package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"tutor-agent/internal/domain"
	"tutor-agent/internal/logstore"
)

type fakeRecords struct {
	mu       sync.Mutex
	latest   *domain.SessionRecord
	findErr  error
	saveErr  error
	saved    []domain.SessionRecord
	findHits int
}

func (f *fakeRecords) FindMostRecentCompleted(context.Context) (domain.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findHits++
	if f.findErr != nil {
		return domain.SessionRecord{}, f.findErr
	}
	if f.latest == nil {
		return domain.SessionRecord{}, domain.ErrNotFound
	}
	return *f.latest, nil
}

func (f *fakeRecords) Save(_ context.Context, rec domain.SessionRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, rec)
	return "page-1", nil
}

// fakeLogs is an in-memory daily log keyed by date. Dates listed later in
// order count as more recently modified.
type fakeLogs struct {
	mu        sync.Mutex
	today     string
	parts     map[string][]domain.Turn
	order     []string
	readErr   map[string]error
	listErr   error
	appendErr error
	reads     []string
}

func newFakeLogs(today string) *fakeLogs {
	return &fakeLogs{today: today, parts: map[string][]domain.Turn{}, readErr: map[string]error{}}
}

func (f *fakeLogs) seed(date string, turns ...domain.Turn) {
	f.parts[date] = append(f.parts[date], turns...)
	f.order = append(f.order, date)
}

func (f *fakeLogs) Today() string { return f.today }

func (f *fakeLogs) Read(_ context.Context, date string) (logstore.Partition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, date)
	if err := f.readErr[date]; err != nil {
		return logstore.Partition{Date: date}, err
	}
	turns, ok := f.parts[date]
	if !ok {
		return logstore.Partition{}, domain.ErrNotFound
	}
	return logstore.Partition{Date: date, Turns: append([]domain.Turn(nil), turns...), Version: "v"}, nil
}

func (f *fakeLogs) FindMostRecentPartition(context.Context) (string, error) {
	if f.listErr != nil {
		return "", f.listErr
	}
	if len(f.order) == 0 {
		return "", domain.ErrNotFound
	}
	return f.order[len(f.order)-1], nil
}

func (f *fakeLogs) Append(_ context.Context, date string, turns ...domain.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.parts[date] = append(f.parts[date], turns...)
	return nil
}

type fakeLLM struct {
	mu      sync.Mutex
	reply   func(messages []domain.ChatMessage) (string, error)
	calls   [][]domain.ChatMessage
	budgets []int
}

func (f *fakeLLM) Chat(_ context.Context, messages []domain.ChatMessage, maxTokens int) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.budgets = append(f.budgets, maxTokens)
	f.mu.Unlock()
	if f.reply == nil {
		return "", errors.New("no reply configured")
	}
	return f.reply(messages)
}

var t0 = time.Date(2026, 1, 10, 2, 0, 0, 0, time.UTC)

func learnerTurn(at time.Duration, content, course, chapter string) domain.Turn {
	return domain.Turn{Time: t0.Add(at), Role: domain.RoleLearner, Content: content, Course: course, Chapter: chapter}
}

func assistantTurn(at time.Duration, content, course, chapter string) domain.Turn {
	return domain.Turn{Time: t0.Add(at), Role: domain.RoleAssistant, Content: content, Course: course, Chapter: chapter}
}
