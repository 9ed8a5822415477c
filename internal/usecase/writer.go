package usecase

import (
	"context"
	"errors"
	"fmt"

	"tutor-agent/internal/domain"
)

type LogAppender interface {
	Today() string
	Append(ctx context.Context, date string, turns ...domain.Turn) error
}

// Writer persists one learner/assistant exchange into a daily log.
type Writer struct {
	logs LogAppender
}

func NewWriter(logs LogAppender) (*Writer, error) {
	if logs == nil {
		return nil, errors.New("usecase: log appender must not be nil")
	}
	return &Writer{logs: logs}, nil
}

// Today is the partition a pair written now belongs to.
func (w *Writer) Today() string {
	return w.logs.Today()
}

// AppendTurnPair appends both turns in one read-append-write cycle so they are
// never split across partitions or interleaved with another writer.
func (w *Writer) AppendTurnPair(ctx context.Context, date string, learner, assistant domain.Turn) error {
	if learner.Role != domain.RoleLearner {
		return fmt.Errorf("usecase: append turn pair: first turn has role %q", learner.Role)
	}
	if assistant.Role != domain.RoleAssistant {
		return fmt.Errorf("usecase: append turn pair: second turn has role %q", assistant.Role)
	}
	if err := w.logs.Append(ctx, date, learner, assistant); err != nil {
		return fmt.Errorf("usecase: append turn pair for %s: %w", date, err)
	}
	return nil
}
