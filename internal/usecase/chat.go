package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"tutor-agent/internal/domain"
)

const (
	defaultMaxInputRunes = 4000
	defaultReplyTokens   = 1000
)

type ChatInput struct {
	CourseName  string
	ChapterName string
	UserInput   string
	PriorTurns  []domain.PriorTurn
}

type ChatOutput struct {
	Reply string
}

// ChatService answers one learner message and records the exchange.
type ChatService struct {
	llm           LLMClient
	writer        *Writer
	prompts       Prompts
	maxTokens     int
	maxInputRunes int
	now           func() time.Time
	logger        *slog.Logger
}

type ChatOption func(*ChatService)

func WithChatPrompts(p Prompts) ChatOption {
	return func(s *ChatService) {
		s.prompts = p
	}
}

// WithReplyTokens sets the completion budget for tutoring replies.
func WithReplyTokens(n int) ChatOption {
	return func(s *ChatService) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

func WithMaxInputRunes(n int) ChatOption {
	return func(s *ChatService) {
		if n > 0 {
			s.maxInputRunes = n
		}
	}
}

func WithChatClock(now func() time.Time) ChatOption {
	return func(s *ChatService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithChatLogger(logger *slog.Logger) ChatOption {
	return func(s *ChatService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewChatService(llm LLMClient, w *Writer, opts ...ChatOption) (*ChatService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if w == nil {
		return nil, errors.New("usecase: writer must not be nil")
	}
	s := &ChatService{
		llm:           llm,
		writer:        w,
		maxTokens:     defaultReplyTokens,
		maxInputRunes: defaultMaxInputRunes,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	in.CourseName = strings.TrimSpace(in.CourseName)
	in.ChapterName = strings.TrimSpace(in.ChapterName)
	in.UserInput = strings.TrimSpace(in.UserInput)
	if in.CourseName == "" || in.ChapterName == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "missing_course_or_chapter", nil)
	}
	if in.UserInput == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_input", nil)
	}
	if utf8.RuneCountInString(in.UserInput) > s.maxInputRunes {
		return ChatOutput{}, newError(ErrorInvalidInput, "input_too_long", nil)
	}

	asked := s.now().UTC()
	reply, err := s.llm.Chat(ctx, buildTutorMessages(s.prompts, in), s.maxTokens)
	if err != nil {
		return ChatOutput{}, aiError("ai", err)
	}
	if strings.TrimSpace(reply) == "" {
		return ChatOutput{}, newError(ErrorUpstream, "ai_empty_reply", nil)
	}

	learner := domain.Turn{Time: asked, Role: domain.RoleLearner, Content: in.UserInput, Course: in.CourseName, Chapter: in.ChapterName}
	assistant := domain.Turn{Time: s.now().UTC(), Role: domain.RoleAssistant, Content: reply, Course: in.CourseName, Chapter: in.ChapterName}
	if err := s.writer.AppendTurnPair(ctx, s.writer.Today(), learner, assistant); err != nil {
		s.logger.Error("chat: turn pair not persisted", "course", in.CourseName, "chapter", in.ChapterName, "err", err)
		return ChatOutput{}, storageError("log_append_error", err)
	}
	return ChatOutput{Reply: reply}, nil
}
