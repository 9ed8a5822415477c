// Package handler is the HTTP surface of the tutor: an API Gateway proxy
// handler for Lambda and a net/http adapter for the local server.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"tutor-agent/internal/domain"
	"tutor-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 64 << 10
)

type Resolver interface {
	Resolve(ctx context.Context) domain.ResumePoint
}

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type SyncUseCase interface {
	Summarize(ctx context.Context, course, chapter string) (domain.SessionRecord, error)
}

type CatalogUseCase interface {
	Courses(ctx context.Context) ([]domain.Course, error)
}

// Services are the use cases behind the routes.
type Services struct {
	Resolver Resolver
	Chat     ChatUseCase
	Sync     SyncUseCase
	Catalog  CatalogUseCase
}

type Handler struct {
	svc    Services
	logger *slog.Logger
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(svc Services, opts ...Option) (*Handler, error) {
	switch {
	case svc.Resolver == nil:
		return nil, errors.New("handler: resolver must not be nil")
	case svc.Chat == nil:
		return nil, errors.New("handler: chat use case must not be nil")
	case svc.Sync == nil:
		return nil, errors.New("handler: sync use case must not be nil")
	case svc.Catalog == nil:
		return nil, errors.New("handler: catalog use case must not be nil")
	}
	h := &Handler{svc: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type chatRequest struct {
	CourseName      string             `json:"courseName"`
	ChapterName     string             `json:"chapterName"`
	UserInput       string             `json:"userInput"`
	LastChatContext []domain.PriorTurn `json:"lastChatContext"`
}

type chatResponse struct {
	Success    bool   `json:"success"`
	AIResponse string `json:"aiResponse"`
	Message    string `json:"message"`
}

type syncRequest struct {
	CourseName  string `json:"courseName"`
	ChapterName string `json:"chapterName"`
}

type syncResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Record  domain.SessionRecord `json:"record"`
}

type coursesResponse struct {
	Success bool            `json:"success"`
	Courses []domain.Course `json:"courses"`
	Message string          `json:"message"`
}

type preflightResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handle routes on the path suffix so the same binary works behind any stage
// or function prefix.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	if corrID == "" {
		corrID = newUUID()
	}
	logger := h.logger.With("correlation_id", corrID, "method", req.HTTPMethod, "path", req.Path)

	if req.HTTPMethod == http.MethodOptions {
		return respond(corrID, http.StatusOK, preflightResponse{Success: true}), nil
	}

	path := strings.TrimRight(req.Path, "/")
	switch {
	case strings.HasSuffix(path, "/last-record"):
		if req.HTTPMethod != http.MethodGet && req.HTTPMethod != http.MethodPost {
			return methodNotAllowed(corrID), nil
		}
		return respond(corrID, http.StatusOK, h.svc.Resolver.Resolve(ctx)), nil

	case strings.HasSuffix(path, "/courses"):
		if req.HTTPMethod != http.MethodGet && req.HTTPMethod != http.MethodPost {
			return methodNotAllowed(corrID), nil
		}
		courses, err := h.svc.Catalog.Courses(ctx)
		if err != nil {
			return h.fail(logger, corrID, err), nil
		}
		msg := "课程列表获取成功"
		if len(courses) == 0 {
			msg = "暂无课程数据"
		}
		return respond(corrID, http.StatusOK, coursesResponse{Success: true, Courses: courses, Message: msg}), nil

	case strings.HasSuffix(path, "/chat"):
		if req.HTTPMethod != http.MethodPost {
			return methodNotAllowed(corrID), nil
		}
		var in chatRequest
		if err := decodeBody(req, &in); err != nil {
			return h.fail(logger, corrID, err), nil
		}
		out, err := h.svc.Chat.Chat(ctx, usecase.ChatInput{
			CourseName:  in.CourseName,
			ChapterName: in.ChapterName,
			UserInput:   in.UserInput,
			PriorTurns:  in.LastChatContext,
		})
		if err != nil {
			return h.fail(logger, corrID, err), nil
		}
		return respond(corrID, http.StatusOK, chatResponse{Success: true, AIResponse: out.Reply, Message: "对话已成功保存"}), nil

	case strings.HasSuffix(path, "/sync"):
		if req.HTTPMethod != http.MethodPost {
			return methodNotAllowed(corrID), nil
		}
		var in syncRequest
		if err := decodeBody(req, &in); err != nil {
			return h.fail(logger, corrID, err), nil
		}
		rec, err := h.svc.Sync.Summarize(ctx, in.CourseName, in.ChapterName)
		if err != nil {
			return h.fail(logger, corrID, err), nil
		}
		logger.Info("session synced", "course", rec.CourseName, "chapter", rec.ChapterName, "record_id", rec.ID)
		return respond(corrID, http.StatusOK, syncResponse{Success: true, Message: "学习记录已成功同步到Notion", Record: rec}), nil
	}

	return respond(corrID, http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Message: "未知的接口路径"}), nil
}

// ServeHTTP adapts a net/http request onto Handle for the local server.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ",")
	}
	if correlationID(headers) == "" {
		if id := middleware.GetReqID(r.Context()); id != "" {
			headers[correlationHeader] = id
		}
	}

	resp, _ := h.Handle(r.Context(), events.APIGatewayProxyRequest{
		HTTPMethod: r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Body:       string(body),
	})
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}

func (h *Handler) fail(logger *slog.Logger, corrID string, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		logger.Error("unexpected error", "err", err)
		return respond(corrID, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Message: messageFor(usecase.ErrorInternal)})
	}
	status := statusFor(ucErr.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
	} else {
		logger.Warn("request rejected", "code", ucErr.Code, "reason", ucErr.Reason)
	}
	return respond(corrID, status, errorResponse{Error: string(ucErr.Code), Message: messageFor(ucErr.Code)})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNoSession:
		return http.StatusNotFound
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	case usecase.ErrorStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(code usecase.ErrorCode) string {
	switch code {
	case usecase.ErrorInvalidInput:
		return "请求参数无效"
	case usecase.ErrorNoSession:
		return "未找到当前课程和章节的对话记录"
	case usecase.ErrorRateLimited:
		return "AI服务繁忙，请稍后重试"
	case usecase.ErrorUpstream:
		return "AI服务调用失败"
	case usecase.ErrorStorage:
		return "存储服务暂不可用"
	case usecase.ErrorConfig:
		return "环境变量配置不完整"
	default:
		return "服务器内部错误"
	}
}

func decodeBody(req events.APIGatewayProxyRequest, v any) error {
	raw := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
		}
		raw = decoded
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
	}
	return nil
}

func methodNotAllowed(corrID string) events.APIGatewayProxyResponse {
	return respond(corrID, http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED", Message: "不支持的请求方法"})
}

func respond(corrID string, status int, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"success":false,"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":                 "application/json",
			"Access-Control-Allow-Origin":  "*",
			"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
			"Access-Control-Allow-Headers": "Content-Type",
			correlationHeader:              corrID,
		},
		Body: string(raw),
	}
}

// correlationID echoes the caller's id, matching the header name in any case.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

var newUUID = func() string {
	return uuid.NewString()
}
