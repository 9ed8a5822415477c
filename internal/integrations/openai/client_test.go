package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tutor-agent/internal/domain"
	"tutor-agent/internal/retry"
)

func TestBaseURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://ark.cn-beijing.volces.com/api/v3/chat/completions", "https://ark.cn-beijing.volces.com/api/v3"},
		{"https://api.openai.com/v1/chat/completions/", "https://api.openai.com/v1"},
		{"https://api.openai.com/v1", "https://api.openai.com/v1"},
	}
	for _, tc := range cases {
		got, err := BaseURL(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}

	_, err := BaseURL("")
	require.Error(t, err)
	_, err = BaseURL("ftp://example.com")
	require.Error(t, err)
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient("", "https://api.openai.com/v1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key")

	_, err = NewClient("sk", "")
	require.Error(t, err)
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	doer := retry.NewClient(
		retry.WithPolicy(retry.Policy{MaxRetries: 3}),
		retry.WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	opts = append([]Option{WithHTTPClient(doer)}, opts...)
	c, err := NewClient("sk-test", srv.URL+"/api/v3/chat/completions", opts...)
	require.NoError(t, err)
	return c
}

const okBody = `{
	"id": "chatcmpl-123",
	"object": "chat.completion",
	"created": 1670000000,
	"model": "doubao",
	"choices": [{
		"index": 0,
		"message": { "role": "assistant", "content": "  Hello from mock \n" },
		"finish_reason": "stop"
	}]
}`

func TestClient_Chat_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "tutor-model", body["model"])
		require.EqualValues(t, 100, body["max_tokens"])
		require.InDelta(t, 0.5, body["temperature"], 0.0001)
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		require.Equal(t, "system", msgs[0].(map[string]any)["role"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithModel("tutor-model"), WithTemperature(0.5))
	resp, err := c.Chat(context.Background(), []domain.ChatMessage{
		{Role: domain.ChatRoleSystem, Content: "be a tutor"},
		{Role: domain.ChatRoleUser, Content: "hi"},
	}, 100)
	require.NoError(t, err)
	require.Equal(t, "Hello from mock", resp)
}

func TestClient_Chat_DefaultBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.EqualValues(t, 1000, body["max_tokens"])
		require.Equal(t, defaultModel, body["model"])
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: domain.ChatRoleUser, Content: "hi"}}, 0)
	require.NoError(t, err)
}

func TestClient_Chat_RateLimitedThenOK(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: domain.ChatRoleUser, Content: "hi"}}, 0)
	require.NoError(t, err)
	require.Equal(t, "Hello from mock", resp)
	require.EqualValues(t, 4, calls.Load())
}

func TestClient_Chat_RateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: domain.ChatRoleUser, Content: "hi"}}, 0)
	require.ErrorIs(t, err, retry.ErrExhaustedRetries)
	code, ok := retry.StatusCode(err)
	require.True(t, ok)
	require.Equal(t, http.StatusTooManyRequests, code)
}

func TestClient_Chat_APIErrorIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: domain.ChatRoleUser, Content: "hi"}}, 0)
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusUnauthorized, statusErr.HTTPStatusCode())
	require.Contains(t, err.Error(), "bad key")
}

func TestClient_Chat_Non200WithoutJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`upstream exploded`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: domain.ChatRoleUser, Content: "hi"}}, 0)
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestClient_Chat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: domain.ChatRoleUser, Content: "hi"}}, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

func TestClient_Chat_EmptyMessages(t *testing.T) {
	c, err := NewClient("sk", "https://api.openai.com/v1")
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), nil, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "messages")
}
