// Package github stores daily logs as JSON files in a GitHub repository
// through the REST contents API. The file sha is the version token.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"tutor-agent/internal/domain"
	"tutor-agent/internal/logstore"
	"tutor-agent/internal/retry"
)

const (
	defaultBaseURL = "https://api.github.com"
	defaultPrefix  = "daily-chats"
	acceptHeader   = "application/vnd.github.v3+json"
)

// Doer sends HTTP requests. *retry.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// fileResponse is the contents API shape for a single file.
type fileResponse struct {
	Type     string `json:"type"`
	SHA      string `json:"sha"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// listEntry is one element of a directory listing.
type listEntry struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	UpdatedAt string `json:"updated_at"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
}

// Client is a logstore.Backend over one repository directory.
type Client struct {
	doer    Doer
	baseURL string
	owner   string
	repo    string
	prefix  string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithPrefix sets the directory holding the daily files.
func WithPrefix(prefix string) Option {
	return func(c *Client) {
		c.prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	}
}

// New creates a Client for repoInfo in "owner/repo" form.
func New(doer Doer, repoInfo string, opts ...Option) (*Client, error) {
	if doer == nil {
		return nil, errors.New("github: doer must not be nil")
	}
	owner, repo, err := ParseRepoInfo(repoInfo)
	if err != nil {
		return nil, err
	}
	c := &Client{
		doer:    doer,
		baseURL: defaultBaseURL,
		owner:   owner,
		repo:    repo,
		prefix:  defaultPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.prefix == "" {
		return nil, errors.New("github: prefix must not be empty")
	}
	return c, nil
}

// ParseRepoInfo splits "owner/repo".
func ParseRepoInfo(repoInfo string) (owner, repo string, err error) {
	parts := strings.Split(strings.TrimSpace(repoInfo), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("github: repo info %q must be owner/repo", repoInfo)
	}
	return parts[0], parts[1], nil
}

// AuthorizedHTTPClient returns an *http.Client that sends
// "Authorization: token <token>" on every request.
func AuthorizedHTTPClient(token string, timeout time.Duration) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "token"})
	return &http.Client{
		Timeout:   timeout,
		Transport: &oauth2.Transport{Source: src, Base: http.DefaultTransport},
	}
}

func (c *Client) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, c.owner, c.repo, path)
}

func (c *Client) filePath(date string) string {
	return c.prefix + "/" + date + ".json"
}

// Get fetches and base64-decodes one daily file.
func (c *Client) Get(ctx context.Context, date string) (logstore.Blob, error) {
	path := c.filePath(date)
	url := c.contentsURL(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return logstore.Blob{}, fmt.Errorf("github: create request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)

	raw, status, err := c.do(req)
	if err != nil {
		return logstore.Blob{}, fmt.Errorf("github: get %s: %w", path, err)
	}
	switch {
	case status == http.StatusNotFound:
		return logstore.Blob{}, domain.ErrNotFound
	case status < 200 || status >= 300:
		return logstore.Blob{}, &retry.StatusError{StatusCode: status, URL: url, Body: string(raw)}
	}
	return decodeFile(path, raw)
}

func decodeFile(path string, raw []byte) (logstore.Blob, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return logstore.Blob{}, &domain.ContentParseError{Source: path, Err: errors.New("path is a directory")}
	}
	var f fileResponse
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return logstore.Blob{}, &domain.ContentParseError{Source: path, Err: err}
	}
	if f.Type != "" && f.Type != "file" {
		return logstore.Blob{}, &domain.ContentParseError{Source: path, Err: fmt.Errorf("unexpected entry type %q", f.Type)}
	}
	// Files over 1 MB come back with encoding "none". The sha is still valid,
	// so the caller can overwrite the file.
	if f.Encoding != "base64" {
		return logstore.Blob{Version: f.SHA}, &domain.ContentParseError{Source: path, Err: fmt.Errorf("unsupported encoding %q", f.Encoding)}
	}
	content, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(f.Content, "\n", ""))
	if err != nil {
		return logstore.Blob{Version: f.SHA}, &domain.ContentParseError{Source: path, Err: err}
	}
	return logstore.Blob{Content: content, Version: f.SHA}, nil
}

// Put creates (empty version) or replaces the daily file. GitHub rejects a
// stale sha with 409 and a missing sha on an existing file with 422.
func (c *Client) Put(ctx context.Context, date string, content []byte, version string) error {
	path := c.filePath(date)
	url := c.contentsURL(path)
	body, err := json.Marshal(putRequest{
		Message: "Update daily chat for " + date,
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     version,
	})
	if err != nil {
		return fmt.Errorf("github: marshal put: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("github: create request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Content-Type", "application/json")

	raw, status, err := c.do(req)
	if err != nil {
		return fmt.Errorf("github: put %s: %w", path, err)
	}
	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		return nil
	case status == http.StatusConflict:
		return fmt.Errorf("github: put %s: %w", path, logstore.ErrVersionConflict)
	case status == http.StatusUnprocessableEntity && version == "":
		return fmt.Errorf("github: put %s: %w", path, logstore.ErrAlreadyExists)
	case status == http.StatusUnprocessableEntity:
		return fmt.Errorf("github: put %s: %w", path, logstore.ErrVersionConflict)
	default:
		return &retry.StatusError{StatusCode: status, URL: url, Body: string(raw)}
	}
}

// List returns the daily files under the prefix. A missing directory is an
// empty listing.
func (c *Client) List(ctx context.Context) ([]logstore.Entry, error) {
	url := c.contentsURL(c.prefix)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("github: create request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)

	raw, status, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("github: list %s: %w", c.prefix, err)
	}
	switch {
	case status == http.StatusNotFound:
		return nil, nil
	case status < 200 || status >= 300:
		return nil, &retry.StatusError{StatusCode: status, URL: url, Body: string(raw)}
	}

	var listing []listEntry
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, &domain.ContentParseError{Source: c.prefix, Err: err}
	}
	entries := make([]logstore.Entry, 0, len(listing))
	for _, e := range listing {
		if e.Type != "file" || !strings.HasSuffix(e.Name, ".json") {
			continue
		}
		updated, _ := time.Parse(time.RFC3339, e.UpdatedAt)
		entries = append(entries, logstore.Entry{
			Date:      strings.TrimSuffix(e.Name, ".json"),
			UpdatedAt: updated,
		})
	}
	return entries, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	res, err := c.doer.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = res.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read response body: %w", err)
	}
	return raw, res.StatusCode, nil
}
