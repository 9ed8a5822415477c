// Package notion is the session record store: one Notion database row per
// completed learning session.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"tutor-agent/internal/domain"
	"tutor-agent/internal/retry"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	notionVersion  = "2022-06-28"
)

// Sender sends a request and classifies the response: 2xx and 404 come back,
// anything else is an error. *retry.Client satisfies it.
type Sender interface {
	Send(req *http.Request) (*http.Response, error)
}

// Fields is the database vocabulary: property names plus the select options
// used for the completed status and the initial mastery level.
type Fields struct {
	Course    string
	Chapter   string
	StartTime string
	EndTime   string
	Duration  string
	Mastery   string
	Status    string
	Summary   string
	Challenge string

	CompletedOption     string
	PendingReviewOption string

	// Course catalog rows.
	ChapterList   string
	CreatedTime   string
	PlannedOption string
}

// DefaultFields matches the learning record database the tutor has always
// written to.
func DefaultFields() Fields {
	return Fields{
		Course:              "课程名称",
		Chapter:             "章节名称",
		StartTime:           "学习开始时间",
		EndTime:             "学习结束时间",
		Duration:            "学习时长",
		Mastery:             "掌握程度",
		Status:              "状态",
		Summary:             "学习摘要",
		Challenge:           "学习挑战",
		CompletedOption:     "已完成",
		PendingReviewOption: "待评估",
		ChapterList:         "章节列表",
		CreatedTime:         "创建时间",
		PlannedOption:       "待学习",
	}
}

// Client queries and writes session records in one database.
type Client struct {
	sender         Sender
	baseURL        string
	databaseID     string
	fields         Fields
	matchByChapter bool
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithFields(f Fields) Option {
	return func(c *Client) {
		c.fields = f
	}
}

// WithChapterMatching makes FindByTitle, and so Save, key on course and
// chapter. Without it only the course title is compared, so a later chapter of
// the same course overwrites the earlier row.
func WithChapterMatching(enabled bool) Option {
	return func(c *Client) {
		c.matchByChapter = enabled
	}
}

// New creates a Client for databaseID.
func New(sender Sender, databaseID string, opts ...Option) (*Client, error) {
	if sender == nil {
		return nil, errors.New("notion: sender must not be nil")
	}
	databaseID = strings.TrimSpace(databaseID)
	if databaseID == "" {
		return nil, errors.New("notion: database id must not be empty")
	}
	c := &Client{
		sender:     sender,
		baseURL:    defaultBaseURL,
		databaseID: databaseID,
		fields:     DefaultFields(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.fields.Course == "" || c.fields.Status == "" || c.fields.EndTime == "" {
		return nil, errors.New("notion: fields must name the course, status and end time properties")
	}
	return c, nil
}

// AuthorizedHTTPClient returns an *http.Client sending the integration key as
// a bearer token.
func AuthorizedHTTPClient(apiKey string, timeout time.Duration) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey})
	return &http.Client{
		Timeout:   timeout,
		Transport: &oauth2.Transport{Source: src, Base: http.DefaultTransport},
	}
}

// FindMostRecentCompleted returns the completed record with the latest end
// time, or domain.ErrNotFound.
func (c *Client) FindMostRecentCompleted(ctx context.Context) (domain.SessionRecord, error) {
	q := queryRequest{
		Filter: &filter{Property: c.fields.Status, Select: &equals{Equals: c.fields.CompletedOption}},
		Sorts:  []sortSpec{{Property: c.fields.EndTime, Direction: "descending"}},
	}
	rec, err := c.queryOne(ctx, q)
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("notion: find most recent completed: %w", err)
	}
	return rec, nil
}

// FindByTitle looks a completed record up by exact course title, and by
// chapter too when chapter matching is enabled. Catalog rows share the
// database but never match, so a sync cannot flip a planned course.
func (c *Client) FindByTitle(ctx context.Context, course, chapter string) (domain.SessionRecord, error) {
	conds := []filter{
		{Property: c.fields.Course, Title: &equals{Equals: course}},
		{Property: c.fields.Status, Select: &equals{Equals: c.fields.CompletedOption}},
	}
	if c.matchByChapter {
		conds = append(conds, filter{Property: c.fields.Chapter, RichText: &equals{Equals: chapter}})
	}
	q := queryRequest{Filter: &filter{And: conds}}
	rec, err := c.queryOne(ctx, q)
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("notion: find by title %q: %w", course, err)
	}
	return rec, nil
}

// Create adds a row and returns its page id. A retried create is not
// de-duplicated here.
func (c *Client) Create(ctx context.Context, rec domain.SessionRecord) (string, error) {
	body := pageRequest{
		Parent:     &parent{DatabaseID: c.databaseID},
		Properties: c.encode(rec),
	}
	raw, err := c.call(ctx, http.MethodPost, c.baseURL+"/pages", body)
	if err != nil {
		return "", fmt.Errorf("notion: create page: %w", err)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &created); err != nil || created.ID == "" {
		return "", &domain.ContentParseError{Source: "notion create response", Err: errors.Join(err, errors.New("missing page id"))}
	}
	return created.ID, nil
}

// Update replaces the properties of an existing row.
func (c *Client) Update(ctx context.Context, id string, rec domain.SessionRecord) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("notion: update: page id must not be empty")
	}
	_, err := c.call(ctx, http.MethodPatch, c.baseURL+"/pages/"+id, pageRequest{Properties: c.encode(rec)})
	if err != nil {
		return fmt.Errorf("notion: update page %s: %w", id, err)
	}
	return nil
}

// Save updates the row FindByTitle resolves to, or creates one.
func (c *Client) Save(ctx context.Context, rec domain.SessionRecord) (string, error) {
	existing, err := c.FindByTitle(ctx, rec.CourseName, rec.ChapterName)
	switch {
	case err == nil:
		if err := c.Update(ctx, existing.ID, rec); err != nil {
			return "", err
		}
		return existing.ID, nil
	case errors.Is(err, domain.ErrNotFound):
		return c.Create(ctx, rec)
	default:
		return "", err
	}
}

func (c *Client) queryOne(ctx context.Context, q queryRequest) (domain.SessionRecord, error) {
	q.PageSize = 1
	raw, err := c.call(ctx, http.MethodPost, c.baseURL+"/databases/"+c.databaseID+"/query", q)
	if err != nil {
		return domain.SessionRecord{}, err
	}
	var res queryResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.SessionRecord{}, &domain.ContentParseError{Source: "notion query response", Err: err}
	}
	if len(res.Results) == 0 {
		return domain.SessionRecord{}, domain.ErrNotFound
	}
	return c.decode(res.Results[0])
}

func (c *Client) call(ctx context.Context, method, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", notionVersion)

	res, err := c.sender.Send(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if res.StatusCode == http.StatusNotFound {
		return nil, &retry.StatusError{StatusCode: res.StatusCode, URL: url, Body: string(raw)}
	}
	return raw, nil
}
