package notion

import (
	"fmt"
	"math"
	"strings"
	"time"

	"tutor-agent/internal/domain"
)

type queryRequest struct {
	Filter      *filter    `json:"filter,omitempty"`
	Sorts       []sortSpec `json:"sorts,omitempty"`
	PageSize    int        `json:"page_size,omitempty"`
	StartCursor string     `json:"start_cursor,omitempty"`
}

type filter struct {
	Property string   `json:"property,omitempty"`
	Title    *equals  `json:"title,omitempty"`
	RichText *equals  `json:"rich_text,omitempty"`
	Select   *equals  `json:"select,omitempty"`
	And      []filter `json:"and,omitempty"`
}

type equals struct {
	Equals string `json:"equals"`
}

type sortSpec struct {
	Property  string `json:"property"`
	Direction string `json:"direction"`
}

type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

type page struct {
	ID         string              `json:"id"`
	Properties map[string]property `json:"properties"`
}

type parent struct {
	DatabaseID string `json:"database_id"`
}

type pageRequest struct {
	Parent     *parent             `json:"parent,omitempty"`
	Properties map[string]property `json:"properties"`
}

// property is the tagged union Notion uses for every column value. On decode
// Type names the populated member.
type property struct {
	Type     string      `json:"type,omitempty"`
	Title    []richText  `json:"title,omitempty"`
	RichText []richText  `json:"rich_text,omitempty"`
	Select   *selectName `json:"select,omitempty"`
	Date     *dateValue  `json:"date,omitempty"`
	Number   *float64    `json:"number,omitempty"`
}

type richText struct {
	PlainText string    `json:"plain_text,omitempty"`
	Text      *textBody `json:"text,omitempty"`
}

type textBody struct {
	Content string `json:"content"`
}

type selectName struct {
	Name string `json:"name"`
}

type dateValue struct {
	Start string `json:"start"`
}

const (
	typeTitle    = "title"
	typeRichText = "rich_text"
	typeSelect   = "select"
	typeDate     = "date"
	typeNumber   = "number"
)

func textProperty(kind, content string) property {
	segs := []richText{{Text: &textBody{Content: content}}}
	if kind == typeTitle {
		return property{Title: segs}
	}
	return property{RichText: segs}
}

func (c *Client) encode(rec domain.SessionRecord) map[string]property {
	duration := float64(rec.DurationMinutes)
	props := map[string]property{
		c.fields.Course:    textProperty(typeTitle, rec.CourseName),
		c.fields.Chapter:   textProperty(typeRichText, rec.ChapterName),
		c.fields.Duration:  {Number: &duration},
		c.fields.Summary:   textProperty(typeRichText, rec.Summary),
		c.fields.Challenge: textProperty(typeRichText, rec.Challenge),
		c.fields.Mastery:   {Select: &selectName{Name: c.selectOption(rec.MasteryLevel)}},
		c.fields.Status:    {Select: &selectName{Name: c.selectOption(rec.Status)}},
	}
	if !rec.StartTime.IsZero() {
		props[c.fields.StartTime] = property{Date: &dateValue{Start: domain.FormatTime(rec.StartTime)}}
	}
	if !rec.EndTime.IsZero() {
		props[c.fields.EndTime] = property{Date: &dateValue{Start: domain.FormatTime(rec.EndTime)}}
	}
	delete(props, "")
	return props
}

func (c *Client) selectOption(value string) string {
	switch value {
	case domain.StatusCompleted:
		return c.fields.CompletedOption
	case domain.MasteryPendingReview:
		return c.fields.PendingReviewOption
	default:
		return value
	}
}

func (c *Client) domainValue(option string) string {
	switch option {
	case c.fields.CompletedOption:
		return domain.StatusCompleted
	case c.fields.PendingReviewOption:
		return domain.MasteryPendingReview
	default:
		return option
	}
}

// decode maps a page onto a SessionRecord. A missing property leaves the field
// empty; a property of the wrong type is a *domain.ContentParseError.
func (c *Client) decode(p page) (domain.SessionRecord, error) {
	d := pageDecoder{props: p.Properties, source: "notion page " + p.ID}
	rec := domain.SessionRecord{
		ID:          p.ID,
		CourseName:  d.text(c.fields.Course, typeTitle),
		ChapterName: d.text(c.fields.Chapter, typeRichText),
		StartTime:   d.date(c.fields.StartTime),
		EndTime:     d.date(c.fields.EndTime),
		Summary:     d.text(c.fields.Summary, typeRichText),
		Challenge:   d.text(c.fields.Challenge, typeRichText),
	}
	rec.DurationMinutes = d.number(c.fields.Duration)
	rec.MasteryLevel = c.domainValue(d.selected(c.fields.Mastery))
	rec.Status = c.domainValue(d.selected(c.fields.Status))
	if d.err != nil {
		return domain.SessionRecord{}, d.err
	}
	return rec, nil
}

// pageDecoder keeps the first decode error so decode reads as a flat list.
type pageDecoder struct {
	props  map[string]property
	source string
	err    error
}

func (d *pageDecoder) lookup(name, kind string) (property, bool) {
	if d.err != nil || name == "" {
		return property{}, false
	}
	p, ok := d.props[name]
	if !ok {
		return property{}, false
	}
	if p.Type != kind {
		d.err = &domain.ContentParseError{
			Source: d.source,
			Err:    fmt.Errorf("property %q has type %q, want %q", name, p.Type, kind),
		}
		return property{}, false
	}
	return p, true
}

func (d *pageDecoder) text(name, kind string) string {
	p, ok := d.lookup(name, kind)
	if !ok {
		return ""
	}
	segs := p.RichText
	if kind == typeTitle {
		segs = p.Title
	}
	var b strings.Builder
	for _, s := range segs {
		switch {
		case s.PlainText != "":
			b.WriteString(s.PlainText)
		case s.Text != nil:
			b.WriteString(s.Text.Content)
		}
	}
	return b.String()
}

func (d *pageDecoder) selected(name string) string {
	p, ok := d.lookup(name, typeSelect)
	if !ok || p.Select == nil {
		return ""
	}
	return p.Select.Name
}

func (d *pageDecoder) number(name string) int {
	p, ok := d.lookup(name, typeNumber)
	if !ok || p.Number == nil {
		return 0
	}
	return int(math.Round(*p.Number))
}

func (d *pageDecoder) date(name string) time.Time {
	p, ok := d.lookup(name, typeDate)
	if !ok || p.Date == nil || p.Date.Start == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, p.Date.Start); err == nil {
			return t
		}
	}
	d.err = &domain.ContentParseError{Source: d.source, Err: fmt.Errorf("property %q: unparseable date %q", name, p.Date.Start)}
	return time.Time{}
}
