package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"tutor-agent/internal/domain"
)

// maxCatalogPages bounds ListPlannedCourses against a cursor that never ends.
const maxCatalogPages = 20

// Labels shown by the front end when a row leaves a field blank.
const (
	unknownCourse = "未知课程"
	noCoreGoal    = "无核心目标"
)

// chapterLine matches "1. Chapter name：core goal" with a full-width colon.
var chapterLine = regexp.MustCompile(`^(\d+)\.\s*(.+?)\s*：\s*(.+)$`)

// ListPlannedCourses returns the rows still waiting to be studied, oldest
// first, with their chapter lists parsed.
func (c *Client) ListPlannedCourses(ctx context.Context) ([]domain.Course, error) {
	q := queryRequest{
		Filter: &filter{Property: c.fields.Status, Select: &equals{Equals: c.fields.PlannedOption}},
	}
	if c.fields.CreatedTime != "" {
		q.Sorts = []sortSpec{{Property: c.fields.CreatedTime, Direction: "ascending"}}
	}

	courses := []domain.Course{}
	for range maxCatalogPages {
		raw, err := c.call(ctx, http.MethodPost, c.baseURL+"/databases/"+c.databaseID+"/query", q)
		if err != nil {
			return nil, fmt.Errorf("notion: list planned courses: %w", err)
		}
		var res queryResponse
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, &domain.ContentParseError{Source: "notion query response", Err: err}
		}
		for _, p := range res.Results {
			d := pageDecoder{props: p.Properties, source: "notion page " + p.ID}
			course := domain.Course{
				CourseName: d.text(c.fields.Course, typeTitle),
				Chapters:   parseChapters(d.text(c.fields.ChapterList, typeRichText)),
			}
			if d.err != nil {
				return nil, d.err
			}
			if strings.TrimSpace(course.CourseName) == "" {
				course.CourseName = unknownCourse
			}
			courses = append(courses, course)
		}
		if !res.HasMore || res.NextCursor == "" {
			return courses, nil
		}
		q.StartCursor = res.NextCursor
	}
	return courses, nil
}

// parseChapters reads one chapter per line. Lines without the numbered
// "name：goal" shape keep the whole line as the name and a placeholder goal.
func parseChapters(text string) []domain.Chapter {
	chapters := []domain.Chapter{}
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' }) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := chapterLine.FindStringSubmatch(line); m != nil {
			chapters = append(chapters, domain.Chapter{ChapterName: m[2], CoreGoal: m[3]})
			continue
		}
		chapters = append(chapters, domain.Chapter{ChapterName: line, CoreGoal: noCoreGoal})
	}
	return chapters
}
