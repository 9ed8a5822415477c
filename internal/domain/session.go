package domain

import (
	"encoding/json"
	"time"
)

// TimeLayout is the millisecond UTC timestamp format used on the wire, e.g.
// 2026-01-10T02:03:04.567Z.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in TimeLayout; the zero time is "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// Role identifies who produced a Turn. The string values are the ones stored
// in existing daily logs.
type Role string

const (
	RoleLearner   Role = "user"
	RoleAssistant Role = "ai"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleLearner || r == RoleAssistant
}

// ChatRole maps a log role onto the chat completion vocabulary.
func (r Role) ChatRole() string {
	if r == RoleAssistant {
		return ChatRoleAssistant
	}
	return ChatRoleUser
}

// Turn is a single persisted message in a daily log. Turns are immutable once
// appended.
type Turn struct {
	Time    time.Time `json:"time"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Course  string    `json:"course"`
	Chapter string    `json:"chapter"`
}

// MarshalJSON writes Time in TimeLayout so every log entry carries a
// millisecond UTC timestamp regardless of the clock's zone.
func (t Turn) MarshalJSON() ([]byte, error) {
	type plain Turn
	return json.Marshal(struct {
		Time string `json:"time"`
		plain
	}{Time: FormatTime(t.Time), plain: plain(t)})
}

// SameSession reports whether the turn belongs to the given course and chapter.
func (t Turn) SameSession(course, chapter string) bool {
	return t.Course == course && t.Chapter == chapter
}

// PriorTurn is the reduced {role, content} view of a Turn handed back to
// clients and prompt builders.
type PriorTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session record status and mastery values.
const (
	StatusCompleted      = "completed"
	MasteryPendingReview = "pending review"
)

// SessionRecord is the structured summary of one completed learning session.
type SessionRecord struct {
	ID              string    `json:"id,omitempty"`
	CourseName      string    `json:"courseName"`
	ChapterName     string    `json:"chapterName"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	DurationMinutes int       `json:"duration"`
	MasteryLevel    string    `json:"masteryLevel"`
	Status          string    `json:"status"`
	Summary         string    `json:"summary"`
	Challenge       string    `json:"challenge"`
}

// ResumePoint tells a new invocation where the learner left off. It is
// computed on every request and never stored.
type ResumePoint struct {
	HasPrior    bool        `json:"hasLastRecord"`
	CourseName  string      `json:"courseName"`
	ChapterName string      `json:"chapterName"`
	LastTime    string      `json:"lastChatTime"`
	PriorTurns  []PriorTurn `json:"lastChatContext"`
}

// EmptyResumePoint is the "no prior session" result.
func EmptyResumePoint() ResumePoint {
	return ResumePoint{PriorTurns: []PriorTurn{}}
}

// Course is a catalog entry the learner can pick a chapter from.
type Course struct {
	CourseName string    `json:"courseName"`
	Chapters   []Chapter `json:"chapters"`
}

type Chapter struct {
	ChapterName string `json:"chapterName"`
	CoreGoal    string `json:"coreGoal"`
}
