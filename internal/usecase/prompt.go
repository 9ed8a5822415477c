package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"tutor-agent/internal/domain"
)

const (
	defaultTutorSystemPrompt   = "你是一个专业的学习助手，帮助用户学习课程内容。"
	defaultSummarySystemPrompt = "你是一个专业的学习助手，帮助用户生成学习摘要和挑战。"
	defaultSummaryPrompt       = "请为以下学习对话生成一个不超过50字的学习摘要："
	defaultChallengePrompt     = "请为以下学习内容生成一个不超过30字的学习挑战："

	continueInstruction = "请基于此继续解答用户问题，保持专业和清晰。"
	freshInstruction    = "请根据课程内容回答用户的问题，保持专业和清晰。"
)

// Prompts holds the instruction text sent to the AI. Empty fields fall back
// to the built-in Chinese prompts.
type Prompts struct {
	// System replaces both built-in system prompts when set.
	System    string
	Summary   string
	Challenge string
}

func (p Prompts) tutorSystem() string {
	return firstNonEmpty(p.System, defaultTutorSystemPrompt)
}

func (p Prompts) summarySystem() string {
	return firstNonEmpty(p.System, defaultSummarySystemPrompt)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func buildTutorMessages(p Prompts, in ChatInput) []domain.ChatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "课程名称：%s\n章节名称：%s\n用户输入：%s\n", in.CourseName, in.ChapterName, in.UserInput)
	if len(in.PriorTurns) > 0 {
		fmt.Fprintf(&b, "历史学习内容：%s\n%s", mustJSON(in.PriorTurns), continueInstruction)
	} else {
		b.WriteString(freshInstruction)
	}
	return []domain.ChatMessage{
		{Role: domain.ChatRoleSystem, Content: p.tutorSystem()},
		{Role: domain.ChatRoleUser, Content: b.String()},
	}
}

func buildSummaryMessages(p Prompts, turns []domain.Turn) []domain.ChatMessage {
	prompt := firstNonEmpty(p.Summary, defaultSummaryPrompt) + "\n" + mustJSON(turns)
	return []domain.ChatMessage{
		{Role: domain.ChatRoleSystem, Content: p.summarySystem()},
		{Role: domain.ChatRoleUser, Content: prompt},
	}
}

// buildChallengeMessages only shows the model the last exchange.
func buildChallengeMessages(p Prompts, course, chapter string, turns []domain.Turn) []domain.ChatMessage {
	last := turns
	if len(last) > 2 {
		last = last[len(last)-2:]
	}
	prompt := fmt.Sprintf("%s\n课程：%s\n章节：%s\n对话：%s",
		firstNonEmpty(p.Challenge, defaultChallengePrompt), course, chapter, mustJSON(last))
	return []domain.ChatMessage{
		{Role: domain.ChatRoleSystem, Content: p.summarySystem()},
		{Role: domain.ChatRoleUser, Content: prompt},
	}
}

// mustJSON renders values that are plain structs of strings and times, which
// cannot fail to marshal.
func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
