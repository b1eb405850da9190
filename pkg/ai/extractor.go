// Package ai turns free text and voice notes into task suggestions.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"foreman-pm-backend/pkg/models"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// ProjectRef is a project the user may file the task under.
type ProjectRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Suggestion is a candidate task. A non-empty Questions list means the
// caller must ask the user before creating anything.
type Suggestion struct {
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	Priority     models.TaskPriority `json:"priority"`
	ProjectID    *int64              `json:"project_id,omitempty"`
	Deadline     *time.Time          `json:"deadline,omitempty"`
	Questions    []string            `json:"questions,omitempty"`
	OriginalText string              `json:"original_text,omitempty"`
}

// NeedsClarification reports whether the user must answer questions first.
func (s *Suggestion) NeedsClarification() bool {
	return len(s.Questions) > 0
}

type Extractor interface {
	Extract(ctx context.Context, text string, projects []ProjectRef) (*Suggestion, error)
}

// ErrEmptyInput is returned for blank text.
var ErrEmptyInput = errors.New("text is empty")

const askProjectQuestion = "Which project does this task belong to?"

const systemPrompt = "You are an assistant that turns messages into tasks. Answer with a single JSON object and nothing else."

// LLMExtractor prompts a chat model for a JSON task description.
type LLMExtractor struct {
	model       llms.Model
	temperature float64
	timeout     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewLLMExtractor(model llms.Model, timeout time.Duration, logger *slog.Logger) *LLMExtractor {
	return &LLMExtractor{model: model, temperature: 0.3, timeout: timeout, logger: logger, now: time.Now}
}

func (e *LLMExtractor) Extract(ctx context.Context, text string, projects []ProjectRef) (*Suggestion, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, buildPrompt(text, projects, e.now())),
	}
	resp, err := e.model.GenerateContent(ctx, messages, llms.WithTemperature(e.temperature))
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("model returned no choices")
	}

	s, err := parseSuggestion(resp.Choices[0].Content, projects)
	if err != nil {
		e.logger.Warn("unusable model answer", "error", err)
		return nil, err
	}
	return s, nil
}

func buildPrompt(text string, projects []ProjectRef, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyse the message below and turn it into a task.\n\nMessage: %q\n\n", text)
	fmt.Fprintf(&b, "Current time: %s\n\n", now.Format("2006-01-02 15:04"))
	b.WriteString("Projects available to the user:\n")
	if len(projects) == 0 {
		b.WriteString("- none\n")
	}
	for _, p := range projects {
		fmt.Fprintf(&b, "- %s (ID: %d)\n", p.Name, p.ID)
	}
	b.WriteString(`
Answer in this JSON format:
{
  "title": "short task title",
  "description": "detailed description",
  "project_id": project ID or null,
  "priority": "low|medium|high|urgent",
  "deadline": "YYYY-MM-DD HH:MM" or null,
  "questions": ["clarifying questions, if any"]
}

Rules:
1. If no project is named, project_id is null.
2. If no deadline is named, deadline is null.
3. Put clarifying questions in the questions array when details are missing.
4. Derive the priority from wording such as "urgent", "important", "not important".
`)
	return b.String()
}

type rawSuggestion struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	ProjectID   json.RawMessage `json:"project_id"`
	Priority    string          `json:"priority"`
	Deadline    *string         `json:"deadline"`
	Questions   []string        `json:"questions"`
}

var deadlineLayouts = []string{"2006-01-02 15:04", time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

func parseSuggestion(content string, projects []ProjectRef) (*Suggestion, error) {
	var raw rawSuggestion
	if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
		return nil, fmt.Errorf("decode model answer: %w", err)
	}

	s := &Suggestion{
		Title:       strings.TrimSpace(raw.Title),
		Description: strings.TrimSpace(raw.Description),
		Priority:    normalizePriority(raw.Priority),
	}
	for _, q := range raw.Questions {
		if q = strings.TrimSpace(q); q != "" {
			s.Questions = append(s.Questions, q)
		}
	}
	if s.Title == "" {
		return nil, errors.New("model answer has no title")
	}

	if id, ok := parseProjectID(raw.ProjectID); ok && knownProject(projects, id) {
		s.ProjectID = &id
	}
	if s.ProjectID == nil && len(s.Questions) == 0 {
		s.Questions = []string{askProjectQuestion}
	}

	if raw.Deadline != nil {
		for _, layout := range deadlineLayouts {
			if t, err := time.ParseInLocation(layout, strings.TrimSpace(*raw.Deadline), time.UTC); err == nil {
				s.Deadline = &t
				break
			}
		}
	}
	return s, nil
}

// stripFences removes a ```json ... ``` wrapper some models add.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func normalizePriority(p string) models.TaskPriority {
	pr := models.TaskPriority(strings.ToLower(strings.TrimSpace(p)))
	if pr.Valid() {
		return pr
	}
	return models.PriorityMedium
}

// parseProjectID accepts a number or a numeric string.
func parseProjectID(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, false
		}
		n = json.Number(s)
	}
	id, err := n.Int64()
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func knownProject(projects []ProjectRef, id int64) bool {
	for _, p := range projects {
		if p.ID == id {
			return true
		}
	}
	return false
}

// AssignProject files the suggestion under id, dropping the generic
// project question.
func (s *Suggestion) AssignProject(id int64) {
	s.ProjectID = &id
	kept := s.Questions[:0]
	for _, q := range s.Questions {
		if q != askProjectQuestion {
			kept = append(kept, q)
		}
	}
	s.Questions = kept
	if len(s.Questions) == 0 {
		s.Questions = nil
	}
}
