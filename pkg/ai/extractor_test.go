package ai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"foreman-pm-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

type mockModel struct {
	mock.Mock
}

func (m *mockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	args := m.Called(ctx, prompt, options)
	return args.String(0), args.Error(1)
}

func (m *mockModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	args := m.Called(ctx, messages, options)
	resp, _ := args.Get(0).(*llms.ContentResponse)
	return resp, args.Error(1)
}

func answer(content string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}
}

func newTestExtractor(mm *mockModel) *LLMExtractor {
	e := NewLLMExtractor(mm, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) }
	return e
}

var projects = []ProjectRef{{ID: 3, Name: "Riverside"}, {ID: 7, Name: "Depot"}}

func TestExtractParsesFencedAnswer(t *testing.T) {
	mm := new(mockModel)
	mm.On("GenerateContent", mock.Anything, mock.MatchedBy(func(msgs []llms.MessageContent) bool {
		if len(msgs) != 2 || msgs[0].Role != schema.ChatMessageTypeSystem || msgs[1].Role != schema.ChatMessageTypeHuman {
			return false
		}
		prompt := msgs[1].Parts[0].(llms.TextContent).Text
		return strings.Contains(prompt, "Riverside (ID: 3)") && strings.Contains(prompt, "fix the leak")
	}), mock.Anything).Return(answer("```json\n"+`{
		"title": "Fix leak",
		"description": "Water under the sink",
		"project_id": 3,
		"priority": "HIGH",
		"deadline": "2026-05-06 18:00",
		"questions": []
	}`+"\n```"), nil)

	s, err := newTestExtractor(mm).Extract(context.Background(), "  fix the leak at riverside by wednesday evening ", projects)
	require.NoError(t, err)
	assert.Equal(t, "Fix leak", s.Title)
	assert.Equal(t, models.PriorityHigh, s.Priority)
	require.NotNil(t, s.ProjectID)
	assert.Equal(t, int64(3), *s.ProjectID)
	require.NotNil(t, s.Deadline)
	assert.Equal(t, time.Date(2026, 5, 6, 18, 0, 0, 0, time.UTC), *s.Deadline)
	assert.False(t, s.NeedsClarification())
	mm.AssertExpectations(t)
}

func TestExtractAsksForUnknownProject(t *testing.T) {
	mm := new(mockModel)
	mm.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).
		Return(answer(`{"title":"Paint wall","description":"","project_id":99,"priority":"whenever","deadline":null,"questions":null}`), nil)

	s, err := newTestExtractor(mm).Extract(context.Background(), "paint the wall", projects)
	require.NoError(t, err)
	assert.Nil(t, s.ProjectID)
	assert.Equal(t, models.PriorityMedium, s.Priority)
	assert.Nil(t, s.Deadline)
	assert.Equal(t, []string{askProjectQuestion}, s.Questions)
}

func TestExtractKeepsModelQuestions(t *testing.T) {
	mm := new(mockModel)
	mm.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).
		Return(answer(`{"title":"Order bricks","project_id":"7","priority":"low","questions":["How many?"," "]}`), nil)

	s, err := newTestExtractor(mm).Extract(context.Background(), "order bricks", projects)
	require.NoError(t, err)
	require.NotNil(t, s.ProjectID)
	assert.Equal(t, int64(7), *s.ProjectID)
	assert.Equal(t, []string{"How many?"}, s.Questions)
}

func TestExtractErrors(t *testing.T) {
	_, err := newTestExtractor(new(mockModel)).Extract(context.Background(), "   ", projects)
	assert.ErrorIs(t, err, ErrEmptyInput)

	failing := new(mockModel)
	failing.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("rate limited"))
	_, err = newTestExtractor(failing).Extract(context.Background(), "x", projects)
	assert.ErrorContains(t, err, "rate limited")

	prose := new(mockModel)
	prose.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).Return(answer("Sure! Here is your task."), nil)
	_, err = newTestExtractor(prose).Extract(context.Background(), "x", projects)
	assert.Error(t, err)

	untitled := new(mockModel)
	untitled.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).Return(answer(`{"title":"  "}`), nil)
	_, err = newTestExtractor(untitled).Extract(context.Background(), "x", projects)
	assert.Error(t, err)
}

func TestDeadlineLayouts(t *testing.T) {
	for _, raw := range []string{"2026-05-06 18:00", "2026-05-06T18:00:00Z", "2026-05-06T18:00"} {
		s, err := parseSuggestion(`{"title":"t","project_id":3,"deadline":"`+raw+`"}`, projects)
		require.NoError(t, err)
		require.NotNil(t, s.Deadline, raw)
		assert.Equal(t, 18, s.Deadline.Hour(), raw)
	}
	s, err := parseSuggestion(`{"title":"t","project_id":3,"deadline":"next week"}`, projects)
	require.NoError(t, err)
	assert.Nil(t, s.Deadline)
}
