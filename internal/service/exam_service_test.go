package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stemsi/exstem-runtime/internal/model"
)

func TestAvailable(t *testing.T) {
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	tests := []struct {
		name string
		exam model.Exam
		want bool
	}{
		{"published unscheduled", model.Exam{Status: model.ExamStatusPublished}, true},
		{"draft", model.Exam{Status: model.ExamStatusDraft}, false},
		{"archived", model.Exam{Status: model.ExamStatusArchived}, false},
		{"not started", model.Exam{Status: model.ExamStatusPublished, ScheduledStart: &after}, false},
		{"window open", model.Exam{Status: model.ExamStatusPublished, ScheduledStart: &before, ScheduledEnd: &after}, true},
		{"window closed", model.Exam{Status: model.ExamStatusPublished, ScheduledEnd: &before}, false},
		{"ends now", model.Exam{Status: model.ExamStatusPublished, ScheduledEnd: &now}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Available(&tt.exam, now))
		})
	}
}

func TestAttemptDeadline(t *testing.T) {
	start := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	exam := &model.Exam{DurationMinutes: 90}
	assert.Equal(t, start.Add(90*time.Minute), AttemptDeadline(exam, start))

	end := start.Add(30 * time.Minute)
	exam.ScheduledEnd = &end
	assert.Equal(t, end, AttemptDeadline(exam, start))
}

func TestBuildExamCacheHidesAnswerKey(t *testing.T) {
	exam := &model.Exam{ID: uuid.New(), Title: "Matematika", DurationMinutes: 60}
	q := model.StoredQuestion{
		ID:            uuid.New(),
		ExamID:        exam.ID,
		Statement:     "2 + 2 = ?",
		Options:       json.RawMessage(`[{"key":"A","text":"3"},{"key":"B","text":"4"}]`),
		CorrectOption: "B",
		Sequence:      1,
		Marks:         4,
		NegativeMarks: 1,
	}

	payload, key, err := buildExamCache(exam, []model.StoredQuestion{q})
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "correct")

	var decoded model.ExamPayload
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Len(t, decoded.Questions, 1)
	assert.Equal(t, "Matematika", decoded.Title)
	assert.Len(t, decoded.Questions[0].Options, 2)

	raw := map[string]string{}
	for k, v := range key {
		raw[k] = v.(string)
	}
	parsed, err := parseAnswerKey(raw)
	require.NoError(t, err)
	assert.Equal(t, model.AnswerKeyEntry{Correct: "B", Marks: 4, NegativeMarks: 1}, parsed[q.ID])
}

func TestParseAnswerKeyRejectsGarbage(t *testing.T) {
	_, err := parseAnswerKey(map[string]string{"nope": `{}`})
	assert.Error(t, err)

	_, err = parseAnswerKey(map[string]string{uuid.NewString(): `{`})
	assert.Error(t, err)
}
