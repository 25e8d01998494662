package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stemsi/exstem-runtime/internal/model"
)

func opt(s string) *string { return &s }

func TestGradeMarksAndNegativeMarks(t *testing.T) {
	q1, q2, q3, q4 := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	key := map[uuid.UUID]model.AnswerKeyEntry{
		q1: {Correct: "A", Marks: 4, NegativeMarks: 1},
		q2: {Correct: "B", Marks: 4, NegativeMarks: 1},
		q3: {Correct: "C", Marks: 2},
		q4: {Correct: "D", Marks: 2},
	}
	answers := []model.AnswerEntry{
		{QuestionID: q1, SelectedOption: opt("A")},
		{QuestionID: q2, SelectedOption: opt("C")},
		{QuestionID: q3, MarkedForReview: true},
		{QuestionID: uuid.New(), SelectedOption: opt("A")},
	}

	res := Grade(answers, key)
	assert.Equal(t, 3.0, res.Score)
	assert.Equal(t, 12.0, res.MaxScore)
	assert.Equal(t, 1, res.Correct)
	assert.Equal(t, 1, res.Wrong)
	assert.Equal(t, 2, res.Unanswered)
}

func TestGradeNeverNegative(t *testing.T) {
	q := uuid.New()
	key := map[uuid.UUID]model.AnswerKeyEntry{q: {Correct: "A", Marks: 1, NegativeMarks: 5}}

	res := Grade([]model.AnswerEntry{{QuestionID: q, SelectedOption: opt("B")}}, key)
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, 1, res.Wrong)
}

func TestGradeEmptyOptionIsUnanswered(t *testing.T) {
	q := uuid.New()
	key := map[uuid.UUID]model.AnswerKeyEntry{q: {Correct: "A", Marks: 1}}

	res := Grade([]model.AnswerEntry{{QuestionID: q, SelectedOption: opt("")}}, key)
	assert.Equal(t, 1, res.Unanswered)
	assert.Zero(t, res.Wrong)
}

func TestAnswerEncodingRoundTrip(t *testing.T) {
	q1, q2 := uuid.New(), uuid.New()
	v1, err := encodeAnswer(model.AnswerEntry{QuestionID: q1, SelectedOption: opt("B"), MarkedForReview: true})
	require.NoError(t, err)
	v2, err := encodeAnswer(model.AnswerEntry{QuestionID: q2, MarkedForReview: true})
	require.NoError(t, err)

	raw := map[string]string{
		q1.String():  string(v1),
		q2.String():  string(v2),
		"not-a-uuid": string(v1),
	}
	raw[uuid.NewString()] = "{broken"

	entries := decodeAnswers(raw)
	require.Len(t, entries, 2)

	byID := map[uuid.UUID]model.AnswerEntry{}
	for _, e := range entries {
		byID[e.QuestionID] = e
	}
	require.NotNil(t, byID[q1].SelectedOption)
	assert.Equal(t, "B", *byID[q1].SelectedOption)
	assert.True(t, byID[q1].MarkedForReview)
	assert.Nil(t, byID[q2].SelectedOption)
	assert.True(t, byID[q2].MarkedForReview)
}
