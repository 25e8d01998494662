package service

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// savedAnswer is the value stored per question in the attempt answers hash.
type savedAnswer struct {
	Option *string `json:"option,omitempty"`
	Marked bool    `json:"marked,omitempty"`
}

func encodeAnswer(e model.AnswerEntry) ([]byte, error) {
	return json.Marshal(savedAnswer{Option: e.SelectedOption, Marked: e.MarkedForReview})
}

// decodeAnswers turns the answers hash into entries, skipping fields that do not parse.
func decodeAnswers(raw map[string]string) []model.AnswerEntry {
	entries := make([]model.AnswerEntry, 0, len(raw))
	for field, value := range raw {
		qid, err := uuid.Parse(field)
		if err != nil {
			continue
		}
		var sa savedAnswer
		if err := json.Unmarshal([]byte(value), &sa); err != nil {
			continue
		}
		entries = append(entries, model.AnswerEntry{
			QuestionID:      qid,
			SelectedOption:  sa.Option,
			MarkedForReview: sa.Marked,
		})
	}
	return entries
}

// GradeResult is the outcome of grading one attempt.
type GradeResult struct {
	Score      float64
	MaxScore   float64
	Correct    int
	Wrong      int
	Unanswered int
}

// Grade scores answers against the key. Correct answers earn the question's
// marks, wrong ones lose its negative marks, blanks score zero. Answers to
// questions missing from the key are ignored. The total never drops below zero.
func Grade(answers []model.AnswerEntry, key map[uuid.UUID]model.AnswerKeyEntry) GradeResult {
	chosen := make(map[uuid.UUID]string, len(answers))
	for _, a := range answers {
		if a.SelectedOption != nil && *a.SelectedOption != "" {
			chosen[a.QuestionID] = *a.SelectedOption
		}
	}

	var res GradeResult
	for qid, k := range key {
		res.MaxScore += k.Marks
		opt, ok := chosen[qid]
		switch {
		case !ok:
			res.Unanswered++
		case opt == k.Correct:
			res.Correct++
			res.Score += k.Marks
		default:
			res.Wrong++
			res.Score -= k.NegativeMarks
		}
	}
	if res.Score < 0 {
		res.Score = 0
	}
	return res
}
