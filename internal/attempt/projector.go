package attempt

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// Summary holds per-status counts for the legend and the submit confirmation.
type Summary struct {
	Answered       int `json:"answered"`
	NotAnswered    int `json:"not_answered"`
	NotVisited     int `json:"not_visited"`
	Marked         int `json:"marked"`
	AnsweredMarked int `json:"answered_marked"`
	Total          int `json:"total"`
}

// Count returns the count for a single status.
func (s Summary) Count(st model.QuestionStatus) int {
	switch st {
	case model.StatusAnswered:
		return s.Answered
	case model.StatusNotAnswered:
		return s.NotAnswered
	case model.StatusNotVisited:
		return s.NotVisited
	case model.StatusMarked:
		return s.Marked
	case model.StatusAnsweredMarked:
		return s.AnsweredMarked
	}
	return 0
}

// Project derives the status of every question. It is a pure function of its inputs.
// A stored key that is not one of the question's options counts as unanswered.
func Project(
	questions []model.Question,
	answers map[uuid.UUID]string,
	marked map[uuid.UUID]struct{},
	visited map[uuid.UUID]struct{},
) []model.QuestionStatus {
	out := make([]model.QuestionStatus, len(questions))
	for i := range questions {
		q := &questions[i]
		key := answers[q.ID]
		answered := key != "" && q.HasOption(key)
		_, isMarked := marked[q.ID]
		_, isVisited := visited[q.ID]

		switch {
		case answered && isMarked:
			out[i] = model.StatusAnsweredMarked
		case answered:
			out[i] = model.StatusAnswered
		case isMarked:
			out[i] = model.StatusMarked
		case isVisited:
			out[i] = model.StatusNotAnswered
		default:
			out[i] = model.StatusNotVisited
		}
	}
	return out
}

// Summarize counts statuses.
func Summarize(statuses []model.QuestionStatus) Summary {
	s := Summary{Total: len(statuses)}
	for _, st := range statuses {
		switch st {
		case model.StatusAnswered:
			s.Answered++
		case model.StatusNotAnswered:
			s.NotAnswered++
		case model.StatusNotVisited:
			s.NotVisited++
		case model.StatusMarked:
			s.Marked++
		case model.StatusAnsweredMarked:
			s.AnsweredMarked++
		}
	}
	return s
}
