package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Option is a single selectable choice of a question, without its correctness flag.
type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Question is the candidate-facing question. It never carries the answer key.
type Question struct {
	ID            uuid.UUID `json:"id"`
	Sequence      int       `json:"sequence"`
	Statement     string    `json:"statement"`
	Options       []Option  `json:"options"`
	Marks         float64   `json:"marks"`
	NegativeMarks float64   `json:"negative_marks"`
}

// HasOption reports whether key is one of the question's current option keys.
func (q *Question) HasOption(key string) bool {
	for _, o := range q.Options {
		if o.Key == key {
			return true
		}
	}
	return false
}

// StoredQuestion is the server-side question row, answer key included.
type StoredQuestion struct {
	ID            uuid.UUID       `json:"id"`
	ExamID        uuid.UUID       `json:"exam_id"`
	Statement     string          `json:"statement"`
	Options       json.RawMessage `json:"options"`
	CorrectOption string          `json:"correct_option"`
	Sequence      int             `json:"sequence"`
	Marks         float64         `json:"marks"`
	NegativeMarks float64         `json:"negative_marks"`
}

// ForCandidate strips the answer key. Options that fail to decode yield an empty list.
func (q *StoredQuestion) ForCandidate() Question {
	var opts []Option
	_ = json.Unmarshal(q.Options, &opts)
	return Question{
		ID:            q.ID,
		Sequence:      q.Sequence,
		Statement:     q.Statement,
		Options:       opts,
		Marks:         q.Marks,
		NegativeMarks: q.NegativeMarks,
	}
}
