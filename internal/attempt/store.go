package attempt

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// answerStore holds the mutable per-question state of one attempt.
// An entry with an empty key in answers means "explicitly cleared".
// It is not safe for concurrent use; the Controller serializes access.
type answerStore struct {
	answers map[uuid.UUID]string
	marked  map[uuid.UUID]struct{}
	visited map[uuid.UUID]struct{}

	// version increments on every mutation and keys the status memo.
	version uint64
}

func newAnswerStore() *answerStore {
	return &answerStore{
		answers: make(map[uuid.UUID]string),
		marked:  make(map[uuid.UUID]struct{}),
		visited: make(map[uuid.UUID]struct{}),
	}
}

// restore loads autosaved entries. Restored questions count as visited.
func (s *answerStore) restore(entries []model.AnswerEntry) {
	for _, e := range entries {
		if e.SelectedOption != nil {
			s.answers[e.QuestionID] = *e.SelectedOption
		} else {
			s.answers[e.QuestionID] = ""
		}
		if e.MarkedForReview {
			s.marked[e.QuestionID] = struct{}{}
		}
		s.visited[e.QuestionID] = struct{}{}
	}
	s.version++
}

func (s *answerStore) answer(qid uuid.UUID) string {
	return s.answers[qid]
}

// toggle selects key, or clears the answer when key is already selected.
func (s *answerStore) toggle(qid uuid.UUID, key string) {
	if s.answers[qid] == key {
		s.answers[qid] = ""
	} else {
		s.answers[qid] = key
	}
	s.visited[qid] = struct{}{}
	s.version++
}

func (s *answerStore) clear(qid uuid.UUID) {
	s.answers[qid] = ""
	delete(s.marked, qid)
	s.visited[qid] = struct{}{}
	s.version++
}

func (s *answerStore) setMarked(qid uuid.UUID, marked bool) {
	_, was := s.marked[qid]
	if was == marked {
		return
	}
	if marked {
		s.marked[qid] = struct{}{}
	} else {
		delete(s.marked, qid)
	}
	s.version++
}

func (s *answerStore) isMarked(qid uuid.UUID) bool {
	_, ok := s.marked[qid]
	return ok
}

func (s *answerStore) visit(qid uuid.UUID) {
	if _, ok := s.visited[qid]; ok {
		return
	}
	s.visited[qid] = struct{}{}
	s.version++
}

// batch serializes every question that has an answer entry or a review mark,
// in question order so repeated batches are byte-identical.
func (s *answerStore) batch(questions []model.Question) []model.AnswerEntry {
	entries := make([]model.AnswerEntry, 0, len(s.answers)+len(s.marked))
	for i := range questions {
		qid := questions[i].ID
		key, answered := s.answers[qid]
		_, marked := s.marked[qid]
		if !answered && !marked {
			continue
		}
		entry := model.AnswerEntry{QuestionID: qid, MarkedForReview: marked}
		if key != "" {
			k := key
			entry.SelectedOption = &k
		}
		entries = append(entries, entry)
	}
	return entries
}
