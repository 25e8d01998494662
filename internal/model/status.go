package model

// QuestionStatus is the derived palette state of a question. It is never stored.
type QuestionStatus string

const (
	StatusNotVisited     QuestionStatus = "not_visited"
	StatusNotAnswered    QuestionStatus = "not_answered"
	StatusAnswered       QuestionStatus = "answered"
	StatusMarked         QuestionStatus = "marked"
	StatusAnsweredMarked QuestionStatus = "answered_marked"
)

// AllStatuses lists statuses in legend order.
var AllStatuses = []QuestionStatus{
	StatusAnswered,
	StatusNotAnswered,
	StatusNotVisited,
	StatusMarked,
	StatusAnsweredMarked,
}
