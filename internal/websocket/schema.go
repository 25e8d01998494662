package websocket

import "github.com/stemsi/exstem-runtime/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionPing     Action = "ping"
)

// RequestPayload is every client message. Fields unused by an action stay empty.
type RequestPayload struct {
	Action  Action              `json:"action"`
	Seq     int64               `json:"seq,omitempty"`
	Answers []model.AnswerEntry `json:"answers,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSuccess Event = "success"
	EventPong    Event = "pong"
)

// ResponsePayload is every server message.
type ResponsePayload struct {
	Event  Event  `json:"event"`
	Seq    int64  `json:"seq,omitempty"`
	Status string `json:"status,omitempty"`
	Saved  int    `json:"saved,omitempty"`
	Error  string `json:"error,omitempty"`
}
