package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// WriteTyped sends a strongly-typed payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteEvent sends a success-style event.
func WriteEvent(conn *websocket.Conn, seq int64, event Event, status string, saved int) error {
	return WriteTyped(conn, ResponsePayload{
		Event:  event,
		Seq:    seq,
		Status: status,
		Saved:  saved,
	})
}

// WriteError sends a typed error event over the WebSocket.
func WriteError(conn *websocket.Conn, seq int64, errMsg string) error {
	return WriteTyped(conn, ResponsePayload{
		Event: EventError,
		Seq:   seq,
		Error: errMsg,
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}
