package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/model"
	ws "github.com/stemsi/exstem-runtime/internal/websocket"
)

const streamAckWait = 10 * time.Second

// Stream keeps one WebSocket per attempt for autosave batches. A broken
// connection is dropped and re-dialled on the next call.
type Stream struct {
	baseURL string
	dialer  *websocket.Dialer
	log     zerolog.Logger

	// mu is a one-slot lock so waiting for it honours ctx.
	mu        chan struct{}
	conn      *websocket.Conn
	attemptID uuid.UUID
	seq       int64
}

// NewStream creates a stream client rooted at baseURL, e.g. ws://host:8080/ws/v1.
func NewStream(baseURL string, log zerolog.Logger) *Stream {
	return &Stream{
		baseURL: strings.TrimRight(baseURL, "/"),
		mu:      make(chan struct{}, 1),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		log: log.With().Str("component", "gateway_stream").Logger(),
	}
}

// Autosave sends a batch and waits for the matching acknowledgement. It
// returns as soon as ctx is done, dropping the connection if a call was in flight.
func (s *Stream) Autosave(ctx context.Context, attemptID uuid.UUID, token string, entries []model.AnswerEntry) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	conn, err := s.connect(ctx, attemptID, token)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		if !stop() {
			s.dropLocked()
		}
	}()

	s.seq++
	seq := s.seq

	deadline := time.Now().Add(streamAckWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(ws.RequestPayload{Action: ws.ActionAutosave, Seq: seq, Answers: entries}); err != nil {
		s.dropLocked()
		return fmt.Errorf("write autosave: %w", ctxErr(ctx, err))
	}

	conn.SetReadDeadline(deadline)
	for {
		var resp ws.ResponsePayload
		if err := conn.ReadJSON(&resp); err != nil {
			s.dropLocked()
			return fmt.Errorf("read autosave ack: %w", ctxErr(ctx, err))
		}
		if resp.Seq != seq {
			// Late ack of an earlier, timed-out batch.
			continue
		}
		if resp.Event == ws.EventError {
			return errors.New("stream autosave rejected: " + resp.Error)
		}
		return nil
	}
}

// Close shuts the current connection.
func (s *Stream) Close() error {
	s.mu <- struct{}{}
	defer s.unlock()
	if s.conn == nil {
		return nil
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Stream) lock(ctx context.Context) error {
	select {
	case s.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stream busy: %w", ctx.Err())
	}
}

func (s *Stream) unlock() { <-s.mu }

// ctxErr prefers the context's error over the i/o error it caused.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Stream) connect(ctx context.Context, attemptID uuid.UUID, token string) (*websocket.Conn, error) {
	if s.conn != nil && s.attemptID == attemptID {
		return s.conn, nil
	}
	s.dropLocked()

	u := s.baseURL + "/student/attempts/" + attemptID.String() + "/stream?token=" + url.QueryEscape(token)
	conn, _, err := s.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	s.conn = conn
	s.attemptID = attemptID
	s.log.Debug().Str("attempt_id", attemptID.String()).Msg("Stream connected")
	return conn, nil
}

func (s *Stream) dropLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
