package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/middleware"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/response"
	ws "github.com/stemsi/exstem-runtime/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Native runtimes send no Origin header.
				return true
			}
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the attempt autosave stream.
type WSHandler struct {
	attempts AttemptService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
// Upgrades to WebSocket for autosave batches. Every reply echoes the request seq.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID
	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("attempt_id", attemptID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var werr error
		switch msg.Action {
		case ws.ActionAutosave:
			werr = h.handleAutosave(c, conn, wsLog, attemptID, studentID, &msg)
		case ws.ActionPing:
			werr = ws.WriteEvent(conn, msg.Seq, ws.EventPong, "", 0)
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			werr = ws.WriteError(conn, msg.Seq, "unknown action: "+string(msg.Action))
		}
		if werr != nil {
			wsLog.Debug().Err(werr).Msg("Write failed, closing")
			return
		}
	}
}

// handleAutosave applies one batch through the attempt service.
func (h *WSHandler) handleAutosave(c *gin.Context, conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int, msg *ws.RequestPayload) error {
	req := model.AutosaveRequest{Answers: msg.Answers}
	if req.Answers == nil {
		req.Answers = []model.AnswerEntry{}
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		return ws.WriteError(conn, msg.Seq, "invalid answers")
	}

	saved, err := h.attempts.Autosave(c.Request.Context(), attemptID, studentID, req.Answers)
	if err != nil {
		code := streamErrorCode(err)
		if code == response.ErrInternal {
			wsLog.Error().Err(err).Msg("Autosave failed")
		}
		return ws.WriteError(conn, msg.Seq, string(code))
	}
	return ws.WriteEvent(conn, msg.Seq, ws.EventSuccess, "saved", saved)
}

func streamErrorCode(err error) response.ErrCode {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return response.ErrInternal
}
