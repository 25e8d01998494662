package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-runtime/internal/response"
	"github.com/stemsi/exstem-runtime/internal/service"
)

// serviceErrors maps domain errors to HTTP status + error code.
var serviceErrors = []struct {
	err    error
	status int
	code   response.ErrCode
}{
	{service.ErrAttemptNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrExamNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrExamNotAvailable, http.StatusForbidden, response.ErrExamNotAvailable},
	{service.ErrNoQuestions, http.StatusConflict, response.ErrNoQuestions},
	{service.ErrAttemptClosed, http.StatusConflict, response.ErrAttemptClosed},
	{service.ErrAttemptExpired, http.StatusGone, response.ErrAttemptExpired},
	{service.ErrAttemptNotGraded, http.StatusConflict, response.ErrAttemptNotGraded},
	{service.ErrUnknownQuestion, http.StatusBadRequest, response.ErrUnknownQuestion},
	{service.ErrUnknownViolation, http.StatusBadRequest, response.ErrUnknownViolation},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, response.ErrInvalidCredentials},
	{service.ErrSessionAlreadyActive, http.StatusConflict, response.ErrSessionActive},
}

// failService writes the envelope for err. Unknown errors are logged by the
// caller and reported as INTERNAL_ERROR.
func failService(c *gin.Context, err error) bool {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			response.Fail(c, m.status, m.code)
			return true
		}
	}
	response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	return false
}

var (
	_ AttemptService    = (*service.AttemptService)(nil)
	_ ViolationReporter = (*service.ViolationService)(nil)
	_ Authenticator     = (*service.AuthService)(nil)
)
