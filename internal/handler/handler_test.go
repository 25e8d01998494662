package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stemsi/exstem-runtime/internal/database"
	"github.com/stemsi/exstem-runtime/internal/middleware"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/response"
	"github.com/stemsi/exstem-runtime/internal/service"
	"github.com/stemsi/exstem-runtime/internal/validator"
	ws "github.com/stemsi/exstem-runtime/internal/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type stubAttempts struct {
	err       error
	failEmpty bool
	saved     []model.AnswerEntry
	reason    model.FinalizeReason
	studentID int
}

func (s *stubAttempts) Start(_ context.Context, _ uuid.UUID, studentID int) (*model.StartAttemptResponse, error) {
	s.studentID = studentID
	if s.err != nil {
		return nil, s.err
	}
	return &model.StartAttemptResponse{AttemptID: uuid.New(), ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (s *stubAttempts) Paper(_ context.Context, id uuid.UUID, _ int) (*model.ExamPaper, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.ExamPaper{AttemptID: id, Title: "IPA"}, nil
}

func (s *stubAttempts) Autosave(_ context.Context, _ uuid.UUID, _ int, entries []model.AnswerEntry) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.failEmpty && len(entries) == 0 {
		return 0, service.ErrAttemptExpired
	}
	s.saved = entries
	return len(entries), nil
}

func (s *stubAttempts) Submit(_ context.Context, id uuid.UUID, _ int, reason model.FinalizeReason) (*model.SubmitAck, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.reason = reason
	return &model.SubmitAck{AttemptID: id, SubmittedAt: time.Now()}, nil
}

func (s *stubAttempts) Result(_ context.Context, id uuid.UUID, _ int) (*model.AttemptResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.AttemptResult{AttemptID: id, Score: 8}, nil
}

type stubViolations struct {
	err  error
	last model.ViolationReport
}

func (s *stubViolations) Report(_ context.Context, _ uuid.UUID, _ int, r model.ViolationReport) (*model.Verdict, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.last = r
	v := service.Decide(r.Type, 1, 3)
	return &v, nil
}

func withClaims(studentID int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: studentID})
	}
}

func attemptRouter(a *stubAttempts, v *stubViolations) *gin.Engine {
	h := NewAttemptHandler(a, v, zerolog.Nop())
	r := gin.New()
	g := r.Group("/", withClaims(5))
	g.POST("/exams/:exam_id/attempts", h.StartAttempt)
	g.GET("/attempts/:attempt_id", h.GetPaper)
	g.PUT("/attempts/:attempt_id/answers", h.SaveAnswers)
	g.POST("/attempts/:attempt_id/violations", h.ReportViolation)
	g.POST("/attempts/:attempt_id/submit", h.Submit)
	g.GET("/attempts/:attempt_id/result", h.GetResult)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var env response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestStartAttempt(t *testing.T) {
	a := &stubAttempts{}
	r := attemptRouter(a, &stubViolations{})

	w := do(r, http.MethodPost, "/exams/not-a-uuid/attempts", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrInvalidID, decode(t, w).Error.Code)

	w = do(r, http.MethodPost, "/exams/"+uuid.NewString()+"/attempts", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, a.studentID)
}

func TestServiceErrorsMapToCodes(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{service.ErrAttemptNotFound, http.StatusNotFound, response.ErrNotFound},
		{service.ErrAttemptClosed, http.StatusConflict, response.ErrAttemptClosed},
		{service.ErrAttemptExpired, http.StatusGone, response.ErrAttemptExpired},
		{service.ErrAttemptNotGraded, http.StatusConflict, response.ErrAttemptNotGraded},
		{fmt.Errorf("wrapped: %w", service.ErrExamNotAvailable), http.StatusForbidden, response.ErrExamNotAvailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			r := attemptRouter(&stubAttempts{err: tt.err}, &stubViolations{})
			w := do(r, http.MethodGet, "/attempts/"+uuid.NewString(), "")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w).Error.Code)
		})
	}
}

func TestSaveAnswersValidation(t *testing.T) {
	a := &stubAttempts{}
	r := attemptRouter(a, &stubViolations{})
	path := "/attempts/" + uuid.NewString() + "/answers"

	w := do(r, http.MethodPut, path, `{"answers":[{"question_id":"`+uuid.NewString()+`","selected_option":"B; DROP"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrValidation, decode(t, w).Error.Code)

	w = do(r, http.MethodPut, path, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	qid := uuid.NewString()
	w = do(r, http.MethodPut, path, `{"answers":[{"question_id":"`+qid+`","selected_option":"B","marked_for_review":true},{"question_id":"`+uuid.NewString()+`","selected_option":null}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, a.saved, 2)
	assert.Equal(t, "B", *a.saved[0].SelectedOption)
	assert.True(t, a.saved[0].MarkedForReview)
	assert.Nil(t, a.saved[1].SelectedOption)
}

func TestReportViolation(t *testing.T) {
	v := &stubViolations{}
	r := attemptRouter(&stubAttempts{}, v)
	path := "/attempts/" + uuid.NewString() + "/violations"

	w := do(r, http.MethodPost, path, `{"detail":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, path, `{"type":"tab_switch","detail":"hidden","client_count":1}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.ViolationTabSwitch, v.last.Type)

	var env struct {
		Data model.Verdict `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, 1, env.Data.ViolationCount)
	assert.False(t, env.Data.ShouldTerminate)

	v.err = service.ErrUnknownViolation
	w = do(r, http.MethodPost, path, `{"type":"telepathy"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrUnknownViolation, decode(t, w).Error.Code)
}

func TestSubmitRequiresKnownReason(t *testing.T) {
	a := &stubAttempts{}
	r := attemptRouter(a, &stubViolations{})
	path := "/attempts/" + uuid.NewString() + "/submit"

	w := do(r, http.MethodPost, path, `{"reason":"bored"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, path, `{"reason":"violation"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.ReasonViolation, a.reason)
}

func TestMissingClaims(t *testing.T) {
	h := NewAttemptHandler(&stubAttempts{}, &stubViolations{}, zerolog.Nop())
	r := gin.New()
	r.GET("/attempts/:attempt_id/result", h.GetResult)

	w := do(r, http.MethodGet, "/attempts/"+uuid.NewString()+"/result", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type stubAuth struct {
	err     error
	student *model.Student
	reset   int
}

func (s *stubAuth) Login(_ context.Context, req model.StudentLoginRequest) (*model.StudentLoginResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.StudentLoginResponse{Token: "tok", Student: model.Student{NISN: req.NISN}}, nil
}

func (s *stubAuth) GetStudent(context.Context, int) (*model.Student, error) {
	if s.student == nil {
		return nil, service.ErrInvalidCredentials
	}
	return s.student, nil
}

func (s *stubAuth) ResetStudentSession(_ context.Context, id int) error {
	s.reset = id
	return s.err
}

func TestStudentLogin(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"missing password", `{"nisn":"12345"}`, nil, http.StatusBadRequest},
		{"bad credentials", `{"nisn":"12345","password":"secret"}`, service.ErrInvalidCredentials, http.StatusUnauthorized},
		{"already active", `{"nisn":"12345","password":"secret"}`, service.ErrSessionAlreadyActive, http.StatusConflict},
		{"ok", `{"nisn":"12345","password":"secret"}`, nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(&stubAuth{err: tt.err}, zerolog.Nop())
			r := gin.New()
			r.POST("/login", h.StudentLogin)
			assert.Equal(t, tt.status, do(r, http.MethodPost, "/login", tt.body).Code)
		})
	}
}

func TestStudentLogoutAndProfile(t *testing.T) {
	auth := &stubAuth{student: &model.Student{ID: 5, Name: "Ani"}}
	h := NewAuthHandler(auth, zerolog.Nop())
	r := gin.New()
	r.POST("/logout", withClaims(5), h.StudentLogout)
	r.GET("/me", withClaims(5), h.GetStudentProfile)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/logout", "").Code)
	assert.Equal(t, 5, auth.reset)

	w := do(r, http.MethodGet, "/me", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Ani")
	assert.NotContains(t, w.Body.String(), "password")
}

func TestHealth(t *testing.T) {
	up := NewHealthHandler(func(context.Context) database.Status { return database.Status{Postgres: "ok", Redis: "ok"} })
	down := NewHealthHandler(func(context.Context) database.Status { return database.Status{Postgres: "ok", Redis: "dial tcp: refused"} })

	r := gin.New()
	r.GET("/up", up.Health)
	r.GET("/down", down.Health)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/up", "").Code)
	w := do(r, http.MethodGet, "/down", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "refused")
}

func TestAttemptStream(t *testing.T) {
	a := &stubAttempts{failEmpty: true}
	h := NewWSHandler(a, zerolog.Nop(), nil)
	r := gin.New()
	r.GET("/attempts/:attempt_id/stream", withClaims(5), h.AttemptStream)

	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/attempts/" + uuid.NewString() + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ws.RequestPayload{Action: ws.ActionPing, Seq: 1}))
	var res ws.ResponsePayload
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, ws.EventPong, res.Event)
	assert.EqualValues(t, 1, res.Seq)

	opt := "C"
	require.NoError(t, conn.WriteJSON(ws.RequestPayload{
		Action:  ws.ActionAutosave,
		Seq:     2,
		Answers: []model.AnswerEntry{{QuestionID: uuid.New(), SelectedOption: &opt}},
	}))
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, ws.EventSuccess, res.Event)
	assert.EqualValues(t, 2, res.Seq)
	assert.Equal(t, 1, res.Saved)

	require.NoError(t, conn.WriteJSON(ws.RequestPayload{Action: ws.ActionAutosave, Seq: 3}))
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, ws.EventError, res.Event)
	assert.Equal(t, string(response.ErrAttemptExpired), res.Error)

	require.NoError(t, conn.WriteJSON(ws.RequestPayload{Action: "dance", Seq: 4}))
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, ws.EventError, res.Event)
	assert.EqualValues(t, 4, res.Seq)
}

func TestUpgraderOrigins(t *testing.T) {
	u := buildUpgrader([]string{"https://ujian.sekolah.id"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, u.CheckOrigin(req))

	req.Header.Set("Origin", "https://UJIAN.sekolah.id")
	assert.True(t, u.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, u.CheckOrigin(req))
}
