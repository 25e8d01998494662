package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/model"
)

const maxBodyBytes = 4 << 20

// envelope mirrors the service's response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client talks to the exam service. It implements the runtime's Start/Resume,
// Autosave, Violation report, Submit and Result collaborator calls.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	mu     sync.RWMutex
	token  string
	stream *Stream
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets a pre-issued bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithStream routes autosave batches over a WebSocket stream rooted at wsBaseURL,
// falling back to HTTP when the stream is unavailable.
func WithStream(wsBaseURL string) Option {
	return func(c *Client) {
		if wsBaseURL != "" {
			c.stream = NewStream(wsBaseURL, c.log)
		}
	}
}

// New creates a client for the API rooted at baseURL, e.g. http://host:8080/api/v1.
func New(baseURL string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("component", "gateway").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Close releases the stream connection, if any.
func (c *Client) Close() error {
	if c.stream != nil {
		return c.stream.Close()
	}
	return nil
}

// Login authenticates a candidate and stores the issued token.
func (c *Client) Login(ctx context.Context, nisn, password string) (*model.StudentLoginResponse, error) {
	var out model.StudentLoginResponse
	req := model.StudentLoginRequest{NISN: nisn, Password: password}
	if err := c.do(ctx, http.MethodPost, "/auth/student/login", req, &out, false); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	return &out, nil
}

// StartAttempt begins (or re-joins) the candidate's attempt on an exam.
func (c *Client) StartAttempt(ctx context.Context, examID uuid.UUID) (*model.StartAttemptResponse, error) {
	var out model.StartAttemptResponse
	if err := c.do(ctx, http.MethodPost, "/student/exams/"+examID.String()+"/attempts", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resume returns the exam paper and any autosaved answers for an attempt.
func (c *Client) Resume(ctx context.Context, attemptID uuid.UUID) (*model.ExamPaper, error) {
	var out model.ExamPaper
	if err := c.do(ctx, http.MethodGet, attemptPath(attemptID, ""), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Autosave persists a batch. Resending the same batch is harmless.
func (c *Client) Autosave(ctx context.Context, attemptID uuid.UUID, entries []model.AnswerEntry) error {
	if c.stream != nil {
		err := c.stream.Autosave(ctx, attemptID, c.Token(), entries)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		c.log.Debug().Err(err).Msg("Stream autosave failed, using HTTP")
	}
	req := model.AutosaveRequest{Answers: entries}
	return c.do(ctx, http.MethodPut, attemptPath(attemptID, "/answers"), req, nil, true)
}

// ReportViolation sends one violation and returns the policy verdict.
func (c *Client) ReportViolation(ctx context.Context, attemptID uuid.UUID, report model.ViolationReport) (*model.Verdict, error) {
	var out model.Verdict
	if err := c.do(ctx, http.MethodPost, attemptPath(attemptID, "/violations"), report, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit finalizes the attempt server-side. Repeat calls are acknowledged without re-grading.
func (c *Client) Submit(ctx context.Context, attemptID uuid.UUID, reason model.FinalizeReason) (*model.SubmitAck, error) {
	var out model.SubmitAck
	req := model.SubmitRequest{Reason: reason}
	if err := c.do(ctx, http.MethodPost, attemptPath(attemptID, "/submit"), req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Result fetches the graded breakdown after finalize.
func (c *Client) Result(ctx context.Context, attemptID uuid.UUID) (*model.AttemptResult, error) {
	var out model.AttemptResult
	if err := c.do(ctx, http.MethodGet, attemptPath(attemptID, "/result"), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func attemptPath(attemptID uuid.UUID, suffix string) string {
	return "/student/attempts/" + attemptID.String() + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, auth bool) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		token := c.Token()
		if token == "" {
			return ErrNotAuthenticated
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
