package attempt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stretchr/testify/require"
)

var errNetwork = errors.New("connection reset")

type call struct {
	kind  string
	batch []model.AnswerEntry
}

type fakeGateway struct {
	mu          sync.Mutex
	calls       []call
	submits     int
	submitErrs  []error
	autosaveErr error
	reasons     []model.FinalizeReason
}

func (g *fakeGateway) Autosave(_ context.Context, _ uuid.UUID, entries []model.AnswerEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make([]model.AnswerEntry, len(entries))
	copy(cp, entries)
	g.calls = append(g.calls, call{kind: "autosave", batch: cp})
	return g.autosaveErr
}

func (g *fakeGateway) Submit(_ context.Context, id uuid.UUID, reason model.FinalizeReason) (*model.SubmitAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{kind: "submit"})
	g.submits++
	g.reasons = append(g.reasons, reason)
	if len(g.submitErrs) > 0 {
		err := g.submitErrs[0]
		g.submitErrs = g.submitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &model.SubmitAck{AttemptID: id, SubmittedAt: time.Now(), AlreadySubmitted: g.submits > 1}, nil
}

func (g *fakeGateway) submitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submits
}

func (g *fakeGateway) kinds() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	for i, c := range g.calls {
		out[i] = c.kind
	}
	return out
}

func (g *fakeGateway) lastBatch() []model.AnswerEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.calls) - 1; i >= 0; i-- {
		if g.calls[i].kind == "autosave" {
			return g.calls[i].batch
		}
	}
	return nil
}

func testPaper(n int, ttl time.Duration) *model.ExamPaper {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:        uuid.New(),
			Sequence:  i + 1,
			Statement: "Question",
			Options: []model.Option{
				{Key: "A", Text: "alpha"},
				{Key: "B", Text: "bravo"},
				{Key: "C", Text: "charlie"},
				{Key: "D", Text: "delta"},
			},
			Marks: 4,
		}
	}
	return &model.ExamPaper{
		AttemptID:       uuid.New(),
		ExamID:          uuid.New(),
		Title:           "Physics",
		DurationMinutes: 1,
		ExpiresAt:       time.Now().Add(ttl),
		Questions:       qs,
	}
}

func fastOptions() Options {
	return Options{
		TickInterval:     10 * time.Millisecond,
		AutosaveInterval: time.Hour,
		FlushTimeout:     100 * time.Millisecond,
		SubmitAttempts:   3,
		SubmitBackoff:    time.Millisecond,
		SubmitMaxBackoff: 2 * time.Millisecond,
	}
}

func newTestController(t *testing.T, paper *model.ExamPaper, gw *fakeGateway, opts Options) *Controller {
	t.Helper()
	c, err := New(paper, gw, opts, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func strPtr(s string) *string { return &s }
