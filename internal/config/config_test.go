package config

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VIOLATION_LIMIT", "")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg := Load()
	assert.Equal(t, 3, cfg.ViolationLimit)
	assert.Nil(t, cfg.AllowedOrigins)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
}

func TestLoadRuntimeOverrides(t *testing.T) {
	t.Setenv("AUTOSAVE_INTERVAL", "45s")
	t.Setenv("GRACE_PERIOD", "not-a-duration")
	t.Setenv("SUBMIT_ATTEMPTS", "7")
	t.Setenv("RESTRICTED_KEYS", "ctrl+p, F5 ,")

	rt := LoadRuntime()
	assert.Equal(t, 45*time.Second, rt.AutosaveInterval)
	assert.Equal(t, 3*time.Second, rt.GracePeriod)
	assert.Equal(t, 7, rt.SubmitAttempts)
	assert.Equal(t, []string{"ctrl+p", "F5"}, rt.RestrictedKeys)
	assert.Equal(t, time.Second, rt.TickInterval)
}

func TestCacheKeys(t *testing.T) {
	id := uuid.MustParse("7a0c3a8e-2f5e-4a57-9a43-1f0f6d3c9b10")

	assert.Equal(t, "attempt:7a0c3a8e-2f5e-4a57-9a43-1f0f6d3c9b10:answers", CacheKey.AttemptAnswersKey(id))
	assert.Equal(t, "attempt:7a0c3a8e-2f5e-4a57-9a43-1f0f6d3c9b10:submitted", CacheKey.AttemptSubmitLatchKey(id))
	assert.Equal(t, "exam:7a0c3a8e-2f5e-4a57-9a43-1f0f6d3c9b10:monitor", CacheKey.ExamMonitorChannel(id))
	assert.Equal(t, "login:42", CacheKey.StudentSessionKey(42))
}
