package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupToWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := SetupTo(&buf, "debug", "json")
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	log.Info().Str("component", "attempt_controller").Msg("Attempt running")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "attempt_controller", line["component"])
	assert.Equal(t, "Attempt running", line["message"])
	assert.Contains(t, line, "time")
}

func TestSetupToFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := SetupTo(&buf, "loud", "json")
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
