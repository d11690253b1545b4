package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{" warn ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			NewWithWriter(Config{Level: tt.level}, &bytes.Buffer{})
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestNew_ErrorLevelFiltersLower(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "error"}, &buf)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger.Info().Msg("should not appear")
	logger.Error().Msg("should appear")

	assert.NotContains(t, buf.String(), "should not appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestComponent_TagsLines(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewWithWriter(Config{Level: "info"}, &buf), "vesting")

	logger.Info().Str("grant_id", "g-1").Msg("processed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "vesting", line["component"])
	assert.Equal(t, "g-1", line["grant_id"])
	assert.Contains(t, line, "time")
	assert.Contains(t, line, "caller")
}

func TestNew_Pretty(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "info", Pretty: true}, &buf)

	logger.Info().Str("key", "value").Msg("hello")

	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "key=")
}
