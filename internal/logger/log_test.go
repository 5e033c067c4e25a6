package logger

import (
	"bytes"
	"strings"
	"testing"

	"logship/internal/config"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Service.Name = "invoices"
	cfg.Service.NodeName = "node-1"
	return cfg
}

func TestNewAddsCommonFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, testConfig())
	l.Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "invoices", line["service"])
	assert.Equal(t, "node-1", line["instance"])
	assert.Equal(t, "hello", line["message"])
}

func TestNewRespectsLevel(t *testing.T) {
	cfg := testConfig()
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	l := New(&buf, cfg)
	l.Info().Msg("dropped")
	l.Warn().Msg("kept")

	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
	assert.Contains(t, buf.String(), "kept")
}

func TestNewSamplesInfoButNotWarn(t *testing.T) {
	cfg := testConfig()
	cfg.Log.SampleN = 5

	var buf bytes.Buffer
	l := New(&buf, cfg)
	for i := 0; i < 10; i++ {
		l.Info().Msg("info")
		l.Warn().Msg("warn")
	}

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, `"message":"info"`))
	assert.Equal(t, 10, strings.Count(out, `"message":"warn"`))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel(" DEBUG "))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("chatty"))
}
