package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/pgrotate/internal/logging"
)

func TestSecretRedaction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"secret is redacted", "my-secret-password"},
		{"empty secret is still redacted", ""},
		{"complex secret is redacted", "password123!@#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, "[REDACTED]", logging.Secret(tt.input).String())
			assert.Equal(t, "[REDACTED]", logging.Secret(tt.input).GoString())
		})
	}
}

func TestSecretRedactionAcrossLevels(t *testing.T) {
	t.Parallel()

	secretValue := "multi-level-secret-abc"

	levels := []struct {
		name  string
		logFn func(*logging.Logger, string, ...interface{})
	}{
		{"info", (*logging.Logger).Info},
		{"warn", (*logging.Logger).Warn},
		{"error", (*logging.Logger).Error},
		{"debug", (*logging.Logger).Debug},
	}

	for _, lvl := range levels {
		t.Run(lvl.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := logging.NewWithWriter(&buf, logging.FormatConsole, true, true)

			lvl.logFn(logger, "password=%s", logging.Secret(secretValue))

			assert.Contains(t, buf.String(), "[REDACTED]")
			assert.NotContains(t, buf.String(), secretValue)
		})
	}
}

func TestDebugSuppressedWithoutDebugMode(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, logging.FormatConsole, false, true)

	logger.Debug("hidden %d", 1)
	logger.Info("shown %d", 2)

	assert.NotContains(t, buf.String(), "hidden 1")
	assert.Contains(t, buf.String(), "shown 2")
}

func TestJSONFormatCarriesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, logging.FormatJSON, false, true).
		With("secret_id", "arn:secret:app").
		With("step", "createSecret")

	logger.Info("put pending version %s", "tok-1")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "arn:secret:app", line["secret_id"])
	assert.Equal(t, "createSecret", line["step"])
	assert.Equal(t, "put pending version tok-1", line["message"])
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, logging.FormatJSON, logging.ParseFormat("JSON"))
	assert.Equal(t, logging.FormatConsole, logging.ParseFormat("console"))
	assert.Equal(t, logging.FormatConsole, logging.ParseFormat(""))
}

func TestNopLogger(t *testing.T) {
	t.Parallel()

	logger := logging.Nop()
	logger.Info("nothing %s", "here")
	logger.With("k", "v").Error("still nothing")
}

func TestRedactFunction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		secrets  []string
		expected string
	}{
		{
			name:     "single secret redacted",
			input:    "The password is secret123",
			secrets:  []string{"secret123"},
			expected: "The password is [REDACTED]",
		},
		{
			name:     "empty secret ignored",
			input:    "This has no secrets",
			secrets:  []string{""},
			expected: "This has no secrets",
		},
		{
			name:     "short secret ignored",
			input:    "Short secret: ab",
			secrets:  []string{"ab"},
			expected: "Short secret: ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, logging.Redact(tt.input, tt.secrets))
		})
	}
}
