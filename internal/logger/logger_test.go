package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	t.Run("file output with redaction", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "endochat.log")
		l, err := New(Config{Level: "debug", File: logFile, Redaction: true})
		require.NoError(t, err)

		log.Debug().Str("auth", "Bearer abc.def-123").Msg("calling generator")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "calling generator")
		assert.Contains(t, string(data), "[REDACTED]")
		assert.NotContains(t, string(data), "abc.def-123")
		assert.Equal(t, zerolog.DebugLevel, l.Zerolog().GetLevel())
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		l, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, l.Zerolog().GetLevel())
		assert.NoError(t, l.Close())
	})

	t.Run("unwritable file path", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(blocker, nil, 0o644))
		_, err := New(Config{File: filepath.Join(blocker, "x.log")})
		assert.Error(t, err)
	})
}

func TestRedactor(t *testing.T) {
	r := NewRedactor()
	assert.Equal(t, "key [REDACTED]", r.Redact("key sk-abcdefghijklmnopqrstuvwxyz"))
	assert.Equal(t, "[REDACTED] ok", r.Redact("api_key=secret123 ok"))
	assert.Equal(t, "nothing here", r.Redact("nothing here"))

	var buf bytes.Buffer
	n, err := r.Wrap(&buf).Write([]byte("Bearer token123"))
	require.NoError(t, err)
	assert.Equal(t, len("Bearer token123"), n)
	assert.Equal(t, "[REDACTED]", buf.String())
}
