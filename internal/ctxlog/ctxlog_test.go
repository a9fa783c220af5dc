package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	t.Parallel()

	t.Run("returns embedded logger", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger := New(&buf, "debug")
		ctx := WithLogger(context.Background(), logger)
		FromContext(ctx).Debug("hello", "k", "v")
		require.Contains(t, buf.String(), "hello")
		require.Contains(t, buf.String(), "k=v")
	})

	t.Run("falls back to default", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, slog.Default(), FromContext(context.Background()))
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		require.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(&buf, "warn")
	logger.Info("quiet")
	logger.Warn("loud")
	require.NotContains(t, buf.String(), "quiet")
	require.Contains(t, buf.String(), "loud")
}
