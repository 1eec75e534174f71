package log_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/provisioner/pkg/log"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}

	for input, expected := range tests {
		assert.Equal(t, expected, log.ParseLevel(input), input)
	}
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	fallback := log.Discard()
	attached := slog.New(slog.NewTextHandler(&buf, nil))

	assert.Same(t, fallback, log.FromContext(context.Background(), fallback))

	ctx := log.ContextWithLogger(context.Background(), attached)
	log.FromContext(ctx, fallback).Info("hello", "job_id", "j-1")

	assert.Contains(t, buf.String(), "job_id=j-1")
}
