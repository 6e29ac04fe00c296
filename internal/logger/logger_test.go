package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/freekieb7/sheets/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestNew_ProductionWritesJSON(t *testing.T) {
	var console, extra bytes.Buffer
	cfg := config.Config{
		Server:    config.ServerConfig{Environment: "production"},
		Telemetry: config.TelemetryConfig{ServiceName: "sheets", ServiceVersion: "1.0.0"},
	}

	log := newLogger(&console, cfg, slog.NewJSONHandler(&extra, nil))
	log.With("component", "test").Info("hello", "table_id", "t1")

	for _, buf := range []*bytes.Buffer{&console, &extra} {
		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "hello", record["msg"])
		assert.Equal(t, "sheets", record["service"])
		assert.Equal(t, "test", record["component"])
		assert.Equal(t, "t1", record["table_id"])
	}
}

func TestTraceHandler_AddsSpanContext(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	log.InfoContext(ctx, "traced")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, traceID.String(), record["trace_id"])
	assert.Equal(t, spanID.String(), record["span_id"])
}

func TestMultiHandler_Enabled(t *testing.T) {
	var buf bytes.Buffer
	h := NewMultiHandler(
		slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}),
	)

	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}
