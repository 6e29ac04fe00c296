package telemetry

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/freekieb7/sheets/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.Nil(t, tel.LogHandler())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestCleanEndpoint(t *testing.T) {
	tests := map[string]string{
		"grpc://collector:4317":    "collector:4317",
		"http://localhost:4317":    "localhost:4317",
		"https://otlp.example:443": "otlp.example:443",
		"collector:4317":           "collector:4317",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanEndpoint(in), in)
	}
}

func TestFiberMiddleware_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	app := fiber.New()
	app.Use(FiberMiddleware())
	app.Get("/tables/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNotFound)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/tables/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /tables/:id", spans[0].Name())
}

func TestConvertSlogLevel(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  log.Severity
	}{
		{slog.LevelDebug, log.SeverityDebug},
		{slog.LevelInfo, log.SeverityInfo},
		{slog.LevelWarn, log.SeverityWarn},
		{slog.LevelError, log.SeverityError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, convertSlogLevel(tt.level), tt.level.String())
	}
}
