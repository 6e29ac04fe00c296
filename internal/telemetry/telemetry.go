package telemetry

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/freekieb7/sheets/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentationName = "github.com/freekieb7/sheets"

type Telemetry struct {
	tracerProvider *trace.TracerProvider
	loggerProvider *sdklog.LoggerProvider
	config         config.TelemetryConfig
}

// New creates a telemetry instance exporting traces and logs over OTLP gRPC.
// A disabled config yields a no-op instance.
func New(ctx context.Context, cfg config.TelemetryConfig) (*Telemetry, error) {
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		return &Telemetry{config: cfg}, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	endpoint := cleanEndpoint(cfg.OTLPEndpoint)

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithTLSCredentials(transportCredentials(cfg)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	logExporter, err := otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(endpoint),
		otlploggrpc.WithTLSCredentials(transportCredentials(cfg)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(traceExporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.SampleRate))),
	)

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)

	// Set global providers and propagator
	otel.SetTracerProvider(tp)
	global.SetLoggerProvider(lp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Telemetry{
		tracerProvider: tp,
		loggerProvider: lp,
		config:         cfg,
	}, nil
}

func cleanEndpoint(url string) string {
	endpoint := strings.TrimPrefix(url, "grpc://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimPrefix(endpoint, "https://")
}

func transportCredentials(cfg config.TelemetryConfig) credentials.TransportCredentials {
	if cfg.Insecure {
		return insecure.NewCredentials()
	}
	return credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
}

// Shutdown flushes and stops the exporters.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}

	if t.loggerProvider != nil {
		if err := t.loggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("log provider shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (t *Telemetry) IsEnabled() bool {
	return t.config.Enabled && t.tracerProvider != nil
}

// LogHandler returns the handler feeding slog records into the OTLP log
// pipeline, nil when telemetry is disabled.
func (t *Telemetry) LogHandler() slog.Handler {
	if !t.IsEnabled() {
		return nil
	}
	return NewOTelHandler(&slog.HandlerOptions{Level: slog.LevelInfo, AddSource: true})
}

// Tracer returns the tracer used by the service components.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span named "<component>.<operation>".
func StartSpan(ctx context.Context, component, operation string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return Tracer().Start(ctx, component+"."+operation, oteltrace.WithAttributes(attrs...))
}

// OTelHandler is a slog.Handler that sends logs to OpenTelemetry
type OTelHandler struct {
	logger log.Logger
	opts   *slog.HandlerOptions
	attrs  []slog.Attr
	group  string
}

func NewOTelHandler(opts *slog.HandlerOptions) *OTelHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}

	return &OTelHandler{
		logger: global.GetLoggerProvider().Logger(instrumentationName),
		opts:   opts,
	}
}

func (h *OTelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.opts.Level != nil {
		return level >= h.opts.Level.Level()
	}
	return level >= slog.LevelInfo
}

func (h *OTelHandler) Handle(ctx context.Context, record slog.Record) error {
	logRecord := log.Record{}
	logRecord.SetTimestamp(record.Time)
	logRecord.SetBody(log.StringValue(record.Message))
	logRecord.SetSeverity(convertSlogLevel(record.Level))
	logRecord.SetSeverityText(record.Level.String())

	if h.opts.AddSource && record.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{record.PC})
		f, _ := fs.Next()
		if f.File != "" {
			logRecord.AddAttributes(
				log.String("code.filepath", f.File),
				log.String("code.function", f.Function),
				log.Int("code.lineno", f.Line),
			)
		}
	}

	for _, attr := range h.attrs {
		logRecord.AddAttributes(h.convertSlogAttr(attr))
	}
	record.Attrs(func(attr slog.Attr) bool {
		logRecord.AddAttributes(h.convertSlogAttr(attr))
		return true
	})

	// The SDK reads the span context from ctx
	h.logger.Emit(ctx, logRecord)

	return nil
}

func (h *OTelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *OTelHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if clone.group != "" {
		name = clone.group + "." + name
	}
	clone.group = name
	return &clone
}

func convertSlogLevel(level slog.Level) log.Severity {
	switch {
	case level >= slog.LevelError:
		return log.SeverityError
	case level >= slog.LevelWarn:
		return log.SeverityWarn
	case level >= slog.LevelInfo:
		return log.SeverityInfo
	default:
		return log.SeverityDebug
	}
}

func (h *OTelHandler) convertSlogAttr(attr slog.Attr) log.KeyValue {
	key := attr.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	switch attr.Value.Kind() {
	case slog.KindString:
		return log.String(key, attr.Value.String())
	case slog.KindInt64:
		return log.Int64(key, attr.Value.Int64())
	case slog.KindFloat64:
		return log.Float64(key, attr.Value.Float64())
	case slog.KindBool:
		return log.Bool(key, attr.Value.Bool())
	case slog.KindDuration:
		return log.Int64(key, attr.Value.Duration().Nanoseconds())
	case slog.KindTime:
		return log.String(key, attr.Value.Time().Format(time.RFC3339))
	default:
		return log.String(key, attr.Value.String())
	}
}
