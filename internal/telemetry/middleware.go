package telemetry

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const localsContextKey = "otel.ctx"

// FiberMiddleware returns a Fiber middleware that creates spans for HTTP requests
func FiberMiddleware() fiber.Handler {
	tracer := Tracer()

	return func(c *fiber.Ctx) error {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(c.UserContext(), &fiberCarrier{c: c})

		ctx, span := tracer.Start(ctx, c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Method()),
				attribute.String("http.url", c.OriginalURL()),
				attribute.String("http.user_agent", c.Get("User-Agent")),
				attribute.String("http.remote_addr", c.IP()),
			),
		)
		defer span.End()

		c.SetUserContext(ctx)
		c.Locals(localsContextKey, ctx)

		err := c.Next()

		// The route is only known once routing has run
		route := c.Route().Path
		span.SetName(c.Method() + " " + route)
		statusCode := c.Response().StatusCode()
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", statusCode),
			attribute.Int("http.response_size", len(c.Response().Body())),
		)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if statusCode >= 500 {
			span.SetStatus(codes.Error, "HTTP "+strconv.Itoa(statusCode))
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}

// GetContextFromFiber extracts the OpenTelemetry context from Fiber context
func GetContextFromFiber(c *fiber.Ctx) context.Context {
	if ctx, ok := c.Locals(localsContextKey).(context.Context); ok {
		return ctx
	}
	return c.UserContext()
}

// fiberCarrier adapts Fiber context to OpenTelemetry propagation.TextMapCarrier
type fiberCarrier struct {
	c *fiber.Ctx
}

func (fc *fiberCarrier) Get(key string) string {
	return fc.c.Get(key)
}

func (fc *fiberCarrier) Set(key, value string) {
	fc.c.Set(key, value)
}

func (fc *fiberCarrier) Keys() []string {
	keys := make([]string, 0)
	fc.c.Request().Header.VisitAll(func(key, value []byte) {
		keys = append(keys, string(key))
	})
	return keys
}
