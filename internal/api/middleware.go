package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const principalLocalsKey = "principal_id"

// authenticate reads the calling principal from PrincipalHeader.
func (h *Handler) authenticate(c *fiber.Ctx) error {
	raw := c.Get(PrincipalHeader)
	if raw == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing "+PrincipalHeader+" header")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid "+PrincipalHeader+" header")
	}
	c.Locals(principalLocalsKey, id)
	return c.Next()
}

func principal(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(principalLocalsKey).(uuid.UUID)
	return id
}

// observe renders errors right away so the status is known, then records the
// request metrics.
func (h *Handler) observe(c *fiber.Ctx) error {
	start := time.Now()

	if err := c.Next(); err != nil {
		if herr := c.App().ErrorHandler(c, err); herr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}

	status := c.Response().StatusCode()
	elapsed := time.Since(start)
	route := c.Route().Path
	h.metrics.HTTPRequest(c.Method(), route, status, elapsed)
	h.logger.DebugContext(c.UserContext(), "Request",
		"method", c.Method(),
		"route", route,
		"status", status,
		"duration", elapsed,
	)
	return nil
}

func uuidParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid %s", name))
	}
	return id, nil
}

func int64Param(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid %s", name))
	}
	return id, nil
}

// parseBody decodes a JSON body into v. An empty body leaves v untouched.
func parseBody(c *fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return nil
}
