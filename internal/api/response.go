package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/freekieb7/sheets/internal/model"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse writes the error envelope shared by every endpoint.
func ErrorResponse(c *fiber.Ctx, code int, message string, extra fiber.Map) error {
	body := fiber.Map{
		"code":    code,
		"status":  statusName(code),
		"message": message,
	}
	for k, v := range extra {
		body[k] = v
	}
	return c.Status(code).JSON(fiber.Map{"error": body})
}

func statusName(code int) string {
	return strings.ToUpper(strings.ReplaceAll(http.StatusText(code), " ", "_"))
}

// handleError maps domain errors onto HTTP statuses.
func (h *Handler) handleError(c *fiber.Ctx, err error) error {
	var (
		conflict *model.LockConflictError
		fields   model.ValidationErrors
		field    *model.ValidationError
		fiberErr *fiber.Error
	)
	switch {
	case errors.As(err, &conflict):
		return ErrorResponse(c, fiber.StatusLocked, "row is being edited by another principal", fiber.Map{
			"row_id": conflict.RowID,
			"holder": conflict.Holder,
		})
	case errors.As(err, &fields):
		return ErrorResponse(c, fiber.StatusBadRequest, "validation failed", fiber.Map{"fields": fields})
	case errors.As(err, &field):
		return ErrorResponse(c, fiber.StatusBadRequest, "validation failed", fiber.Map{
			"fields": model.ValidationErrors{field},
		})
	case errors.Is(err, model.ErrAccessDenied):
		return ErrorResponse(c, fiber.StatusForbidden, "access denied", nil)
	case errors.Is(err, model.ErrNotFound):
		return ErrorResponse(c, fiber.StatusNotFound, err.Error(), nil)
	case errors.Is(err, model.ErrConflict):
		return ErrorResponse(c, fiber.StatusConflict, err.Error(), nil)
	case errors.As(err, &fiberErr):
		return ErrorResponse(c, fiberErr.Code, fiberErr.Message, nil)
	}

	h.logger.ErrorContext(c.UserContext(), "Request failed",
		"method", c.Method(),
		"path", c.Path(),
		"principal_id", principal(c),
		"error", err,
	)
	return ErrorResponse(c, fiber.StatusInternalServerError, "internal server error", nil)
}
