// Package api exposes the table workflows as a JSON API on fiber.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/freekieb7/sheets/internal/config"
	"github.com/freekieb7/sheets/internal/metrics"
	"github.com/freekieb7/sheets/internal/middleware"
	"github.com/freekieb7/sheets/internal/permission"
	"github.com/freekieb7/sheets/internal/schema"
	"github.com/freekieb7/sheets/internal/sheet"
	"github.com/freekieb7/sheets/internal/storage"
	"github.com/freekieb7/sheets/internal/telemetry"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// PrincipalHeader carries the id of the calling principal. Authentication
// happens in front of this service.
const PrincipalHeader = "X-Principal-ID"

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	logger   *slog.Logger
	sheets   *sheet.Service
	schema   *schema.Registry
	resolver *permission.Resolver
	files    storage.Storage
	db       Pinger
	metrics  *metrics.Metrics
}

type Deps struct {
	Sheets   *sheet.Service
	Schema   *schema.Registry
	Resolver *permission.Resolver
	Files    storage.Storage
	DB       Pinger
	Metrics  *metrics.Metrics
}

func NewHandler(deps Deps, logger *slog.Logger) *Handler {
	return &Handler{
		logger:   logger.With("component", "api"),
		sheets:   deps.Sheets,
		schema:   deps.Schema,
		resolver: deps.Resolver,
		files:    deps.Files,
		db:       deps.DB,
		metrics:  deps.Metrics,
	}
}

// NewApp builds the fiber application with every route registered.
func NewApp(h *Handler, cfg config.ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "sheets",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          h.handleError,
		DisableStartupMessage: true,
	})

	app.Use(telemetry.FiberMiddleware())
	app.Use(h.observe)
	app.Use(recover.New())
	app.Use(middleware.SecurityHeaders())

	app.Get("/healthz", h.Healthy)

	v1 := app.Group("/api/v1", h.authenticate, middleware.RateLimit(cfg.RateLimit, time.Minute, PrincipalHeader))

	v1.Get("/tables", h.ListOwnedTables)
	v1.Post("/tables", h.CreateTable)
	v1.Get("/tables/shared", h.ListSharedTables)
	v1.Get("/shared/:token", h.GetSharedTable)
	v1.Get("/tables/:id", h.GetTable)
	v1.Patch("/tables/:id", h.UpdateTable)
	v1.Delete("/tables/:id", h.DeleteTable)
	v1.Get("/tables/:id/access", h.GetAccess)
	v1.Get("/tables/:id/audit", h.ListAuditEvents)

	v1.Get("/tables/:id/columns", h.ListColumns)
	v1.Post("/tables/:id/columns", h.AddColumn)
	v1.Patch("/tables/:id/columns/:columnID", h.UpdateColumn)
	v1.Delete("/tables/:id/columns/:columnID", h.DeleteColumn)

	v1.Get("/tables/:id/rows", h.ListRows)
	v1.Post("/tables/:id/rows", h.AddRow)
	v1.Patch("/tables/:id/rows", h.UpdateRows)
	v1.Delete("/tables/:id/rows", h.DeleteRows)

	v1.Get("/rows/:id", h.GetRow)
	v1.Put("/rows/:id", h.SaveRow)
	v1.Delete("/rows/:id", h.DeleteRow)
	v1.Post("/rows/:id/lock", h.BeginEdit)
	v1.Delete("/rows/:id/lock", h.ReleaseLock)
	v1.Get("/rows/:id/files/:columnID", h.DownloadFile)

	v1.Put("/tables/:id/permissions/filials/:filialID", h.GrantFilial)
	v1.Delete("/tables/:id/permissions/filials/:filialID", h.RevokeFilial)
	v1.Put("/tables/:id/permissions/users/:principalID", h.GrantUser)
	v1.Delete("/tables/:id/permissions/users/:principalID", h.RevokeUser)
	v1.Post("/tables/:id/user-filials", h.AddUserFilial)
	v1.Delete("/tables/:id/user-filials", h.RemoveUserFilial)
	v1.Post("/tables/:id/finish-editing", h.FinishEditing)
	v1.Post("/tables/:id/filials/:filialID/unlock", h.UnlockFilial)

	v1.Put("/admins/:principalID", h.GrantAdmin)
	v1.Delete("/admins/:principalID", h.RevokeAdmin)

	return app
}

func (h *Handler) Healthy(c *fiber.Ctx) error {
	if h.db != nil {
		if err := h.db.Ping(c.UserContext()); err != nil {
			h.logger.ErrorContext(c.UserContext(), "Database connection failed", "error", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "unhealthy",
				"message": "database connection failed",
			})
		}
	}
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
