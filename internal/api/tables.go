package api

import (
	"slices"

	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/schema"
	"github.com/freekieb7/sheets/internal/sheet"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type CreateTableRequest struct {
	Title           string `json:"title"`
	EditOnlyCreator bool   `json:"edit_only_creator"`
}

type UpdateTableRequest struct {
	Title           util.Optional[string] `json:"title"`
	EditOnlyCreator util.Optional[bool]   `json:"edit_only_creator"`
}

func (h *Handler) ListOwnedTables(c *fiber.Ctx) error {
	tables, err := h.sheets.ListOwnedTables(c.UserContext(), principal(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": newTableResponses(tables)})
}

func (h *Handler) ListSharedTables(c *fiber.Ctx) error {
	tables, err := h.sheets.ListSharedTables(c.UserContext(), principal(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": newTableResponses(tables)})
}

func (h *Handler) CreateTable(c *fiber.Ctx) error {
	var req CreateTableRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	table, err := h.sheets.CreateTable(c.UserContext(), principal(c), sheet.CreateTableParams{
		Title:           req.Title,
		EditOnlyCreator: req.EditOnlyCreator,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(newTableResponse(table))
}

func (h *Handler) GetTable(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	table, err := h.sheets.GetTable(c.UserContext(), principal(c), tableID)
	if err != nil {
		return err
	}
	return c.JSON(newTableResponse(table))
}

func (h *Handler) GetSharedTable(c *fiber.Ctx) error {
	table, err := h.sheets.GetTableByShareToken(c.UserContext(), principal(c), c.Params("token"))
	if err != nil {
		return err
	}
	return c.JSON(newTableResponse(table))
}

func (h *Handler) UpdateTable(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req UpdateTableRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	table, err := h.sheets.UpdateTable(c.UserContext(), principal(c), tableID, sheet.UpdateTableParams{
		Title:           req.Title,
		EditOnlyCreator: req.EditOnlyCreator,
	})
	if err != nil {
		return err
	}
	return c.JSON(newTableResponse(table))
}

func (h *Handler) DeleteTable(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.sheets.DeleteTable(c.UserContext(), principal(c), tableID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) GetAccess(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	access, err := h.sheets.Access(c.UserContext(), principal(c), tableID)
	if err != nil {
		return err
	}
	return c.JSON(access)
}

func (h *Handler) ListAuditEvents(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	events, err := h.sheets.AuditLog(c.UserContext(), principal(c), tableID, c.QueryInt("limit", 100))
	if err != nil {
		return err
	}
	items := make([]AuditEventResponse, len(events))
	for i, e := range events {
		items[i] = newAuditEventResponse(e)
	}
	return c.JSON(fiber.Map{"items": items})
}

type AddColumnRequest struct {
	Name     string   `json:"name"`
	DataType string   `json:"data_type"`
	Required bool     `json:"required"`
	Choices  []string `json:"choices"`
}

type UpdateColumnRequest struct {
	Name     util.Optional[string]   `json:"name"`
	Required util.Optional[bool]     `json:"required"`
	Choices  util.Optional[[]string] `json:"choices"`
	Order    util.Optional[int]      `json:"order"`
}

func (h *Handler) ListColumns(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	columns, err := h.sheets.ListColumns(c.UserContext(), principal(c), tableID)
	if err != nil {
		return err
	}
	items := make([]ColumnResponse, len(columns))
	for i, column := range columns {
		items[i] = newColumnResponse(column)
	}
	return c.JSON(fiber.Map{"items": items})
}

func (h *Handler) AddColumn(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req AddColumnRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	column, err := h.schema.AddColumn(c.UserContext(), principal(c), tableID, schema.AddColumnParams{
		Name:     req.Name,
		DataType: model.ColumnType(req.DataType),
		Required: req.Required,
		Choices:  req.Choices,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(newColumnResponse(column))
}

// tableColumn loads the column named in the path and checks it belongs to
// the table of the path.
func (h *Handler) tableColumn(c *fiber.Ctx) (uuid.UUID, error) {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return uuid.Nil, err
	}
	columnID, err := uuidParam(c, "columnID")
	if err != nil {
		return uuid.Nil, err
	}
	columns, err := h.sheets.ListColumns(c.UserContext(), principal(c), tableID)
	if err != nil {
		return uuid.Nil, err
	}
	if !slices.ContainsFunc(columns, func(col database.Column) bool { return col.ID == columnID }) {
		return uuid.Nil, database.ErrColumnNotFound
	}
	return columnID, nil
}

func (h *Handler) UpdateColumn(c *fiber.Ctx) error {
	columnID, err := h.tableColumn(c)
	if err != nil {
		return err
	}
	var req UpdateColumnRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	column, err := h.schema.UpdateColumn(c.UserContext(), principal(c), columnID, schema.UpdateColumnParams{
		Name:     req.Name,
		Required: req.Required,
		Choices:  req.Choices,
		Order:    req.Order,
	})
	if err != nil {
		return err
	}
	return c.JSON(newColumnResponse(column))
}

func (h *Handler) DeleteColumn(c *fiber.Ctx) error {
	columnID, err := h.tableColumn(c)
	if err != nil {
		return err
	}
	if err := h.schema.DeleteColumn(c.UserContext(), principal(c), columnID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
