package api

import (
	"strconv"

	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type LevelRequest struct {
	// Level is a storage code such as "RWN".
	Level model.PermissionType `json:"level"`
	// FilialID scopes a user override; null applies it to every unit.
	FilialID util.Optional[int64] `json:"filial_id"`
}

type UserFilialRequest struct {
	PrincipalID uuid.UUID `json:"principal_id"`
	FilialID    int64     `json:"filial_id"`
}

// parseLevel reads a LevelRequest and requires its level to be present.
func parseLevel(c *fiber.Ctx) (LevelRequest, error) {
	req := LevelRequest{Level: -1}
	if err := parseBody(c, &req); err != nil {
		return LevelRequest{}, err
	}
	if !req.Level.IsValid() {
		return LevelRequest{}, fiber.NewError(fiber.StatusBadRequest, "level is required")
	}
	return req, nil
}

func (h *Handler) GrantFilial(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	filialID, err := int64Param(c, "filialID")
	if err != nil {
		return err
	}
	req, err := parseLevel(c)
	if err != nil {
		return err
	}
	grant, err := h.resolver.GrantFilial(c.UserContext(), principal(c), tableID, filialID, req.Level)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"table_id": grant.TableID, "filial_id": grant.FilialID, "level": grant.Type})
}

func (h *Handler) RevokeFilial(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	filialID, err := int64Param(c, "filialID")
	if err != nil {
		return err
	}
	if err := h.resolver.RevokeFilial(c.UserContext(), principal(c), tableID, filialID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) GrantUser(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	principalID, err := uuidParam(c, "principalID")
	if err != nil {
		return err
	}
	req, err := parseLevel(c)
	if err != nil {
		return err
	}
	grant, err := h.resolver.GrantUser(c.UserContext(), principal(c), tableID, principalID, req.FilialID, req.Level)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"table_id":     grant.TableID,
		"principal_id": grant.PrincipalID,
		"filial_id":    grant.FilialID,
		"level":        grant.Type,
	})
}

// RevokeUser removes an override; ?filial_id=<id> selects a unit-scoped one.
func (h *Handler) RevokeUser(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	principalID, err := uuidParam(c, "principalID")
	if err != nil {
		return err
	}
	filialID := util.None[int64]()
	if raw := c.Query("filial_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid filial_id")
		}
		filialID = util.Some(id)
	}
	if err := h.resolver.RevokeUser(c.UserContext(), principal(c), tableID, principalID, filialID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) AddUserFilial(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req UserFilialRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	uf, err := h.resolver.AddUserFilial(c.UserContext(), principal(c), tableID, req.PrincipalID, req.FilialID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"table_id":     uf.TableID,
		"principal_id": uf.PrincipalID,
		"filial_id":    uf.FilialID,
	})
}

func (h *Handler) RemoveUserFilial(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req UserFilialRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := h.resolver.RemoveUserFilial(c.UserContext(), principal(c), tableID, req.PrincipalID, req.FilialID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) FinishEditing(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	lock, err := h.resolver.FinishEditing(c.UserContext(), principal(c), tableID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"table_id":  lock.TableID,
		"filial_id": lock.FilialID,
		"locked_by": lock.LockedBy,
		"locked_at": lock.LockedAt,
	})
}

func (h *Handler) UnlockFilial(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	filialID, err := int64Param(c, "filialID")
	if err != nil {
		return err
	}
	req, err := parseLevel(c)
	if err != nil {
		return err
	}
	if err := h.resolver.UnlockFilial(c.UserContext(), principal(c), tableID, filialID, req.Level); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) GrantAdmin(c *fiber.Ctx) error {
	principalID, err := uuidParam(c, "principalID")
	if err != nil {
		return err
	}
	if err := h.resolver.GrantAdmin(c.UserContext(), principal(c), principalID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) RevokeAdmin(c *fiber.Ctx) error {
	principalID, err := uuidParam(c, "principalID")
	if err != nil {
		return err
	}
	if err := h.resolver.RevokeAdmin(c.UserContext(), principal(c), principalID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
