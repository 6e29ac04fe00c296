package api

import (
	"encoding/json"
	"time"

	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/util"
	"github.com/freekieb7/sheets/internal/visibility"

	"github.com/google/uuid"
)

type TableResponse struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	OwnerID         uuid.UUID `json:"owner_id"`
	ShareToken      string    `json:"share_token"`
	EditOnlyCreator bool      `json:"edit_only_creator"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func newTableResponse(t database.Table) TableResponse {
	return TableResponse{
		ID:              t.ID,
		Title:           t.Title,
		OwnerID:         t.OwnerID,
		ShareToken:      t.ShareToken,
		EditOnlyCreator: t.EditOnlyCreator,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func newTableResponses(tables []database.Table) []TableResponse {
	out := make([]TableResponse, len(tables))
	for i, t := range tables {
		out[i] = newTableResponse(t)
	}
	return out
}

type ColumnResponse struct {
	ID       uuid.UUID        `json:"id"`
	TableID  uuid.UUID        `json:"table_id"`
	Name     string           `json:"name"`
	Order    int              `json:"order"`
	Required bool             `json:"required"`
	DataType model.ColumnType `json:"data_type"`
	Choices  []string         `json:"choices,omitempty"`
}

func newColumnResponse(c database.Column) ColumnResponse {
	return ColumnResponse{
		ID:       c.ID,
		TableID:  c.TableID,
		Name:     c.Name,
		Order:    c.Order,
		Required: c.Required,
		DataType: c.DataType,
		Choices:  c.Choices,
	}
}

type RowResponse struct {
	ID            uuid.UUID                 `json:"id"`
	TableID       uuid.UUID                 `json:"table_id"`
	Order         int                       `json:"order"`
	FilialID      util.Optional[int64]      `json:"filial_id"`
	FilialName    string                    `json:"filial_name"`
	CreatedBy     util.Optional[uuid.UUID]  `json:"created_by"`
	CreatedByName string                    `json:"created_by_name"`
	UpdatedBy     util.Optional[uuid.UUID]  `json:"updated_by"`
	UpdatedByName string                    `json:"updated_by_name"`
	LockedBy      util.Optional[uuid.UUID]  `json:"locked_by"`
	Values        map[uuid.UUID]model.Value `json:"values"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

func newRowResponse(v visibility.RowView) RowResponse {
	return RowResponse{
		ID:            v.Row.ID,
		TableID:       v.Row.TableID,
		Order:         v.Row.Order,
		FilialID:      v.Row.FilialID,
		FilialName:    v.FilialName,
		CreatedBy:     v.Row.CreatedBy,
		CreatedByName: v.CreatedByName,
		UpdatedBy:     v.Row.UpdatedBy,
		UpdatedByName: v.UpdatedByName,
		LockedBy:      v.LockedBy,
		Values:        v.Values,
		CreatedAt:     v.Row.CreatedAt,
		UpdatedAt:     v.Row.UpdatedAt,
	}
}

type AuditEventResponse struct {
	ID          uuid.UUID                `json:"id"`
	PrincipalID util.Optional[uuid.UUID] `json:"principal_id"`
	Type        string                   `json:"type"`
	Data        json.RawMessage          `json:"data"`
	CreatedAt   time.Time                `json:"created_at"`
}

func newAuditEventResponse(e database.AuditLogEvent) AuditEventResponse {
	return AuditEventResponse{
		ID:          e.ID,
		PrincipalID: e.PrincipalID,
		Type:        e.Type,
		Data:        e.Data,
		CreatedAt:   e.CreatedAt,
	}
}
