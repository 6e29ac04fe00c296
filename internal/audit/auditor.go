package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/google/uuid"
)

type AuditLogEventType string

const (
	AuditLogEventTypeTableCreate            AuditLogEventType = "table.create"
	AuditLogEventTypeTableUpdate            AuditLogEventType = "table.update"
	AuditLogEventTypeTableDelete            AuditLogEventType = "table.delete"
	AuditLogEventTypeColumnCreate           AuditLogEventType = "column.create"
	AuditLogEventTypeColumnUpdate           AuditLogEventType = "column.update"
	AuditLogEventTypeColumnReorder          AuditLogEventType = "column.reorder"
	AuditLogEventTypeColumnDelete           AuditLogEventType = "column.delete"
	AuditLogEventTypeRowCreate              AuditLogEventType = "row.create"
	AuditLogEventTypeRowUpdate              AuditLogEventType = "row.update"
	AuditLogEventTypeRowDelete              AuditLogEventType = "row.delete"
	AuditLogEventTypeFilialPermissionGrant  AuditLogEventType = "filial_permission.grant"
	AuditLogEventTypeFilialPermissionRevoke AuditLogEventType = "filial_permission.revoke"
	AuditLogEventTypeUserPermissionGrant    AuditLogEventType = "user_permission.grant"
	AuditLogEventTypeUserPermissionRevoke   AuditLogEventType = "user_permission.revoke"
	AuditLogEventTypeUserFilialAdd          AuditLogEventType = "user_filial.add"
	AuditLogEventTypeUserFilialRemove       AuditLogEventType = "user_filial.remove"
	AuditLogEventTypeFilialFinish           AuditLogEventType = "filial.finish_editing"
	AuditLogEventTypeFilialUnlock           AuditLogEventType = "filial.unlock"
	AuditLogEventTypeAdminGrant             AuditLogEventType = "admin.grant"
	AuditLogEventTypeAdminRevoke            AuditLogEventType = "admin.revoke"
)

type Auditor struct {
	logger *slog.Logger
	db     database.Store
}

func NewAuditor(logger *slog.Logger, db database.Store) Auditor {
	return Auditor{logger: logger.With("component", "auditor"), db: db}
}

type LogEventParam struct {
	TableID     util.Optional[uuid.UUID]
	PrincipalID uuid.UUID
	Type        AuditLogEventType
	Data        map[string]any
}

// LogEvent records the event through db, which is the caller's transaction
// when the event must commit with the change it describes.
func (a *Auditor) LogEvent(ctx context.Context, db database.Store, params LogEventParam) error {
	data, err := json.Marshal(params.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal audit log event data: %w", err)
	}
	if db == nil {
		db = a.db
	}

	if _, err = db.CreateAuditLogEvent(ctx, database.CreateAuditLogEventParams{
		TableID:     params.TableID,
		PrincipalID: util.Some(params.PrincipalID),
		Type:        string(params.Type),
		Data:        data,
	}); err != nil {
		return fmt.Errorf("failed to create audit log event: %w", err)
	}
	a.logger.DebugContext(ctx, "Audit event recorded", "type", params.Type, "principal_id", params.PrincipalID)
	return nil
}

func (a *Auditor) ListEvents(ctx context.Context, tableID uuid.UUID, limit int) ([]database.AuditLogEvent, error) {
	events, err := a.db.ListAuditLogEvents(ctx, database.ListAuditLogEventsParams{
		TableID: util.Some(tableID),
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log events: %w", err)
	}
	return events, nil
}
