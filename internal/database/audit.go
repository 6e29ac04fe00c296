package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (db *Database) CreateAuditLogEvent(ctx context.Context, params CreateAuditLogEventParams) (AuditLogEvent, error) {
	event := AuditLogEvent{
		ID:          uuid.New(),
		TableID:     params.TableID,
		PrincipalID: params.PrincipalID,
		Type:        params.Type,
		Data:        params.Data,
		CreatedAt:   time.Now().UTC(),
	}
	if event.Data == nil {
		event.Data = []byte("{}")
	}

	if _, err := db.conn().Exec(ctx, `INSERT INTO tbl_audit_log_event (id, table_id, principal_id, event_type, event_data, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.TableID, event.PrincipalID, event.Type, event.Data, event.CreatedAt); err != nil {
		return event, fmt.Errorf("database: failed to insert audit log event: %w", err)
	}
	return event, nil
}

func (db *Database) ListAuditLogEvents(ctx context.Context, params ListAuditLogEventsParams) ([]AuditLogEvent, error) {
	var w where
	if params.TableID.IsSet {
		w.add("table_id = $%d", params.TableID.Val)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	w.args = append(w.args, limit)

	rows, err := db.conn().Query(ctx, fmt.Sprintf(`SELECT id, table_id, principal_id, event_type, event_data, created_at FROM tbl_audit_log_event%s ORDER BY created_at DESC LIMIT $%d`, w.String(), len(w.args)), w.args...)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list audit log events: %w", err)
	}
	defer rows.Close()

	var events []AuditLogEvent
	for rows.Next() {
		var event AuditLogEvent
		if err := rows.Scan(&event.ID, &event.TableID, &event.PrincipalID, &event.Type, &event.Data, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("database: failed to scan audit log event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate audit log events: %w", err)
	}
	return events, nil
}
