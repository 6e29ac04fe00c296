package memory

import (
	"context"
	"slices"

	"github.com/freekieb7/sheets/internal/database"

	"github.com/google/uuid"
)

func (s *Store) CreateAuditLogEvent(ctx context.Context, params database.CreateAuditLogEventParams) (database.AuditLogEvent, error) {
	defer s.lock()()
	event := database.AuditLogEvent{
		ID:          uuid.New(),
		TableID:     params.TableID,
		PrincipalID: params.PrincipalID,
		Type:        params.Type,
		Data:        slices.Clone(params.Data),
		CreatedAt:   s.timestamp(),
	}
	if event.Data == nil {
		event.Data = []byte("{}")
	}
	s.state.auditEvents = append(s.state.auditEvents, event)
	return event, nil
}

// ListAuditLogEvents returns the newest events first.
func (s *Store) ListAuditLogEvents(ctx context.Context, params database.ListAuditLogEventsParams) ([]database.AuditLogEvent, error) {
	defer s.lock()()
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	var events []database.AuditLogEvent
	for i := len(s.state.auditEvents) - 1; i >= 0 && len(events) < limit; i-- {
		event := s.state.auditEvents[i]
		if params.TableID.IsSet && (!event.TableID.IsSet || event.TableID.Val != params.TableID.Val) {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}
