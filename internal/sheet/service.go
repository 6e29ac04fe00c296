// Package sheet implements the table and row workflows on top of the
// permission, lock, cell and visibility components.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/freekieb7/sheets/internal/audit"
	"github.com/freekieb7/sheets/internal/cell"
	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/lock"
	"github.com/freekieb7/sheets/internal/metrics"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/notify"
	"github.com/freekieb7/sheets/internal/permission"
	"github.com/freekieb7/sheets/internal/util"
	"github.com/freekieb7/sheets/internal/visibility"

	"github.com/google/uuid"
)

const (
	shareTokenLength   = 32
	shareTokenAttempts = 5
	maxTitleLength     = 255
)

type Service struct {
	db        database.Store
	resolver  *permission.Resolver
	locks     *lock.Manager
	cells     *cell.Store
	builder   *visibility.Builder
	auditor   audit.Auditor
	publisher notify.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Deps struct {
	DB        database.Store
	Resolver  *permission.Resolver
	Locks     *lock.Manager
	Cells     *cell.Store
	Builder   *visibility.Builder
	Auditor   audit.Auditor
	Publisher notify.Publisher
	Metrics   *metrics.Metrics
}

func NewService(deps Deps, logger *slog.Logger) *Service {
	return &Service{
		db:        deps.DB,
		resolver:  deps.Resolver,
		locks:     deps.Locks,
		cells:     deps.Cells,
		builder:   deps.Builder,
		auditor:   deps.Auditor,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "sheet_service"),
	}
}

type CreateTableParams struct {
	Title           string
	EditOnlyCreator bool
}

type UpdateTableParams struct {
	Title           util.Optional[string]
	EditOnlyCreator util.Optional[bool]
}

// Access summarizes what a principal may do with one table.
type Access struct {
	CanView           bool    `json:"can_view"`
	CanAdd            bool    `json:"can_add"`
	CanManage         bool    `json:"can_manage"`
	AccessibleFilials []int64 `json:"accessible_filials"`
	AddableFilials    []int64 `json:"addable_filials"`
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", &model.ValidationError{Kind: model.ValidationRequired, Column: "title", Message: "title is required"}
	}
	if len([]rune(title)) > maxTitleLength {
		return "", &model.ValidationError{Kind: model.ValidationRangeViolation, Column: "title", Message: fmt.Sprintf("at most %d characters", maxTitleLength)}
	}
	return title, nil
}

// CreateTable creates an empty table owned by owner with a fresh share token.
func (s *Service) CreateTable(ctx context.Context, owner uuid.UUID, params CreateTableParams) (database.Table, error) {
	title, err := validateTitle(params.Title)
	if err != nil {
		return database.Table{}, err
	}
	if _, err := s.db.GetPrincipal(ctx, owner); err != nil {
		return database.Table{}, err
	}

	var table database.Table
	for attempt := 1; ; attempt++ {
		token, err := util.RandomToken(shareTokenLength)
		if err != nil {
			return database.Table{}, fmt.Errorf("sheet: failed to generate share token: %w", err)
		}

		err = s.db.InTx(ctx, func(tx database.Store) error {
			var err error
			table, err = tx.CreateTable(ctx, database.CreateTableParams{
				Title:           title,
				OwnerID:         owner,
				ShareToken:      token,
				EditOnlyCreator: params.EditOnlyCreator,
			})
			if err != nil {
				return err
			}
			return s.auditor.LogEvent(ctx, tx, audit.LogEventParam{
				TableID:     util.Some(table.ID),
				PrincipalID: owner,
				Type:        audit.AuditLogEventTypeTableCreate,
				Data:        map[string]any{"title": table.Title, "edit_only_creator": table.EditOnlyCreator},
			})
		})
		if err == nil {
			break
		}
		if !errors.Is(err, model.ErrConflict) || attempt == shareTokenAttempts {
			return database.Table{}, err
		}
		s.logger.WarnContext(ctx, "Share token collision, retrying", "attempt", attempt)
	}

	s.logger.InfoContext(ctx, "Table created", "table_id", table.ID, "owner_id", owner)
	return table, nil
}

func (s *Service) manageTable(ctx context.Context, tx database.Store, actor, tableID uuid.UUID) (database.Table, error) {
	table, err := tx.GetTable(ctx, database.GetTableParams{ID: util.Some(tableID)})
	if err != nil {
		return database.Table{}, err
	}
	if err := permission.Require(s.resolver.With(tx).CanManage(ctx, actor, table)); err != nil {
		return database.Table{}, err
	}
	return table, nil
}

// UpdateTable changes the title or the creator-only flag. Owner and admins only.
func (s *Service) UpdateTable(ctx context.Context, actor, tableID uuid.UUID, params UpdateTableParams) (database.Table, error) {
	update := database.UpdateTableParams{EditOnlyCreator: params.EditOnlyCreator}
	if params.Title.IsSet {
		title, err := validateTitle(params.Title.Val)
		if err != nil {
			return database.Table{}, err
		}
		update.Title = util.Some(title)
	}

	var table database.Table
	err := s.db.InTx(ctx, func(tx database.Store) error {
		if _, err := s.manageTable(ctx, tx, actor, tableID); err != nil {
			return err
		}
		var err error
		if table, err = tx.UpdateTable(ctx, tableID, update); err != nil {
			return err
		}
		return s.auditor.LogEvent(ctx, tx, audit.LogEventParam{
			TableID:     util.Some(table.ID),
			PrincipalID: actor,
			Type:        audit.AuditLogEventTypeTableUpdate,
			Data:        map[string]any{"title": table.Title, "edit_only_creator": table.EditOnlyCreator},
		})
	})
	if err != nil {
		return database.Table{}, err
	}
	s.logger.InfoContext(ctx, "Table updated", "table_id", tableID)
	return table, nil
}

// DeleteTable removes the table with everything it holds and releases the
// blobs of its file cells.
func (s *Service) DeleteTable(ctx context.Context, actor, tableID uuid.UUID) error {
	var keys []string
	err := s.db.InTx(ctx, func(tx database.Store) error {
		table, err := s.manageTable(ctx, tx, actor, tableID)
		if err != nil {
			return err
		}
		if keys, err = s.cells.FileKeys(ctx, tx, database.ListCellsParams{TableID: util.Some(table.ID)}); err != nil {
			return err
		}
		if err := tx.DeleteTable(ctx, table.ID); err != nil {
			return err
		}
		// The event outlives the table, so it only names it in its data.
		return s.auditor.LogEvent(ctx, tx, audit.LogEventParam{
			PrincipalID: actor,
			Type:        audit.AuditLogEventTypeTableDelete,
			Data:        map[string]any{"table_id": table.ID, "title": table.Title, "released_files": len(keys)},
		})
	})
	if err != nil {
		return err
	}

	s.cells.ReleaseFiles(ctx, keys)
	s.logger.InfoContext(ctx, "Table deleted", "table_id", tableID, "released_files", len(keys))
	return nil
}

func (s *Service) viewTable(ctx context.Context, principalID uuid.UUID, params database.GetTableParams) (database.Table, error) {
	table, err := s.db.GetTable(ctx, params)
	if err != nil {
		return database.Table{}, err
	}
	if err := permission.Require(s.resolver.CanView(ctx, principalID, table)); err != nil {
		return database.Table{}, err
	}
	return table, nil
}

// GetTable returns the table if the principal may view it.
func (s *Service) GetTable(ctx context.Context, principalID, tableID uuid.UUID) (database.Table, error) {
	return s.viewTable(ctx, principalID, database.GetTableParams{ID: util.Some(tableID)})
}

// GetTableByShareToken resolves a share link. The link grants nothing by
// itself; the principal still needs view access.
func (s *Service) GetTableByShareToken(ctx context.Context, principalID uuid.UUID, token string) (database.Table, error) {
	token = strings.TrimSpace(token)
	if len(token) != shareTokenLength {
		return database.Table{}, database.ErrTableNotFound
	}
	return s.viewTable(ctx, principalID, database.GetTableParams{ShareToken: util.Some(token)})
}

// ListOwnedTables returns the tables of the principal, every table for admins.
func (s *Service) ListOwnedTables(ctx context.Context, principalID uuid.UUID) ([]database.Table, error) {
	admin, err := s.db.IsAdmin(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("sheet: failed to check admin: %w", err)
	}
	params := database.ListTablesParams{}
	if !admin {
		params.OwnerID = util.Some(principalID)
	}
	tables, err := s.db.ListTables(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("sheet: failed to list tables: %w", err)
	}
	return tables, nil
}

// ListSharedTables returns every table the principal may view.
func (s *Service) ListSharedTables(ctx context.Context, principalID uuid.UUID) ([]database.Table, error) {
	return s.resolver.ViewableTables(ctx, principalID)
}

// Access reports the capabilities of the principal on the table.
func (s *Service) Access(ctx context.Context, principalID, tableID uuid.UUID) (Access, error) {
	table, err := s.db.GetTable(ctx, database.GetTableParams{ID: util.Some(tableID)})
	if err != nil {
		return Access{}, err
	}

	var access Access
	if access.CanView, err = s.resolver.CanView(ctx, principalID, table); err != nil {
		return Access{}, err
	}
	if access.CanAdd, err = s.resolver.CanAdd(ctx, principalID, table); err != nil {
		return Access{}, err
	}
	if access.CanManage, err = s.resolver.CanManage(ctx, principalID, table); err != nil {
		return Access{}, err
	}
	if access.AccessibleFilials, err = s.resolver.AccessibleFilials(ctx, principalID, table); err != nil {
		return Access{}, err
	}
	if access.AddableFilials, err = s.resolver.AddableFilials(ctx, principalID, table); err != nil {
		return Access{}, err
	}
	if access.AccessibleFilials == nil {
		access.AccessibleFilials = []int64{}
	}
	if access.AddableFilials == nil {
		access.AddableFilials = []int64{}
	}
	return access, nil
}

// ListColumns returns the columns of a table the principal may view.
func (s *Service) ListColumns(ctx context.Context, principalID, tableID uuid.UUID) ([]database.Column, error) {
	table, err := s.GetTable(ctx, principalID, tableID)
	if err != nil {
		return nil, err
	}
	columns, err := s.db.ListColumns(ctx, table.ID)
	if err != nil {
		return nil, fmt.Errorf("sheet: failed to list columns: %w", err)
	}
	return columns, nil
}

// ListRows returns a page of the rows the principal may view.
func (s *Service) ListRows(ctx context.Context, principalID, tableID uuid.UUID, q visibility.Query) (visibility.Page, error) {
	table, err := s.GetTable(ctx, principalID, tableID)
	if err != nil {
		return visibility.Page{}, err
	}
	return s.builder.ListRows(ctx, principalID, table, q)
}

// AuditLog returns the latest events of a table. Owner and admins only.
func (s *Service) AuditLog(ctx context.Context, actor, tableID uuid.UUID, limit int) ([]database.AuditLogEvent, error) {
	if _, err := s.manageTable(ctx, s.db, actor, tableID); err != nil {
		return nil, err
	}
	return s.auditor.ListEvents(ctx, tableID, limit)
}

func (s *Service) publish(ctx context.Context, eventType notify.EventType, tableID uuid.UUID, rowID util.Optional[uuid.UUID], principalID uuid.UUID) {
	if err := s.publisher.Publish(ctx, notify.Event{
		Type:        eventType,
		TableID:     tableID,
		RowID:       rowID.Ptr(),
		PrincipalID: principalID,
		At:          time.Now().UTC(),
	}); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish event", "type", eventType, "table_id", tableID, "error", err)
	}
}
