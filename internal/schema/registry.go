// Package schema manages the user-defined columns of a table.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/freekieb7/sheets/internal/audit"
	"github.com/freekieb7/sheets/internal/cell"
	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/notify"
	"github.com/freekieb7/sheets/internal/permission"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/google/uuid"
)

type Registry struct {
	db        database.Store
	resolver  *permission.Resolver
	cells     *cell.Store
	auditor   audit.Auditor
	publisher notify.Publisher
	logger    *slog.Logger
}

func NewRegistry(db database.Store, resolver *permission.Resolver, cells *cell.Store, auditor audit.Auditor, publisher notify.Publisher, logger *slog.Logger) *Registry {
	return &Registry{
		db:        db,
		resolver:  resolver,
		cells:     cells,
		auditor:   auditor,
		publisher: publisher,
		logger:    logger.With("component", "schema_registry"),
	}
}

type AddColumnParams struct {
	Name     string
	DataType model.ColumnType
	Required bool
	Choices  []string
}

type UpdateColumnParams struct {
	Name     util.Optional[string]
	Required util.Optional[bool]
	Choices  util.Optional[[]string]
	Order    util.Optional[int]
}

func invalid(name string, kind model.ValidationKind, format string, args ...any) *model.ValidationError {
	return &model.ValidationError{Kind: kind, Column: name, Message: fmt.Sprintf(format, args...)}
}

// normalizeChoices trims the options of a choice column and rejects an empty,
// blank or duplicated list.
func normalizeChoices(name string, choices []string) ([]string, error) {
	normalized := make([]string, 0, len(choices))
	seen := make(map[string]struct{}, len(choices))
	for _, choice := range choices {
		choice = strings.TrimSpace(choice)
		if choice == "" {
			return nil, invalid(name, model.ValidationChoiceInvalid, "options must not be blank")
		}
		if _, ok := seen[choice]; ok {
			return nil, invalid(name, model.ValidationChoiceInvalid, "duplicate option %q", choice)
		}
		seen[choice] = struct{}{}
		normalized = append(normalized, choice)
	}
	if len(normalized) == 0 {
		return nil, invalid(name, model.ValidationChoiceInvalid, "at least one option is required")
	}
	return normalized, nil
}

// manage runs fn in a transaction once actor is known to manage the table.
func (r *Registry) manage(ctx context.Context, actor, tableID uuid.UUID, fn func(tx database.Store, table database.Table) error) error {
	return r.db.InTx(ctx, func(tx database.Store) error {
		table, err := tx.GetTable(ctx, database.GetTableParams{ID: util.Some(tableID)})
		if err != nil {
			return err
		}
		if err := permission.Require(r.resolver.With(tx).CanManage(ctx, actor, table)); err != nil {
			return err
		}
		return fn(tx, table)
	})
}

// AddColumn appends a column after the existing ones.
func (r *Registry) AddColumn(ctx context.Context, actor, tableID uuid.UUID, params AddColumnParams) (database.Column, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return database.Column{}, invalid(params.Name, model.ValidationRequired, "name is required")
	}
	if !params.DataType.IsValid() {
		return database.Column{}, invalid(name, model.ValidationTypeMismatch, "unknown data type %q", params.DataType)
	}

	var choices []string
	if params.DataType == model.ColumnTypeChoice {
		var err error
		if choices, err = normalizeChoices(name, params.Choices); err != nil {
			return database.Column{}, err
		}
	}

	var column database.Column
	err := r.manage(ctx, actor, tableID, func(tx database.Store, table database.Table) error {
		count, err := tx.CountColumns(ctx, table.ID)
		if err != nil {
			return err
		}
		column, err = tx.CreateColumn(ctx, database.CreateColumnParams{
			TableID:  table.ID,
			Name:     name,
			Order:    count,
			Required: params.Required,
			DataType: params.DataType,
			Choices:  choices,
		})
		if err != nil {
			return err
		}
		return r.auditor.LogEvent(ctx, tx, audit.LogEventParam{
			TableID:     util.Some(table.ID),
			PrincipalID: actor,
			Type:        audit.AuditLogEventTypeColumnCreate,
			Data: map[string]any{
				"column_id": column.ID,
				"name":      column.Name,
				"data_type": column.DataType,
				"order":     column.Order,
			},
		})
	})
	if err != nil {
		return database.Column{}, err
	}

	r.publish(ctx, tableID, actor)
	r.logger.InfoContext(ctx, "Column added", "table_id", tableID, "column_id", column.ID, "data_type", column.DataType)
	return column, nil
}

// UpdateColumn edits the column definition. A new order is applied like
// ReorderColumn. The data type never changes once cells may exist.
func (r *Registry) UpdateColumn(ctx context.Context, actor, columnID uuid.UUID, params UpdateColumnParams) (database.Column, error) {
	current, err := r.db.GetColumn(ctx, columnID)
	if err != nil {
		return database.Column{}, err
	}

	update := database.UpdateColumnParams{Required: params.Required}
	if params.Name.IsSet {
		name := strings.TrimSpace(params.Name.Val)
		if name == "" {
			return database.Column{}, invalid(current.Name, model.ValidationRequired, "name is required")
		}
		update.Name = util.Some(name)
	}
	if params.Choices.IsSet {
		if current.DataType != model.ColumnTypeChoice {
			return database.Column{}, invalid(current.Name, model.ValidationTypeMismatch, "only choice columns have options")
		}
		choices, err := normalizeChoices(current.Name, params.Choices.Val)
		if err != nil {
			return database.Column{}, err
		}
		update.Choices = util.Some(choices)
	}

	var column database.Column
	err = r.manage(ctx, actor, current.TableID, func(tx database.Store, table database.Table) error {
		var err error
		column, err = tx.UpdateColumn(ctx, columnID, update)
		if err != nil {
			return err
		}
		if params.Order.IsSet && params.Order.Val != column.Order {
			if column, err = r.reorder(ctx, tx, column, params.Order.Val); err != nil {
				return err
			}
		}
		return r.auditor.LogEvent(ctx, tx, audit.LogEventParam{
			TableID:     util.Some(table.ID),
			PrincipalID: actor,
			Type:        audit.AuditLogEventTypeColumnUpdate,
			Data: map[string]any{
				"column_id": column.ID,
				"name":      column.Name,
				"required":  column.Required,
				"order":     column.Order,
			},
		})
	})
	if err != nil {
		return database.Column{}, err
	}

	r.publish(ctx, column.TableID, actor)
	r.logger.InfoContext(ctx, "Column updated", "table_id", column.TableID, "column_id", column.ID)
	return column, nil
}

// ReorderColumn moves a column to newOrder. The column currently holding
// newOrder takes the moved column's previous order; nothing else shifts.
func (r *Registry) ReorderColumn(ctx context.Context, actor, columnID uuid.UUID, newOrder int) (database.Column, error) {
	current, err := r.db.GetColumn(ctx, columnID)
	if err != nil {
		return database.Column{}, err
	}

	var column database.Column
	err = r.manage(ctx, actor, current.TableID, func(tx database.Store, table database.Table) error {
		moving, err := tx.GetColumn(ctx, columnID)
		if err != nil {
			return err
		}
		previous := moving.Order
		if column, err = r.reorder(ctx, tx, moving, newOrder); err != nil {
			return err
		}
		return r.auditor.LogEvent(ctx, tx, audit.LogEventParam{
			TableID:     util.Some(table.ID),
			PrincipalID: actor,
			Type:        audit.AuditLogEventTypeColumnReorder,
			Data:        map[string]any{"column_id": column.ID, "from": previous, "to": newOrder},
		})
	})
	if err != nil {
		return database.Column{}, err
	}

	r.publish(ctx, column.TableID, actor)
	r.logger.InfoContext(ctx, "Column reordered", "table_id", column.TableID, "column_id", column.ID, "order", newOrder)
	return column, nil
}

// reorder swaps the orders of moving and the holder of newOrder within tx.
func (r *Registry) reorder(ctx context.Context, tx database.Store, moving database.Column, newOrder int) (database.Column, error) {
	if newOrder == moving.Order {
		return moving, nil
	}

	columns, err := tx.ListColumns(ctx, moving.TableID)
	if err != nil {
		return database.Column{}, err
	}
	if newOrder < 0 || newOrder >= len(columns) {
		return database.Column{}, invalid(moving.Name, model.ValidationRangeViolation, "order must be between 0 and %d", len(columns)-1)
	}

	for _, other := range columns {
		if other.ID == moving.ID || other.Order != newOrder {
			continue
		}
		if _, err := tx.UpdateColumn(ctx, other.ID, database.UpdateColumnParams{Order: util.Some(moving.Order)}); err != nil {
			return database.Column{}, err
		}
		break
	}
	return tx.UpdateColumn(ctx, moving.ID, database.UpdateColumnParams{Order: util.Some(newOrder)})
}

// DeleteColumn removes the column and its cells, then releases the blobs of
// its file cells. Later columns move up one place so orders stay dense.
func (r *Registry) DeleteColumn(ctx context.Context, actor, columnID uuid.UUID) error {
	current, err := r.db.GetColumn(ctx, columnID)
	if err != nil {
		return err
	}

	var keys []string
	err = r.manage(ctx, actor, current.TableID, func(tx database.Store, table database.Table) error {
		var err error
		if current.DataType == model.ColumnTypeFile {
			keys, err = r.cells.FileKeys(ctx, tx, database.ListCellsParams{ColumnID: util.Some(columnID)})
			if err != nil {
				return err
			}
		}
		if err := tx.DeleteColumn(ctx, columnID); err != nil {
			return err
		}
		if err := compact(ctx, tx, table.ID, current.Order); err != nil {
			return err
		}
		return r.auditor.LogEvent(ctx, tx, audit.LogEventParam{
			TableID:     util.Some(table.ID),
			PrincipalID: actor,
			Type:        audit.AuditLogEventTypeColumnDelete,
			Data:        map[string]any{"column_id": columnID, "name": current.Name, "released_files": len(keys)},
		})
	})
	if err != nil {
		return err
	}

	r.cells.ReleaseFiles(ctx, keys)
	r.publish(ctx, current.TableID, actor)
	r.logger.InfoContext(ctx, "Column deleted", "table_id", current.TableID, "column_id", columnID)
	return nil
}

func compact(ctx context.Context, tx database.Store, tableID uuid.UUID, removed int) error {
	columns, err := tx.ListColumns(ctx, tableID)
	if err != nil {
		return err
	}
	for _, c := range columns {
		if c.Order <= removed {
			continue
		}
		if _, err := tx.UpdateColumn(ctx, c.ID, database.UpdateColumnParams{Order: util.Some(c.Order - 1)}); err != nil {
			return err
		}
	}
	return nil
}

// ListColumns returns the columns of a table by order.
func (r *Registry) ListColumns(ctx context.Context, tableID uuid.UUID) ([]database.Column, error) {
	columns, err := r.db.ListColumns(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("schema: failed to list columns: %w", err)
	}
	return columns, nil
}

func (r *Registry) publish(ctx context.Context, tableID, actor uuid.UUID) {
	if err := r.publisher.Publish(ctx, notify.Event{
		Type:        notify.EventSchemaChange,
		TableID:     tableID,
		PrincipalID: actor,
	}); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish schema event", "table_id", tableID, "error", err)
	}
}
