package sheet

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/freekieb7/sheets/internal/audit"
	"github.com/freekieb7/sheets/internal/cell"
	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/lock"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/notify"
	"github.com/freekieb7/sheets/internal/permission"
	"github.com/freekieb7/sheets/internal/util"
	"github.com/freekieb7/sheets/internal/visibility"

	"github.com/google/uuid"
)

// ErrFilialNotAddable is returned when the principal may not add rows for
// the requested unit, or the unit finished editing.
var ErrFilialNotAddable = fmt.Errorf("filial is not open for new rows: %w", model.ErrAccessDenied)

type AddRowParams struct {
	// FilialID defaults to the home unit of the principal.
	FilialID util.Optional[int64]
	Values   map[uuid.UUID]any
}

// AddRow creates a row for a unit the principal may add to and writes its
// values. Required columns must be filled.
func (s *Service) AddRow(ctx context.Context, principalID, tableID uuid.UUID, params AddRowParams) (visibility.RowView, error) {
	var (
		row     database.Row
		changes cell.FileChanges
	)
	err := s.db.InTx(ctx, func(tx database.Store) error {
		table, err := tx.GetTable(ctx, database.GetTableParams{ID: util.Some(tableID)})
		if err != nil {
			return err
		}

		filialID := params.FilialID
		if !filialID.IsSet {
			principal, err := tx.GetPrincipal(ctx, principalID)
			if err != nil && !errors.Is(err, database.ErrPrincipalNotFound) {
				return err
			}
			filialID = principal.FilialID
		}
		if !filialID.IsSet {
			return permission.ErrNoHomeFilial
		}

		addable, err := s.resolver.With(tx).AddableFilials(ctx, principalID, table)
		if err != nil {
			return err
		}
		if !slices.Contains(addable, filialID.Val) {
			return ErrFilialNotAddable
		}

		count, err := tx.CountRows(ctx, table.ID)
		if err != nil {
			return err
		}
		row, err = tx.CreateRow(ctx, database.CreateRowParams{
			TableID:   table.ID,
			Order:     count,
			FilialID:  filialID,
			CreatedBy: util.Some(principalID),
		})
		if err != nil {
			return err
		}

		columns, err := tx.ListColumns(ctx, table.ID)
		if err != nil {
			return err
		}
		if changes, err = s.cells.SaveRow(ctx, tx, row, columns, params.Values); err != nil {
			return err
		}
		return s.auditor.LogEvent(ctx, tx, audit.LogEventParam{
			TableID:     util.Some(table.ID),
			PrincipalID: principalID,
			Type:        audit.AuditLogEventTypeRowCreate,
			Data:        map[string]any{"row_id": row.ID, "filial_id": filialID.Val},
		})
	})
	s.cells.Settle(ctx, changes, err)
	if err != nil {
		return visibility.RowView{}, err
	}

	s.metrics.RowOperation("create", 1)
	s.publish(ctx, notify.EventRowCreated, tableID, util.Some(row.ID), principalID)
	s.logger.InfoContext(ctx, "Row added", "table_id", tableID, "row_id", row.ID, "principal_id", principalID)
	return s.builder.View(ctx, row)
}

// GetRow returns a row the principal may view.
func (s *Service) GetRow(ctx context.Context, principalID, rowID uuid.UUID) (visibility.RowView, error) {
	row, err := s.db.GetRow(ctx, rowID)
	if err != nil {
		return visibility.RowView{}, err
	}
	table, err := s.db.GetTable(ctx, database.GetTableParams{ID: util.Some(row.TableID)})
	if err != nil {
		return visibility.RowView{}, err
	}
	level, err := s.resolver.EffectiveLevel(ctx, principalID, table, row.FilialID)
	if err != nil {
		return visibility.RowView{}, err
	}
	if !level.Allows(model.ActionView) {
		return visibility.RowView{}, model.ErrAccessDenied
	}
	return s.builder.View(ctx, row)
}

// BeginEdit locks the row for the principal and returns its current values.
func (s *Service) BeginEdit(ctx context.Context, principalID, rowID uuid.UUID) (visibility.RowView, error) {
	row, err := s.db.GetRow(ctx, rowID)
	if err != nil {
		return visibility.RowView{}, err
	}
	if err := permission.Require(s.resolver.CanEdit(ctx, principalID, row)); err != nil {
		return visibility.RowView{}, err
	}
	if _, err := s.locks.Acquire(ctx, rowID, principalID); err != nil {
		return visibility.RowView{}, err
	}
	return s.builder.View(ctx, row)
}

// CancelEdit releases the lock of the principal without writing.
func (s *Service) CancelEdit(ctx context.Context, principalID, rowID uuid.UUID) error {
	return s.locks.Release(ctx, rowID, principalID)
}

// ClearLock removes the lock of any holder. Owner and admins only.
func (s *Service) ClearLock(ctx context.Context, actor, rowID uuid.UUID) error {
	row, err := s.db.GetRow(ctx, rowID)
	if err != nil {
		return err
	}
	if _, err := s.manageTable(ctx, s.db, actor, row.TableID); err != nil {
		return err
	}
	return s.locks.Clear(ctx, rowID, actor)
}

// SaveRow writes the values of a row the principal is editing and releases
// its lock. A free row is locked on the way. Nothing is written and the lock
// stays when any value is rejected.
func (s *Service) SaveRow(ctx context.Context, principalID, rowID uuid.UUID, values map[uuid.UUID]any) (visibility.RowView, error) {
	var (
		row     database.Row
		changes cell.FileChanges
		locks   *lock.Manager
	)
	err := s.db.InTx(ctx, func(tx database.Store) error {
		var err error
		if row, err = tx.GetRow(ctx, rowID); err != nil {
			return err
		}
		if err := permission.Require(s.resolver.With(tx).CanEdit(ctx, principalID, row)); err != nil {
			return err
		}

		locks = s.locks.With(tx)
		if _, err := locks.Acquire(ctx, rowID, principalID); err != nil {
			return err
		}

		columns, err := tx.ListColumns(ctx, row.TableID)
		if err != nil {
			return err
		}
		if changes, err = s.cells.SaveRow(ctx, tx, row, columns, values); err != nil {
			return err
		}
		if row, err = tx.UpdateRow(ctx, row.ID, database.UpdateRowParams{UpdatedBy: util.Some(principalID)}); err != nil {
			return err
		}
		if err := locks.Release(ctx, rowID, principalID); err != nil {
			return err
		}
		return s.auditor.LogEvent(ctx, tx, audit.LogEventParam{
			TableID:     util.Some(row.TableID),
			PrincipalID: principalID,
			Type:        audit.AuditLogEventTypeRowUpdate,
			Data:        map[string]any{"row_id": row.ID, "columns": len(values)},
		})
	})
	s.cells.Settle(ctx, changes, err)
	if err != nil {
		return visibility.RowView{}, err
	}

	locks.Commit(ctx)
	s.metrics.RowOperation("update", 1)
	s.publish(ctx, notify.EventRowUpdated, row.TableID, util.Some(row.ID), principalID)
	s.logger.InfoContext(ctx, "Row saved", "table_id", row.TableID, "row_id", row.ID, "principal_id", principalID)
	return s.builder.View(ctx, row)
}

// rowsOf loads the rows of a table, failing on any id that is not one.
func rowsOf(ctx context.Context, tx database.Store, tableID uuid.UUID, rowIDs []uuid.UUID) ([]database.Row, error) {
	if len(rowIDs) == 0 {
		return nil, &model.ValidationError{Kind: model.ValidationRequired, Column: "row_ids", Message: "no rows selected"}
	}
	rows := make([]database.Row, 0, len(rowIDs))
	for _, id := range rowIDs {
		if slices.ContainsFunc(rows, func(r database.Row) bool { return r.ID == id }) {
			continue
		}
		row, err := tx.GetRow(ctx, id)
		if err != nil {
			return nil, err
		}
		if row.TableID != tableID {
			return nil, fmt.Errorf("sheet: row %s is not part of table %s: %w", id, tableID, database.ErrRowNotFound)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// checkFree fails when another principal holds the lock of the row.
func checkFree(ctx context.Context, tx database.Store, row database.Row, principalID uuid.UUID) error {
	current, err := tx.GetRowLock(ctx, row.ID)
	if errors.Is(err, database.ErrRowLockNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.PrincipalID != principalID {
		return &model.LockConflictError{RowID: row.ID, Holder: current.PrincipalID}
	}
	return nil
}

// DeleteRow removes a single row.
func (s *Service) DeleteRow(ctx context.Context, principalID, rowID uuid.UUID) error {
	row, err := s.db.GetRow(ctx, rowID)
	if err != nil {
		return err
	}
	_, err = s.DeleteRows(ctx, principalID, row.TableID, []uuid.UUID{rowID})
	return err
}

// DeleteRows removes all given rows or none. Each row must be deletable by
// the principal and not locked by anybody else.
// A lock the principal held goes with its row and is reported by the
// row.deleted event alone.
func (s *Service) DeleteRows(ctx context.Context, principalID, tableID uuid.UUID, rowIDs []uuid.UUID) (int, error) {
	var (
		rows []database.Row
		keys []string
	)
	err := s.db.InTx(ctx, func(tx database.Store) error {
		var err error
		if rows, err = rowsOf(ctx, tx, tableID, rowIDs); err != nil {
			return err
		}

		resolver := s.resolver.With(tx)
		ids := make([]uuid.UUID, len(rows))
		for i, row := range rows {
			if err := permission.Require(resolver.CanDelete(ctx, principalID, row)); err != nil {
				return err
			}
			if err := checkFree(ctx, tx, row, principalID); err != nil {
				return err
			}
			ids[i] = row.ID
		}

		if keys, err = s.cells.FileKeys(ctx, tx, database.ListCellsParams{RowIDs: util.Some(ids)}); err != nil {
			return err
		}
		for _, row := range rows {
			if err := tx.DeleteRow(ctx, row.ID); err != nil {
				return err
			}
			if err := s.auditor.LogEvent(ctx, tx, audit.LogEventParam{
				TableID:     util.Some(tableID),
				PrincipalID: principalID,
				Type:        audit.AuditLogEventTypeRowDelete,
				Data:        map[string]any{"row_id": row.ID, "filial_id": row.FilialID.Ptr()},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.cells.ReleaseFiles(ctx, keys)
	s.metrics.RowOperation("delete", len(rows))
	for _, row := range rows {
		s.publish(ctx, notify.EventRowDeleted, tableID, util.Some(row.ID), principalID)
	}
	s.logger.InfoContext(ctx, "Rows deleted", "table_id", tableID, "count", len(rows), "principal_id", principalID)
	return len(rows), nil
}

// UpdateRows writes the same value into one column of all given rows, or
// into none. Each row must be editable by the principal and not locked by
// anybody else. File columns cannot be mass edited.
func (s *Service) UpdateRows(ctx context.Context, principalID, tableID uuid.UUID, rowIDs []uuid.UUID, columnID uuid.UUID, raw any) (int, error) {
	var (
		rows    []database.Row
		changes cell.FileChanges
	)
	err := s.db.InTx(ctx, func(tx database.Store) error {
		column, err := tx.GetColumn(ctx, columnID)
		if err != nil {
			return err
		}
		if column.TableID != tableID {
			return fmt.Errorf("sheet: column %s is not part of table %s: %w", columnID, tableID, database.ErrColumnNotFound)
		}
		if column.DataType == model.ColumnTypeFile {
			return &model.ValidationError{
				Kind:     model.ValidationTypeMismatch,
				ColumnID: column.ID,
				Column:   column.Name,
				Message:  "file columns cannot be edited for several rows at once",
			}
		}

		if rows, err = rowsOf(ctx, tx, tableID, rowIDs); err != nil {
			return err
		}
		resolver := s.resolver.With(tx)
		for i, row := range rows {
			if err := permission.Require(resolver.CanEdit(ctx, principalID, row)); err != nil {
				return err
			}
			if err := checkFree(ctx, tx, row, principalID); err != nil {
				return err
			}

			written, err := s.cells.SaveRow(ctx, tx, row, []database.Column{column}, map[uuid.UUID]any{column.ID: raw})
			changes.Merge(written)
			if err != nil {
				return err
			}
			if rows[i], err = tx.UpdateRow(ctx, row.ID, database.UpdateRowParams{UpdatedBy: util.Some(principalID)}); err != nil {
				return err
			}
		}
		return s.auditor.LogEvent(ctx, tx, audit.LogEventParam{
			TableID:     util.Some(tableID),
			PrincipalID: principalID,
			Type:        audit.AuditLogEventTypeRowUpdate,
			Data:        map[string]any{"column_id": column.ID, "rows": len(rows)},
		})
	})
	s.cells.Settle(ctx, changes, err)
	if err != nil {
		return 0, err
	}

	s.metrics.RowOperation("update", len(rows))
	for _, row := range rows {
		s.publish(ctx, notify.EventRowUpdated, tableID, util.Some(row.ID), principalID)
	}
	s.logger.InfoContext(ctx, "Rows updated", "table_id", tableID, "column_id", columnID, "count", len(rows))
	return len(rows), nil
}
