package memory

import (
	"context"

	"github.com/freekieb7/sheets/internal/database"

	"github.com/google/uuid"
)

func (s *Store) GetCell(ctx context.Context, rowID, columnID uuid.UUID) (database.Cell, error) {
	defer s.lock()()
	cell, ok := s.state.cells[cellKey{rowID, columnID}]
	if !ok {
		return cell, database.ErrCellNotFound
	}
	return cell, nil
}

func (s *Store) ListCells(ctx context.Context, params database.ListCellsParams) ([]database.Cell, error) {
	defer s.lock()()
	var cells []database.Cell
	for key, cell := range s.state.cells {
		if params.TableID.IsSet {
			row, ok := s.state.rows[key.rowID]
			if !ok || row.TableID != params.TableID.Val {
				continue
			}
		}
		if params.RowIDs.IsSet && !inSet(params.RowIDs.Val, key.rowID) {
			continue
		}
		if params.ColumnID.IsSet && key.columnID != params.ColumnID.Val {
			continue
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

func (s *Store) UpsertCell(ctx context.Context, cell database.Cell) (database.Cell, error) {
	defer s.lock()()
	if _, ok := s.state.rows[cell.RowID]; !ok {
		return cell, missing("upsert cell", "row")
	}
	if _, ok := s.state.columns[cell.ColumnID]; !ok {
		return cell, missing("upsert cell", "column")
	}

	key := cellKey{cell.RowID, cell.ColumnID}
	if existing, ok := s.state.cells[key]; ok {
		cell.ID = existing.ID
	} else if cell.ID == uuid.Nil {
		cell.ID = uuid.New()
	}
	cell.UpdatedAt = s.timestamp()
	s.state.cells[key] = cell
	return cell, nil
}

func (s *Store) DeleteCell(ctx context.Context, rowID, columnID uuid.UUID) error {
	defer s.lock()()
	key := cellKey{rowID, columnID}
	if _, ok := s.state.cells[key]; !ok {
		return database.ErrCellNotFound
	}
	delete(s.state.cells, key)
	return nil
}
