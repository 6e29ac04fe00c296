package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/freekieb7/sheets/internal/database"

	"github.com/google/uuid"
)

func (s *state) deleteRow(id uuid.UUID) {
	delete(s.rows, id)
	delete(s.rowLocks, id)
	for key := range s.cells {
		if key.rowID == id {
			delete(s.cells, key)
		}
	}
}

func (s *Store) CreateRow(ctx context.Context, params database.CreateRowParams) (database.Row, error) {
	defer s.lock()()
	if _, ok := s.state.tables[params.TableID]; !ok {
		return database.Row{}, missing("insert row", "table")
	}
	if params.FilialID.IsSet {
		if _, ok := s.state.filials[params.FilialID.Val]; !ok {
			return database.Row{}, missing("insert row", "filial")
		}
	}

	now := s.timestamp()
	row := database.Row{
		ID:        uuid.New(),
		TableID:   params.TableID,
		Order:     params.Order,
		FilialID:  params.FilialID,
		CreatedBy: params.CreatedBy,
		UpdatedBy: params.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.state.rows[row.ID] = row
	return row, nil
}

func (s *Store) GetRow(ctx context.Context, id uuid.UUID) (database.Row, error) {
	defer s.lock()()
	row, ok := s.state.rows[id]
	if !ok {
		return row, database.ErrRowNotFound
	}
	return row, nil
}

func (s *Store) ListRows(ctx context.Context, params database.ListRowsParams) ([]database.Row, error) {
	defer s.lock()()
	var rows []database.Row
	for _, r := range s.state.rows {
		if r.TableID != params.TableID {
			continue
		}
		if params.FilialIDs.IsSet && (!r.FilialID.IsSet || !inSet(params.FilialIDs.Val, r.FilialID.Val)) {
			continue
		}
		if params.IDs.IsSet && !inSet(params.IDs.Val, r.ID) {
			continue
		}
		rows = append(rows, r)
	}
	slices.SortFunc(rows, func(a, b database.Row) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), compareIDs(a.ID, b.ID))
	})
	return rows, nil
}

func (s *Store) CountRows(ctx context.Context, tableID uuid.UUID) (int, error) {
	defer s.lock()()
	count := 0
	for _, r := range s.state.rows {
		if r.TableID == tableID {
			count++
		}
	}
	return count, nil
}

func (s *Store) UpdateRow(ctx context.Context, id uuid.UUID, params database.UpdateRowParams) (database.Row, error) {
	defer s.lock()()
	row, ok := s.state.rows[id]
	if !ok {
		return row, database.ErrRowNotFound
	}
	if params.UpdatedBy.IsSet {
		row.UpdatedBy = params.UpdatedBy
	}
	if params.FilialID.IsSet {
		if _, ok := s.state.filials[params.FilialID.Val]; !ok {
			return row, missing("update row", "filial")
		}
		row.FilialID = params.FilialID
	}
	row.UpdatedAt = s.timestamp()
	s.state.rows[id] = row
	return row, nil
}

func (s *Store) DeleteRow(ctx context.Context, id uuid.UUID) error {
	defer s.lock()()
	if _, ok := s.state.rows[id]; !ok {
		return database.ErrRowNotFound
	}
	s.state.deleteRow(id)
	return nil
}
