package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/freekieb7/sheets/internal/database"

	"github.com/google/uuid"
)

// positionTaken reports whether another column of the table holds order.
func (s *state) positionTaken(tableID, except uuid.UUID, order int) bool {
	for id, c := range s.columns {
		if id != except && c.TableID == tableID && c.Order == order {
			return true
		}
	}
	return false
}

func (s *state) deleteColumn(id uuid.UUID) {
	delete(s.columns, id)
	for key := range s.cells {
		if key.columnID == id {
			delete(s.cells, key)
		}
	}
}

func (s *Store) CreateColumn(ctx context.Context, params database.CreateColumnParams) (database.Column, error) {
	defer s.lock()()
	if _, ok := s.state.tables[params.TableID]; !ok {
		return database.Column{}, missing("insert column", "table")
	}
	if !s.inTx && s.state.positionTaken(params.TableID, uuid.Nil, params.Order) {
		return database.Column{}, conflict("insert column", "position")
	}

	column := database.Column{
		ID:       uuid.New(),
		TableID:  params.TableID,
		Name:     params.Name,
		Order:    params.Order,
		Required: params.Required,
		DataType: params.DataType,
		Choices:  slices.Clone(params.Choices),
	}
	if column.Choices == nil {
		column.Choices = []string{}
	}
	s.state.columns[column.ID] = column
	return column, nil
}

func (s *Store) GetColumn(ctx context.Context, id uuid.UUID) (database.Column, error) {
	defer s.lock()()
	column, ok := s.state.columns[id]
	if !ok {
		return column, database.ErrColumnNotFound
	}
	column.Choices = slices.Clone(column.Choices)
	return column, nil
}

func (s *Store) ListColumns(ctx context.Context, tableID uuid.UUID) ([]database.Column, error) {
	defer s.lock()()
	var columns []database.Column
	for _, c := range s.state.columns {
		if c.TableID == tableID {
			c.Choices = slices.Clone(c.Choices)
			columns = append(columns, c)
		}
	}
	slices.SortFunc(columns, func(a, b database.Column) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), compareIDs(a.ID, b.ID))
	})
	return columns, nil
}

func (s *Store) CountColumns(ctx context.Context, tableID uuid.UUID) (int, error) {
	defer s.lock()()
	count := 0
	for _, c := range s.state.columns {
		if c.TableID == tableID {
			count++
		}
	}
	return count, nil
}

func (s *Store) UpdateColumn(ctx context.Context, id uuid.UUID, params database.UpdateColumnParams) (database.Column, error) {
	defer s.lock()()
	column, ok := s.state.columns[id]
	if !ok {
		return column, database.ErrColumnNotFound
	}
	if params.Name.IsSet {
		column.Name = params.Name.Val
	}
	if params.Order.IsSet {
		if !s.inTx && s.state.positionTaken(column.TableID, id, params.Order.Val) {
			return column, conflict("update column", "position")
		}
		column.Order = params.Order.Val
	}
	if params.Required.IsSet {
		column.Required = params.Required.Val
	}
	if params.Choices.IsSet {
		column.Choices = slices.Clone(params.Choices.Val)
		if column.Choices == nil {
			column.Choices = []string{}
		}
	}
	s.state.columns[id] = column
	column.Choices = slices.Clone(column.Choices)
	return column, nil
}

func (s *Store) DeleteColumn(ctx context.Context, id uuid.UUID) error {
	defer s.lock()()
	if _, ok := s.state.columns[id]; !ok {
		return database.ErrColumnNotFound
	}
	s.state.deleteColumn(id)
	return nil
}
