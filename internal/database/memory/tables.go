package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/google/uuid"
)

func (s *Store) CreateTable(ctx context.Context, params database.CreateTableParams) (database.Table, error) {
	defer s.lock()()
	if _, ok := s.state.principals[params.OwnerID]; !ok {
		return database.Table{}, missing("insert table", "owner")
	}
	for _, t := range s.state.tables {
		if t.ShareToken == params.ShareToken {
			return database.Table{}, conflict("insert table", "share_token")
		}
	}

	now := s.timestamp()
	table := database.Table{
		ID:              uuid.New(),
		Title:           params.Title,
		OwnerID:         params.OwnerID,
		ShareToken:      params.ShareToken,
		EditOnlyCreator: params.EditOnlyCreator,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.state.tables[table.ID] = table
	return table, nil
}

func (s *Store) GetTable(ctx context.Context, params database.GetTableParams) (database.Table, error) {
	defer s.lock()()
	if !params.ID.IsSet && !params.ShareToken.IsSet {
		return database.Table{}, database.ErrTableNotFound
	}
	for _, t := range s.state.tables {
		if params.ID.IsSet && t.ID != params.ID.Val {
			continue
		}
		if params.ShareToken.IsSet && t.ShareToken != params.ShareToken.Val {
			continue
		}
		return t, nil
	}
	return database.Table{}, database.ErrTableNotFound
}

func (s *Store) ListTables(ctx context.Context, params database.ListTablesParams) ([]database.Table, error) {
	defer s.lock()()
	var tables []database.Table
	for _, t := range s.state.tables {
		if params.OwnerID.IsSet && t.OwnerID != params.OwnerID.Val {
			continue
		}
		if params.IDs.IsSet && !inSet(params.IDs.Val, t.ID) {
			continue
		}
		tables = append(tables, t)
	}
	slices.SortFunc(tables, func(a, b database.Table) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), compareIDs(a.ID, b.ID))
	})
	return tables, nil
}

func (s *Store) UpdateTable(ctx context.Context, id uuid.UUID, params database.UpdateTableParams) (database.Table, error) {
	defer s.lock()()
	table, ok := s.state.tables[id]
	if !ok {
		return table, database.ErrTableNotFound
	}
	if params.Title.IsSet {
		table.Title = params.Title.Val
	}
	if params.EditOnlyCreator.IsSet {
		table.EditOnlyCreator = params.EditOnlyCreator.Val
	}
	table.UpdatedAt = s.timestamp()
	s.state.tables[id] = table
	return table, nil
}

func (s *Store) DeleteTable(ctx context.Context, id uuid.UUID) error {
	defer s.lock()()
	if _, ok := s.state.tables[id]; !ok {
		return database.ErrTableNotFound
	}
	delete(s.state.tables, id)

	for columnID, column := range s.state.columns {
		if column.TableID == id {
			s.state.deleteColumn(columnID)
		}
	}
	for rowID, row := range s.state.rows {
		if row.TableID == id {
			s.state.deleteRow(rowID)
		}
	}
	for key, p := range s.state.tablePermissions {
		if p.TableID == id {
			delete(s.state.tablePermissions, key)
		}
	}
	for key := range s.state.filialPermissions {
		if key.tableID == id {
			delete(s.state.filialPermissions, key)
		}
	}
	for key, uf := range s.state.userFilials {
		if uf.TableID == id {
			delete(s.state.userFilials, key)
		}
	}
	for key := range s.state.filialLocks {
		if key.tableID == id {
			delete(s.state.filialLocks, key)
		}
	}
	for i, event := range s.state.auditEvents {
		if event.TableID.IsSet && event.TableID.Val == id {
			s.state.auditEvents[i].TableID = util.None[uuid.UUID]()
		}
	}
	return nil
}

func compareIDs(a, b uuid.UUID) int {
	return slices.Compare(a[:], b[:])
}
