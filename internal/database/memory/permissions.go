package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/google/uuid"
)

func (s *state) checkGrantRefs(action string, tableID, principalID uuid.UUID, filialID util.Optional[int64]) error {
	if _, ok := s.tables[tableID]; !ok {
		return missing(action, "table")
	}
	if principalID != uuid.Nil {
		if _, ok := s.principals[principalID]; !ok {
			return missing(action, "principal")
		}
	}
	if filialID.IsSet {
		if _, ok := s.filials[filialID.Val]; !ok {
			return missing(action, "filial")
		}
	}
	return nil
}

func (s *Store) ListTablePermissions(ctx context.Context, params database.ListTablePermissionsParams) ([]database.TablePermission, error) {
	defer s.lock()()
	var permissions []database.TablePermission
	for _, p := range s.state.tablePermissions {
		if params.TableID.IsSet && p.TableID != params.TableID.Val {
			continue
		}
		if params.PrincipalID.IsSet && p.PrincipalID != params.PrincipalID.Val {
			continue
		}
		permissions = append(permissions, p)
	}
	slices.SortFunc(permissions, func(a, b database.TablePermission) int {
		if c := compareIDs(a.PrincipalID, b.PrincipalID); c != 0 {
			return c
		}
		if a.FilialID.IsSet != b.FilialID.IsSet {
			if !a.FilialID.IsSet {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.FilialID.Val, b.FilialID.Val)
	})
	return permissions, nil
}

func (s *Store) UpsertTablePermission(ctx context.Context, params database.UpsertTablePermissionParams) (database.TablePermission, error) {
	defer s.lock()()
	if err := s.state.checkGrantRefs("upsert table permission", params.TableID, params.PrincipalID, params.FilialID); err != nil {
		return database.TablePermission{}, err
	}

	for id, p := range s.state.tablePermissions {
		if p.TableID == params.TableID && p.PrincipalID == params.PrincipalID && util.Equal(p.FilialID, params.FilialID) {
			p.Type = params.Type
			s.state.tablePermissions[id] = p
			return p, nil
		}
	}
	p := database.TablePermission{
		ID:          uuid.New(),
		TableID:     params.TableID,
		PrincipalID: params.PrincipalID,
		FilialID:    params.FilialID,
		Type:        params.Type,
	}
	s.state.tablePermissions[p.ID] = p
	return p, nil
}

func (s *Store) DeleteTablePermission(ctx context.Context, params database.DeleteTablePermissionParams) error {
	defer s.lock()()
	for id, p := range s.state.tablePermissions {
		if p.TableID == params.TableID && p.PrincipalID == params.PrincipalID && util.Equal(p.FilialID, params.FilialID) {
			delete(s.state.tablePermissions, id)
			return nil
		}
	}
	return database.ErrTablePermissionNotFound
}

func (s *Store) ListFilialPermissions(ctx context.Context, params database.ListFilialPermissionsParams) ([]database.FilialPermission, error) {
	defer s.lock()()
	var permissions []database.FilialPermission
	for key, p := range s.state.filialPermissions {
		if params.TableID.IsSet && key.tableID != params.TableID.Val {
			continue
		}
		if params.FilialIDs.IsSet && !inSet(params.FilialIDs.Val, key.filialID) {
			continue
		}
		permissions = append(permissions, p)
	}
	slices.SortFunc(permissions, func(a, b database.FilialPermission) int {
		return cmp.Or(cmp.Compare(a.FilialID, b.FilialID), compareIDs(a.TableID, b.TableID))
	})
	return permissions, nil
}

func (s *Store) UpsertFilialPermission(ctx context.Context, params database.UpsertFilialPermissionParams) (database.FilialPermission, error) {
	defer s.lock()()
	if err := s.state.checkGrantRefs("upsert filial permission", params.TableID, uuid.Nil, util.Some(params.FilialID)); err != nil {
		return database.FilialPermission{}, err
	}

	key := filialKey{params.TableID, params.FilialID}
	p, ok := s.state.filialPermissions[key]
	if !ok {
		p = database.FilialPermission{
			ID:       uuid.New(),
			TableID:  params.TableID,
			FilialID: params.FilialID,
		}
	}
	p.Type = params.Type
	s.state.filialPermissions[key] = p
	return p, nil
}

func (s *Store) DeleteFilialPermission(ctx context.Context, tableID uuid.UUID, filialID int64) error {
	defer s.lock()()
	key := filialKey{tableID, filialID}
	if _, ok := s.state.filialPermissions[key]; !ok {
		return database.ErrFilialPermissionNotFound
	}
	delete(s.state.filialPermissions, key)
	return nil
}

func (s *Store) ListUserFilials(ctx context.Context, params database.ListUserFilialsParams) ([]database.UserFilial, error) {
	defer s.lock()()
	var result []database.UserFilial
	for _, uf := range s.state.userFilials {
		if params.TableID.IsSet && uf.TableID != params.TableID.Val {
			continue
		}
		if params.PrincipalID.IsSet && uf.PrincipalID != params.PrincipalID.Val {
			continue
		}
		result = append(result, uf)
	}
	slices.SortFunc(result, func(a, b database.UserFilial) int {
		return cmp.Or(compareIDs(a.PrincipalID, b.PrincipalID), cmp.Compare(a.FilialID, b.FilialID))
	})
	return result, nil
}

func (s *Store) CreateUserFilial(ctx context.Context, params database.CreateUserFilialParams) (database.UserFilial, error) {
	defer s.lock()()
	if err := s.state.checkGrantRefs("insert user filial", params.TableID, params.PrincipalID, util.Some(params.FilialID)); err != nil {
		return database.UserFilial{}, err
	}
	for _, uf := range s.state.userFilials {
		if uf.TableID == params.TableID && uf.PrincipalID == params.PrincipalID && uf.FilialID == params.FilialID {
			return database.UserFilial{}, conflict("insert user filial", "uq_user_filial")
		}
	}

	uf := database.UserFilial{
		ID:          uuid.New(),
		TableID:     params.TableID,
		PrincipalID: params.PrincipalID,
		FilialID:    params.FilialID,
	}
	s.state.userFilials[uf.ID] = uf
	return uf, nil
}

func (s *Store) DeleteUserFilial(ctx context.Context, params database.DeleteUserFilialParams) error {
	defer s.lock()()
	for id, uf := range s.state.userFilials {
		if uf.TableID == params.TableID && uf.PrincipalID == params.PrincipalID && uf.FilialID == params.FilialID {
			delete(s.state.userFilials, id)
			return nil
		}
	}
	return database.ErrUserFilialNotFound
}
