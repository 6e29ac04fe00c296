package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/freekieb7/sheets/internal/database"

	"github.com/google/uuid"
)

// AddFilial seeds directory data.
func (s *Store) AddFilial(f database.Filial) {
	defer s.lock()()
	s.state.filials[f.ID] = f
}

// AddPrincipal seeds directory data.
func (s *Store) AddPrincipal(p database.Principal) {
	defer s.lock()()
	s.state.principals[p.ID] = p
}

func (s *Store) GetPrincipal(ctx context.Context, id uuid.UUID) (database.Principal, error) {
	defer s.lock()()
	p, ok := s.state.principals[id]
	if !ok {
		return p, database.ErrPrincipalNotFound
	}
	return p, nil
}

func (s *Store) ListPrincipals(ctx context.Context, ids []uuid.UUID) ([]database.Principal, error) {
	defer s.lock()()
	var principals []database.Principal
	for _, p := range s.state.principals {
		if inSet(ids, p.ID) {
			principals = append(principals, p)
		}
	}
	slices.SortFunc(principals, func(a, b database.Principal) int {
		return strings.Compare(a.Username, b.Username)
	})
	return principals, nil
}

func (s *Store) GetFilial(ctx context.Context, id int64) (database.Filial, error) {
	defer s.lock()()
	f, ok := s.state.filials[id]
	if !ok {
		return f, database.ErrFilialNotFound
	}
	return f, nil
}

func (s *Store) ListFilials(ctx context.Context, params database.ListFilialsParams) ([]database.Filial, error) {
	defer s.lock()()
	var filials []database.Filial
	for _, f := range s.state.filials {
		if params.IDs.IsSet && !inSet(params.IDs.Val, f.ID) {
			continue
		}
		filials = append(filials, f)
	}
	slices.SortFunc(filials, func(a, b database.Filial) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return filials, nil
}

func (s *Store) IsAdmin(ctx context.Context, principalID uuid.UUID) (bool, error) {
	defer s.lock()()
	_, ok := s.state.admins[principalID]
	return ok, nil
}

func (s *Store) CreateAdmin(ctx context.Context, principalID uuid.UUID) error {
	defer s.lock()()
	if _, ok := s.state.principals[principalID]; !ok {
		return missing("insert admin", "principal")
	}
	if _, ok := s.state.admins[principalID]; !ok {
		s.state.admins[principalID] = s.timestamp()
	}
	return nil
}

func (s *Store) DeleteAdmin(ctx context.Context, principalID uuid.UUID) error {
	defer s.lock()()
	delete(s.state.admins, principalID)
	return nil
}
