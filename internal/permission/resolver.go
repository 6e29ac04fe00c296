// Package permission decides what a principal may do with a table and its
// rows. Every check runs the same ordered pipeline: owner and admin first,
// then the user override for the unit, then the unit grant, then the
// creator-only restriction of the table.
package permission

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/freekieb7/sheets/internal/audit"
	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/metrics"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/google/uuid"
)

type Resolver struct {
	db      database.Store
	auditor audit.Auditor
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewResolver(db database.Store, auditor audit.Auditor, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	return &Resolver{
		db:      db,
		auditor: auditor,
		metrics: m,
		logger:  logger.With("component", "permission_resolver"),
	}
}

// With returns a resolver reading through db, typically an open transaction.
func (r *Resolver) With(db database.Store) *Resolver {
	clone := *r
	clone.db = db
	return &clone
}

// Require turns a denial into model.ErrAccessDenied.
func Require(allowed bool, err error) error {
	if err != nil {
		return err
	}
	if !allowed {
		return model.ErrAccessDenied
	}
	return nil
}

// subject holds the permission records of one principal on one table.
type subject struct {
	principalID uuid.UUID
	table       database.Table
	privileged  bool

	// home unit plus the units added for this table
	units     []int64
	overrides map[int64]model.PermissionType
	global    util.Optional[model.PermissionType]
	grants    map[int64]model.PermissionType
}

func (r *Resolver) isPrivileged(ctx context.Context, principalID uuid.UUID, table database.Table) (bool, error) {
	if table.OwnerID == principalID {
		return true, nil
	}
	admin, err := r.db.IsAdmin(ctx, principalID)
	if err != nil {
		return false, fmt.Errorf("permission: failed to check admin: %w", err)
	}
	return admin, nil
}

func (r *Resolver) load(ctx context.Context, principalID uuid.UUID, table database.Table) (*subject, error) {
	s := &subject{principalID: principalID, table: table}

	privileged, err := r.isPrivileged(ctx, principalID, table)
	if err != nil {
		return nil, err
	}
	if privileged {
		s.privileged = true
		return s, nil
	}

	// A principal missing from the directory has no home unit but may still
	// hold explicit overrides.
	principal, err := r.db.GetPrincipal(ctx, principalID)
	if err != nil && !errors.Is(err, database.ErrPrincipalNotFound) {
		return nil, fmt.Errorf("permission: failed to get principal: %w", err)
	}
	if principal.FilialID.IsSet {
		s.units = append(s.units, principal.FilialID.Val)
	}

	extra, err := r.db.ListUserFilials(ctx, database.ListUserFilialsParams{
		TableID:     util.Some(table.ID),
		PrincipalID: util.Some(principalID),
	})
	if err != nil {
		return nil, fmt.Errorf("permission: failed to list user filials: %w", err)
	}
	for _, uf := range extra {
		if !slices.Contains(s.units, uf.FilialID) {
			s.units = append(s.units, uf.FilialID)
		}
	}

	overrides, err := r.db.ListTablePermissions(ctx, database.ListTablePermissionsParams{
		TableID:     util.Some(table.ID),
		PrincipalID: util.Some(principalID),
	})
	if err != nil {
		return nil, fmt.Errorf("permission: failed to list table permissions: %w", err)
	}
	s.overrides = make(map[int64]model.PermissionType, len(overrides))
	for _, p := range overrides {
		if p.FilialID.IsSet {
			s.overrides[p.FilialID.Val] = p.Type
		} else {
			s.global = util.Some(p.Type)
		}
	}

	grants, err := r.db.ListFilialPermissions(ctx, database.ListFilialPermissionsParams{
		TableID: util.Some(table.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("permission: failed to list filial permissions: %w", err)
	}
	s.grants = make(map[int64]model.PermissionType, len(grants))
	for _, g := range grants {
		s.grants[g.FilialID] = model.MaxPermission(s.grants[g.FilialID], g.Type)
	}
	return s, nil
}

// effective resolves the level for one unit. A user override scoped to the
// unit wins, then an override without unit, then the unit grant when the unit
// is one the principal acts for.
func (s *subject) effective(unit util.Optional[int64]) model.PermissionType {
	if s.privileged {
		return model.PermissionEditViewDelete
	}
	if !unit.IsSet {
		return s.global.UnwrapOr(model.PermissionNoAccess)
	}
	if level, ok := s.overrides[unit.Val]; ok {
		return level
	}
	if s.global.IsSet {
		return s.global.Val
	}
	if slices.Contains(s.units, unit.Val) {
		return s.grants[unit.Val]
	}
	return model.PermissionNoAccess
}

// candidates lists the units a table-level check iterates: the home unit
// and the units added for the table. An override without unit applies to
// every unit of the directory. A unit-scoped override only counts when its
// unit is already a candidate, or for rows of that unit.
func (r *Resolver) candidates(ctx context.Context, s *subject) ([]int64, error) {
	if s.privileged || s.global.IsSet {
		return r.allFilials(ctx)
	}
	units := slices.Clone(s.units)
	slices.Sort(units)
	return units, nil
}

func (r *Resolver) allFilials(ctx context.Context) ([]int64, error) {
	filials, err := r.db.ListFilials(ctx, database.ListFilialsParams{})
	if err != nil {
		return nil, fmt.Errorf("permission: failed to list filials: %w", err)
	}
	ids := make([]int64, len(filials))
	for i, f := range filials {
		ids[i] = f.ID
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *Resolver) allowsTable(ctx context.Context, principalID uuid.UUID, table database.Table, action model.Action) (bool, error) {
	s, err := r.load(ctx, principalID, table)
	if err != nil {
		return false, err
	}
	if s.privileged {
		return r.decide(action, true), nil
	}

	units, err := r.candidates(ctx, s)
	if err != nil {
		return false, err
	}
	for _, unit := range units {
		if s.effective(util.Some(unit)).Allows(action) {
			return r.decide(action, true), nil
		}
	}
	return r.decide(action, false), nil
}

func (r *Resolver) allowsRow(ctx context.Context, principalID uuid.UUID, row database.Row, action model.Action) (bool, error) {
	table, err := r.db.GetTable(ctx, database.GetTableParams{ID: util.Some(row.TableID)})
	if err != nil {
		return false, fmt.Errorf("permission: failed to get table: %w", err)
	}

	s, err := r.load(ctx, principalID, table)
	if err != nil {
		return false, err
	}
	if s.privileged {
		return r.decide(action, true), nil
	}
	if !s.effective(row.FilialID).Allows(action) {
		return r.decide(action, false), nil
	}
	if table.EditOnlyCreator && !util.Equal(row.CreatedBy, util.Some(principalID)) {
		return r.decide(action, false), nil
	}
	return r.decide(action, true), nil
}

func (r *Resolver) decide(action model.Action, allowed bool) bool {
	r.metrics.PermissionCheck(string(action), allowed)
	return allowed
}

func (r *Resolver) CanView(ctx context.Context, principalID uuid.UUID, table database.Table) (bool, error) {
	return r.allowsTable(ctx, principalID, table, model.ActionView)
}

func (r *Resolver) CanAdd(ctx context.Context, principalID uuid.UUID, table database.Table) (bool, error) {
	return r.allowsTable(ctx, principalID, table, model.ActionAdd)
}

func (r *Resolver) CanEdit(ctx context.Context, principalID uuid.UUID, row database.Row) (bool, error) {
	return r.allowsRow(ctx, principalID, row, model.ActionEdit)
}

func (r *Resolver) CanDelete(ctx context.Context, principalID uuid.UUID, row database.Row) (bool, error) {
	return r.allowsRow(ctx, principalID, row, model.ActionDelete)
}

// CanManage reports whether the principal may change the schema and the
// grants of the table: only the owner and admins may.
func (r *Resolver) CanManage(ctx context.Context, principalID uuid.UUID, table database.Table) (bool, error) {
	privileged, err := r.isPrivileged(ctx, principalID, table)
	if err != nil {
		return false, err
	}
	return r.decide("manage", privileged), nil
}

// IsPrivileged reports whether the principal bypasses every check of the table.
func (r *Resolver) IsPrivileged(ctx context.Context, principalID uuid.UUID, table database.Table) (bool, error) {
	return r.isPrivileged(ctx, principalID, table)
}

// EffectiveLevel returns the level governing the principal on one unit of the
// table. A None unit resolves rows that belong to no unit.
func (r *Resolver) EffectiveLevel(ctx context.Context, principalID uuid.UUID, table database.Table, unit util.Optional[int64]) (model.PermissionType, error) {
	s, err := r.load(ctx, principalID, table)
	if err != nil {
		return model.PermissionNoAccess, err
	}
	return s.effective(unit), nil
}

// AccessibleFilials returns the units whose rows the principal may view.
func (r *Resolver) AccessibleFilials(ctx context.Context, principalID uuid.UUID, table database.Table) ([]int64, error) {
	s, err := r.load(ctx, principalID, table)
	if err != nil {
		return nil, err
	}
	units, err := r.candidates(ctx, s)
	if err != nil {
		return nil, err
	}
	if s.privileged {
		return units, nil
	}
	return slices.DeleteFunc(units, func(unit int64) bool {
		return !s.effective(util.Some(unit)).Allows(model.ActionView)
	}), nil
}

// AddableFilials returns the units the principal may create rows for. Units
// that finished editing are excluded for everybody but the owner and admins.
func (r *Resolver) AddableFilials(ctx context.Context, principalID uuid.UUID, table database.Table) ([]int64, error) {
	s, err := r.load(ctx, principalID, table)
	if err != nil {
		return nil, err
	}
	units, err := r.candidates(ctx, s)
	if err != nil {
		return nil, err
	}
	if s.privileged {
		return units, nil
	}

	locks, err := r.db.ListFilialLocks(ctx, table.ID)
	if err != nil {
		return nil, fmt.Errorf("permission: failed to list filial locks: %w", err)
	}
	locked := make([]int64, len(locks))
	for i, l := range locks {
		locked[i] = l.FilialID
	}

	return slices.DeleteFunc(units, func(unit int64) bool {
		return slices.Contains(locked, unit) || !s.effective(util.Some(unit)).Allows(model.ActionAdd)
	}), nil
}

// ViewableTables lists the tables the principal owns or may view, newest first.
func (r *Resolver) ViewableTables(ctx context.Context, principalID uuid.UUID) ([]database.Table, error) {
	admin, err := r.db.IsAdmin(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("permission: failed to check admin: %w", err)
	}
	if admin {
		tables, err := r.db.ListTables(ctx, database.ListTablesParams{})
		if err != nil {
			return nil, fmt.Errorf("permission: failed to list tables: %w", err)
		}
		sortTables(tables)
		return tables, nil
	}

	ids, err := r.candidateTables(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	tables, err := r.db.ListTables(ctx, database.ListTablesParams{IDs: util.Some(ids)})
	if err != nil {
		return nil, fmt.Errorf("permission: failed to list tables: %w", err)
	}

	viewable := tables[:0]
	for _, table := range tables {
		ok, err := r.CanView(ctx, principalID, table)
		if err != nil {
			return nil, err
		}
		if ok {
			viewable = append(viewable, table)
		}
	}
	sortTables(viewable)
	return viewable, nil
}

// candidateTables collects the tables any record links the principal to.
func (r *Resolver) candidateTables(ctx context.Context, principalID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	add := func(id uuid.UUID) {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	owned, err := r.db.ListTables(ctx, database.ListTablesParams{OwnerID: util.Some(principalID)})
	if err != nil {
		return nil, fmt.Errorf("permission: failed to list owned tables: %w", err)
	}
	for _, t := range owned {
		add(t.ID)
	}

	overrides, err := r.db.ListTablePermissions(ctx, database.ListTablePermissionsParams{PrincipalID: util.Some(principalID)})
	if err != nil {
		return nil, fmt.Errorf("permission: failed to list table permissions: %w", err)
	}
	for _, p := range overrides {
		add(p.TableID)
	}

	extra, err := r.db.ListUserFilials(ctx, database.ListUserFilialsParams{PrincipalID: util.Some(principalID)})
	if err != nil {
		return nil, fmt.Errorf("permission: failed to list user filials: %w", err)
	}
	for _, uf := range extra {
		add(uf.TableID)
	}

	principal, err := r.db.GetPrincipal(ctx, principalID)
	if err != nil && !errors.Is(err, database.ErrPrincipalNotFound) {
		return nil, fmt.Errorf("permission: failed to get principal: %w", err)
	}
	if principal.FilialID.IsSet {
		grants, err := r.db.ListFilialPermissions(ctx, database.ListFilialPermissionsParams{
			FilialIDs: util.Some([]int64{principal.FilialID.Val}),
		})
		if err != nil {
			return nil, fmt.Errorf("permission: failed to list filial permissions: %w", err)
		}
		for _, g := range grants {
			add(g.TableID)
		}
	}
	return ids, nil
}

func sortTables(tables []database.Table) {
	slices.SortFunc(tables, func(a, b database.Table) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.Title, b.Title), cmp.Compare(a.ID.String(), b.ID.String()))
	})
}
