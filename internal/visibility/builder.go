// Package visibility lists the rows of a table a principal may see, with
// free-text search, typed column filters, sorting and paging.
package visibility

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/freekieb7/sheets/internal/cell"
	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/permission"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Builder struct {
	db       database.Store
	resolver *permission.Resolver
	cells    *cell.Store
	logger   *slog.Logger
}

func NewBuilder(db database.Store, resolver *permission.Resolver, cells *cell.Store, logger *slog.Logger) *Builder {
	return &Builder{
		db:       db,
		resolver: resolver,
		cells:    cells,
		logger:   logger.With("component", "visibility"),
	}
}

type Query struct {
	Search  string
	Filters []Filter
	Sort    Sort
	// Limit zero returns every matching row.
	Limit  int
	Offset int
}

// RowView is a row with its stored values and the display names of its unit
// and authors.
type RowView struct {
	Row           database.Row
	Values        map[uuid.UUID]model.Value
	FilialName    string
	CreatedByName string
	UpdatedByName string
	LockedBy      util.Optional[uuid.UUID]
}

type Page struct {
	Rows []RowView
	// Total counts the matching rows before paging.
	Total int
}

// VisibleRows returns the rows of the table the principal may view, by row
// order. Owners and admins see every row, anyone else the rows of the units
// they may view. Rows without unit follow the override that has no unit.
func (b *Builder) VisibleRows(ctx context.Context, principalID uuid.UUID, table database.Table) ([]database.Row, error) {
	privileged, err := b.resolver.IsPrivileged(ctx, principalID, table)
	if err != nil {
		return nil, err
	}
	if privileged {
		return b.listRows(ctx, database.ListRowsParams{TableID: table.ID})
	}

	units, err := b.resolver.AccessibleFilials(ctx, principalID, table)
	if err != nil {
		return nil, err
	}
	level, err := b.resolver.EffectiveLevel(ctx, principalID, table, util.None[int64]())
	if err != nil {
		return nil, err
	}
	withoutUnit := level.Allows(model.ActionView)

	if !withoutUnit {
		if len(units) == 0 {
			return nil, nil
		}
		return b.listRows(ctx, database.ListRowsParams{TableID: table.ID, FilialIDs: util.Some(units)})
	}

	rows, err := b.listRows(ctx, database.ListRowsParams{TableID: table.ID})
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(rows, func(r database.Row) bool {
		if !r.FilialID.IsSet {
			return false
		}
		return !slices.Contains(units, r.FilialID.Val)
	}), nil
}

func (b *Builder) listRows(ctx context.Context, params database.ListRowsParams) ([]database.Row, error) {
	rows, err := b.db.ListRows(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("visibility: failed to list rows: %w", err)
	}
	return rows, nil
}

// ListRows applies search, filters, sort and paging to the visible rows.
func (b *Builder) ListRows(ctx context.Context, principalID uuid.UUID, table database.Table, q Query) (Page, error) {
	rows, err := b.VisibleRows(ctx, principalID, table)
	if err != nil {
		return Page{}, err
	}
	columns, err := b.db.ListColumns(ctx, table.ID)
	if err != nil {
		return Page{}, fmt.Errorf("visibility: failed to list columns: %w", err)
	}
	if len(rows) == 0 {
		return Page{Rows: []RowView{}}, nil
	}

	views, dir, err := b.hydrate(ctx, rows, columns)
	if err != nil {
		return Page{}, err
	}

	if q.Search != "" || len(q.Filters) > 0 {
		t := parseTerm(q.Search)
		views = slices.DeleteFunc(views, func(v RowView) bool {
			if !matchFilters(v, q.Filters) {
				return true
			}
			return t.lower != "" && !dir.match(t, v)
		})
	}

	sortViews(views, q.Sort, columns)

	page := Page{Total: len(views)}
	start := min(max(q.Offset, 0), len(views))
	end := len(views)
	if q.Limit > 0 {
		end = min(start+q.Limit, end)
	}
	page.Rows = views[start:end]

	b.logger.DebugContext(ctx, "Rows listed",
		"table_id", table.ID,
		"principal_id", principalID,
		"visible", len(rows),
		"matched", page.Total,
	)
	return page, nil
}

func matchFilters(v RowView, filters []Filter) bool {
	for _, f := range filters {
		value, ok := v.Values[f.ColumnID]
		if !f.Match(value, ok) {
			return false
		}
	}
	return true
}

// directory holds the units and principals referenced by a set of rows.
type directory struct {
	filials    map[int64]database.Filial
	principals map[uuid.UUID]database.Principal
}

func (d directory) principalName(id util.Optional[uuid.UUID]) string {
	if !id.IsSet {
		return ""
	}
	if p, ok := d.principals[id.Val]; ok {
		return p.FullName()
	}
	return ""
}

// match reports whether any cell, the unit or an author of the row matches.
func (d directory) match(t term, v RowView) bool {
	for _, value := range v.Values {
		if t.matchValue(value) {
			return true
		}
	}
	if v.Row.FilialID.IsSet {
		if f, ok := d.filials[v.Row.FilialID.Val]; ok && t.matchFilial(f) {
			return true
		}
	}
	for _, id := range []util.Optional[uuid.UUID]{v.Row.CreatedBy, v.Row.UpdatedBy} {
		if !id.IsSet {
			continue
		}
		if p, ok := d.principals[id.Val]; ok && t.matchPrincipal(p) {
			return true
		}
	}
	return false
}

// hydrate loads the values, locks, units and authors of rows concurrently.
func (b *Builder) hydrate(ctx context.Context, rows []database.Row, columns []database.Column) ([]RowView, directory, error) {
	rowIDs := make([]uuid.UUID, len(rows))
	var (
		filialIDs    []int64
		principalIDs []uuid.UUID
	)
	for i, r := range rows {
		rowIDs[i] = r.ID
		if r.FilialID.IsSet && !slices.Contains(filialIDs, r.FilialID.Val) {
			filialIDs = append(filialIDs, r.FilialID.Val)
		}
		for _, id := range []util.Optional[uuid.UUID]{r.CreatedBy, r.UpdatedBy} {
			if id.IsSet && !slices.Contains(principalIDs, id.Val) {
				principalIDs = append(principalIDs, id.Val)
			}
		}
	}

	var (
		values     map[uuid.UUID]map[uuid.UUID]model.Value
		locks      []database.RowLock
		filials    []database.Filial
		principals []database.Principal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		values, err = b.cells.ListValues(gctx, rowIDs, columns)
		return err
	})
	g.Go(func() error {
		var err error
		if locks, err = b.db.ListRowLocks(gctx, rowIDs); err != nil {
			return fmt.Errorf("visibility: failed to list row locks: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if len(filialIDs) == 0 {
			return nil
		}
		var err error
		if filials, err = b.db.ListFilials(gctx, database.ListFilialsParams{IDs: util.Some(filialIDs)}); err != nil {
			return fmt.Errorf("visibility: failed to list filials: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if len(principalIDs) == 0 {
			return nil
		}
		var err error
		if principals, err = b.db.ListPrincipals(gctx, principalIDs); err != nil {
			return fmt.Errorf("visibility: failed to list principals: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, directory{}, err
	}

	dir := directory{
		filials:    make(map[int64]database.Filial, len(filials)),
		principals: make(map[uuid.UUID]database.Principal, len(principals)),
	}
	for _, f := range filials {
		dir.filials[f.ID] = f
	}
	for _, p := range principals {
		dir.principals[p.ID] = p
	}
	holders := make(map[uuid.UUID]uuid.UUID, len(locks))
	for _, l := range locks {
		holders[l.RowID] = l.PrincipalID
	}

	views := make([]RowView, len(rows))
	for i, r := range rows {
		v := RowView{
			Row:           r,
			Values:        values[r.ID],
			CreatedByName: dir.principalName(r.CreatedBy),
			UpdatedByName: dir.principalName(r.UpdatedBy),
		}
		if v.Values == nil {
			v.Values = map[uuid.UUID]model.Value{}
		}
		if r.FilialID.IsSet {
			v.FilialName = dir.filials[r.FilialID.Val].Name
		}
		if holder, ok := holders[r.ID]; ok {
			v.LockedBy = util.Some(holder)
		}
		views[i] = v
	}
	return views, dir, nil
}

// View loads a single row as it appears in listings.
func (b *Builder) View(ctx context.Context, row database.Row) (RowView, error) {
	columns, err := b.db.ListColumns(ctx, row.TableID)
	if err != nil {
		return RowView{}, fmt.Errorf("visibility: failed to list columns: %w", err)
	}
	views, _, err := b.hydrate(ctx, []database.Row{row}, columns)
	if err != nil {
		return RowView{}, err
	}
	return views[0], nil
}
