package permission_test

import (
	"context"
	"testing"

	"github.com/freekieb7/sheets/internal/audit"
	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/logger"
	"github.com/freekieb7/sheets/internal/metrics"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/permission"
	"github.com/freekieb7/sheets/internal/testutil"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(db database.Store) *permission.Resolver {
	return permission.NewResolver(db, audit.NewAuditor(logger.Discard(), db), metrics.New(), logger.Discard())
}

type access struct {
	view, add, edit, delete bool
}

func check(t *testing.T, r *permission.Resolver, p database.Principal, table database.Table, row database.Row) access {
	t.Helper()
	ctx := context.Background()

	var got access
	var err error
	got.view, err = r.CanView(ctx, p.ID, table)
	require.NoError(t, err)
	got.add, err = r.CanAdd(ctx, p.ID, table)
	require.NoError(t, err)
	got.edit, err = r.CanEdit(ctx, p.ID, row)
	require.NoError(t, err)
	got.delete, err = r.CanDelete(ctx, p.ID, row)
	require.NoError(t, err)
	return got
}

func TestResolver_Pipeline(t *testing.T) {
	tests := []struct {
		name            string
		editOnlyCreator bool
		setup           func(t *testing.T, f *testutil.Fixture, table database.Table)
		principal       func(f *testutil.Fixture) database.Principal
		rowCreator      func(f *testutil.Fixture) database.Principal
		rowFilial       int64
		want            access
	}{
		{
			name:       "no_records_denies_everything",
			principal:  func(f *testutil.Fixture) database.Principal { return f.North },
			rowCreator: func(f *testutil.Fixture) database.Principal { return f.North },
			rowFilial:  testutil.FilialNorth,
			want:       access{},
		},
		{
			name: "unit_edit_view_grant",
			setup: func(t *testing.T, f *testutil.Fixture, table database.Table) {
				f.GrantFilial(t, table.ID, testutil.FilialNorth, model.PermissionEditView)
			},
			principal:  func(f *testutil.Fixture) database.Principal { return f.North },
			rowCreator: func(f *testutil.Fixture) database.Principal { return f.North },
			rowFilial:  testutil.FilialNorth,
			want:       access{view: true, add: true, edit: true},
		},
		{
			name: "unit_grant_does_not_reach_other_units_rows",
			setup: func(t *testing.T, f *testutil.Fixture, table database.Table) {
				f.GrantFilial(t, table.ID, testutil.FilialNorth, model.PermissionEditViewDelete)
			},
			principal:  func(f *testutil.Fixture) database.Principal { return f.North },
			rowCreator: func(f *testutil.Fixture) database.Principal { return f.South },
			rowFilial:  testutil.FilialSouth,
			want:       access{view: true, add: true},
		},
		{
			name: "grant_for_foreign_unit_is_ignored",
			setup: func(t *testing.T, f *testutil.Fixture, table database.Table) {
				f.GrantFilial(t, table.ID, testutil.FilialSouth, model.PermissionEditViewDelete)
			},
			principal:  func(f *testutil.Fixture) database.Principal { return f.North },
			rowCreator: func(f *testutil.Fixture) database.Principal { return f.South },
			rowFilial:  testutil.FilialSouth,
			want:       access{},
		},
		{
			name:            "edit_only_creator_blocks_other_members",
			editOnlyCreator: true,
			setup: func(t *testing.T, f *testutil.Fixture, table database.Table) {
				f.GrantFilial(t, table.ID, testutil.FilialNorth, model.PermissionEditViewDelete)
			},
			principal: func(f *testutil.Fixture) database.Principal { return f.North },
			rowCreator: func(f *testutil.Fixture) database.Principal {
				return f.Owner
			},
			rowFilial: testutil.FilialNorth,
			want:      access{view: true, add: true},
		},
		{
			name:            "edit_only_creator_allows_creator",
			editOnlyCreator: true,
			setup: func(t *testing.T, f *testutil.Fixture, table database.Table) {
				f.GrantFilial(t, table.ID, testutil.FilialNorth, model.PermissionEditViewDelete)
			},
			principal:  func(f *testutil.Fixture) database.Principal { return f.North },
			rowCreator: func(f *testutil.Fixture) database.Principal { return f.North },
			rowFilial:  testutil.FilialNorth,
			want:       access{view: true, add: true, edit: true, delete: true},
		},
		{
			name: "no_access_override_beats_permissive_unit_grant",
			setup: func(t *testing.T, f *testutil.Fixture, table database.Table) {
				f.GrantFilial(t, table.ID, testutil.FilialNorth, model.PermissionEditViewDelete)
				f.GrantUser(t, table.ID, f.North.ID, util.Some(testutil.FilialNorth), model.PermissionNoAccess)
			},
			principal:  func(f *testutil.Fixture) database.Principal { return f.North },
			rowCreator: func(f *testutil.Fixture) database.Principal { return f.North },
			rowFilial:  testutil.FilialNorth,
			want:       access{},
		},
		{
			name: "view_override_beats_permissive_unit_grant",
			setup: func(t *testing.T, f *testutil.Fixture, table database.Table) {
				f.GrantFilial(t, table.ID, testutil.FilialNorth, model.PermissionEditViewDelete)
				f.GrantUser(t, table.ID, f.North.ID, util.Some(testutil.FilialNorth), model.PermissionViewOnly)
			},
			principal:  func(f *testutil.Fixture) database.Principal { return f.North },
			rowCreator: func(f *testutil.Fixture) database.Principal { return f.North },
			rowFilial:  testutil.FilialNorth,
			want:       access{view: true},
		},
		{
			name: "delete_override_beats_restrictive_unit_grant",
			setup: func(t *testing.T, f *testutil.Fixture, table database.Table) {
				f.GrantFilial(t, table.ID, testutil.FilialNorth, model.PermissionNoAccess)
				f.GrantUser(t, table.ID, f.North.ID, util.Some(testutil.FilialNorth), model.PermissionEditViewDelete)
			},
			principal:  func(f *testutil.Fixture) database.Principal { return f.North },
			rowCreator: func(f *testutil.Fixture) database.Principal { return f.South },
			rowFilial:  testutil.FilialNorth,
			want:       access{view: true, add: true, edit: true, delete: true},
		},
		{
			name: "unit_override_outside_unit_set_only_reaches_its_rows",
			setup: func(t *testing.T, f *testutil.Fixture, table database.Table) {
				f.GrantUser(t, table.ID, f.North.ID, util.Some(testutil.FilialSouth), model.PermissionEditView)
			},
			principal:  func(f *testutil.Fixture) database.Principal { return f.North },
			rowCreator: func(f *testutil.Fixture) database.Principal { return f.South },
			rowFilial:  testutil.FilialSouth,
			want:       access{edit: true},
		},
		{
			name: "user_filial_extends_unit_set",
			setup: func(t *testing.T, f *testutil.Fixture, table database.Table) {
				f.GrantFilial(t, table.ID, testutil.FilialSouth, model.PermissionEditViewDelete)
				f.AddUserFilial(t, table.ID, f.North.ID, testutil.FilialSouth)
			},
			principal:  func(f *testutil.Fixture) database.Principal { return f.North },
			rowCreator: func(f *testutil.Fixture) database.Principal { return f.South },
			rowFilial:  testutil.FilialSouth,
			want:       access{view: true, add: true, edit: true, delete: true},
		},
		{
			name: "unitless_override_applies_to_every_unit",
			setup: func(t *testing.T, f *testutil.Fixture, table database.Table) {
				f.GrantUser(t, table.ID, f.Outsider.ID, util.None[int64](), model.PermissionEditView)
			},
			principal:  func(f *testutil.Fixture) database.Principal { return f.Outsider },
			rowCreator: func(f *testutil.Fixture) database.Principal { return f.South },
			rowFilial:  testutil.FilialSouth,
			want:       access{view: true, add: true, edit: true},
		},
		{
			name: "unit_override_beats_unitless_override",
			setup: func(t *testing.T, f *testutil.Fixture, table database.Table) {
				f.GrantUser(t, table.ID, f.North.ID, util.None[int64](), model.PermissionEditViewDelete)
				f.GrantUser(t, table.ID, f.North.ID, util.Some(testutil.FilialSouth), model.PermissionViewOnly)
			},
			principal:  func(f *testutil.Fixture) database.Principal { return f.North },
			rowCreator: func(f *testutil.Fixture) database.Principal { return f.South },
			rowFilial:  testutil.FilialSouth,
			want:       access{view: true, add: true},
		},
		{
			name:            "owner_bypasses_everything",
			editOnlyCreator: true,
			setup: func(t *testing.T, f *testutil.Fixture, table database.Table) {
				f.GrantUser(t, table.ID, f.Owner.ID, util.Some(testutil.FilialSouth), model.PermissionNoAccess)
			},
			principal:  func(f *testutil.Fixture) database.Principal { return f.Owner },
			rowCreator: func(f *testutil.Fixture) database.Principal { return f.South },
			rowFilial:  testutil.FilialSouth,
			want:       access{view: true, add: true, edit: true, delete: true},
		},
		{
			name:            "admin_bypasses_everything",
			editOnlyCreator: true,
			setup: func(t *testing.T, f *testutil.Fixture, table database.Table) {
				f.GrantUser(t, table.ID, f.Admin.ID, util.None[int64](), model.PermissionNoAccess)
			},
			principal:  func(f *testutil.Fixture) database.Principal { return f.Admin },
			rowCreator: func(f *testutil.Fixture) database.Principal { return f.South },
			rowFilial:  testutil.FilialSouth,
			want:       access{view: true, add: true, edit: true, delete: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testutil.NewFixture(t)
			table := f.CreateTable(t, tt.editOnlyCreator)
			if tt.setup != nil {
				tt.setup(t, f, table)
			}
			row := f.AddRow(t, table.ID, tt.rowFilial, tt.rowCreator(f).ID)

			got := check(t, newResolver(f.Store), tt.principal(f), table, row)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_UnitOverrideOutsideUnitSet(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	r := newResolver(f.Store)

	table := f.CreateTable(t, false)
	f.GrantUser(t, table.ID, f.North.ID, util.Some(testutil.FilialSouth), model.PermissionEditView)

	canView, err := r.CanView(ctx, f.North.ID, table)
	require.NoError(t, err)
	assert.False(t, canView)

	canAdd, err := r.CanAdd(ctx, f.North.ID, table)
	require.NoError(t, err)
	assert.False(t, canAdd)

	accessible, err := r.AccessibleFilials(ctx, f.North.ID, table)
	require.NoError(t, err)
	assert.Empty(t, accessible)

	addable, err := r.AddableFilials(ctx, f.North.ID, table)
	require.NoError(t, err)
	assert.Empty(t, addable)

	f.AddUserFilial(t, table.ID, f.North.ID, testutil.FilialSouth)

	accessible, err = r.AccessibleFilials(ctx, f.North.ID, table)
	require.NoError(t, err)
	assert.Equal(t, []int64{testutil.FilialSouth}, accessible, "the override counts once the unit is added")

	addable, err = r.AddableFilials(ctx, f.North.ID, table)
	require.NoError(t, err)
	assert.Equal(t, []int64{testutil.FilialSouth}, addable)
}

func TestResolver_EndToEnd_UnitEditView(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	r := newResolver(f.Store)

	table := f.CreateTable(t, false)
	_, err := r.GrantFilial(ctx, f.Owner.ID, table.ID, testutil.FilialNorth, model.PermissionEditView)
	require.NoError(t, err)

	addable, err := r.AddableFilials(ctx, f.North.ID, table)
	require.NoError(t, err)
	require.Equal(t, []int64{testutil.FilialNorth}, addable)

	row := f.AddRow(t, table.ID, testutil.FilialNorth, f.North.ID)

	canEdit, err := r.CanEdit(ctx, f.North.ID, row)
	require.NoError(t, err)
	assert.True(t, canEdit)

	canDelete, err := r.CanDelete(ctx, f.North.ID, row)
	require.NoError(t, err)
	assert.False(t, canDelete)
}

func TestResolver_AccessibleAndAddableFilials(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	r := newResolver(f.Store)

	table := f.CreateTable(t, false)
	f.GrantFilial(t, table.ID, testutil.FilialNorth, model.PermissionEditView)
	f.GrantFilial(t, table.ID, testutil.FilialSouth, model.PermissionViewOnly)
	f.AddUserFilial(t, table.ID, f.North.ID, testutil.FilialSouth)
	f.GrantUser(t, table.ID, f.North.ID, util.Some(testutil.FilialEast), model.PermissionEditView)

	accessible, err := r.AccessibleFilials(ctx, f.North.ID, table)
	require.NoError(t, err)
	assert.Equal(t, []int64{testutil.FilialNorth, testutil.FilialSouth}, accessible, "the east override lies outside the unit set")

	addable, err := r.AddableFilials(ctx, f.North.ID, table)
	require.NoError(t, err)
	assert.Equal(t, []int64{testutil.FilialNorth}, addable)

	_, err = f.Store.UpsertFilialLock(ctx, database.UpsertFilialLockParams{TableID: table.ID, FilialID: testutil.FilialNorth})
	require.NoError(t, err)
	addable, err = r.AddableFilials(ctx, f.North.ID, table)
	require.NoError(t, err)
	assert.Empty(t, addable, "a finished unit cannot add rows")

	ownerAddable, err := r.AddableFilials(ctx, f.Owner.ID, table)
	require.NoError(t, err)
	assert.Equal(t, []int64{testutil.FilialNorth, testutil.FilialSouth, testutil.FilialEast}, ownerAddable)

	none, err := r.AccessibleFilials(ctx, f.Outsider.ID, table)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestResolver_EffectiveLevel(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	r := newResolver(f.Store)

	table := f.CreateTable(t, false)
	f.GrantFilial(t, table.ID, testutil.FilialNorth, model.PermissionEditViewDelete)
	f.GrantUser(t, table.ID, f.North.ID, util.Some(testutil.FilialNorth), model.PermissionViewOnly)

	tests := []struct {
		name      string
		principal database.Principal
		unit      util.Optional[int64]
		want      model.PermissionType
	}{
		{name: "override", principal: f.North, unit: util.Some(testutil.FilialNorth), want: model.PermissionViewOnly},
		{name: "foreign_unit", principal: f.North, unit: util.Some(testutil.FilialSouth), want: model.PermissionNoAccess},
		{name: "no_unit", principal: f.North, unit: util.None[int64](), want: model.PermissionNoAccess},
		{name: "owner", principal: f.Owner, unit: util.Some(testutil.FilialSouth), want: model.PermissionEditViewDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.EffectiveLevel(ctx, tt.principal.ID, table, tt.unit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_ViewableTables(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	r := newResolver(f.Store)

	shared := f.CreateTable(t, false)
	f.GrantFilial(t, shared.ID, testutil.FilialSouth, model.PermissionViewOnly)
	banned := f.CreateTable(t, false)
	f.GrantFilial(t, banned.ID, testutil.FilialSouth, model.PermissionViewOnly)
	f.GrantUser(t, banned.ID, f.South.ID, util.Some(testutil.FilialSouth), model.PermissionNoAccess)
	f.CreateTable(t, false)

	tables, err := r.ViewableTables(ctx, f.South.ID)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, shared.ID, tables[0].ID)

	all, err := r.ViewableTables(ctx, f.Admin.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	owned, err := r.ViewableTables(ctx, f.Owner.ID)
	require.NoError(t, err)
	assert.Len(t, owned, 3)
}

func TestRequire(t *testing.T) {
	assert.NoError(t, permission.Require(true, nil))
	assert.ErrorIs(t, permission.Require(false, nil), model.ErrAccessDenied)
	assert.ErrorIs(t, permission.Require(true, model.ErrNotFound), model.ErrNotFound)
}
