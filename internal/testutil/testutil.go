// Package testutil seeds an in-memory store with a small directory of units
// and principals shared by the package tests.
package testutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/database/memory"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Units seeded by NewFixture.
const (
	FilialNorth int64 = 1
	FilialSouth int64 = 2
	FilialEast  int64 = 3
)

// Now is the fixed clock of fixture stores.
var Now = time.Date(2024, time.March, 14, 9, 30, 0, 0, time.UTC)

type Fixture struct {
	Store *memory.Store

	// Owner creates the tables of a test; Admin holds the global marker.
	Owner database.Principal
	Admin database.Principal

	// Members of North and South.
	North database.Principal
	South database.Principal

	// Outsider belongs to East and has no grant anywhere by default.
	Outsider database.Principal
}

func NewFixture(t *testing.T) *Fixture {
	t.Helper()

	store := memory.New(memory.WithClock(func() time.Time { return Now }))
	store.AddFilial(database.Filial{ID: FilialNorth, Name: "North", LongName: "Northern branch", ShortName: "N"})
	store.AddFilial(database.Filial{ID: FilialSouth, Name: "South", LongName: "Southern branch", ShortName: "S"})
	store.AddFilial(database.Filial{ID: FilialEast, Name: "East", LongName: "Eastern branch", ShortName: "E"})

	f := &Fixture{Store: store}
	f.Owner = f.AddPrincipal(t, "owner", util.Some(FilialNorth))
	f.Admin = f.AddPrincipal(t, "admin", util.None[int64]())
	f.North = f.AddPrincipal(t, "north", util.Some(FilialNorth))
	f.South = f.AddPrincipal(t, "south", util.Some(FilialSouth))
	f.Outsider = f.AddPrincipal(t, "outsider", util.Some(FilialEast))

	require.NoError(t, store.CreateAdmin(context.Background(), f.Admin.ID))
	return f
}

func (f *Fixture) AddPrincipal(t *testing.T, username string, filialID util.Optional[int64]) database.Principal {
	t.Helper()

	p := database.Principal{
		ID:        uuid.New(),
		Username:  username,
		FirstName: username,
		LastName:  "Tester",
		FilialID:  filialID,
	}
	f.Store.AddPrincipal(p)
	return p
}

func (f *Fixture) CreateTable(t *testing.T, editOnlyCreator bool) database.Table {
	t.Helper()

	table, err := f.Store.CreateTable(context.Background(), database.CreateTableParams{
		Title:           "Inventory",
		OwnerID:         f.Owner.ID,
		ShareToken:      strings.ReplaceAll(uuid.NewString(), "-", ""),
		EditOnlyCreator: editOnlyCreator,
	})
	require.NoError(t, err)
	return table
}

func (f *Fixture) AddColumn(t *testing.T, tableID uuid.UUID, name string, dataType model.ColumnType, required bool, choices ...string) database.Column {
	t.Helper()

	ctx := context.Background()
	count, err := f.Store.CountColumns(ctx, tableID)
	require.NoError(t, err)

	column, err := f.Store.CreateColumn(ctx, database.CreateColumnParams{
		TableID:  tableID,
		Name:     name,
		Order:    count,
		Required: required,
		DataType: dataType,
		Choices:  choices,
	})
	require.NoError(t, err)
	return column
}

func (f *Fixture) AddRow(t *testing.T, tableID uuid.UUID, filialID int64, createdBy uuid.UUID) database.Row {
	t.Helper()

	ctx := context.Background()
	count, err := f.Store.CountRows(ctx, tableID)
	require.NoError(t, err)

	row, err := f.Store.CreateRow(ctx, database.CreateRowParams{
		TableID:   tableID,
		Order:     count,
		FilialID:  util.Some(filialID),
		CreatedBy: util.Some(createdBy),
	})
	require.NoError(t, err)
	return row
}

func (f *Fixture) GrantFilial(t *testing.T, tableID uuid.UUID, filialID int64, level model.PermissionType) {
	t.Helper()

	_, err := f.Store.UpsertFilialPermission(context.Background(), database.UpsertFilialPermissionParams{
		TableID:  tableID,
		FilialID: filialID,
		Type:     level,
	})
	require.NoError(t, err)
}

// GrantUser stores a user override; a None filial applies to every unit.
func (f *Fixture) GrantUser(t *testing.T, tableID, principalID uuid.UUID, filialID util.Optional[int64], level model.PermissionType) {
	t.Helper()

	_, err := f.Store.UpsertTablePermission(context.Background(), database.UpsertTablePermissionParams{
		TableID:     tableID,
		PrincipalID: principalID,
		FilialID:    filialID,
		Type:        level,
	})
	require.NoError(t, err)
}

func (f *Fixture) AddUserFilial(t *testing.T, tableID, principalID uuid.UUID, filialID int64) {
	t.Helper()

	_, err := f.Store.CreateUserFilial(context.Background(), database.CreateUserFilialParams{
		TableID:     tableID,
		PrincipalID: principalID,
		FilialID:    filialID,
	})
	require.NoError(t, err)
}
