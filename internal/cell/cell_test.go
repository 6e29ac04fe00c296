package cell_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/freekieb7/sheets/internal/cell"
	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/logger"
	"github.com/freekieb7/sheets/internal/metrics"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/testutil"
	"github.com/freekieb7/sheets/internal/validator"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, f *testutil.Fixture, files *testutil.MockStorage) *cell.Store {
	t.Helper()
	return cell.NewStore(f.Store, files, validator.New(), metrics.New(), logger.Discard())
}

func TestStore_SetValueGetValue(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	s := newStore(t, f, &testutil.MockStorage{})

	table := f.CreateTable(t, false)
	amount := f.AddColumn(t, table.ID, "Amount", model.ColumnTypeInteger, false)
	row := f.AddRow(t, table.ID, testutil.FilialNorth, f.North.ID)

	got, err := s.GetValue(ctx, row.ID, amount)
	require.NoError(t, err)
	assert.Equal(t, model.IntegerValue(0), got, "unwritten cell reads as the type default")

	_, err = s.SetValue(ctx, row.ID, amount, 42)
	require.NoError(t, err)
	got, err = s.GetValue(ctx, row.ID, amount)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Int())

	_, err = s.SetValue(ctx, row.ID, amount, "2147483648")
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, model.ValidationRangeViolation, verr.Kind)

	got, err = s.GetValue(ctx, row.ID, amount)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Int(), "a rejected value leaves the cell unchanged")

	_, err = s.SetValue(ctx, row.ID, amount, nil)
	require.NoError(t, err)
	_, err = f.Store.GetCell(ctx, row.ID, amount.ID)
	assert.ErrorIs(t, err, database.ErrCellNotFound, "a blank value clears the cell")
}

func TestStore_SetValue_ForeignColumn(t *testing.T) {
	f := testutil.NewFixture(t)
	s := newStore(t, f, &testutil.MockStorage{})

	table := f.CreateTable(t, false)
	other := f.CreateTable(t, false)
	foreign := f.AddColumn(t, other.ID, "Name", model.ColumnTypeText, false)
	row := f.AddRow(t, table.ID, testutil.FilialNorth, f.North.ID)

	_, err := s.SetValue(context.Background(), row.ID, foreign, "x")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStore_SaveRow_CollectsEveryError(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	s := newStore(t, f, &testutil.MockStorage{})

	table := f.CreateTable(t, false)
	name := f.AddColumn(t, table.ID, "Name", model.ColumnTypeText, true)
	age := f.AddColumn(t, table.ID, "Age", model.ColumnTypePositiveInteger, false)
	color := f.AddColumn(t, table.ID, "Color", model.ColumnTypeChoice, false, "red", "green")
	columns := []database.Column{name, age, color}
	row := f.AddRow(t, table.ID, testutil.FilialNorth, f.North.ID)

	err := f.Store.InTx(ctx, func(tx database.Store) error {
		_, err := s.SaveRow(ctx, tx, row, columns, map[uuid.UUID]any{
			age.ID:   -3,
			color.ID: "blue",
		})
		return err
	})

	var errs model.ValidationErrors
	require.ErrorAs(t, err, &errs)
	require.Len(t, errs, 3)
	kinds := map[uuid.UUID]model.ValidationKind{}
	for _, e := range errs {
		kinds[e.ColumnID] = e.Kind
	}
	assert.Equal(t, model.ValidationRequired, kinds[name.ID])
	assert.Equal(t, model.ValidationRangeViolation, kinds[age.ID])
	assert.Equal(t, model.ValidationChoiceInvalid, kinds[color.ID])

	cells, err := f.Store.ListCells(ctx, database.ListCellsParams{})
	require.NoError(t, err)
	assert.Empty(t, cells, "nothing is written when a field is rejected")
}

func TestStore_SaveRow_KeepsMissingColumns(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	s := newStore(t, f, &testutil.MockStorage{})

	table := f.CreateTable(t, false)
	name := f.AddColumn(t, table.ID, "Name", model.ColumnTypeText, true)
	note := f.AddColumn(t, table.ID, "Note", model.ColumnTypeText, false)
	columns := []database.Column{name, note}
	row := f.AddRow(t, table.ID, testutil.FilialNorth, f.North.ID)

	save := func(values map[uuid.UUID]any) error {
		return f.Store.InTx(ctx, func(tx database.Store) error {
			_, err := s.SaveRow(ctx, tx, row, columns, values)
			return err
		})
	}

	require.NoError(t, save(map[uuid.UUID]any{name.ID: "Widget", note.ID: "first"}))
	require.NoError(t, save(map[uuid.UUID]any{note.ID: "second"}), "the stored name satisfies the required column")

	got, err := s.GetValue(ctx, row.ID, name)
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Str())

	err = save(map[uuid.UUID]any{uuid.New(): "x"})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, model.ValidationTypeMismatch, verr.Kind)
}

func TestStore_FileReplaceReleasesPreviousBlob(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	files := &testutil.MockStorage{}
	s := newStore(t, f, files)

	table := f.CreateTable(t, false)
	doc := f.AddColumn(t, table.ID, "Document", model.ColumnTypeFile, false)
	row := f.AddRow(t, table.ID, testutil.FilialNorth, f.North.ID)

	firstKey := "tables/" + table.ID.String() + "/2024/03/a_first.pdf"
	secondKey := "tables/" + table.ID.String() + "/2024/03/b_second.pdf"
	files.On("Store", table.ID, "first.pdf", "application/pdf").Return(firstKey, nil).Once()
	files.On("Store", table.ID, "second.pdf", "application/pdf").Return(secondKey, nil).Once()
	files.On("Delete", firstKey).Return(nil).Once()
	files.On("Delete", secondKey).Return(errors.New("bucket unavailable")).Once()

	upload := func(name string) *cell.FileUpload {
		return &cell.FileUpload{Name: name, ContentType: "application/pdf", Content: strings.NewReader("%PDF")}
	}

	v, err := s.SetValue(ctx, row.ID, doc, upload("first.pdf"))
	require.NoError(t, err)
	assert.Equal(t, firstKey, v.Str())

	_, err = s.SetValue(ctx, row.ID, doc, upload("second.pdf"))
	require.NoError(t, err)

	// Clearing releases the second blob; a failing delete is not reported.
	_, err = s.SetValue(ctx, row.ID, doc, nil)
	require.NoError(t, err)

	files.AssertExpectations(t)
}

func TestStore_FileUploadRolledBack(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	files := &testutil.MockStorage{}
	s := newStore(t, f, files)

	table := f.CreateTable(t, false)
	doc := f.AddColumn(t, table.ID, "Document", model.ColumnTypeFile, false)
	row := f.AddRow(t, table.ID, testutil.FilialNorth, f.North.ID)

	key := "tables/" + table.ID.String() + "/2024/03/c_orphan.pdf"
	files.On("Store", table.ID, "orphan.pdf", "application/pdf").Return(key, nil).Once()
	files.On("Delete", key).Return(nil).Once()

	failure := errors.New("row update failed")
	var changes cell.FileChanges
	err := f.Store.InTx(ctx, func(tx database.Store) error {
		var err error
		changes, err = s.SaveRow(ctx, tx, row, []database.Column{doc}, map[uuid.UUID]any{
			doc.ID: &cell.FileUpload{Name: "orphan.pdf", ContentType: "application/pdf", Content: strings.NewReader("x")},
		})
		if err != nil {
			return err
		}
		return failure
	})
	require.ErrorIs(t, err, failure)
	s.Settle(ctx, changes, err)

	_, err = f.Store.GetCell(ctx, row.ID, doc.ID)
	assert.ErrorIs(t, err, database.ErrCellNotFound)
	files.AssertExpectations(t)
	files.AssertNotCalled(t, "Delete", mock.MatchedBy(func(k string) bool { return k != key }))
}

func TestStore_ListValues(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	s := newStore(t, f, &testutil.MockStorage{})

	table := f.CreateTable(t, false)
	name := f.AddColumn(t, table.ID, "Name", model.ColumnTypeText, false)
	done := f.AddColumn(t, table.ID, "Done", model.ColumnTypeBoolean, false)
	first := f.AddRow(t, table.ID, testutil.FilialNorth, f.North.ID)
	second := f.AddRow(t, table.ID, testutil.FilialSouth, f.South.ID)

	_, err := s.SetValue(ctx, first.ID, name, "alpha")
	require.NoError(t, err)
	_, err = s.SetValue(ctx, second.ID, done, "yes")
	require.NoError(t, err)

	values, err := s.ListValues(ctx, []uuid.UUID{first.ID, second.ID}, []database.Column{name, done})
	require.NoError(t, err)
	assert.Equal(t, "alpha", values[first.ID][name.ID].Str())
	assert.NotContains(t, values[first.ID], done.ID)
	assert.True(t, values[second.ID][done.ID].Bool())
}
