package schema_test

import (
	"context"
	"errors"
	"testing"

	"github.com/freekieb7/sheets/internal/audit"
	"github.com/freekieb7/sheets/internal/cell"
	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/logger"
	"github.com/freekieb7/sheets/internal/metrics"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/notify"
	"github.com/freekieb7/sheets/internal/permission"
	"github.com/freekieb7/sheets/internal/schema"
	"github.com/freekieb7/sheets/internal/testutil"
	"github.com/freekieb7/sheets/internal/util"
	"github.com/freekieb7/sheets/internal/validator"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	*testutil.Fixture
	registry *schema.Registry
	files    *testutil.MockStorage
	events   *testutil.Events
	table    database.Table
}

func setup(t *testing.T) *harness {
	t.Helper()
	f := testutil.NewFixture(t)
	files := &testutil.MockStorage{}
	events := &testutil.Events{}
	m := metrics.New()
	auditor := audit.NewAuditor(logger.Discard(), f.Store)
	resolver := permission.NewResolver(f.Store, auditor, m, logger.Discard())
	cells := cell.NewStore(f.Store, files, validator.New(), m, logger.Discard())

	return &harness{
		Fixture:  f,
		registry: schema.NewRegistry(f.Store, resolver, cells, auditor, events, logger.Discard()),
		files:    files,
		events:   events,
		table:    f.CreateTable(t, false),
	}
}

func orders(t *testing.T, h *harness) map[string]int {
	t.Helper()
	columns, err := h.registry.ListColumns(context.Background(), h.table.ID)
	require.NoError(t, err)
	got := make(map[string]int, len(columns))
	for _, c := range columns {
		got[c.Name] = c.Order
	}
	return got
}

func TestRegistry_AddColumn(t *testing.T) {
	tests := []struct {
		name     string
		params   schema.AddColumnParams
		wantKind model.ValidationKind
	}{
		{name: "text", params: schema.AddColumnParams{Name: "Title", DataType: model.ColumnTypeText}},
		{name: "trimmed_choices", params: schema.AddColumnParams{Name: "Status", DataType: model.ColumnTypeChoice, Choices: []string{" open ", "closed"}}},
		{name: "blank_name", params: schema.AddColumnParams{Name: "  ", DataType: model.ColumnTypeText}, wantKind: model.ValidationRequired},
		{name: "unknown_type", params: schema.AddColumnParams{Name: "X", DataType: "money"}, wantKind: model.ValidationTypeMismatch},
		{name: "choice_without_options", params: schema.AddColumnParams{Name: "Status", DataType: model.ColumnTypeChoice}, wantKind: model.ValidationChoiceInvalid},
		{name: "choice_blank_option", params: schema.AddColumnParams{Name: "Status", DataType: model.ColumnTypeChoice, Choices: []string{"open", " "}}, wantKind: model.ValidationChoiceInvalid},
		{name: "choice_duplicate_option", params: schema.AddColumnParams{Name: "Status", DataType: model.ColumnTypeChoice, Choices: []string{"open", "open"}}, wantKind: model.ValidationChoiceInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setup(t)
			column, err := h.registry.AddColumn(context.Background(), h.Owner.ID, h.table.ID, tt.params)
			if tt.wantKind != "" {
				var verr *model.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.wantKind, verr.Kind)
				assert.Empty(t, orders(t, h))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0, column.Order)
			if tt.params.DataType == model.ColumnTypeChoice {
				assert.Equal(t, []string{"open", "closed"}, column.Choices)
			}
			assert.Equal(t, []notify.EventType{notify.EventSchemaChange}, h.events.Types())
		})
	}
}

func TestRegistry_AddColumn_AppendsAndAudits(t *testing.T) {
	ctx := context.Background()
	h := setup(t)

	for _, name := range []string{"A", "B", "C"} {
		_, err := h.registry.AddColumn(ctx, h.Owner.ID, h.table.ID, schema.AddColumnParams{Name: name, DataType: model.ColumnTypeText})
		require.NoError(t, err)
	}
	assert.Equal(t, map[string]int{"A": 0, "B": 1, "C": 2}, orders(t, h))

	events, err := h.Store.ListAuditLogEvents(ctx, database.ListAuditLogEventsParams{TableID: util.Some(h.table.ID)})
	require.NoError(t, err)
	assert.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, string(audit.AuditLogEventTypeColumnCreate), e.Type)
	}
}

func TestRegistry_OnlyOwnerOrAdmin(t *testing.T) {
	ctx := context.Background()
	h := setup(t)
	h.GrantFilial(t, h.table.ID, testutil.FilialNorth, model.PermissionEditViewDelete)
	column := h.AddColumn(t, h.table.ID, "A", model.ColumnTypeText, false)

	_, err := h.registry.AddColumn(ctx, h.North.ID, h.table.ID, schema.AddColumnParams{Name: "B", DataType: model.ColumnTypeText})
	assert.ErrorIs(t, err, model.ErrAccessDenied, "a unit grant does not allow schema changes")

	_, err = h.registry.ReorderColumn(ctx, h.North.ID, column.ID, 0)
	assert.ErrorIs(t, err, model.ErrAccessDenied)

	assert.ErrorIs(t, h.registry.DeleteColumn(ctx, h.North.ID, column.ID), model.ErrAccessDenied)

	_, err = h.registry.AddColumn(ctx, h.Admin.ID, h.table.ID, schema.AddColumnParams{Name: "B", DataType: model.ColumnTypeText})
	assert.NoError(t, err)
}

func TestRegistry_ReorderColumn_SwapsSingleSlot(t *testing.T) {
	tests := []struct {
		name     string
		move     string
		newOrder int
		want     map[string]int
	}{
		{name: "first_to_last", move: "A", newOrder: 3, want: map[string]int{"A": 3, "B": 1, "C": 2, "D": 0}},
		{name: "last_to_first", move: "D", newOrder: 0, want: map[string]int{"A": 3, "B": 1, "C": 2, "D": 0}},
		{name: "neighbours", move: "B", newOrder: 2, want: map[string]int{"A": 0, "B": 2, "C": 1, "D": 3}},
		{name: "same_order", move: "C", newOrder: 2, want: map[string]int{"A": 0, "B": 1, "C": 2, "D": 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setup(t)
			ids := make(map[string]uuid.UUID)
			for _, name := range []string{"A", "B", "C", "D"} {
				ids[name] = h.AddColumn(t, h.table.ID, name, model.ColumnTypeText, false).ID
			}

			column, err := h.registry.ReorderColumn(context.Background(), h.Owner.ID, ids[tt.move], tt.newOrder)
			require.NoError(t, err)
			assert.Equal(t, tt.newOrder, column.Order)
			assert.Equal(t, tt.want, orders(t, h))
		})
	}
}

func TestRegistry_ReorderColumn_OutOfRange(t *testing.T) {
	h := setup(t)
	a := h.AddColumn(t, h.table.ID, "A", model.ColumnTypeText, false)
	h.AddColumn(t, h.table.ID, "B", model.ColumnTypeText, false)

	for _, order := range []int{-1, 2} {
		_, err := h.registry.ReorderColumn(context.Background(), h.Owner.ID, a.ID, order)
		var verr *model.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, model.ValidationRangeViolation, verr.Kind)
	}
	assert.Equal(t, map[string]int{"A": 0, "B": 1}, orders(t, h))
}

func TestRegistry_UpdateColumn(t *testing.T) {
	ctx := context.Background()
	h := setup(t)
	h.AddColumn(t, h.table.ID, "A", model.ColumnTypeText, false)
	status := h.AddColumn(t, h.table.ID, "Status", model.ColumnTypeChoice, false, "open")

	updated, err := h.registry.UpdateColumn(ctx, h.Owner.ID, status.ID, schema.UpdateColumnParams{
		Name:     util.Some("State"),
		Required: util.Some(true),
		Choices:  util.Some([]string{"open", "closed"}),
		Order:    util.Some(0),
	})
	require.NoError(t, err)
	assert.Equal(t, "State", updated.Name)
	assert.True(t, updated.Required)
	assert.Equal(t, []string{"open", "closed"}, updated.Choices)
	assert.Equal(t, map[string]int{"State": 0, "A": 1}, orders(t, h))

	_, err = h.registry.UpdateColumn(ctx, h.Owner.ID, status.ID, schema.UpdateColumnParams{Choices: util.Some([]string{})})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, model.ValidationChoiceInvalid, verr.Kind)
}

func TestRegistry_DeleteColumn_ReleasesFiles(t *testing.T) {
	ctx := context.Background()
	h := setup(t)
	attachment := h.AddColumn(t, h.table.ID, "Attachment", model.ColumnTypeFile, false)
	other := h.AddColumn(t, h.table.ID, "Note", model.ColumnTypeText, false)
	row := h.AddRow(t, h.table.ID, testutil.FilialNorth, h.North.ID)

	key := "tables/" + h.table.ID.String() + "/1_report.pdf"
	_, err := h.Store.UpsertCell(ctx, cell.Encode(row.ID, attachment.ID, model.FileValue(key)))
	require.NoError(t, err)
	_, err = h.Store.UpsertCell(ctx, cell.Encode(row.ID, other.ID, model.TextValue("keep")))
	require.NoError(t, err)

	h.files.On("Delete", key).Return(errors.New("bucket unavailable")).Once()

	require.NoError(t, h.registry.DeleteColumn(ctx, h.Owner.ID, attachment.ID), "blob failures are only logged")
	h.files.AssertExpectations(t)

	_, err = h.Store.GetCell(ctx, row.ID, attachment.ID)
	assert.ErrorIs(t, err, database.ErrCellNotFound)
	_, err = h.Store.GetCell(ctx, row.ID, other.ID)
	assert.NoError(t, err)
	assert.Equal(t, map[string]int{"Note": 0}, orders(t, h), "later columns move up")
}

func TestRegistry_DeleteColumn_NotFound(t *testing.T) {
	h := setup(t)
	err := h.registry.DeleteColumn(context.Background(), h.Owner.ID, uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}
