package visibility_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/freekieb7/sheets/internal/audit"
	"github.com/freekieb7/sheets/internal/cell"
	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/logger"
	"github.com/freekieb7/sheets/internal/metrics"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/permission"
	"github.com/freekieb7/sheets/internal/testutil"
	"github.com/freekieb7/sheets/internal/util"
	"github.com/freekieb7/sheets/internal/validator"
	"github.com/freekieb7/sheets/internal/visibility"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	*testutil.Fixture
	builder *visibility.Builder
	table   database.Table

	name, amount, price, active, due, status, attachment database.Column
}

func setup(t *testing.T) *harness {
	t.Helper()
	f := testutil.NewFixture(t)
	m := metrics.New()
	resolver := permission.NewResolver(f.Store, audit.NewAuditor(logger.Discard(), f.Store), m, logger.Discard())
	cells := cell.NewStore(f.Store, &testutil.MockStorage{}, validator.New(), m, logger.Discard())

	h := &harness{
		Fixture: f,
		builder: visibility.NewBuilder(f.Store, resolver, cells, logger.Discard()),
		table:   f.CreateTable(t, false),
	}
	h.name = f.AddColumn(t, h.table.ID, "Name", model.ColumnTypeText, false)
	h.amount = f.AddColumn(t, h.table.ID, "Amount", model.ColumnTypeInteger, false)
	h.price = f.AddColumn(t, h.table.ID, "Price", model.ColumnTypeFloat, false)
	h.active = f.AddColumn(t, h.table.ID, "Active", model.ColumnTypeBoolean, false)
	h.due = f.AddColumn(t, h.table.ID, "Due", model.ColumnTypeDate, false)
	h.status = f.AddColumn(t, h.table.ID, "Status", model.ColumnTypeChoice, false, "open", "closed")
	h.attachment = f.AddColumn(t, h.table.ID, "Attachment", model.ColumnTypeFile, false)
	return h
}

// row adds a row and stores values directly.
func (h *harness) row(t *testing.T, filialID int64, createdBy database.Principal, values map[uuid.UUID]model.Value) database.Row {
	t.Helper()
	r := h.AddRow(t, h.table.ID, filialID, createdBy.ID)
	for columnID, v := range values {
		_, err := h.Store.UpsertCell(context.Background(), cell.Encode(r.ID, columnID, v))
		require.NoError(t, err)
	}
	return r
}

func date(s string) time.Time {
	d, _ := time.Parse(model.DateLayout, s)
	return d
}

func ids(page visibility.Page) []uuid.UUID {
	out := make([]uuid.UUID, len(page.Rows))
	for i, v := range page.Rows {
		out[i] = v.Row.ID
	}
	return out
}

func TestBuilder_VisibleRows(t *testing.T) {
	ctx := context.Background()
	h := setup(t)
	north := h.row(t, testutil.FilialNorth, h.North, nil)
	south := h.row(t, testutil.FilialSouth, h.South, nil)
	east := h.row(t, testutil.FilialEast, h.Outsider, nil)
	h.GrantFilial(t, h.table.ID, testutil.FilialNorth, model.PermissionViewOnly)
	h.GrantFilial(t, h.table.ID, testutil.FilialSouth, model.PermissionEditView)

	tests := []struct {
		name      string
		principal func() database.Principal
		setup     func(t *testing.T)
		want      []uuid.UUID
	}{
		{name: "owner_sees_all", principal: func() database.Principal { return h.Owner }, want: []uuid.UUID{north.ID, south.ID, east.ID}},
		{name: "admin_sees_all", principal: func() database.Principal { return h.Admin }, want: []uuid.UUID{north.ID, south.ID, east.ID}},
		{name: "home_unit_only", principal: func() database.Principal { return h.North }, want: []uuid.UUID{north.ID}},
		{name: "no_grant_no_rows", principal: func() database.Principal { return h.Outsider }},
		{
			name:      "user_filial_adds_unit",
			principal: func() database.Principal { return h.Outsider },
			setup: func(t *testing.T) {
				h.AddUserFilial(t, h.table.ID, h.Outsider.ID, testutil.FilialSouth)
			},
			want: []uuid.UUID{south.ID},
		},
		{
			name:      "override_denies_home_unit",
			principal: func() database.Principal { return h.South },
			setup: func(t *testing.T) {
				h.GrantUser(t, h.table.ID, h.South.ID, util.Some(testutil.FilialSouth), model.PermissionNoAccess)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup(t)
			}
			rows, err := h.builder.VisibleRows(ctx, tt.principal().ID, h.table)
			require.NoError(t, err)
			got := make([]uuid.UUID, len(rows))
			for i, r := range rows {
				got[i] = r.ID
			}
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuilder_VisibleRows_RowsWithoutUnit(t *testing.T) {
	ctx := context.Background()
	h := setup(t)
	unitless, err := h.Store.CreateRow(ctx, database.CreateRowParams{TableID: h.table.ID})
	require.NoError(t, err)
	h.GrantFilial(t, h.table.ID, testutil.FilialNorth, model.PermissionViewOnly)

	rows, err := h.builder.VisibleRows(ctx, h.North.ID, h.table)
	require.NoError(t, err)
	assert.Empty(t, rows, "a unit grant does not reach rows without unit")

	h.GrantUser(t, h.table.ID, h.North.ID, util.None[int64](), model.PermissionViewOnly)
	rows, err = h.builder.VisibleRows(ctx, h.North.ID, h.table)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, unitless.ID, rows[0].ID)
}

func TestBuilder_ListRows_Search(t *testing.T) {
	h := setup(t)
	apple := h.row(t, testutil.FilialNorth, h.North, map[uuid.UUID]model.Value{
		h.name.ID:   model.TextValue("Apple pie"),
		h.amount.ID: model.IntegerValue(42),
		h.active.ID: model.BooleanValue(true),
	})
	pear := h.row(t, testutil.FilialSouth, h.South, map[uuid.UUID]model.Value{
		h.name.ID:  model.TextValue("Pear"),
		h.price.ID: model.FloatValue(3.1415),
		h.due.ID:   model.DateValue(date("2024-05-01")),
	})
	plum := h.row(t, testutil.FilialEast, h.Outsider, map[uuid.UUID]model.Value{
		h.name.ID:   model.TextValue("Plum"),
		h.active.ID: model.BooleanValue(false),
		h.status.ID: model.ChoiceValue("closed"),
	})

	tests := []struct {
		search string
		want   []uuid.UUID
	}{
		{search: "apple", want: []uuid.UUID{apple.ID}},
		{search: "P", want: []uuid.UUID{apple.ID, pear.ID, plum.ID}},
		{search: "42", want: []uuid.UUID{apple.ID}},
		{search: "3.141", want: []uuid.UUID{pear.ID}},
		{search: "3.2", want: nil},
		{search: "да", want: []uuid.UUID{apple.ID}},
		{search: "ложь", want: []uuid.UUID{plum.ID}},
		{search: "01.05.2024", want: []uuid.UUID{pear.ID}},
		{search: "05/01/2024", want: nil},
		{search: "2024-05-01", want: []uuid.UUID{pear.ID}},
		{search: "closed", want: []uuid.UUID{plum.ID}},
		{search: "southern", want: []uuid.UUID{pear.ID}},
		{search: "outsider", want: []uuid.UUID{plum.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			page, err := h.builder.ListRows(context.Background(), h.Owner.ID, h.table, visibility.Query{Search: tt.search})
			require.NoError(t, err)
			if len(tt.want) == 0 {
				assert.Empty(t, page.Rows)
				return
			}
			assert.Equal(t, tt.want, ids(page))
			assert.Equal(t, len(tt.want), page.Total)
		})
	}
}

func TestBuilder_ListRows_MonthFirstDate(t *testing.T) {
	h := setup(t)
	r := h.row(t, testutil.FilialNorth, h.North, map[uuid.UUID]model.Value{
		h.due.ID: model.DateValue(date("2024-12-25")),
	})

	page, err := h.builder.ListRows(context.Background(), h.Owner.ID, h.table, visibility.Query{Search: "12/25/2024"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{r.ID}, ids(page))
}

func TestBuilder_ListRows_Filters(t *testing.T) {
	h := setup(t)
	a := h.row(t, testutil.FilialNorth, h.North, map[uuid.UUID]model.Value{
		h.name.ID:       model.TextValue("Alpha"),
		h.amount.ID:     model.IntegerValue(5),
		h.due.ID:        model.DateValue(date("2024-01-10")),
		h.status.ID:     model.ChoiceValue("open"),
		h.attachment.ID: model.FileValue("tables/x/1_a.pdf"),
		h.active.ID:     model.BooleanValue(true),
	})
	b := h.row(t, testutil.FilialNorth, h.North, map[uuid.UUID]model.Value{
		h.name.ID:   model.TextValue("Beta"),
		h.amount.ID: model.IntegerValue(15),
		h.due.ID:    model.DateValue(date("2024-02-10")),
		h.status.ID: model.ChoiceValue("closed"),
		h.active.ID: model.BooleanValue(false),
	})
	c := h.row(t, testutil.FilialNorth, h.North, nil)

	key := func(column database.Column, suffix string) string {
		return "filter_" + column.ID.String() + suffix
	}
	tests := []struct {
		name  string
		query url.Values
		want  []uuid.UUID
	}{
		{name: "none", query: url.Values{}, want: []uuid.UUID{a.ID, b.ID, c.ID}},
		{name: "text_substring", query: url.Values{key(h.name, ""): {"ALP"}}, want: []uuid.UUID{a.ID}},
		{name: "integer_min", query: url.Values{key(h.amount, "_min"): {"5"}}, want: []uuid.UUID{a.ID, b.ID}},
		{name: "integer_range", query: url.Values{key(h.amount, "_min"): {"6"}, key(h.amount, "_max"): {"15"}}, want: []uuid.UUID{b.ID}},
		{name: "date_range", query: url.Values{key(h.due, "_start"): {"2024-01-10"}, key(h.due, "_end"): {"31.01.2024"}}, want: []uuid.UUID{a.ID}},
		{name: "choice_membership", query: url.Values{key(h.status, ""): {"closed", "open"}}, want: []uuid.UUID{a.ID, b.ID}},
		{name: "boolean", query: url.Values{key(h.active, ""): {"false"}}, want: []uuid.UUID{b.ID}},
		{name: "has_file", query: url.Values{key(h.attachment, ""): {"yes"}}, want: []uuid.UUID{a.ID}},
		{name: "no_file", query: url.Values{key(h.attachment, ""): {"no"}}, want: []uuid.UUID{b.ID, c.ID}},
		{name: "combined", query: url.Values{key(h.amount, "_max"): {"20"}, key(h.name, ""): {"beta"}}, want: []uuid.UUID{b.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			columns, err := h.Store.ListColumns(context.Background(), h.table.ID)
			require.NoError(t, err)
			filters, err := visibility.ParseFilters(columns, tt.query)
			require.NoError(t, err)

			page, err := h.builder.ListRows(context.Background(), h.Owner.ID, h.table, visibility.Query{Filters: filters})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(page))
		})
	}
}

func TestParseFilters_Malformed(t *testing.T) {
	h := setup(t)
	columns, err := h.Store.ListColumns(context.Background(), h.table.ID)
	require.NoError(t, err)

	_, err = visibility.ParseFilters(columns, url.Values{
		"filter_" + h.amount.ID.String() + "_min": {"lots"},
		"filter_" + h.due.ID.String() + "_end":   {"someday"},
		"filter_" + h.active.ID.String():         {"maybe"},
	})
	var errs model.ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 3)
}

func TestBuilder_ListRows_Sort(t *testing.T) {
	h := setup(t)
	a := h.row(t, testutil.FilialSouth, h.South, map[uuid.UUID]model.Value{
		h.amount.ID: model.IntegerValue(10),
		h.name.ID:   model.TextValue("beta"),
	})
	b := h.row(t, testutil.FilialNorth, h.North, map[uuid.UUID]model.Value{
		h.amount.ID: model.IntegerValue(-3),
		h.due.ID:    model.DateValue(date("2024-01-01")),
		h.name.ID:   model.TextValue("Alpha"),
	})
	c := h.row(t, testutil.FilialEast, h.Outsider, map[uuid.UUID]model.Value{
		h.amount.ID: model.IntegerValue(10),
		h.due.ID:    model.DateValue(date("2023-06-01")),
	})

	tests := []struct {
		sort string
		want []uuid.UUID
	}{
		{sort: "", want: []uuid.UUID{a.ID, b.ID, c.ID}},
		{sort: "order", want: []uuid.UUID{a.ID, b.ID, c.ID}},
		{sort: "-order", want: []uuid.UUID{c.ID, b.ID, a.ID}},
		{sort: h.amount.ID.String(), want: []uuid.UUID{b.ID, a.ID, c.ID}},
		{sort: "-" + h.amount.ID.String(), want: []uuid.UUID{a.ID, c.ID, b.ID}},
		{sort: h.due.ID.String(), want: []uuid.UUID{a.ID, c.ID, b.ID}},
		{sort: h.name.ID.String(), want: []uuid.UUID{c.ID, b.ID, a.ID}},
		{sort: "filial", want: []uuid.UUID{c.ID, b.ID, a.ID}},
		{sort: "created_by", want: []uuid.UUID{b.ID, c.ID, a.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.sort, func(t *testing.T) {
			columns, err := h.Store.ListColumns(context.Background(), h.table.ID)
			require.NoError(t, err)
			s, err := visibility.ParseSort(columns, tt.sort)
			require.NoError(t, err)

			page, err := h.builder.ListRows(context.Background(), h.Owner.ID, h.table, visibility.Query{Sort: s})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(page))
		})
	}
}

func TestParseSort_Unknown(t *testing.T) {
	_, err := visibility.ParseSort(nil, uuid.NewString())
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, model.ValidationTypeMismatch, verr.Kind)
}

func TestBuilder_ListRows_PagingAndNames(t *testing.T) {
	ctx := context.Background()
	h := setup(t)
	var rows []database.Row
	for range 5 {
		rows = append(rows, h.row(t, testutil.FilialNorth, h.North, nil))
	}
	_, err := h.Store.CreateRowLock(ctx, database.CreateRowLockParams{RowID: rows[1].ID, PrincipalID: h.South.ID})
	require.NoError(t, err)

	page, err := h.builder.ListRows(ctx, h.Owner.ID, h.table, visibility.Query{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, []uuid.UUID{rows[1].ID, rows[2].ID}, ids(page))

	first := page.Rows[0]
	assert.Equal(t, "North", first.FilialName)
	assert.Equal(t, h.North.FullName(), first.CreatedByName)
	assert.Equal(t, h.North.FullName(), first.UpdatedByName)
	assert.Equal(t, util.Some(h.South.ID), first.LockedBy)
	assert.False(t, page.Rows[1].LockedBy.IsSet)

	page, err = h.builder.ListRows(ctx, h.Owner.ID, h.table, visibility.Query{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Rows)
	assert.Equal(t, 5, page.Total)
}
