package visibility

import (
	"bytes"
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/model"

	"github.com/google/uuid"
)

// Built-in sort keys besides column ids.
const (
	SortOrder     = "order"
	SortUpdatedAt = "updated_at"
	SortFilial    = "filial"
	SortCreatedBy = "created_by"
)

// Sort orders a listing by a column id or a built-in key.
type Sort struct {
	Key  string
	Desc bool
}

// ParseSort reads a sort parameter such as "updated_at" or "-<columnID>",
// a leading dash meaning descending. An empty parameter sorts by row order.
func ParseSort(columns []database.Column, param string) (Sort, error) {
	param = strings.TrimSpace(param)
	s := Sort{Key: SortOrder}
	if param == "" {
		return s, nil
	}
	if rest, ok := strings.CutPrefix(param, "-"); ok {
		s.Desc = true
		param = rest
	}

	switch param {
	case SortOrder, SortUpdatedAt, SortFilial, SortCreatedBy:
		s.Key = param
		return s, nil
	}
	if id, err := uuid.Parse(param); err == nil {
		for _, c := range columns {
			if c.ID == id {
				s.Key = param
				return s, nil
			}
		}
	}
	return Sort{}, &model.ValidationError{
		Kind:    model.ValidationTypeMismatch,
		Column:  "sort",
		Message: "unknown sort key " + param,
	}
}

// sortKey returns the value a missing cell sorts as: the type default, with
// dates at the earliest representable date.
func sortKey(column database.Column, v model.Value, stored bool) model.Value {
	if stored && !v.IsNull() {
		return v
	}
	switch column.DataType {
	case model.ColumnTypeDate:
		return model.DateValue(time.Time{})
	case model.ColumnTypeInteger:
		return model.IntegerValue(0)
	case model.ColumnTypePositiveInteger:
		return model.PositiveIntegerValue(0)
	case model.ColumnTypeFloat:
		return model.FloatValue(0)
	case model.ColumnTypeBoolean:
		return model.BooleanValue(false)
	default:
		return model.TextValue("")
	}
}

func compareRows(a, b RowView) int {
	return cmp.Or(cmp.Compare(a.Row.Order, b.Row.Order), bytes.Compare(a.Row.ID[:], b.Row.ID[:]))
}

// sortViews orders views in place. Ties always fall back to row order and
// id ascending.
func sortViews(views []RowView, s Sort, columns []database.Column) {
	var primary func(a, b RowView) int

	switch s.Key {
	case SortOrder, "":
		primary = func(a, b RowView) int { return cmp.Compare(a.Row.Order, b.Row.Order) }
	case SortUpdatedAt:
		primary = func(a, b RowView) int { return a.Row.UpdatedAt.Compare(b.Row.UpdatedAt) }
	case SortFilial:
		primary = func(a, b RowView) int { return strings.Compare(strings.ToLower(a.FilialName), strings.ToLower(b.FilialName)) }
	case SortCreatedBy:
		primary = func(a, b RowView) int {
			return strings.Compare(strings.ToLower(a.CreatedByName), strings.ToLower(b.CreatedByName))
		}
	default:
		id, _ := uuid.Parse(s.Key)
		idx := slices.IndexFunc(columns, func(c database.Column) bool { return c.ID == id })
		if idx < 0 {
			primary = func(a, b RowView) int { return 0 }
			break
		}
		column := columns[idx]
		primary = func(a, b RowView) int {
			av, aok := a.Values[id]
			bv, bok := b.Values[id]
			return model.Compare(sortKey(column, av, aok), sortKey(column, bv, bok))
		}
	}

	slices.SortStableFunc(views, func(a, b RowView) int {
		c := primary(a, b)
		if s.Desc {
			c = -c
		}
		return cmp.Or(c, compareRows(a, b))
	})
}
