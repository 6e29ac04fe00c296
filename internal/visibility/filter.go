package visibility

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/freekieb7/sheets/internal/cell"
	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/google/uuid"
)

const filterPrefix = "filter_"

// Filter restricts the rows of a listing by the value of one column. Only the
// fields matching the column type are used. A row without a stored value
// matches no filter except HasFile=false.
type Filter struct {
	ColumnID uuid.UUID
	DataType model.ColumnType

	// Contains matches text, email and url values case-insensitively.
	Contains string
	// Choices matches choice values exactly; any of them may match.
	Choices []string
	Bool    util.Optional[bool]
	// Min and Max bound numeric values inclusively.
	Min util.Optional[float64]
	Max util.Optional[float64]
	// Start and End bound date values inclusively.
	Start   util.Optional[time.Time]
	End     util.Optional[time.Time]
	HasFile util.Optional[bool]
}

// ParseFilters reads the filter_<columnID> query parameters of a listing.
// Numeric columns take filter_<id>_min and _max, date columns _start and _end.
// Every malformed parameter is reported.
func ParseFilters(columns []database.Column, query url.Values) ([]Filter, error) {
	var (
		filters []Filter
		errs    model.ValidationErrors
	)
	bad := func(column database.Column, param, value string) {
		errs = append(errs, &model.ValidationError{
			Kind:     model.ValidationTypeMismatch,
			ColumnID: column.ID,
			Column:   column.Name,
			Message:  param + ": cannot parse " + strconv.Quote(value),
		})
	}

	for _, column := range columns {
		key := filterPrefix + column.ID.String()
		f := Filter{ColumnID: column.ID, DataType: column.DataType}
		active := false

		switch {
		case column.DataType.IsTextual():
			if v := strings.TrimSpace(query.Get(key)); v != "" {
				f.Contains = v
				active = true
			}
		case column.DataType == model.ColumnTypeChoice:
			for _, v := range query[key] {
				if v = strings.TrimSpace(v); v != "" {
					f.Choices = append(f.Choices, v)
				}
			}
			active = len(f.Choices) > 0
		case column.DataType == model.ColumnTypeBoolean, column.DataType == model.ColumnTypeFile:
			v := strings.TrimSpace(query.Get(key))
			if v == "" {
				break
			}
			b, ok := cell.ParseBoolean(v)
			if !ok {
				bad(column, key, v)
				break
			}
			if column.DataType == model.ColumnTypeFile {
				f.HasFile = util.Some(b)
			} else {
				f.Bool = util.Some(b)
			}
			active = true
		case column.DataType.IsNumeric():
			for _, bound := range []struct {
				suffix string
				target *util.Optional[float64]
			}{{"_min", &f.Min}, {"_max", &f.Max}} {
				v := strings.TrimSpace(query.Get(key + bound.suffix))
				if v == "" {
					continue
				}
				n, err := strconv.ParseFloat(strings.Replace(v, ",", ".", 1), 64)
				if err != nil {
					bad(column, key+bound.suffix, v)
					continue
				}
				*bound.target = util.Some(n)
				active = true
			}
		case column.DataType == model.ColumnTypeDate:
			for _, bound := range []struct {
				suffix string
				target *util.Optional[time.Time]
			}{{"_start", &f.Start}, {"_end", &f.End}} {
				v := strings.TrimSpace(query.Get(key + bound.suffix))
				if v == "" {
					continue
				}
				d, ok := cell.ParseDate(v)
				if !ok {
					bad(column, key+bound.suffix, v)
					continue
				}
				*bound.target = util.Some(model.DateValue(d).Date())
				active = true
			}
		}

		if active {
			filters = append(filters, f)
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return filters, nil
}

// Match reports whether a row passes the filter given its stored value.
func (f Filter) Match(v model.Value, stored bool) bool {
	if f.DataType == model.ColumnTypeFile {
		has := stored && !v.IsEmpty()
		return !f.HasFile.IsSet || f.HasFile.Val == has
	}
	if !stored || v.IsNull() {
		return false
	}

	switch {
	case f.DataType.IsTextual():
		return f.Contains == "" || strings.Contains(strings.ToLower(v.Str()), strings.ToLower(f.Contains))
	case f.DataType == model.ColumnTypeChoice:
		if len(f.Choices) == 0 {
			return true
		}
		for _, choice := range f.Choices {
			if v.Str() == choice {
				return true
			}
		}
		return false
	case f.DataType == model.ColumnTypeBoolean:
		return !f.Bool.IsSet || v.Bool() == f.Bool.Val
	case f.DataType.IsNumeric():
		n := v.Float()
		if f.DataType != model.ColumnTypeFloat {
			n = float64(v.Int())
		}
		if f.Min.IsSet && n < f.Min.Val {
			return false
		}
		return !f.Max.IsSet || n <= f.Max.Val
	case f.DataType == model.ColumnTypeDate:
		d := v.Date()
		if f.Start.IsSet && d.Before(f.Start.Val) {
			return false
		}
		return !f.End.IsSet || !d.After(f.End.Val)
	}
	return true
}
