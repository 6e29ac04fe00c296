package cell

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/validator"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func column(dataType model.ColumnType, required bool, choices ...string) database.Column {
	return database.Column{
		ID:       uuid.New(),
		TableID:  uuid.MustParse("6f1c2a9e-4b53-4d43-9b0e-1f6a2d7c8e90"),
		Name:     string(dataType),
		Required: required,
		DataType: dataType,
		Choices:  choices,
	}
}

func TestCoerce(t *testing.T) {
	s := &Store{validator: validator.New()}
	date := time.Date(2024, time.May, 9, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		column   database.Column
		raw      any
		want     model.Value
		wantKind model.ValidationKind
	}{
		{name: "text", column: column(model.ColumnTypeText, false), raw: "hello", want: model.TextValue("hello")},
		{name: "text_rejects_number", column: column(model.ColumnTypeText, false), raw: 12, wantKind: model.ValidationTypeMismatch},
		{name: "blank_optional_is_null", column: column(model.ColumnTypeText, false), raw: "  ", want: model.NullValue(model.ColumnTypeText)},
		{name: "nil_required", column: column(model.ColumnTypeInteger, true), raw: nil, wantKind: model.ValidationRequired},
		{name: "blank_required", column: column(model.ColumnTypeText, true), raw: "", wantKind: model.ValidationRequired},

		{name: "integer", column: column(model.ColumnTypeInteger, false), raw: 42, want: model.IntegerValue(42)},
		{name: "integer_from_string", column: column(model.ColumnTypeInteger, false), raw: " -17 ", want: model.IntegerValue(-17)},
		{name: "integer_from_json_number", column: column(model.ColumnTypeInteger, false), raw: json.Number("7"), want: model.IntegerValue(7)},
		{name: "integer_from_whole_float", column: column(model.ColumnTypeInteger, false), raw: 42.0, want: model.IntegerValue(42)},
		{name: "integer_fraction", column: column(model.ColumnTypeInteger, false), raw: 4.5, wantKind: model.ValidationTypeMismatch},
		{name: "integer_max", column: column(model.ColumnTypeInteger, false), raw: int64(math.MaxInt32), want: model.IntegerValue(math.MaxInt32)},
		{name: "integer_min", column: column(model.ColumnTypeInteger, false), raw: int64(math.MinInt32), want: model.IntegerValue(math.MinInt32)},
		{name: "integer_overflow", column: column(model.ColumnTypeInteger, false), raw: int64(2147483648), wantKind: model.ValidationRangeViolation},
		{name: "integer_overflow_string", column: column(model.ColumnTypeInteger, false), raw: "2147483648", wantKind: model.ValidationRangeViolation},
		{name: "integer_overflow_int64", column: column(model.ColumnTypeInteger, false), raw: "99999999999999999999", wantKind: model.ValidationRangeViolation},
		{name: "integer_garbage", column: column(model.ColumnTypeInteger, false), raw: "abc", wantKind: model.ValidationTypeMismatch},

		{name: "positive_integer_zero", column: column(model.ColumnTypePositiveInteger, false), raw: 0, want: model.PositiveIntegerValue(0)},
		{name: "positive_integer_negative", column: column(model.ColumnTypePositiveInteger, false), raw: -1, wantKind: model.ValidationRangeViolation},

		{name: "float", column: column(model.ColumnTypeFloat, false), raw: 3.25, want: model.FloatValue(3.25)},
		{name: "float_decimal_comma", column: column(model.ColumnTypeFloat, false), raw: "3,5", want: model.FloatValue(3.5)},
		{name: "float_from_int", column: column(model.ColumnTypeFloat, false), raw: 3, want: model.FloatValue(3)},
		{name: "float_nan", column: column(model.ColumnTypeFloat, false), raw: math.NaN(), wantKind: model.ValidationTypeMismatch},
		{name: "float_inf_string", column: column(model.ColumnTypeFloat, false), raw: "Inf", wantKind: model.ValidationTypeMismatch},

		{name: "boolean", column: column(model.ColumnTypeBoolean, false), raw: true, want: model.BooleanValue(true)},
		{name: "boolean_word", column: column(model.ColumnTypeBoolean, false), raw: "Да", want: model.BooleanValue(true)},
		{name: "boolean_off", column: column(model.ColumnTypeBoolean, false), raw: "off", want: model.BooleanValue(false)},
		{name: "boolean_garbage", column: column(model.ColumnTypeBoolean, false), raw: "maybe", wantKind: model.ValidationTypeMismatch},

		{name: "date_iso", column: column(model.ColumnTypeDate, false), raw: "2024-05-09", want: model.DateValue(date)},
		{name: "date_dotted", column: column(model.ColumnTypeDate, false), raw: "09.05.2024", want: model.DateValue(date)},
		{name: "date_slashed", column: column(model.ColumnTypeDate, false), raw: "09/05/2024", want: model.DateValue(date)},
		{name: "date_time", column: column(model.ColumnTypeDate, false), raw: date.Add(15 * time.Hour), want: model.DateValue(date)},
		{name: "date_garbage", column: column(model.ColumnTypeDate, false), raw: "31.02.2024", wantKind: model.ValidationTypeMismatch},

		{name: "choice", column: column(model.ColumnTypeChoice, false, "red", "green"), raw: "green", want: model.ChoiceValue("green")},
		{name: "choice_invalid", column: column(model.ColumnTypeChoice, false, "red", "green"), raw: "blue", wantKind: model.ValidationChoiceInvalid},

		{name: "email", column: column(model.ColumnTypeEmail, false), raw: " a.b@example.com ", want: model.EmailValue("a.b@example.com")},
		{name: "email_invalid", column: column(model.ColumnTypeEmail, false), raw: "not-an-email", wantKind: model.ValidationTypeMismatch},

		{name: "url", column: column(model.ColumnTypeURL, false), raw: "https://example.com/x", want: model.URLValue("https://example.com/x")},
		{name: "url_invalid", column: column(model.ColumnTypeURL, false), raw: "example", wantKind: model.ValidationTypeMismatch},

		{name: "file_key", column: column(model.ColumnTypeFile, false), raw: "tables/6f1c2a9e-4b53-4d43-9b0e-1f6a2d7c8e90/2024/05/x_a.pdf", want: model.FileValue("tables/6f1c2a9e-4b53-4d43-9b0e-1f6a2d7c8e90/2024/05/x_a.pdf")},
		{name: "file_foreign_key", column: column(model.ColumnTypeFile, false), raw: "tables/other/2024/05/x_a.pdf", wantKind: model.ValidationTypeMismatch},

		{name: "typed_value", column: column(model.ColumnTypeInteger, false), raw: model.IntegerValue(5), want: model.IntegerValue(5)},
		{name: "typed_value_mismatch", column: column(model.ColumnTypeInteger, false), raw: model.TextValue("5"), wantKind: model.ValidationTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Coerce(tt.column, tt.raw)
			if tt.wantKind != "" {
				var verr *model.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.wantKind, verr.Kind)
				assert.Equal(t, tt.column.ID, verr.ColumnID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBoolean(t *testing.T) {
	tests := []struct {
		in     string
		want   bool
		wantOK bool
	}{
		{in: "true", want: true, wantOK: true},
		{in: "YES", want: true, wantOK: true},
		{in: "истина", want: true, wantOK: true},
		{in: "нет", want: false, wantOK: true},
		{in: "0", want: false, wantOK: true},
		{in: "perhaps", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseBoolean(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeDecode_SingleSlot(t *testing.T) {
	rowID, columnID := uuid.New(), uuid.New()

	c := Encode(rowID, columnID, model.IntegerValue(42))
	assert.True(t, c.IntegerValue.IsSet)
	assert.False(t, c.TextValue.IsSet)
	assert.False(t, c.FloatValue.IsSet)

	v, ok := Decode(c, model.ColumnTypeInteger)
	require.True(t, ok)
	assert.Equal(t, int64(42), v.Int())

	_, ok = Decode(c, model.ColumnTypeText)
	assert.False(t, ok)
}
