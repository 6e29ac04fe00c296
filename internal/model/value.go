package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// Value holds one cell value. Exactly one slot is meaningful and the column
// type recorded at construction selects it.
type Value struct {
	typ     ColumnType
	null    bool
	str     string
	integer int64
	float   float64
	boolean bool
	date    time.Time
}

func NullValue(t ColumnType) Value { return Value{typ: t, null: true} }

func TextValue(s string) Value   { return Value{typ: ColumnTypeText, str: s} }
func ChoiceValue(s string) Value { return Value{typ: ColumnTypeChoice, str: s} }
func EmailValue(s string) Value  { return Value{typ: ColumnTypeEmail, str: s} }
func URLValue(s string) Value    { return Value{typ: ColumnTypeURL, str: s} }

// FileValue holds the storage key of an uploaded blob.
func FileValue(key string) Value { return Value{typ: ColumnTypeFile, str: key} }

func IntegerValue(i int64) Value { return Value{typ: ColumnTypeInteger, integer: i} }

func PositiveIntegerValue(i int64) Value {
	return Value{typ: ColumnTypePositiveInteger, integer: i}
}

func FloatValue(f float64) Value { return Value{typ: ColumnTypeFloat, float: f} }
func BooleanValue(b bool) Value  { return Value{typ: ColumnTypeBoolean, boolean: b} }

// DateValue truncates t to a calendar date in UTC.
func DateValue(t time.Time) Value {
	return Value{typ: ColumnTypeDate, date: truncateDate(t)}
}

// DefaultValue is what a cell reads as when it was never written.
func DefaultValue(t ColumnType, today time.Time) Value {
	switch t {
	case ColumnTypeInteger, ColumnTypePositiveInteger:
		return Value{typ: t}
	case ColumnTypeFloat:
		return FloatValue(0)
	case ColumnTypeBoolean:
		return BooleanValue(false)
	case ColumnTypeDate:
		return DateValue(today)
	default:
		return Value{typ: t}
	}
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (v Value) Type() ColumnType { return v.typ }
func (v Value) IsNull() bool     { return v.null }

// Str returns the string slot used by text, choice, email, url and file values.
func (v Value) Str() string     { return v.str }
func (v Value) Int() int64      { return v.integer }
func (v Value) Float() float64  { return v.float }
func (v Value) Bool() bool      { return v.boolean }
func (v Value) Date() time.Time { return v.date }

func (v Value) usesStringSlot() bool {
	switch v.typ {
	case ColumnTypeText, ColumnTypeChoice, ColumnTypeEmail, ColumnTypeURL, ColumnTypeFile:
		return true
	}
	return false
}

// IsEmpty reports whether the value carries nothing a required column would accept.
func (v Value) IsEmpty() bool {
	if v.null {
		return true
	}
	if v.usesStringSlot() {
		return strings.TrimSpace(v.str) == ""
	}
	return false
}

// Interface returns the active slot as a plain Go value, nil when null.
func (v Value) Interface() any {
	if v.null {
		return nil
	}
	switch v.typ {
	case ColumnTypeInteger, ColumnTypePositiveInteger:
		return v.integer
	case ColumnTypeFloat:
		return v.float
	case ColumnTypeBoolean:
		return v.boolean
	case ColumnTypeDate:
		return v.date
	default:
		return v.str
	}
}

func (v Value) String() string {
	if v.null {
		return ""
	}
	switch v.typ {
	case ColumnTypeInteger, ColumnTypePositiveInteger:
		return strconv.FormatInt(v.integer, 10)
	case ColumnTypeFloat:
		return strconv.FormatFloat(v.float, 'f', -1, 64)
	case ColumnTypeBoolean:
		return strconv.FormatBool(v.boolean)
	case ColumnTypeDate:
		return v.date.Format(DateLayout)
	default:
		return v.str
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.null {
		return []byte("null"), nil
	}
	if v.typ == ColumnTypeDate {
		return json.Marshal(v.date.Format(DateLayout))
	}
	return json.Marshal(v.Interface())
}

// Compare orders two values of the same type. Nulls sort first.
func Compare(a, b Value) int {
	switch {
	case a.null && b.null:
		return 0
	case a.null:
		return -1
	case b.null:
		return 1
	}
	switch a.typ {
	case ColumnTypeInteger, ColumnTypePositiveInteger:
		return cmpOrdered(a.integer, b.integer)
	case ColumnTypeFloat:
		return cmpOrdered(a.float, b.float)
	case ColumnTypeBoolean:
		switch {
		case a.boolean == b.boolean:
			return 0
		case !a.boolean:
			return -1
		default:
			return 1
		}
	case ColumnTypeDate:
		return a.date.Compare(b.date)
	default:
		return strings.Compare(strings.ToLower(a.str), strings.ToLower(b.str))
	}
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
