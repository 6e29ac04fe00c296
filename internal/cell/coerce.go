package cell

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/model"
)

const (
	minInteger = math.MinInt32
	maxInteger = math.MaxInt32
)

// Date layouts accepted from forms, tried in order.
var dateLayouts = []string{
	model.DateLayout,
	"02.01.2006",
	"02/01/2006",
	time.RFC3339,
}

var booleanWords = map[string]bool{
	"true":   true,
	"yes":    true,
	"on":     true,
	"1":      true,
	"да":     true,
	"истина": true,
	"false":  false,
	"no":     false,
	"off":    false,
	"0":      false,
	"нет":    false,
	"ложь":   false,
}

// FileUpload is a new blob for a file column. It is stored when the row is
// written and replaces the previous blob of the cell.
type FileUpload struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// ParseBoolean reads the boolean words accepted in forms and search queries.
func ParseBoolean(s string) (bool, bool) {
	b, ok := booleanWords[strings.ToLower(strings.TrimSpace(s))]
	return b, ok
}

// ParseDate reads a calendar date in any of the accepted layouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// isBlank reports whether raw clears the cell.
func isBlank(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case *FileUpload:
		return v == nil
	case model.Value:
		return v.IsEmpty()
	}
	return false
}

func invalid(column database.Column, kind model.ValidationKind, format string, args ...any) *model.ValidationError {
	return &model.ValidationError{
		Kind:     kind,
		ColumnID: column.ID,
		Column:   column.Name,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Coerce converts a raw input into the value stored for column. It accepts
// typed Go values as well as the strings a form submits. A blank input yields
// a null value, or a required error when the column is required. File
// uploads are stored by SetValue and SaveRow; Coerce only accepts the
// storage key of a blob that belongs to the column's table.
func (s *Store) Coerce(column database.Column, raw any) (model.Value, error) {
	if isBlank(raw) {
		if column.Required {
			return model.Value{}, invalid(column, model.ValidationRequired, "a value is required")
		}
		return model.NullValue(column.DataType), nil
	}
	if v, ok := raw.(model.Value); ok {
		if v.Type() != column.DataType {
			return model.Value{}, invalid(column, model.ValidationTypeMismatch, "expected %s, got %s", column.DataType, v.Type())
		}
		raw = v.Interface()
	}

	switch column.DataType {
	case model.ColumnTypeText:
		str, ok := raw.(string)
		if !ok {
			return model.Value{}, invalid(column, model.ValidationTypeMismatch, "expected text")
		}
		return model.TextValue(str), nil
	case model.ColumnTypeInteger, model.ColumnTypePositiveInteger:
		return coerceInteger(column, raw)
	case model.ColumnTypeFloat:
		return coerceFloat(column, raw)
	case model.ColumnTypeBoolean:
		switch v := raw.(type) {
		case bool:
			return model.BooleanValue(v), nil
		case string:
			if b, ok := ParseBoolean(v); ok {
				return model.BooleanValue(b), nil
			}
		}
		return model.Value{}, invalid(column, model.ValidationTypeMismatch, "expected a boolean")
	case model.ColumnTypeDate:
		switch v := raw.(type) {
		case time.Time:
			return model.DateValue(v), nil
		case string:
			if t, ok := ParseDate(v); ok {
				return model.DateValue(t), nil
			}
		}
		return model.Value{}, invalid(column, model.ValidationTypeMismatch, "expected a date")
	case model.ColumnTypeChoice:
		str, ok := raw.(string)
		if !ok {
			return model.Value{}, invalid(column, model.ValidationTypeMismatch, "expected one of the column options")
		}
		str = strings.TrimSpace(str)
		if !slices.Contains(column.Choices, str) {
			return model.Value{}, invalid(column, model.ValidationChoiceInvalid, "%q is not an option", str)
		}
		return model.ChoiceValue(str), nil
	case model.ColumnTypeEmail:
		str, ok := raw.(string)
		if !ok || !s.validator.IsEmail(strings.TrimSpace(str)) {
			return model.Value{}, invalid(column, model.ValidationTypeMismatch, "expected an e-mail address")
		}
		return model.EmailValue(strings.TrimSpace(str)), nil
	case model.ColumnTypeURL:
		str, ok := raw.(string)
		if !ok || !s.validator.IsURL(strings.TrimSpace(str)) {
			return model.Value{}, invalid(column, model.ValidationTypeMismatch, "expected an http(s) URL")
		}
		return model.URLValue(strings.TrimSpace(str)), nil
	case model.ColumnTypeFile:
		key, ok := raw.(string)
		if !ok {
			return model.Value{}, invalid(column, model.ValidationTypeMismatch, "expected a stored file")
		}
		if !strings.HasPrefix(key, "tables/"+column.TableID.String()+"/") {
			return model.Value{}, invalid(column, model.ValidationTypeMismatch, "file does not belong to this table")
		}
		return model.FileValue(key), nil
	}
	return model.Value{}, invalid(column, model.ValidationTypeMismatch, "unsupported column type %q", column.DataType)
}

func coerceInteger(column database.Column, raw any) (model.Value, error) {
	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Trunc(v) != v {
			return model.Value{}, invalid(column, model.ValidationTypeMismatch, "expected a whole number")
		}
		if v < math.MinInt64 || v >= math.MaxInt64 {
			return model.Value{}, invalid(column, model.ValidationRangeViolation, "out of range")
		}
		n = int64(v)
	case json.Number:
		return coerceInteger(column, v.String())
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if errors.Is(err, strconv.ErrRange) {
			return model.Value{}, invalid(column, model.ValidationRangeViolation, "out of range")
		}
		if err != nil {
			return model.Value{}, invalid(column, model.ValidationTypeMismatch, "expected a whole number")
		}
		n = parsed
	default:
		return model.Value{}, invalid(column, model.ValidationTypeMismatch, "expected a whole number")
	}

	low := int64(minInteger)
	if column.DataType == model.ColumnTypePositiveInteger {
		low = 0
	}
	if n < low || n > maxInteger {
		return model.Value{}, invalid(column, model.ValidationRangeViolation, "must be between %d and %d", low, maxInteger)
	}
	if column.DataType == model.ColumnTypePositiveInteger {
		return model.PositiveIntegerValue(n), nil
	}
	return model.IntegerValue(n), nil
}

func coerceFloat(column database.Column, raw any) (model.Value, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		return coerceFloat(column, v.String())
	case string:
		// Forms may use a decimal comma.
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", "."), 64)
		if err != nil {
			return model.Value{}, invalid(column, model.ValidationTypeMismatch, "expected a number")
		}
		f = parsed
	default:
		return model.Value{}, invalid(column, model.ValidationTypeMismatch, "expected a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return model.Value{}, invalid(column, model.ValidationTypeMismatch, "expected a finite number")
	}
	return model.FloatValue(f), nil
}
