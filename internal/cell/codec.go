package cell

import (
	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/google/uuid"
)

// Decode reads the slot selected by t. ok is false when that slot is empty,
// which happens for cells written before a column changed its options.
func Decode(c database.Cell, t model.ColumnType) (model.Value, bool) {
	switch t {
	case model.ColumnTypeText:
		return stringSlot(c.TextValue, model.TextValue)
	case model.ColumnTypeChoice:
		return stringSlot(c.ChoiceValue, model.ChoiceValue)
	case model.ColumnTypeEmail:
		return stringSlot(c.EmailValue, model.EmailValue)
	case model.ColumnTypeURL:
		return stringSlot(c.URLValue, model.URLValue)
	case model.ColumnTypeFile:
		return stringSlot(c.FileValue, model.FileValue)
	case model.ColumnTypeInteger:
		if c.IntegerValue.IsSet {
			return model.IntegerValue(c.IntegerValue.Val), true
		}
	case model.ColumnTypePositiveInteger:
		if c.IntegerValue.IsSet {
			return model.PositiveIntegerValue(c.IntegerValue.Val), true
		}
	case model.ColumnTypeFloat:
		if c.FloatValue.IsSet {
			return model.FloatValue(c.FloatValue.Val), true
		}
	case model.ColumnTypeBoolean:
		if c.BooleanValue.IsSet {
			return model.BooleanValue(c.BooleanValue.Val), true
		}
	case model.ColumnTypeDate:
		if c.DateValue.IsSet {
			return model.DateValue(c.DateValue.Val), true
		}
	}
	return model.NullValue(t), false
}

func stringSlot(slot util.Optional[string], build func(string) model.Value) (model.Value, bool) {
	if !slot.IsSet {
		return model.Value{}, false
	}
	return build(slot.Val), true
}

// Encode builds the cell row holding v in the slot of its type. Every other
// slot stays empty.
func Encode(rowID, columnID uuid.UUID, v model.Value) database.Cell {
	c := database.Cell{RowID: rowID, ColumnID: columnID}
	if v.IsNull() {
		return c
	}
	switch v.Type() {
	case model.ColumnTypeText:
		c.TextValue = util.Some(v.Str())
	case model.ColumnTypeChoice:
		c.ChoiceValue = util.Some(v.Str())
	case model.ColumnTypeEmail:
		c.EmailValue = util.Some(v.Str())
	case model.ColumnTypeURL:
		c.URLValue = util.Some(v.Str())
	case model.ColumnTypeFile:
		c.FileValue = util.Some(v.Str())
	case model.ColumnTypeInteger, model.ColumnTypePositiveInteger:
		c.IntegerValue = util.Some(v.Int())
	case model.ColumnTypeFloat:
		c.FloatValue = util.Some(v.Float())
	case model.ColumnTypeBoolean:
		c.BooleanValue = util.Some(v.Bool())
	case model.ColumnTypeDate:
		c.DateValue = util.Some(v.Date())
	}
	return c
}
