package model

import "fmt"

// ColumnType is the closed set of data types a column can declare.
type ColumnType string

const (
	ColumnTypeText            ColumnType = "text"
	ColumnTypeInteger         ColumnType = "integer"
	ColumnTypePositiveInteger ColumnType = "positiveInteger"
	ColumnTypeFloat           ColumnType = "float"
	ColumnTypeBoolean         ColumnType = "boolean"
	ColumnTypeDate            ColumnType = "date"
	ColumnTypeChoice          ColumnType = "choice"
	ColumnTypeEmail           ColumnType = "email"
	ColumnTypeURL             ColumnType = "url"
	ColumnTypeFile            ColumnType = "file"
)

var ColumnTypes = []ColumnType{
	ColumnTypeText,
	ColumnTypeInteger,
	ColumnTypePositiveInteger,
	ColumnTypeFloat,
	ColumnTypeBoolean,
	ColumnTypeDate,
	ColumnTypeChoice,
	ColumnTypeEmail,
	ColumnTypeURL,
	ColumnTypeFile,
}

func ParseColumnType(s string) (ColumnType, error) {
	t := ColumnType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown column type %q", s)
	}
	return t, nil
}

func (t ColumnType) IsValid() bool {
	switch t {
	case ColumnTypeText, ColumnTypeInteger, ColumnTypePositiveInteger, ColumnTypeFloat,
		ColumnTypeBoolean, ColumnTypeDate, ColumnTypeChoice, ColumnTypeEmail,
		ColumnTypeURL, ColumnTypeFile:
		return true
	}
	return false
}

// IsTextual reports whether values of the type live in a string slot and are
// matched by substring.
func (t ColumnType) IsTextual() bool {
	return t == ColumnTypeText || t == ColumnTypeEmail || t == ColumnTypeURL
}

// IsNumeric reports whether values of the type are filtered by inclusive range.
func (t ColumnType) IsNumeric() bool {
	return t == ColumnTypeInteger || t == ColumnTypePositiveInteger || t == ColumnTypeFloat
}

func (t ColumnType) String() string {
	return string(t)
}
