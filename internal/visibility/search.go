package visibility

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/model"
)

// floatTolerance is how far a float cell may be from the searched number.
const floatTolerance = 0.001

var searchBooleans = map[string]bool{
	"true":   true,
	"yes":    true,
	"да":     true,
	"истина": true,
	"false":  false,
	"no":     false,
	"нет":    false,
	"ложь":   false,
}

// Day-first layouts are tried before the month-first one.
var searchDateLayouts = []string{
	model.DateLayout,
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
}

// term is a search query parsed once for every type it can match.
type term struct {
	lower   string
	integer *int64
	float   *float64
	boolean *bool
	date    *time.Time
}

func parseTerm(q string) term {
	q = strings.TrimSpace(q)
	t := term{lower: strings.ToLower(q)}
	if i, err := strconv.ParseInt(q, 10, 64); err == nil {
		t.integer = &i
	}
	if f, err := strconv.ParseFloat(strings.Replace(q, ",", ".", 1), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		t.float = &f
	}
	if b, ok := searchBooleans[t.lower]; ok {
		t.boolean = &b
	}
	for _, layout := range searchDateLayouts {
		if d, err := time.Parse(layout, q); err == nil {
			t.date = &d
			break
		}
	}
	return t
}

func (t term) contains(s string) bool {
	return s != "" && strings.Contains(strings.ToLower(s), t.lower)
}

// matchValue reports whether one stored cell matches the term.
func (t term) matchValue(v model.Value) bool {
	if v.IsNull() {
		return false
	}
	switch v.Type() {
	case model.ColumnTypeText, model.ColumnTypeEmail, model.ColumnTypeURL, model.ColumnTypeChoice:
		return t.contains(v.Str())
	case model.ColumnTypeInteger, model.ColumnTypePositiveInteger:
		return t.integer != nil && v.Int() == *t.integer
	case model.ColumnTypeFloat:
		return t.float != nil && math.Abs(v.Float()-*t.float) <= floatTolerance
	case model.ColumnTypeBoolean:
		return t.boolean != nil && v.Bool() == *t.boolean
	case model.ColumnTypeDate:
		return t.date != nil && v.Date().Equal(model.DateValue(*t.date).Date())
	}
	return false
}

// matchFilial matches any of the unit names.
func (t term) matchFilial(f database.Filial) bool {
	return t.contains(f.Name) || t.contains(f.LongName) || t.contains(f.ShortName)
}

// matchPrincipal matches the name parts and the username.
func (t term) matchPrincipal(p database.Principal) bool {
	return t.contains(p.FirstName) || t.contains(p.SecondName) || t.contains(p.LastName) || t.contains(p.Username)
}
