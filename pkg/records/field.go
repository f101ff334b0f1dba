package records

import (
	"slices"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Field is one typed property value. Which value member is meaningful
// depends on Kind: Text for title and rich_text, Choice for select,
// Number for number and numeric computed kinds, Relation for relation.
type Field struct {
	Name     string
	Kind     Kind
	Text     string
	Choice   string
	Number   decimal.NullDecimal
	Relation []string
}

// Title creates a title field.
func Title(name, value string) Field {
	return Field{Name: name, Kind: KindTitle, Text: value}
}

// Text creates a rich text field.
func Text(name, value string) Field {
	return Field{Name: name, Kind: KindText, Text: value}
}

// Choice creates a select field. An empty value is a null choice.
func Choice(name, value string) Field {
	return Field{Name: name, Kind: KindSelect, Choice: value}
}

// Number creates a number field.
func Number(name string, value decimal.Decimal) Field {
	return Field{Name: name, Kind: KindNumber, Number: decimal.NewNullDecimal(value)}
}

// NumberFromFloat creates a number field from a float64.
func NumberFromFloat(name string, value float64) Field {
	return Number(name, decimal.NewFromFloat(value))
}

// NullNumber creates a number field without a value.
func NullNumber(name string) Field {
	return Field{Name: name, Kind: KindNumber}
}

// Formula creates a computed formula field with a numeric result.
func Formula(name string, value decimal.Decimal) Field {
	return Field{Name: name, Kind: KindFormula, Number: decimal.NewNullDecimal(value)}
}

// Relation creates a relation field pointing at the given record ids.
func Relation(name string, ids ...string) Field {
	return Field{Name: name, Kind: KindRelation, Relation: slices.Clone(ids)}
}

// IsNull reports whether the field carries no value.
func (f Field) IsNull() bool {
	switch {
	case f.Kind.Textual():
		return f.Text == ""
	case f.Kind == KindSelect:
		return f.Choice == ""
	case f.Kind == KindRelation:
		return len(f.Relation) == 0
	case f.Kind.Numeric():
		return !f.Number.Valid && f.Text == ""
	default:
		return f.Text == "" && !f.Number.Valid
	}
}

// Equal reports whether two fields hold the same value. Names are ignored;
// kinds only need to be compatible (title and rich_text compare as text,
// numeric kinds compare as decimals, relations compare as sets).
func (f Field) Equal(o Field) bool {
	switch {
	case f.Kind.Textual() && o.Kind.Textual():
		return f.Text == o.Text
	case f.Kind == KindSelect && o.Kind == KindSelect:
		return f.Choice == o.Choice
	case f.Kind.Numeric() && o.Kind.Numeric():
		if f.Number.Valid != o.Number.Valid {
			return false
		}
		if !f.Number.Valid {
			return f.Text == o.Text
		}
		return f.Number.Decimal.Equal(o.Number.Decimal)
	case f.Kind == KindRelation && o.Kind == KindRelation:
		return sameSet(f.Relation, o.Relation)
	case f.Kind == o.Kind:
		return f.Text == o.Text
	}
	return false
}

// Convert returns the field re-typed as kind, when the value can be carried
// over. Computed target kinds are never writable, so they never convert.
func (f Field) Convert(kind Kind) (Field, bool) {
	if kind.Computed() {
		return Field{}, false
	}
	out := Field{Name: f.Name, Kind: kind}
	switch {
	case kind.Textual() && (f.Kind.Textual() || f.Kind == KindSelect):
		out.Text = f.Text
		if f.Kind == KindSelect {
			out.Text = f.Choice
		}
	case kind == KindSelect && (f.Kind == KindSelect || f.Kind.Textual()):
		out.Choice = f.Choice
		if f.Kind.Textual() {
			out.Choice = f.Text
		}
	case kind == KindNumber && f.Kind.Numeric():
		out.Number = f.Number
	case kind == KindRelation && f.Kind == KindRelation:
		out.Relation = slices.Clone(f.Relation)
	default:
		return Field{}, false
	}
	return out, true
}

// String renders the value for logs and tables.
func (f Field) String() string {
	switch {
	case f.Kind == KindSelect:
		return f.Choice
	case f.Kind == KindRelation:
		return strings.Join(f.Relation, ",")
	case f.Kind.Numeric() && f.Number.Valid:
		return f.Number.Decimal.String()
	default:
		return f.Text
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	sort.Strings(x)
	sort.Strings(y)
	return slices.Equal(x, y)
}

// Fields is a set of fields keyed by name.
type Fields map[string]Field

// NewFields builds a Fields set from a list of fields.
func NewFields(fields ...Field) Fields {
	out := make(Fields, len(fields))
	for _, f := range fields {
		out[f.Name] = f
	}
	return out
}

// Set adds or replaces a field.
func (fs Fields) Set(f Field) {
	fs[f.Name] = f
}

// Get returns the field with the given name.
func (fs Fields) Get(name string) (Field, bool) {
	f, ok := fs[name]
	return f, ok
}

// Names returns the field names in sorted order.
func (fs Fields) Names() []string {
	names := make([]string, 0, len(fs))
	for name := range fs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the set.
func (fs Fields) Clone() Fields {
	out := make(Fields, len(fs))
	for name, f := range fs {
		f.Relation = slices.Clone(f.Relation)
		out[name] = f
	}
	return out
}

// Title returns the first title field, which every record carries.
func (fs Fields) Title() (Field, bool) {
	for _, name := range fs.Names() {
		if f := fs[name]; f.Kind == KindTitle {
			return f, true
		}
	}
	return Field{}, false
}

// TextOf returns the text of a title or rich_text field.
func (fs Fields) TextOf(name string) string {
	f, ok := fs[name]
	if !ok || !f.Kind.Textual() {
		return ""
	}
	return f.Text
}

// ChoiceOf returns the selected option name of a select field.
func (fs Fields) ChoiceOf(name string) string {
	f, ok := fs[name]
	if !ok || f.Kind != KindSelect {
		return ""
	}
	return f.Choice
}

// RelationOf returns the ids of a relation field.
func (fs Fields) RelationOf(name string) []string {
	f, ok := fs[name]
	if !ok || f.Kind != KindRelation {
		return nil
	}
	return f.Relation
}
