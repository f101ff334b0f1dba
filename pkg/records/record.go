package records

// Record is one row of a table. Its ID doubles as a container id: rows can
// hold content nodes and nested tables of their own.
type Record struct {
	ID     string
	Fields Fields
}

// Key returns the record's natural key: the text of the named property.
func (r Record) Key(property string) string {
	return r.Fields.TextOf(property)
}

// Filter is an exact-match equality condition on one property.
type Filter struct {
	Property string
	Kind     Kind
	Value    string
}

// Equals builds a filter matching records whose property equals f's value.
func Equals(f Field) *Filter {
	return &Filter{Property: f.Name, Kind: f.Kind, Value: f.String()}
}

// Matches reports whether the fields satisfy the filter.
func (f *Filter) Matches(fields Fields) bool {
	if f == nil {
		return true
	}
	field, ok := fields[f.Property]
	if !ok {
		return f.Value == ""
	}
	return field.String() == f.Value
}

// QueryPage is one page of a table query.
type QueryPage struct {
	Records    []Record
	HasMore    bool
	NextCursor string
}

// ChildrenPage is one page of a container's children.
type ChildrenPage struct {
	Children   []Node
	HasMore    bool
	NextCursor string
}
