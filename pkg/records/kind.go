// Package records defines the store-neutral data model of the mirror engine:
// typed fields, records, table schemas and container content nodes.
package records

// Kind is the type of a field, named after the store's property types.
type Kind string

// Writable kinds.
const (
	KindTitle    Kind = "title"
	KindText     Kind = "rich_text"
	KindSelect   Kind = "select"
	KindNumber   Kind = "number"
	KindRelation Kind = "relation"
)

// Writable kinds the engine only carries in schemas. Values of these kinds
// are never proposed by the engine.
const (
	KindDate     Kind = "date"
	KindFiles    Kind = "files"
	KindCheckbox Kind = "checkbox"
	KindURL      Kind = "url"
	KindPeople   Kind = "people"
)

// Computed kinds. Values are derived by the store and cannot be written.
const (
	KindFormula        Kind = "formula"
	KindRollup         Kind = "rollup"
	KindCreatedTime    Kind = "created_time"
	KindLastEditedTime Kind = "last_edited_time"
	KindCreatedBy      Kind = "created_by"
	KindLastEditedBy   Kind = "last_edited_by"
	KindUniqueID       Kind = "unique_id"
)

// String returns the string representation of a kind.
func (k Kind) String() string {
	return string(k)
}

// Computed reports whether values of this kind are derived by the store.
func (k Kind) Computed() bool {
	switch k {
	case KindFormula, KindRollup, KindCreatedTime, KindLastEditedTime,
		KindCreatedBy, KindLastEditedBy, KindUniqueID:
		return true
	}
	return false
}

// Textual reports whether the kind holds plain text.
func (k Kind) Textual() bool {
	return k == KindTitle || k == KindText
}

// Numeric reports whether the kind can hold a number.
func (k Kind) Numeric() bool {
	return k == KindNumber || k == KindFormula || k == KindRollup
}
