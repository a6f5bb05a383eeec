package document

import "time"

// Document is an unordered mapping from field name to a tagged value.
// Every persisted document carries at least "id", "createdAt" and
// "project"; "isDeleted" is set only once a document is soft-deleted.
type Document map[string]Value

const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldProject   = "project"
	FieldDeleted   = "isDeleted"
)

// New returns an empty document.
func New() Document { return make(Document) }

// Clone copies the document's top-level fields into a new map, so callers
// may set or remove fields of a fetched copy without corrupting a
// collection's in-flight state. Nested Seq and Map values are not copied;
// they are shared with the original.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Equal reports whether two documents have the same fields and values.
func (d Document) Equal(other Document) bool {
	if len(d) != len(other) {
		return false
	}
	for k, v := range d {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Get returns the field's stored value, whatever its kind, or empty text
// if the field is absent. index.Key builds compound-index keys from it,
// and query uses it to evaluate predicates.
func (d Document) Get(field string) Value {
	if v, ok := d[field]; ok {
		return v
	}
	return emptyText
}

// Has reports whether the field is present at all (unlike Get, which
// never distinguishes "absent" from "present but empty-text").
func (d Document) Has(field string) bool {
	_, ok := d[field]
	return ok
}

// IsDeleted reports the soft-delete marker.
func (d Document) IsDeleted() bool {
	v, ok := d[FieldDeleted]
	return ok && v.Kind == KindBool && v.Bool
}

// Project returns the project tag, or "" if absent.
func (d Document) Project() string {
	v, ok := d[FieldProject]
	if !ok || v.Kind != KindText {
		return ""
	}
	return v.Text
}

// CreatedAt returns the creation timestamp, or the zero time if absent.
func (d Document) CreatedAt() time.Time {
	v, ok := d[FieldCreatedAt]
	if !ok || v.Kind != KindTimestamp {
		return time.Time{}
	}
	return v.Time
}
