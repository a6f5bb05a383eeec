// Package document implements the schemaless value model BlazeDB persists:
// a tagged union of value variants and an unordered field mapping built on
// top of it. It generalizes the teacher's six-variant Field/FieldType pair
// (storage/document.go in the example pack) to the eight variants the
// document store specification requires, adding Timestamp and Identifier.
package document

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which variant of Value is populated.
type Kind byte

const (
	KindText Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTimestamp
	KindID
	KindSeq
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	case KindID:
		return "id"
	case KindSeq:
		return "seq"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a single tagged value. Only the field matching Kind is
// meaningful; the others are left at their zero value.
type Value struct {
	Kind  Kind
	Text  string
	Int   int64
	Float float64
	Bool  bool
	Time  time.Time
	ID    uuid.UUID
	Seq   []Value
	Map   Document
}

func Text(s string) Value      { return Value{Kind: KindText, Text: s} }
func Int(i int64) Value        { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value    { return Value{Kind: KindFloat, Float: f} }
func Bool(b bool) Value        { return Value{Kind: KindBool, Bool: b} }
func Timestamp(t time.Time) Value { return Value{Kind: KindTimestamp, Time: t.UTC()} }
func ID(id uuid.UUID) Value    { return Value{Kind: KindID, ID: id} }
func Seq(vs ...Value) Value    { return Value{Kind: KindSeq, Seq: vs} }
func Map(m Document) Value     { return Value{Kind: KindMap, Map: m} }

// Equal reports structural equality between two values.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindText:
		return v.Text == other.Text
	case KindInt:
		return v.Int == other.Int
	case KindFloat:
		return v.Float == other.Float
	case KindBool:
		return v.Bool == other.Bool
	case KindTimestamp:
		return v.Time.Equal(other.Time)
	case KindID:
		return v.ID == other.ID
	case KindSeq:
		if len(v.Seq) != len(other.Seq) {
			return false
		}
		for i := range v.Seq {
			if !v.Seq[i].Equal(other.Seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.Map.Equal(other.Map)
	default:
		return false
	}
}

// HashKey returns a canonical, type-tagged string encoding of the value,
// used as a compound-key component. Composite keys built from value-equal
// components must hash and compare equal (spec invariant), which a
// type-prefixed canonical encoding guarantees regardless of how the value
// arrived (int vs. float-that-looks-like-an-int are NOT conflated; the
// spec only requires identical normalization for identically-typed,
// equal-valued inputs).
func (v Value) HashKey() string {
	switch v.Kind {
	case KindText:
		return "s:" + v.Text
	case KindInt:
		return fmt.Sprintf("i:%020d", v.Int)
	case KindFloat:
		return fmt.Sprintf("f:%.17g", v.Float)
	case KindBool:
		if v.Bool {
			return "b:1"
		}
		return "b:0"
	case KindTimestamp:
		return "t:" + v.Time.UTC().Format(time.RFC3339Nano)
	case KindID:
		return "u:" + v.ID.String()
	case KindSeq:
		out := "a:["
		for i, e := range v.Seq {
			if i > 0 {
				out += ","
			}
			out += e.HashKey()
		}
		return out + "]"
	case KindMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "m:{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			out += k + "=" + v.Map[k].HashKey()
		}
		return out + "}"
	default:
		return ""
	}
}

// emptyText is the normalized component for a missing or unsupported
// field, per the compound-key normalization rule in the specification.
var emptyText = Text("")
