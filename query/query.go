// Package query implements the glossary's "Query": an in-memory chain of
// predicates, ordering, and a range-limit applied to a document sequence
// by full scan. It deliberately does not plan — query.Range only
// accelerates a predicate when the caller already knows an index exists
// for that field; the chain itself always evaluates every candidate
// document, matching spec.md §1's "no rich query planning" non-goal.
package query

import (
	"sort"

	"github.com/blazedb/blazedb/document"
)

// Predicate reports whether doc satisfies a filter condition.
type Predicate func(doc document.Document) bool

// Query is a chain of filters, an optional sort, and an optional limit.
type Query struct {
	predicates []Predicate
	sortField  string
	descending bool
	limit      int // 0 means unlimited

	hintField    string
	hintLo       document.Value
	hintHi       document.Value
	hasRangeHint bool
}

// New returns an empty query matching every document.
func New() *Query { return &Query{} }

// Where adds a predicate; all predicates must hold (logical AND).
func (q *Query) Where(p Predicate) *Query {
	q.predicates = append(q.predicates, p)
	return q
}

// Equals filters to documents whose field normalizes to a value equal to
// want.
func (q *Query) Equals(field string, want document.Value) *Query {
	return q.Where(func(doc document.Document) bool { return doc.Get(field).Equal(want) })
}

// Range filters to documents whose field lies within [lo, hi] inclusive,
// using the same component ordering as index.Ordered. The first Range
// call on a query is recorded as an index hint (see IndexHint); a
// collection holding a matching single-field index uses it to narrow the
// scan before the predicate chain re-applies. Range itself remains
// correct, if unaccelerated, against any field.
func (q *Query) Range(field string, lo, hi document.Value) *Query {
	if !q.hasRangeHint {
		q.hintField, q.hintLo, q.hintHi, q.hasRangeHint = field, lo, hi, true
	}
	return q.Where(func(doc document.Document) bool {
		v := doc.Get(field)
		return compareValues(v, lo) >= 0 && compareValues(v, hi) <= 0
	})
}

// IndexHint reports the field and bounds of this query's first Range
// call, if any. A caller holding a single-field index on that field can
// use the bounds to pre-filter candidates; the predicate chain in Run
// still re-applies in full, so acting on the hint never changes results,
// only how much gets scanned to produce them.
func (q *Query) IndexHint() (field string, lo, hi document.Value, ok bool) {
	return q.hintField, q.hintLo, q.hintHi, q.hasRangeHint
}

// SortBy orders results by field, ascending by default.
func (q *Query) SortBy(field string, descending bool) *Query {
	q.sortField = field
	q.descending = descending
	return q
}

// Limit caps the number of results returned after filtering and sorting.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Run applies the query to docs, in order: filter, sort, limit.
func (q *Query) Run(docs []document.Document) []document.Document {
	out := make([]document.Document, 0, len(docs))
	for _, doc := range docs {
		if q.matches(doc) {
			out = append(out, doc)
		}
	}
	if q.sortField != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compareValues(out[i].Get(q.sortField), out[j].Get(q.sortField))
			if q.descending {
				return c > 0
			}
			return c < 0
		})
	}
	if q.limit > 0 && len(out) > q.limit {
		out = out[:q.limit]
	}
	return out
}

func (q *Query) matches(doc document.Document) bool {
	for _, p := range q.predicates {
		if !p(doc) {
			return false
		}
	}
	return true
}

// compareValues mirrors index.Ordered's ordering. It is duplicated here
// rather than imported so that query does not depend on index for a
// comparison this small.
func compareValues(a, b document.Value) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case document.KindText:
		return strcmp(a.Text, b.Text)
	case document.KindInt:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		default:
			return 0
		}
	case document.KindFloat:
		switch {
		case a.Float < b.Float:
			return -1
		case a.Float > b.Float:
			return 1
		default:
			return 0
		}
	case document.KindBool:
		if a.Bool == b.Bool {
			return 0
		}
		if !a.Bool {
			return -1
		}
		return 1
	case document.KindTimestamp:
		if a.Time.Before(b.Time) {
			return -1
		}
		if a.Time.After(b.Time) {
			return 1
		}
		return 0
	default:
		return strcmp(a.HashKey(), b.HashKey())
	}
}

func strcmp(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
