// Package index implements compound secondary indexes (hash-bucket sets
// keyed by a joined Value.HashKey() tuple) and an optional in-memory
// ordered index over a single field, used for range-style predicates.
package index

import (
	"strings"

	"github.com/google/uuid"

	"github.com/blazedb/blazedb/document"
)

// Name returns the canonical definition name for an ordered field list,
// e.g. Name([]string{"status", "priority"}) == "status+priority".
func Name(fields []string) string { return strings.Join(fields, "+") }

// Key computes the compound-key bucket string for doc under fields,
// normalizing missing or unsupported components to empty-text per the
// specification's compound-key normalization rule.
func Key(doc document.Document, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		v := doc.Get(f)
		if v.Kind == document.KindSeq || v.Kind == document.KindMap {
			v = document.Text("")
		}
		parts[i] = v.HashKey()
	}
	return strings.Join(parts, "|")
}

// Buckets is the in-memory materialization of one compound index
// definition: compound key -> set of document ids.
type Buckets map[string]map[uuid.UUID]struct{}

// Insert adds id to the bucket for key, creating the bucket if absent.
func (b Buckets) Insert(key string, id uuid.UUID) {
	set, ok := b[key]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		b[key] = set
	}
	set[id] = struct{}{}
}

// Remove deletes id from the bucket for key, pruning the bucket if it
// becomes empty.
func (b Buckets) Remove(key string, id uuid.UUID) {
	set, ok := b[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(b, key)
	}
}

// Lookup returns the ids in the bucket for key, or nil if absent.
func (b Buckets) Lookup(key string) []uuid.UUID {
	set, ok := b[key]
	if !ok {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
