package index

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/blazedb/blazedb/document"
)

func TestKeyNormalizesMissingFieldsToEmptyText(t *testing.T) {
	doc := document.New()
	doc["status"] = document.Text("open")
	key := Key(doc, []string{"status", "priority"})
	require.Equal(t, "s:open|s:", key)
}

func TestKeyIsStableForValueEqualComponents(t *testing.T) {
	a := document.New()
	a["status"] = document.Text("done")
	a["priority"] = document.Int(1)

	b := document.New()
	b["status"] = document.Text("done")
	b["priority"] = document.Int(1)

	require.Equal(t, Key(a, []string{"status", "priority"}), Key(b, []string{"status", "priority"}))
}

func TestBucketsInsertRemoveAndPrune(t *testing.T) {
	b := make(Buckets)
	id1, id2 := uuid.New(), uuid.New()
	b.Insert("k", id1)
	b.Insert("k", id2)
	require.ElementsMatch(t, []uuid.UUID{id1, id2}, b.Lookup("k"))

	b.Remove("k", id1)
	require.ElementsMatch(t, []uuid.UUID{id2}, b.Lookup("k"))

	b.Remove("k", id2)
	require.Nil(t, b.Lookup("k"))
	_, exists := b["k"]
	require.False(t, exists)
}

func TestOrderedRangeReturnsValuesWithinBounds(t *testing.T) {
	o := NewOrdered()
	ids := make(map[int64]uuid.UUID)
	for _, n := range []int64{1, 5, 10, 15, 20} {
		id := uuid.New()
		ids[n] = id
		o.Insert(document.Int(n), id)
	}

	got := o.Range(document.Int(5), document.Int(15))
	want := []uuid.UUID{ids[5], ids[10], ids[15]}
	require.ElementsMatch(t, want, got)
}

func TestOrderedRemove(t *testing.T) {
	o := NewOrdered()
	id := uuid.New()
	o.Insert(document.Int(42), id)
	require.Len(t, o.All(), 1)
	o.Remove(document.Int(42), id)
	require.Empty(t, o.All())
}
