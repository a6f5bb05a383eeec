package collection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blazedb/blazedb/document"
	"github.com/blazedb/blazedb/journal"
	"github.com/blazedb/blazedb/layout"
	"github.com/blazedb/blazedb/page"
	"github.com/blazedb/blazedb/query"
)

func newTestCollection(t *testing.T) *Collection {
	t.Helper()
	store, err := page.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	jrn, err := journal.Open(filepath.Join(dir, "test.bzdb"))
	require.NoError(t, err)
	t.Cleanup(func() { jrn.Close() })

	c, err := Open("tickets", store, layout.New(), jrn, filepath.Join(dir, "layout.yaml"), filepath.Join(dir, "layout.indexes.yaml"))
	require.NoError(t, err)
	return c
}

func TestInsertFetchRoundTrip(t *testing.T) {
	c := newTestCollection(t)

	doc := document.New()
	doc["title"] = document.Text("Fix crash")
	doc["status"] = document.Text("open")
	doc["severity"] = document.Text("high")

	id, err := c.Insert(doc)
	require.NoError(t, err)

	got, ok, err := c.Fetch(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Fix crash", got.Get("title").Text)
	require.Equal(t, "open", got.Get("status").Text)
	require.False(t, got.Get(document.FieldCreatedAt).Time.IsZero())
}

func TestCompoundIndexLookup(t *testing.T) {
	c := newTestCollection(t)
	require.NoError(t, c.CreateIndex([]string{"status", "priority"}))

	statuses := []string{"done", "inProgress", "notStarted"}
	priorities := []string{"low", "medium", "high"}
	for i := 0; i < 100; i++ {
		doc := document.New()
		doc["status"] = document.Text(statuses[i%3])
		doc["priority"] = document.Text(priorities[i%3])
		_, err := c.Insert(doc)
		require.NoError(t, err)
	}
	target := document.New()
	target["status"] = document.Text("inProgress")
	target["priority"] = document.Text("high")
	_, err := c.Insert(target)
	require.NoError(t, err)

	results, err := c.FetchByIndexedFields([]string{"status", "priority"}, []document.Value{document.Text("inProgress"), document.Text("high")})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		require.Equal(t, "inProgress", r.Get("status").Text)
		require.Equal(t, "high", r.Get("priority").Text)
	}
}

func TestIndexMaintenanceOnUpdateAndDelete(t *testing.T) {
	c := newTestCollection(t)
	require.NoError(t, c.CreateIndex([]string{"status", "priority"}))

	doc := document.New()
	doc["status"] = document.Text("inProgress")
	doc["priority"] = document.Int(1)
	id, err := c.Insert(doc)
	require.NoError(t, err)

	results, err := c.FetchByIndexedFields([]string{"status", "priority"}, []document.Value{document.Text("inProgress"), document.Int(1)})
	require.NoError(t, err)
	require.Len(t, results, 1)

	updated := document.New()
	updated["status"] = document.Text("done")
	updated["priority"] = document.Int(1)
	require.NoError(t, c.Update(id, updated))

	results, err = c.FetchByIndexedFields([]string{"status", "priority"}, []document.Value{document.Text("inProgress"), document.Int(1)})
	require.NoError(t, err)
	require.Empty(t, results)

	results, err = c.FetchByIndexedFields([]string{"status", "priority"}, []document.Value{document.Text("done"), document.Int(1)})
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.NoError(t, c.Delete(id))

	results, err = c.FetchByIndexedFields([]string{"status", "priority"}, []document.Value{document.Text("done"), document.Int(1)})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestCrashInjectionLeavesUpdateUnapplied(t *testing.T) {
	c := newTestCollection(t)
	doc := document.New()
	doc["title"] = document.Text("Before crash")
	id, err := c.Insert(doc)
	require.NoError(t, err)

	require.NoError(t, os.Setenv("BLAZEDB_CRASH_BEFORE_UPDATE", "1"))
	err = c.Update(id, document.Document{"title": document.Text("Crash incoming")})
	require.ErrorIs(t, err, ErrCrashInjected)
	require.NoError(t, os.Unsetenv("BLAZEDB_CRASH_BEFORE_UPDATE"))

	docs, err := c.FetchAll()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "Before crash", docs[0].Get("title").Text)
}

func TestSoftDeleteThenPurge(t *testing.T) {
	c := newTestCollection(t)
	doc := document.New()
	doc["title"] = document.Text("temp")
	id, err := c.Insert(doc)
	require.NoError(t, err)

	require.NoError(t, c.SoftDelete(id))
	_, found, err := c.Fetch(id)
	require.NoError(t, err)
	require.True(t, found) // still present until purge, per invariant 6

	n, err := c.Purge()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, found, err = c.Fetch(id)
	require.NoError(t, err)
	require.False(t, found)
}

func TestCreateIndexIsIdempotentAndBackfills(t *testing.T) {
	c := newTestCollection(t)
	doc := document.New()
	doc["status"] = document.Text("open")
	_, err := c.Insert(doc)
	require.NoError(t, err)

	require.NoError(t, c.CreateIndex([]string{"status"}))
	require.NoError(t, c.CreateIndex([]string{"status"})) // idempotent

	results, err := c.FetchByIndexedField("status", document.Text("open"))
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestFetchUnknownIDReturnsNotFound(t *testing.T) {
	c := newTestCollection(t)
	_, found, err := c.Fetch(document.ID([16]byte{}).ID)
	require.NoError(t, err)
	require.False(t, found)
}

func TestUpdateUnknownIDFails(t *testing.T) {
	c := newTestCollection(t)
	err := c.Update(document.ID([16]byte{}).ID, document.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRunQueryAcceleratesRangeOverSingleFieldIndex(t *testing.T) {
	c := newTestCollection(t)
	require.NoError(t, c.CreateIndex([]string{"priority"}))

	for i, p := range []int64{1, 5, 10, 15, 20} {
		doc := document.New()
		doc["title"] = document.Text("ticket")
		doc["priority"] = document.Int(p)
		_, err := c.Insert(doc)
		require.NoError(t, err, "insert %d", i)
	}

	q := query.New().Range("priority", document.Int(5), document.Int(15))
	results, err := c.RunQuery(q)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		p := r.Get("priority").Int
		require.True(t, p >= 5 && p <= 15)
	}
}

func TestRunQueryFallsBackToFullScanWithoutMatchingIndex(t *testing.T) {
	c := newTestCollection(t)

	for _, p := range []int64{1, 5, 10} {
		doc := document.New()
		doc["priority"] = document.Int(p)
		_, err := c.Insert(doc)
		require.NoError(t, err)
	}

	q := query.New().Range("priority", document.Int(5), document.Int(10))
	results, err := c.RunQuery(q)
	require.NoError(t, err)
	require.Len(t, results, 2)
}
