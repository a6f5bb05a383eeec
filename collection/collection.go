// Package collection implements the document collection: component D. A
// Collection owns exactly one page file and one layout file, and is the
// only component that understands both document values and pages.
package collection

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/blazedb/blazedb/document"
	"github.com/blazedb/blazedb/index"
	"github.com/blazedb/blazedb/journal"
	"github.com/blazedb/blazedb/layout"
	"github.com/blazedb/blazedb/page"
	"github.com/blazedb/blazedb/query"
)

var (
	ErrNotFound      = errors.New("collection: not found")
	ErrAlreadyExists = errors.New("collection: already exists")
	ErrIndexNotFound = errors.New("collection: no matching index")
	ErrCrashInjected = errors.New("collection: crash injected before update")
)

// sentinelByte is appended to every encoded document before it is handed
// to the page store. page.Store.Read trims a trailing run of zero bytes;
// document.Encode can legitimately end in zero bytes (an empty document
// is [0x00, 0x00], a trailing false/zero field, and so on), which would
// otherwise be silently stripped on every round trip. Since the sentinel
// is the last, non-zero byte of the framed payload, the page store's trim
// never touches the document bytes preceding it; it is dropped again
// after a successful read, before document.Decode.
const sentinelByte = 0x01

// Collection is the document collection: component D.
type Collection struct {
	mu         sync.RWMutex
	project    string
	store      *page.Store
	layout     *layout.Layout
	journal    *journal.Journal
	layoutPath string
	idxPath    string
	ordered    map[string]*index.Ordered // single-field index name -> ordered tree
}

// Open attaches a collection to an already-open page store, journal, and
// pre-loaded layout, and applies the rebuild policy described in
// spec.md §4.D: if an index definition's materialization in lay is empty
// (layout.Load has already applied any indexes sidecar), it is rebuilt by
// a full scan of the collection's documents.
func Open(project string, store *page.Store, lay *layout.Layout, jrn *journal.Journal, layoutPath, idxPath string) (*Collection, error) {
	c := &Collection{
		project:    project,
		store:      store,
		layout:     lay,
		journal:    jrn,
		layoutPath: layoutPath,
		idxPath:    idxPath,
		ordered:    make(map[string]*index.Ordered),
	}
	if err := c.rebuildIfNeeded(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload discards in-memory layout and index state and re-reads it from
// disk, falling back to rebuilding a fresh layout from the page store if
// the on-disk layout is corrupt. Used after a file-level rollback has
// restored the data/layout files out from under an already-open
// collection.
func (c *Collection) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	lay, err := layout.Load(c.layoutPath, c.idxPath)
	if err != nil {
		lay, err = layout.Rebuild(c.store)
		if err != nil {
			return errors.Wrap(err, "collection: rebuild layout after reload failure")
		}
	}
	c.layout = lay
	c.ordered = make(map[string]*index.Ordered)
	return c.rebuildIfNeeded()
}

func (c *Collection) rebuildIfNeeded() error {
	for name, fields := range c.layout.SecondaryIndexDefinitions {
		if len(c.layout.SecondaryIndexes[name]) > 0 {
			c.rebuildOrdered(name, fields)
			continue
		}
		docs, err := c.fetchAllLocked()
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			continue
		}
		c.backfillIndex(name, fields, docs)
	}
	return nil
}

// CreateIndex is idempotent; creating an index after records exist
// triggers a backfill scan.
func (c *Collection) CreateIndex(fields []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := index.Name(fields)
	if _, exists := c.layout.SecondaryIndexDefinitions[name]; exists {
		return nil
	}
	c.layout.SecondaryIndexDefinitions[name] = fields
	c.layout.SecondaryIndexes[name] = make(map[string]map[uuid.UUID]struct{})

	docs, err := c.fetchAllLocked()
	if err != nil {
		return err
	}
	c.backfillIndex(name, fields, docs)
	return c.persistLayout()
}

func (c *Collection) backfillIndex(name string, fields []string, docs []document.Document) {
	buckets := index.Buckets(c.layout.SecondaryIndexes[name])
	for _, doc := range docs {
		if !hasAllFields(doc, fields) {
			continue
		}
		id := doc.Get(document.FieldID).ID
		buckets.Insert(index.Key(doc, fields), id)
	}
	c.layout.SecondaryIndexes[name] = buckets
	if len(fields) == 1 {
		c.rebuildOrdered(name, fields)
	}
}

func (c *Collection) rebuildOrdered(name string, fields []string) {
	if len(fields) != 1 {
		return
	}
	ord := index.NewOrdered()
	for key, ids := range c.layout.SecondaryIndexes[name] {
		_ = key
		for id := range ids {
			pageIdx, ok := c.layout.IndexMap[id]
			if !ok {
				continue
			}
			doc, err := c.readPage(pageIdx)
			if err != nil || doc == nil {
				continue
			}
			ord.Insert(doc.Get(fields[0]), id)
		}
	}
	c.ordered[name] = ord
}

func hasAllFields(doc document.Document, fields []string) bool {
	for _, f := range fields {
		if !doc.Has(f) {
			return false
		}
	}
	return true
}

// Insert assigns an id, stamps the well-known fields, writes a new page,
// updates indexes, and persists the layout.
func (c *Collection) Insert(doc document.Document) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc = doc.Clone()
	id, err := normalizeID(doc)
	if err != nil {
		return uuid.Nil, err
	}
	if _, exists := c.layout.IndexMap[id]; exists {
		return uuid.Nil, ErrAlreadyExists
	}
	doc[document.FieldID] = document.ID(id)
	if !doc.Has(document.FieldCreatedAt) {
		doc[document.FieldCreatedAt] = document.Timestamp(now())
	}
	if c.project != "" && !doc.Has(document.FieldProject) {
		doc[document.FieldProject] = document.Text(c.project)
	}

	payload, err := c.encode(doc)
	if err != nil {
		return uuid.Nil, err
	}

	tx, err := journal.Begin(c.journal, c.store)
	if err != nil {
		return uuid.Nil, err
	}
	pageIndex, err := tx.Append(payload)
	if err != nil {
		tx.Rollback()
		return uuid.Nil, err
	}

	c.layout.IndexMap[id] = pageIndex
	if pageIndex+1 > c.layout.NextPageIndex {
		c.layout.NextPageIndex = pageIndex + 1
	}
	c.indexInsert(doc, id)

	if err := c.persistLayout(); err != nil {
		tx.Rollback()
		return uuid.Nil, err
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func normalizeID(doc document.Document) (uuid.UUID, error) {
	existing := doc.Get(document.FieldID)
	switch existing.Kind {
	case document.KindID:
		if existing.ID != uuid.Nil {
			return existing.ID, nil
		}
	case document.KindText:
		if existing.Text != "" {
			parsed, err := uuid.Parse(existing.Text)
			if err != nil {
				return uuid.Nil, errors.Wrap(err, "collection: invalid id")
			}
			return parsed, nil
		}
	}
	return uuid.New(), nil
}

// Fetch returns the document with id, or (nil, false, nil) if unknown or
// the underlying page is a hole.
func (c *Collection) Fetch(id uuid.UUID) (document.Document, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pageIndex, ok := c.layout.IndexMap[id]
	if !ok {
		return nil, false, nil
	}
	doc, err := c.readPage(pageIndex)
	if err != nil {
		return nil, false, err
	}
	if doc == nil {
		return nil, false, nil
	}
	return doc, true, nil
}

// FetchAll returns every live document in no particular order.
func (c *Collection) FetchAll() ([]document.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchAllLocked()
}

func (c *Collection) fetchAllLocked() ([]document.Document, error) {
	docs := make([]document.Document, 0, len(c.layout.IndexMap))
	for _, pageIndex := range c.layout.IndexMap {
		doc, err := c.readPage(pageIndex)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// FetchAllByProject filters FetchAll by the project field.
func (c *Collection) FetchAllByProject(project string) ([]document.Document, error) {
	docs, err := c.FetchAll()
	if err != nil {
		return nil, err
	}
	out := docs[:0]
	for _, d := range docs {
		if d.Project() == project {
			out = append(out, d)
		}
	}
	return out, nil
}

// FetchByIndexedField requires an index exists with exactly [field].
func (c *Collection) FetchByIndexedField(field string, value document.Value) ([]document.Document, error) {
	return c.FetchByIndexedFields([]string{field}, []document.Value{value})
}

// FetchByIndexedFields requires an index keyed on exactly fields.
func (c *Collection) FetchByIndexedFields(fields []string, values []document.Value) ([]document.Document, error) {
	if len(fields) != len(values) {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := index.Name(fields)
	if _, ok := c.layout.SecondaryIndexDefinitions[name]; !ok {
		return nil, nil
	}
	buckets := index.Buckets(c.layout.SecondaryIndexes[name])
	doc := document.New()
	for i, f := range fields {
		doc[f] = values[i]
	}
	ids := buckets.Lookup(index.Key(doc, fields))
	out := make([]document.Document, 0, len(ids))
	for _, id := range ids {
		pageIndex, ok := c.layout.IndexMap[id]
		if !ok {
			continue
		}
		d, err := c.readPage(pageIndex)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// Update replaces the document at id's page slot, maintaining indexes.
// BLAZEDB_CRASH_BEFORE_UPDATE=1 raises before any mutation, leaving the
// page and indexes untouched, to exercise the safe-write rollback path.
func (c *Collection) Update(id uuid.UUID, doc document.Document) error {
	if os.Getenv("BLAZEDB_CRASH_BEFORE_UPDATE") == "1" {
		return ErrCrashInjected
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pageIndex, ok := c.layout.IndexMap[id]
	if !ok {
		return ErrNotFound
	}
	oldDoc, err := c.readPage(pageIndex)
	if err != nil {
		return err
	}
	if oldDoc != nil {
		c.indexRemove(oldDoc, id)
	}

	doc = doc.Clone()
	doc[document.FieldID] = document.ID(id)
	if oldDoc != nil {
		if createdAt := oldDoc.Get(document.FieldCreatedAt); createdAt.Kind == document.KindTimestamp {
			doc[document.FieldCreatedAt] = createdAt
		}
	}
	doc[document.FieldUpdatedAt] = document.Timestamp(now())

	payload, err := c.encode(doc)
	if err != nil {
		return err
	}

	tx, err := journal.Begin(c.journal, c.store)
	if err != nil {
		return err
	}
	if err := tx.Write(pageIndex, payload); err != nil {
		tx.Rollback()
		return err
	}
	c.indexInsert(doc, id)
	if err := c.persistLayout(); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Delete removes id from the layout and every index, and zeros its page.
func (c *Collection) Delete(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(id)
}

func (c *Collection) deleteLocked(id uuid.UUID) error {
	pageIndex, ok := c.layout.IndexMap[id]
	if !ok {
		return ErrNotFound
	}
	doc, err := c.readPage(pageIndex)
	if err != nil {
		return err
	}
	if doc != nil {
		c.indexRemove(doc, id)
	}

	tx, err := journal.Begin(c.journal, c.store)
	if err != nil {
		return err
	}
	if err := tx.Delete(pageIndex); err != nil {
		tx.Rollback()
		return err
	}
	delete(c.layout.IndexMap, id)
	if err := c.persistLayout(); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SoftDelete updates the document, setting isDeleted = true.
func (c *Collection) SoftDelete(id uuid.UUID) error {
	existing, found, err := c.Fetch(id)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	existing = existing.Clone()
	existing[document.FieldDeleted] = document.Bool(true)
	return c.Update(id, existing)
}

// Purge hard-deletes every document whose isDeleted flag is set.
func (c *Collection) Purge() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toDelete []uuid.UUID
	for id, pageIndex := range c.layout.IndexMap {
		doc, err := c.readPage(pageIndex)
		if err != nil {
			return 0, err
		}
		if doc != nil && doc.IsDeleted() {
			toDelete = append(toDelete, id)
		}
	}
	for _, id := range toDelete {
		if err := c.deleteLocked(id); err != nil {
			return 0, err
		}
	}
	return len(toDelete), nil
}

// RunQuery applies q over the documents, accelerating a Range call
// against a single-field index with that index's ordered tree when one
// exists, falling back to a full scan otherwise. Either way, the full
// predicate/sort/limit chain in q.Run still re-applies to the candidate
// set, so acceleration only narrows what gets scanned, never what counts
// as a match.
func (c *Collection) RunQuery(q *query.Query) ([]document.Document, error) {
	if field, lo, hi, ok := q.IndexHint(); ok {
		if docs, accelerated, err := c.rangeByIndexedField(field, lo, hi); err != nil {
			return nil, err
		} else if accelerated {
			return q.Run(docs), nil
		}
	}

	docs, err := c.FetchAll()
	if err != nil {
		return nil, err
	}
	return q.Run(docs), nil
}

// rangeByIndexedField returns the documents whose field lies in [lo, hi]
// using the field's ordered index, if one exists. accelerated is false
// when no single-field index covers field, signaling the caller to fall
// back to a full scan.
func (c *Collection) rangeByIndexedField(field string, lo, hi document.Value) (docs []document.Document, accelerated bool, err error) {
	c.mu.RLock()
	ord, ok := c.ordered[index.Name([]string{field})]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	ids := ord.Range(lo, hi)
	docs = make([]document.Document, 0, len(ids))
	for _, id := range ids {
		doc, found, ferr := c.Fetch(id)
		if ferr != nil {
			return nil, true, ferr
		}
		if found {
			docs = append(docs, doc)
		}
	}
	return docs, true, nil
}

// Destroy removes the layout file and the indexes sidecar and resets
// in-memory state. The page file is not removed. The caller is
// responsible for closing the page store first.
func (c *Collection) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.layoutPath != "" {
		_ = os.Remove(c.layoutPath)
	}
	if c.idxPath != "" {
		_ = os.Remove(c.idxPath)
	}
	c.layout = layout.New()
	c.ordered = make(map[string]*index.Ordered)
	return nil
}

func (c *Collection) indexInsert(doc document.Document, id uuid.UUID) {
	for name, fields := range c.layout.SecondaryIndexDefinitions {
		if !hasAllFields(doc, fields) {
			continue
		}
		buckets := index.Buckets(c.layout.SecondaryIndexes[name])
		buckets.Insert(index.Key(doc, fields), id)
		c.layout.SecondaryIndexes[name] = buckets
		if len(fields) == 1 {
			if ord, ok := c.ordered[name]; ok {
				ord.Insert(doc.Get(fields[0]), id)
			}
		}
	}
}

func (c *Collection) indexRemove(doc document.Document, id uuid.UUID) {
	for name, fields := range c.layout.SecondaryIndexDefinitions {
		if !hasAllFields(doc, fields) {
			continue
		}
		buckets := index.Buckets(c.layout.SecondaryIndexes[name])
		buckets.Remove(index.Key(doc, fields), id)
		c.layout.SecondaryIndexes[name] = buckets
		if len(fields) == 1 {
			if ord, ok := c.ordered[name]; ok {
				ord.Remove(doc.Get(fields[0]), id)
			}
		}
	}
}

func (c *Collection) readPage(pageIndex uint64) (document.Document, error) {
	payload, err := c.store.Read(pageIndex)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	return c.decode(payload)
}

func (c *Collection) encode(doc document.Document) ([]byte, error) {
	enc, err := doc.Encode()
	if err != nil {
		return nil, err
	}
	return append(enc, sentinelByte), nil
}

func (c *Collection) decode(payload []byte) (document.Document, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	return document.Decode(payload[:len(payload)-1])
}

func (c *Collection) persistLayout() error {
	return c.layout.Save(c.layoutPath, c.idxPath)
}

var nowFunc = time.Now

func now() time.Time { return nowFunc().UTC() }
