// Package blazedb is the database client (component F): it opens a
// single-file database, derives its encryption key from a password,
// recovers the write-ahead journal, and exposes document CRUD, file-level
// transactions, schema migration, integrity checking, and a raw page
// dump, all guarded by the safe-write harness.
package blazedb

import (
	"os"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/blazedb/blazedb/collection"
	"github.com/blazedb/blazedb/dbkey"
	"github.com/blazedb/blazedb/document"
	"github.com/blazedb/blazedb/integrity"
	"github.com/blazedb/blazedb/journal"
	"github.com/blazedb/blazedb/layout"
	"github.com/blazedb/blazedb/migrate"
	"github.com/blazedb/blazedb/page"
	"github.com/blazedb/blazedb/query"
	"github.com/blazedb/blazedb/safewrite"
)

// DB is a single opened BlazeDB database.
type DB struct {
	path     string
	password string
	project  string

	store *page.Store
	lay   *layout.Layout
	jrn   *journal.Journal
	coll  *collection.Collection

	harness *safewrite.Harness
	inTx    atomic.Bool
	tx      *FileTx
}

// Open opens (creating if absent) the database at path, deriving its
// encryption key from password and scoping new documents to project.
// Passwords under dbkey.MinPasswordLength characters fail before any
// file is touched.
func Open(path, password, project string, opts ...Option) (*DB, error) {
	key, err := dbkey.Derive(password)
	if err != nil {
		return nil, err
	}

	cfg := &openConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if err := dbkey.VerifyOrCreate(keytagPath(path), key); err != nil {
		return nil, err
	}

	store, err := page.Open(path)
	if err != nil {
		return nil, err
	}
	transform, err := cfg.buildTransform(key)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if transform != nil {
		store.SetTransform(transform)
	}

	jrn, err := journal.Open(path)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if _, err := jrn.Recover(store); err != nil {
		_ = jrn.Close()
		_ = store.Close()
		return nil, errors.Wrap(err, "blazedb: journal recovery")
	}

	lay, err := layout.Load(layoutPath(path), idxPath(path))
	if err != nil {
		logrus.WithFields(logrus.Fields{"path": path, "error": err}).Warn("blazedb: layout load failed, rebuilding")
		lay, err = layout.Rebuild(store)
		if err != nil {
			_ = jrn.Close()
			_ = store.Close()
			return nil, errors.Wrap(err, "blazedb: layout rebuild")
		}
	}

	coll, err := collection.Open(project, store, lay, jrn, layoutPath(path), idxPath(path))
	if err != nil {
		_ = jrn.Close()
		_ = store.Close()
		return nil, err
	}

	db := &DB{
		path:     path,
		password: password,
		project:  project,
		store:    store,
		lay:      lay,
		jrn:      jrn,
		coll:     coll,
		harness:  safewrite.New(),
	}
	// After a restore, the store's cached frames and the collection's
	// in-memory layout both describe the mutation that just got rolled
	// back; invalidate and reload before the harness re-raises the error.
	db.harness.SetOnRestore(func() error {
		db.store.InvalidateCache()
		return db.coll.Reload()
	})
	return db, nil
}

// Path returns the page file path the database was opened with.
func (db *DB) Path() string { return db.path }

// Password returns the password the database was opened with, used by
// mount.Manager.Reload to reopen without re-prompting.
func (db *DB) Password() string { return db.password }

// Close flushes the layout and releases the page file and journal.
func (db *DB) Close() error {
	if err := db.Flush(); err != nil {
		return err
	}
	if err := db.jrn.Close(); err != nil {
		return err
	}
	return db.store.Close()
}

// Flush persists the layout and indexes sidecar to disk.
func (db *DB) Flush() error {
	return db.lay.Save(layoutPath(db.path), idxPath(db.path))
}

func (db *DB) wrap(op string, mutate func() error) error {
	paths := safewrite.Paths{
		DataPath:         db.path,
		DataBackupPath:   dataBackupPath(db.path),
		LayoutPath:       layoutPath(db.path),
		LayoutBackupPath: layoutBackupPath(db.path),
	}
	err := db.harness.Wrap(paths, mutate)
	if err == nil {
		db.tx.note(op)
	}
	return err
}

// Insert stores doc as a new document, stamping id/createdAt/project.
func (db *DB) Insert(doc document.Document) (result uuid.UUID, err error) {
	err = db.wrap("insert", func() error {
		id, e := db.coll.Insert(doc)
		result = id
		return e
	})
	return result, err
}

// Fetch returns the document with the given id.
func (db *DB) Fetch(id uuid.UUID) (document.Document, bool, error) {
	return db.coll.Fetch(id)
}

// FetchAll returns every document in the database, including soft-deleted
// ones until Purge removes them.
func (db *DB) FetchAll() ([]document.Document, error) {
	return db.coll.FetchAll()
}

// FetchAllByProject returns every document scoped to project, including
// soft-deleted ones until Purge removes them.
func (db *DB) FetchAllByProject(project string) ([]document.Document, error) {
	return db.coll.FetchAllByProject(project)
}

// FetchByIndexedField returns documents matching value on a single
// indexed field.
func (db *DB) FetchByIndexedField(field string, value document.Value) ([]document.Document, error) {
	return db.coll.FetchByIndexedField(field, value)
}

// FetchByIndexedFields returns documents matching a compound index.
func (db *DB) FetchByIndexedFields(fields []string, values []document.Value) ([]document.Document, error) {
	return db.coll.FetchByIndexedFields(fields, values)
}

// Update replaces the document stored under id.
func (db *DB) Update(id uuid.UUID, doc document.Document) error {
	return db.wrap("update", func() error { return db.coll.Update(id, doc) })
}

// Delete hard-deletes the document stored under id.
func (db *DB) Delete(id uuid.UUID) error {
	return db.wrap("delete", func() error { return db.coll.Delete(id) })
}

// SoftDelete marks the document stored under id as deleted without
// freeing its page.
func (db *DB) SoftDelete(id uuid.UUID) error {
	return db.wrap("soft_delete", func() error { return db.coll.SoftDelete(id) })
}

// Purge hard-deletes every soft-deleted document, returning the count
// removed.
func (db *DB) Purge() (int, error) {
	var n int
	err := db.wrap("purge", func() error {
		count, e := db.coll.Purge()
		n = count
		return e
	})
	return n, err
}

// CreateIndex builds (or backfills) a compound secondary index over
// fields.
func (db *DB) CreateIndex(fields []string) error {
	return db.wrap("create_index", func() error { return db.coll.CreateIndex(fields) })
}

// RunQuery evaluates q over the database, accelerated by a matching
// single-field index when q carries a Range hint one covers.
func (db *DB) RunQuery(q *query.Query) ([]document.Document, error) {
	return db.coll.RunQuery(q)
}

// Migrate upgrades the database's layout to target under the safe-write
// harness.
func (db *DB) Migrate(target int) error {
	return db.wrap("migrate", func() error { return migrate.UpgradeLayout(db.lay, target) })
}

// CheckIntegrity scans the page store and layout for inconsistencies. In
// strict mode, any Error-severity issue is returned as a wrapped
// integrity.ErrStrict.
func (db *DB) CheckIntegrity(strict bool) (*integrity.Report, error) {
	report := &integrity.Report{}

	total, orphaned, _, err := db.store.Stats()
	if err != nil {
		return nil, err
	}
	if orphaned > 0 {
		report.Add(integrity.Warning, "orphaned pages present: page header does not match magic and version")
	}

	docs, err := db.coll.FetchAll()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		id := doc.Get(document.FieldID)
		key := id.HashKey()
		if _, dup := seen[key]; dup {
			report.Add(integrity.Error, "duplicate document id in layout index map: "+key)
		}
		seen[key] = struct{}{}
	}
	if uint64(len(docs)) > total {
		report.Add(integrity.Error, "layout references more documents than pages on disk")
	}

	if strict && report.HasErrors() {
		return report, integrity.ErrStrict
	}
	return report, nil
}

// Dump returns every occupied page's raw, decoded payload keyed by page
// index, for inspection or offline recovery tooling.
func (db *DB) Dump() (map[uint64][]byte, error) {
	total, _, _, err := db.store.Stats()
	if err != nil {
		return nil, err
	}
	out := make(map[uint64][]byte)
	for i := uint64(0); i < total; i++ {
		payload, err := db.store.Read(i)
		if err != nil {
			return nil, err
		}
		if payload == nil {
			continue
		}
		out[i] = payload
	}
	return out, nil
}

// removeIfExists deletes path, treating a missing file as success.
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
