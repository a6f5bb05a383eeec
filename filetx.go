package blazedb

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
)

// txOpRecord is one line of the side log txn_log.json: a human-auditable
// record of a mutating call made inside the currently open FileTx. It is
// kept in JSON rather than YAML for this one file specifically, since
// it's an append-only log of discrete records rather than a whole-
// document dictionary.
type txOpRecord struct {
	At time.Time `json:"at"`
	Op string    `json:"op"`
}

// FileTx is a file-level transaction distinct from journal.Tx: it
// snapshots the whole data and layout files up front, and either
// discards the snapshot (Commit) or restores it (Rollback). Mutating
// calls made through db while a FileTx is open are still individually
// durable via journal.Tx; FileTx exists to let a caller undo a whole
// sequence of them as one unit.
type FileTx struct {
	db       *DB
	log      []txOpRecord
	finished bool
}

// BeginTransaction snapshots the database's files and opens a FileTx.
// Only one FileTx may be open on a DB at a time.
func (db *DB) BeginTransaction() (*FileTx, error) {
	if !db.inTx.CompareAndSwap(false, true) {
		return nil, ErrTransactionInProgress
	}

	if err := copySnapshot(db.path, txnDataPath(db.path)); err != nil {
		db.inTx.Store(false)
		return nil, errors.Wrap(err, "blazedb: snapshot data file")
	}
	if err := copySnapshot(layoutPath(db.path), txnLayoutPath(db.path)); err != nil {
		db.inTx.Store(false)
		return nil, errors.Wrap(err, "blazedb: snapshot layout file")
	}

	tx := &FileTx{db: db}
	db.tx = tx
	if err := tx.appendLog("begin"); err != nil {
		db.inTx.Store(false)
		return nil, err
	}
	return tx, nil
}

// note records a mutating call made during the transaction, for the
// audit log. Called by DB's mutating methods when a FileTx is open.
func (tx *FileTx) note(op string) {
	if tx == nil {
		return
	}
	_ = tx.appendLog(op)
}

func (tx *FileTx) appendLog(op string) error {
	tx.log = append(tx.log, txOpRecord{At: time.Now().UTC(), Op: op})
	out, err := json.Marshal(tx.log)
	if err != nil {
		return err
	}
	return os.WriteFile(txnLogPath(tx.db.path), out, 0o644)
}

// Commit discards the transaction's snapshot and side log, keeping
// whatever mutations already landed on disk.
func (tx *FileTx) Commit() error {
	if tx.finished {
		return ErrAlreadyFinalized
	}
	tx.finished = true
	defer tx.db.inTx.Store(false)
	defer func() { tx.db.tx = nil }()

	if err := removeIfExists(txnDataPath(tx.db.path)); err != nil {
		return err
	}
	if err := removeIfExists(txnLayoutPath(tx.db.path)); err != nil {
		return err
	}
	return removeIfExists(txnLogPath(tx.db.path))
}

// Rollback restores the data and layout files from the transaction's
// snapshot and clears the side log.
func (tx *FileTx) Rollback() error {
	if tx.finished {
		return ErrAlreadyFinalized
	}
	tx.finished = true
	defer tx.db.inTx.Store(false)
	defer func() { tx.db.tx = nil }()

	if err := copySnapshot(txnDataPath(tx.db.path), tx.db.path); err != nil {
		return errors.Wrap(err, "blazedb: restore data file")
	}
	if err := copySnapshot(txnLayoutPath(tx.db.path), layoutPath(tx.db.path)); err != nil {
		return errors.Wrap(err, "blazedb: restore layout file")
	}

	// The data/layout files on disk now reflect pre-transaction state, but
	// the store's page cache and the collection's in-memory layout may
	// still hold frames and entries from the mutations just undone.
	tx.db.store.InvalidateCache()
	if err := tx.db.coll.Reload(); err != nil {
		return errors.Wrap(err, "blazedb: reload collection after rollback")
	}

	if err := removeIfExists(txnDataPath(tx.db.path)); err != nil {
		return err
	}
	if err := removeIfExists(txnLayoutPath(tx.db.path)); err != nil {
		return err
	}
	return removeIfExists(txnLogPath(tx.db.path))
}

func copySnapshot(src, dst string) error {
	in, err := os.Open(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
