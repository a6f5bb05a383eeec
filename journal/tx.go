package journal

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/blazedb/blazedb/page"
)

// TxState is the lifecycle state of a Tx.
type TxState int

const (
	Open TxState = iota
	Committed
	RolledBack
)

var ErrTxClosed = errors.New("journal: transaction already committed or rolled back")

var txIDCounter uint64

// NextTxID returns a fresh, process-unique transaction id.
func NextTxID() uint64 { return atomic.AddUint64(&txIDCounter, 1) }

// Tx buffers writes and deletes in memory. Begin logs its EntryBegin;
// the buffered writes and deletes reach the on-disk journal and the page
// store only at Commit time. Rollback discards the buffer, so none of
// them reach either.
type Tx struct {
	id      uint64
	journal *Journal
	store   *page.Store
	state   TxState

	writes   map[uint64][]byte
	order    []uint64 // insertion order of writes, since map order is unspecified
	deletes  map[uint64]bool
	deleteOn []uint64

	appendInit bool
	nextAppend uint64
}

// Begin starts a new transaction context and logs its EntryBegin.
func Begin(j *Journal, store *page.Store) (*Tx, error) {
	id := NextTxID()
	if err := j.Begin(id); err != nil {
		return nil, err
	}
	return &Tx{
		id:      id,
		journal: j,
		store:   store,
		writes:  make(map[uint64][]byte),
		deletes: make(map[uint64]bool),
	}, nil
}

// Read checks the transaction's uncommitted buffer first, falling back to
// the page store for pages it has not touched.
func (tx *Tx) Read(index uint64) ([]byte, error) {
	if tx.deletes[index] {
		return nil, nil
	}
	if payload, ok := tx.writes[index]; ok {
		return payload, nil
	}
	return tx.store.Read(index)
}

// Write buffers a page write; nothing reaches the store or journal until
// Commit.
func (tx *Tx) Write(index uint64, payload []byte) error {
	if tx.state != Open {
		return ErrTxClosed
	}
	if _, exists := tx.writes[index]; !exists {
		tx.order = append(tx.order, index)
	}
	tx.writes[index] = payload
	delete(tx.deletes, index)
	return nil
}

// Append reserves the next free page index — by the store's current page
// count plus however many indexes this Tx has already reserved — and
// buffers a write there, same as Write. The index is not visible in the
// store, nor is any other writer able to observe it as taken, until
// Commit actually extends the file.
func (tx *Tx) Append(payload []byte) (uint64, error) {
	if tx.state != Open {
		return 0, ErrTxClosed
	}
	if !tx.appendInit {
		tx.nextAppend = tx.store.PageCount()
		tx.appendInit = true
	}
	index := tx.nextAppend
	tx.nextAppend++
	if err := tx.Write(index, payload); err != nil {
		return 0, err
	}
	return index, nil
}

// Delete buffers a page delete.
func (tx *Tx) Delete(index uint64) error {
	if tx.state != Open {
		return ErrTxClosed
	}
	if !tx.deletes[index] {
		tx.deleteOn = append(tx.deleteOn, index)
	}
	tx.deletes[index] = true
	delete(tx.writes, index)
	return nil
}

// Commit appends every buffered write and delete to the journal (in
// insertion order), applies them to the page store, appends EntryCommit,
// and fsyncs.
func (tx *Tx) Commit() error {
	if tx.state != Open {
		return ErrTxClosed
	}
	for _, index := range tx.order {
		payload := tx.writes[index]
		if err := tx.journal.Append(Entry{Kind: EntryWrite, TxID: tx.id, PageIndex: index, Payload: payload}); err != nil {
			return err
		}
		if err := tx.store.Write(index, payload); err != nil {
			return err
		}
	}
	for _, index := range tx.deleteOn {
		if err := tx.journal.Append(Entry{Kind: EntryDelete, TxID: tx.id, PageIndex: index}); err != nil {
			return err
		}
		if err := tx.store.Delete(index); err != nil {
			return err
		}
	}
	if err := tx.journal.Commit(tx.id); err != nil {
		return err
	}
	tx.state = Committed
	return nil
}

// Rollback discards the in-memory buffer. It never writes to the page
// store and never appends a journal entry; an unterminated Begin for this
// TxID is simply never treated as committed on replay.
func (tx *Tx) Rollback() error {
	if tx.state != Open {
		return ErrTxClosed
	}
	tx.writes = nil
	tx.order = nil
	tx.deletes = nil
	tx.deleteOn = nil
	tx.state = RolledBack
	return nil
}

// State returns the transaction's current lifecycle state.
func (tx *Tx) State() TxState { return tx.state }

// ID returns the transaction's id, as recorded in the journal.
func (tx *Tx) ID() uint64 { return tx.id }
