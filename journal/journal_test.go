package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blazedb/blazedb/page"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.bzdb")
}

func TestRecoverOnlyAppliesCommittedTransactions(t *testing.T) {
	dbPath := tempDBPath(t)
	j, err := Open(dbPath)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Begin(1))
	require.NoError(t, j.Append(Entry{Kind: EntryWrite, TxID: 1, PageIndex: 0, Payload: []byte("committed")}))
	require.NoError(t, j.Commit(1))

	require.NoError(t, j.Begin(2))
	require.NoError(t, j.Append(Entry{Kind: EntryWrite, TxID: 2, PageIndex: 1, Payload: []byte("never committed")}))
	// No commit for tx 2.

	store, err := page.OpenMemory()
	require.NoError(t, err)
	defer store.Close()

	applied, err := j.Recover(store)
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	got, err := store.Read(0)
	require.NoError(t, err)
	require.Equal(t, []byte("committed"), got)

	got, err = store.Read(1)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRecoverSkipsAbortedTransactions(t *testing.T) {
	dbPath := tempDBPath(t)
	j, err := Open(dbPath)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Begin(1))
	require.NoError(t, j.Append(Entry{Kind: EntryWrite, TxID: 1, PageIndex: 0, Payload: []byte("aborted")}))
	require.NoError(t, j.Abort(1))

	store, err := page.OpenMemory()
	require.NoError(t, err)
	defer store.Close()

	applied, err := j.Recover(store)
	require.NoError(t, err)
	require.Zero(t, applied)
}

func TestRecoverIsIdempotent(t *testing.T) {
	dbPath := tempDBPath(t)
	j, err := Open(dbPath)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Begin(1))
	require.NoError(t, j.Append(Entry{Kind: EntryWrite, TxID: 1, PageIndex: 0, Payload: []byte("data")}))
	require.NoError(t, j.Commit(1))

	store, err := page.OpenMemory()
	require.NoError(t, err)
	defer store.Close()

	_, err = j.Recover(store)
	require.NoError(t, err)
	_, err = j.Recover(store)
	require.NoError(t, err)

	got, err := store.Read(0)
	require.NoError(t, err)
	require.Equal(t, []byte("data"), got)
}

func TestRecoverStopsAtTruncatedTailRecord(t *testing.T) {
	dbPath := tempDBPath(t)
	j, err := Open(dbPath)
	require.NoError(t, err)

	require.NoError(t, j.Begin(1))
	require.NoError(t, j.Append(Entry{Kind: EntryWrite, TxID: 1, PageIndex: 0, Payload: []byte("complete")}))
	require.NoError(t, j.Commit(1))
	require.NoError(t, j.Close())

	// Simulate a crash mid-append: truncate the last few bytes off the file.
	walPath := dbPath + ".wal"
	info, err := os.Stat(walPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(walPath, info.Size()-2))

	j2, err := Open(dbPath)
	require.NoError(t, err)
	defer j2.Close()

	store, err := page.OpenMemory()
	require.NoError(t, err)
	defer store.Close()

	applied, err := j2.Recover(store)
	require.NoError(t, err)
	require.Zero(t, applied) // the Commit record is cut short, so tx 1 never committed
}

func TestCorruptFileHeaderTreatedAsEmptyLog(t *testing.T) {
	dbPath := tempDBPath(t)
	walPath := dbPath + ".wal"
	require.NoError(t, os.WriteFile(walPath, []byte("not a valid wal header at all"), 0o644))

	j, err := Open(dbPath)
	require.NoError(t, err)
	defer j.Close()

	store, err := page.OpenMemory()
	require.NoError(t, err)
	defer store.Close()

	applied, err := j.Recover(store)
	require.NoError(t, err)
	require.Zero(t, applied)
}

func TestTxRollbackNeverTouchesStoreOrJournal(t *testing.T) {
	dbPath := tempDBPath(t)
	j, err := Open(dbPath)
	require.NoError(t, err)
	defer j.Close()

	store, err := page.OpenMemory()
	require.NoError(t, err)
	defer store.Close()

	tx, err := Begin(j, store)
	require.NoError(t, err)
	require.NoError(t, tx.Write(0, []byte("should vanish")))
	require.NoError(t, tx.Rollback())

	got, err := store.Read(0)
	require.NoError(t, err)
	require.Nil(t, got)

	entries, err := j.loadEntries()
	require.NoError(t, err)
	for _, e := range entries {
		require.NotEqual(t, EntryCommit, e.Kind)
		require.NotEqual(t, EntryWrite, e.Kind)
	}
}

func TestTxCommitAppliesWritesInInsertionOrder(t *testing.T) {
	dbPath := tempDBPath(t)
	j, err := Open(dbPath)
	require.NoError(t, err)
	defer j.Close()

	store, err := page.OpenMemory()
	require.NoError(t, err)
	defer store.Close()

	tx, err := Begin(j, store)
	require.NoError(t, err)
	require.NoError(t, tx.Write(0, []byte("first")))
	require.NoError(t, tx.Write(1, []byte("second")))
	require.NoError(t, tx.Commit())

	got, err := store.Read(0)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), got)

	got, err = store.Read(1)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)
}

func TestTxAppendReservesSequentialIndexes(t *testing.T) {
	dbPath := tempDBPath(t)
	j, err := Open(dbPath)
	require.NoError(t, err)
	defer j.Close()

	store, err := page.OpenMemory()
	require.NoError(t, err)
	defer store.Close()

	tx, err := Begin(j, store)
	require.NoError(t, err)

	first, err := tx.Append([]byte("a"))
	require.NoError(t, err)
	second, err := tx.Append([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, first+1, second)

	require.NoError(t, tx.Commit())

	got, err := store.Read(first)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), got)

	got, err = store.Read(second)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), got)
}

func TestTxAppendNotVisibleUntilCommit(t *testing.T) {
	dbPath := tempDBPath(t)
	j, err := Open(dbPath)
	require.NoError(t, err)
	defer j.Close()

	store, err := page.OpenMemory()
	require.NoError(t, err)
	defer store.Close()

	tx, err := Begin(j, store)
	require.NoError(t, err)

	index, err := tx.Append([]byte("pending"))
	require.NoError(t, err)

	got, err := store.Read(index)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, tx.Rollback())

	got, err = store.Read(index)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTxOperationsAfterCloseFail(t *testing.T) {
	dbPath := tempDBPath(t)
	j, err := Open(dbPath)
	require.NoError(t, err)
	defer j.Close()

	store, err := page.OpenMemory()
	require.NoError(t, err)
	defer store.Close()

	tx, err := Begin(j, store)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.ErrorIs(t, tx.Write(0, []byte("x")), ErrTxClosed)
	require.ErrorIs(t, tx.Commit(), ErrTxClosed)
	require.ErrorIs(t, tx.Rollback(), ErrTxClosed)
}
