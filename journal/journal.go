package journal

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/blazedb/blazedb/page"
)

const fileHeaderSize = 16

var fileMagic = [4]byte{'B', 'W', 'A', 'L'}

// recordHeaderSize is LSN(8) + Kind(1) + TxID(8) + PageIndex(8) + DataLen(4).
const recordHeaderSize = 8 + 1 + 8 + 8 + 4
const recordCRCSize = 4

// Journal is the on-disk write-ahead log: component C. The path is the
// database file's path with a ".wal" suffix.
type Journal struct {
	mu      sync.Mutex
	file    *os.File
	nextLSN uint64
}

// Open opens or creates the journal file alongside dbPath.
func Open(dbPath string) (*Journal, error) {
	path := dbPath + ".wal"
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "journal: cannot open file")
	}
	j := &Journal{file: f, nextLSN: 1}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := j.writeFileHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else if err := j.readFileHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the underlying file without truncating it.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// Begin appends an EntryBegin record for txID.
func (j *Journal) Begin(txID uint64) error {
	return j.Append(Entry{Kind: EntryBegin, TxID: txID})
}

// Commit appends an EntryCommit record and fsyncs, the durability point.
func (j *Journal) Commit(txID uint64) error {
	if err := j.Append(Entry{Kind: EntryCommit, TxID: txID}); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return errors.Wrap(j.file.Sync(), "journal: fsync commit")
}

// Abort appends an EntryAbort record. Abort does not need to be durable:
// an unterminated Begin is already treated as never-committed on replay.
func (j *Journal) Abort(txID uint64) error {
	return j.Append(Entry{Kind: EntryAbort, TxID: txID})
}

// Append writes a single entry to the log.
func (j *Journal) Append(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	lsn := j.nextLSN
	j.nextLSN++

	dataLen := len(entry.Payload)
	buf := make([]byte, recordHeaderSize+dataLen+recordCRCSize)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], lsn)
	off += 8
	buf[off] = byte(entry.Kind)
	off++
	binary.LittleEndian.PutUint64(buf[off:], entry.TxID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], entry.PageIndex)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(dataLen))
	off += 4
	if dataLen > 0 {
		copy(buf[off:], entry.Payload)
		off += dataLen
	}
	crc := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)

	if _, err := j.file.Seek(0, io.SeekEnd); err != nil {
		return errors.Wrap(err, "journal: seek end")
	}
	if _, err := j.file.Write(buf); err != nil {
		return errors.Wrap(err, "journal: write entry")
	}
	return nil
}

// Truncate clears all entries after a successful checkpoint, leaving only
// the file header.
func (j *Journal) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.file.Truncate(fileHeaderSize); err != nil {
		return errors.Wrap(err, "journal: truncate")
	}
	if _, err := j.file.Seek(fileHeaderSize, io.SeekStart); err != nil {
		return errors.Wrap(err, "journal: seek after truncate")
	}
	j.nextLSN = 1
	return errors.Wrap(j.file.Sync(), "journal: fsync after truncate")
}

// Recover replays every transaction whose Begin is followed by a matching
// Commit into store, applying EntryWrite and EntryDelete entries in
// log order. Transactions without a terminating Commit (including ones
// explicitly Aborted) are skipped. A truncated tail record — the
// signature of a crash mid-append — stops replay at the last complete
// record rather than failing; the log up to that point is trusted.
// Recovery is idempotent: replaying a log twice against the same store
// state yields the same store state, since writes/deletes are addressed
// by absolute page index.
func (j *Journal) Recover(store *page.Store) (applied int, err error) {
	entries, err := j.loadEntries()
	if err != nil {
		return 0, err
	}

	committed := make(map[uint64]bool)
	for _, e := range entries {
		if e.Kind == EntryCommit {
			committed[e.TxID] = true
		}
	}

	for _, e := range entries {
		if !committed[e.TxID] {
			continue
		}
		switch e.Kind {
		case EntryWrite:
			if err := store.Write(e.PageIndex, e.Payload); err != nil {
				return applied, errors.Wrap(err, "journal: recover write")
			}
			applied++
		case EntryDelete:
			if err := store.Delete(e.PageIndex); err != nil {
				return applied, errors.Wrap(err, "journal: recover delete")
			}
			applied++
		}
	}
	return applied, nil
}

func (j *Journal) writeFileHeader() error {
	var hdr [fileHeaderSize]byte
	copy(hdr[0:4], fileMagic[:])
	binary.LittleEndian.PutUint32(hdr[4:8], 1)
	_, err := j.file.WriteAt(hdr[:], 0)
	return errors.Wrap(err, "journal: write header")
}

func (j *Journal) readFileHeader() error {
	var hdr [fileHeaderSize]byte
	if _, err := j.file.ReadAt(hdr[:], 0); err != nil {
		return errors.Wrap(err, "journal: read header")
	}
	if hdr[0] != fileMagic[0] || hdr[1] != fileMagic[1] || hdr[2] != fileMagic[2] || hdr[3] != fileMagic[3] {
		// Corrupt header: treated as an empty log, per spec. The file is
		// reset to a fresh header so later entries are readable.
		logrus.WithFields(logrus.Fields{"path": j.file.Name()}).Warn("journal: corrupt file header, starting an empty log")
		if err := j.file.Truncate(0); err != nil {
			return errors.Wrap(err, "journal: reset corrupt log")
		}
		return j.writeFileHeader()
	}
	return nil
}

// loadEntries reads every well-formed record after the file header,
// stopping at the first incomplete or CRC-mismatched record.
func (j *Journal) loadEntries() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var entries []Entry
	offset := int64(fileHeaderSize)
	hdrBuf := make([]byte, recordHeaderSize)

	for {
		n, err := j.file.ReadAt(hdrBuf, offset)
		if (err == io.EOF && n < recordHeaderSize) || n < recordHeaderSize {
			break
		}
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "journal: read record header")
		}

		lsn := binary.LittleEndian.Uint64(hdrBuf[0:8])
		kind := EntryKind(hdrBuf[8])
		txID := binary.LittleEndian.Uint64(hdrBuf[9:17])
		pageIndex := binary.LittleEndian.Uint64(hdrBuf[17:25])
		dataLen := binary.LittleEndian.Uint32(hdrBuf[25:29])

		rest := int(dataLen) + recordCRCSize
		restBuf := make([]byte, rest)
		n, err = j.file.ReadAt(restBuf, offset+int64(recordHeaderSize))
		if (err == io.EOF && n < rest) || n < rest {
			break
		}
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "journal: read record body")
		}

		full := make([]byte, recordHeaderSize+int(dataLen))
		copy(full, hdrBuf)
		copy(full[recordHeaderSize:], restBuf[:dataLen])
		storedCRC := binary.LittleEndian.Uint32(restBuf[dataLen:])
		if crc32.ChecksumIEEE(full) != storedCRC {
			break
		}

		var payload []byte
		if dataLen > 0 {
			payload = make([]byte, dataLen)
			copy(payload, restBuf[:dataLen])
		}
		entries = append(entries, Entry{Kind: kind, TxID: txID, PageIndex: pageIndex, Payload: payload})

		if lsn >= j.nextLSN {
			j.nextLSN = lsn + 1
		}
		offset += int64(recordHeaderSize) + int64(rest)
	}

	return entries, nil
}
