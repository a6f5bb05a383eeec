package page

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Transform is the optional payload transform hook spec.md §9 describes
// as "orthogonal to the page framing": when set, it runs on the payload
// after serialization and before framing (Seal), and in reverse after a
// successful read and before returning the payload to the caller (Open).
// Stats' orphan check always inspects the framed header bytes directly,
// never the transformed payload, so it is unaffected by whether a
// Transform is installed.
type Transform interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Store is the fixed-size, framed page store: component A. Multiple
// concurrent readers are permitted; writers are serialized by mu, and
// every write is fsync'd before the call returns.
type Store struct {
	mu        sync.RWMutex
	f         file
	path      string
	lock      *fileLock
	cache     *lruCache
	transform Transform
	totalSize int64 // file size in bytes; a partial trailing page is not counted as a page
}

// Open opens or creates the page file at path, acquiring the OS-level
// exclusive lock that enforces "one live opener per file".
func Open(path string) (*Store, error) {
	lock, err := lockFile(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		lock.unlock()
		return nil, errors.Wrap(err, "page: cannot open file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		lock.unlock()
		return nil, err
	}
	s := &Store{
		f:         &osFile{f: f},
		path:      path,
		lock:      lock,
		cache:     newLRUCache(1024),
		totalSize: info.Size(),
	}
	return s, nil
}

// OpenMemory opens a page store entirely in memory, with no backing file
// and no OS lock. Used for tests and ephemeral databases.
func OpenMemory() (*Store, error) {
	return &Store{f: &memFile{}, path: ":memory:", cache: newLRUCache(1024)}, nil
}

// SetTransform installs the optional encryption/compression hook. Must be
// called before any Write/Read to have a consistent effect across the
// file's lifetime.
func (s *Store) SetTransform(t Transform) { s.transform = t }

// Close flushes and releases the underlying file and OS lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.f.Sync()
	closeErr := s.f.Close()
	if s.lock != nil {
		s.lock.unlock()
	}
	if err != nil {
		return err
	}
	return closeErr
}

// pageCount returns the number of whole pages currently in the file. A
// short trailing remainder (< PageSize bytes) is ignored, per spec
// invariant 4.
func (s *Store) pageCount() uint64 {
	return uint64(s.totalSize) / PageSize
}

// PageCount exports pageCount for callers outside the package that need
// to reserve a fresh index ahead of an actual write, e.g. journal.Tx's
// buffered Append.
func (s *Store) PageCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageCount()
}

// InvalidateCache discards every cached page frame. Used after something
// outside the store's own write path (a file-level transaction rollback
// restoring bytes from a snapshot) has changed the file on disk, so the
// next Read doesn't serve a stale cached frame.
func (s *Store) InvalidateCache() {
	s.cache.clear()
}

// Write writes payload at the given page index, framing it with
// [magic][version] and zero-padding to PageSize. The file is extended
// as needed. The write is fsync'd before Write returns.
func (s *Store) Write(index uint64, payload []byte) error {
	sealed, err := s.seal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(index, sealed)
}

func (s *Store) seal(payload []byte) ([]byte, error) {
	if s.transform == nil {
		if len(payload) > MaxPayload {
			return nil, ErrTooLarge
		}
		return payload, nil
	}
	sealed, err := s.transform.Seal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "page: transform seal")
	}
	if len(sealed) > MaxPayload {
		return nil, ErrTooLarge
	}
	return sealed, nil
}

// writeLocked must be called with mu held for writing.
func (s *Store) writeLocked(index uint64, sealed []byte) error {
	buf := frame(sealed)
	off := int64(index) * PageSize
	if _, err := s.f.WriteAt(buf[:], off); err != nil {
		return errors.Wrap(err, "page: write")
	}
	if err := s.f.Sync(); err != nil {
		return errors.Wrap(err, "page: fsync")
	}
	if need := off + PageSize; need > s.totalSize {
		s.totalSize = need
	}
	s.cache.put(index, buf)
	return nil
}

// Read returns the payload stored at index, trimming a trailing zero run
// (spec behavior), or (nil, nil) if the page is all-zero or past the end
// ("not found"). A header-only page returns an empty, non-nil payload. A
// page whose header bytes are present but malformed returns
// ErrInvalidHeader.
func (s *Store) Read(index uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(index)
}

func (s *Store) readLocked(index uint64) ([]byte, error) {
	if index >= s.pageCount() {
		return nil, nil
	}
	if data, ok := s.cache.get(index); ok {
		return s.decodeFrame(data[:])
	}
	var buf [PageSize]byte
	if _, err := s.f.ReadAt(buf[:], int64(index)*PageSize); err != nil {
		return nil, errors.Wrap(err, "page: read")
	}
	s.cache.put(index, buf)
	return s.decodeFrame(buf[:])
}

func (s *Store) decodeFrame(buf []byte) ([]byte, error) {
	if isAllZero(buf) {
		return nil, nil
	}
	if !hasValidHeader(buf) {
		return nil, ErrInvalidHeader
	}
	sealed := trimTrailingZeros(buf[HeaderSize:])
	if len(sealed) == 0 {
		return []byte{}, nil
	}
	if s.transform == nil {
		return sealed, nil
	}
	payload, err := s.transform.Open(sealed)
	if err != nil {
		return nil, errors.Wrap(err, "page: transform open")
	}
	return payload, nil
}

// Append allocates the next free page index (by current file size) and
// writes payload there, returning the assigned index.
func (s *Store) Append(payload []byte) (uint64, error) {
	sealed, err := s.seal(payload)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.pageCount()
	if err := s.writeLocked(index, sealed); err != nil {
		return 0, err
	}
	return index, nil
}

// Delete overwrites the slot at index with zeros and flushes.
func (s *Store) Delete(index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero [PageSize]byte
	off := int64(index) * PageSize
	if _, err := s.f.WriteAt(zero[:], off); err != nil {
		return errors.Wrap(err, "page: delete")
	}
	if err := s.f.Sync(); err != nil {
		return errors.Wrap(err, "page: fsync")
	}
	s.cache.invalidate(index)
	return nil
}

// Stats returns the total page count, the count of orphaned pages (pages
// whose framed header does not match magic+version and are not all-zero
// holes), and the raw file size in bytes.
func (s *Store) Stats() (total, orphaned uint64, fileBytes int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total = s.pageCount()
	var buf [PageSize]byte
	for i := uint64(0); i < total; i++ {
		if data, ok := s.cache.get(i); ok {
			buf = data
		} else if _, rerr := s.f.ReadAt(buf[:], int64(i)*PageSize); rerr != nil {
			return 0, 0, 0, errors.Wrap(rerr, "page: stats read")
		}
		if isAllZero(buf[:]) {
			continue
		}
		if !hasValidHeader(buf[:]) {
			orphaned++
		}
	}
	return total, orphaned, s.totalSize, nil
}
