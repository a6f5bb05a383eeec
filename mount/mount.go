// Package mount implements the in-process multi-database manager
// (component G): a registry of open databases addressed by name, with
// one of them selected as "current" for callers that don't want to
// thread a *blazedb.DB through every call.
package mount

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/blazedb/blazedb"
)

// Sentinel errors returned by Manager operations.
var (
	ErrAlreadyMounted = errors.New("mount: database already mounted under this name")
	ErrNotMounted     = errors.New("mount: no database mounted under this name")
	ErrNoCurrent      = errors.New("mount: no database currently selected")
)

// Manager is a sync.RWMutex-guarded registry of open databases, keyed by
// name, with one name selected as current.
type Manager struct {
	mu      sync.RWMutex
	dbs     map[string]*blazedb.DB
	current string
}

// NewManager returns an empty manager with no current selection.
func NewManager() *Manager {
	return &Manager{dbs: make(map[string]*blazedb.DB)}
}

// Mount opens the database at path under name and registers it. If no
// database is currently selected, the newly mounted one becomes current.
func (m *Manager) Mount(name, path, password string) (*blazedb.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dbs[name]; ok {
		return nil, errors.Wrapf(ErrAlreadyMounted, "mount: %q", name)
	}

	db, err := blazedb.Open(path, password, name)
	if err != nil {
		return nil, err
	}

	m.dbs[name] = db
	if m.current == "" {
		m.current = name
	}
	return db, nil
}

// Use selects name as the current database. name must already be mounted.
func (m *Manager) Use(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dbs[name]; !ok {
		return errors.Wrapf(ErrNotMounted, "mount: %q", name)
	}
	m.current = name
	return nil
}

// Current returns the currently selected database, or nil if none is
// selected.
func (m *Manager) Current() *blazedb.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == "" {
		return nil
	}
	return m.dbs[m.current]
}

// Unmount closes and deregisters the database mounted under name. If it
// was the current selection, the current selection is cleared.
func (m *Manager) Unmount(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	db, ok := m.dbs[name]
	if !ok {
		return errors.Wrapf(ErrNotMounted, "mount: %q", name)
	}
	if err := db.Close(); err != nil {
		return err
	}
	delete(m.dbs, name)
	if m.current == name {
		m.current = ""
	}
	return nil
}

// UnmountAll closes every mounted database, ignoring individual close
// errors, and clears the registry. It is meant for process shutdown.
func (m *Manager) UnmountAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, db := range m.dbs {
		_ = db.Close()
		delete(m.dbs, name)
	}
	m.current = ""
}

// Reload closes and reopens the database mounted under name, at the
// path and with the password it was originally mounted with.
func (m *Manager) Reload(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	db, ok := m.dbs[name]
	if !ok {
		return errors.Wrapf(ErrNotMounted, "mount: %q", name)
	}
	path, password := db.Path(), db.Password()
	if err := db.Close(); err != nil {
		return err
	}
	reopened, err := blazedb.Open(path, password, name)
	if err != nil {
		return err
	}
	m.dbs[name] = reopened
	return nil
}

// FlushAll persists the layout of every mounted database.
func (m *Manager) FlushAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, db := range m.dbs {
		if err := db.Flush(); err != nil {
			return errors.Wrapf(err, "mount: flush %q", name)
		}
	}
	return nil
}
