package mount

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrLockTimeout is returned by LockNamed when name could not be locked
// within the given timeout.
var ErrLockTimeout = errors.New("mount: timeout acquiring named lock")

// namedLock is a single mutex plus its waiters' condition, one per
// registry name.
type namedLock struct {
	mu     sync.Mutex
	locked bool
	cond   *sync.Cond
}

// LockRegistry serializes shell commands (mount/use/unmount) against a
// given database name within one process. It does not participate in
// Manager's own registry mutex: it exists for the CLI shell to bracket a
// multi-step command against concurrent shell input, not to protect
// Manager's internal state.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*namedLock
}

// NewLockRegistry returns an empty named-lock registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*namedLock)}
}

func (r *LockRegistry) getOrCreate(name string) *namedLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	nl, ok := r.locks[name]
	if !ok {
		nl = &namedLock{}
		nl.cond = sync.NewCond(&nl.mu)
		r.locks[name] = nl
	}
	return nl
}

// LockNamed blocks until name is free or timeout elapses, then runs fn
// while holding the lock, releasing it before returning.
func (r *LockRegistry) LockNamed(name string, timeout time.Duration, fn func() error) error {
	nl := r.getOrCreate(name)

	acquired := make(chan struct{})
	go func() {
		nl.mu.Lock()
		for nl.locked {
			nl.cond.Wait()
		}
		nl.locked = true
		nl.mu.Unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(timeout):
		return errors.Wrapf(ErrLockTimeout, "mount: %q", name)
	}

	defer func() {
		nl.mu.Lock()
		nl.locked = false
		nl.cond.Broadcast()
		nl.mu.Unlock()
	}()

	return fn()
}
