//go:build windows

package page

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// fileLock is the Windows counterpart of filelock_unix.go, adapted from
// the teacher's storage/filelock_windows.go (LockFileEx on a sidecar).
type fileLock struct {
	file   *os.File
	handle windows.Handle
}

func lockFile(path string) (*fileLock, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "page: cannot open lock file")
	}
	h := windows.Handle(f.Fd())
	ol := new(windows.Overlapped)
	if err := windows.LockFileEx(h, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, ol); err != nil {
		f.Close()
		return nil, errors.Errorf("page: database %q is locked by another opener", path)
	}
	return &fileLock{file: f, handle: h}, nil
}

func (fl *fileLock) unlock() error {
	if fl.file == nil {
		return nil
	}
	ol := new(windows.Overlapped)
	windows.UnlockFileEx(fl.handle, 0, 1, 0, ol)
	name := fl.file.Name()
	err := fl.file.Close()
	os.Remove(name)
	fl.file = nil
	return err
}
