// Package safewrite implements the file-level snapshot/restore harness:
// component E. It wraps every mutating database call and schema
// migration with "copy files aside, run the mutation, delete the copies
// on success or restore them on failure".
package safewrite

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Paths names the data and layout files a Harness snapshots.
type Paths struct {
	DataPath, DataBackupPath     string
	LayoutPath, LayoutBackupPath string
}

// Harness tracks re-entrancy so a nested safe-write (a migration invoked
// from inside an already-wrapped mutating call) short-circuits to just
// running the body, per spec.md §4.E point 1.
type Harness struct {
	inFlight  atomic.Bool
	onRestore func() error
}

// New returns a fresh, non-re-entrant harness.
func New() *Harness { return &Harness{} }

// SetOnRestore installs a callback run after a successful file restore,
// before Wrap re-raises the original mutate error. The caller's own
// error, if any, is not itself surfaced: per spec.md §4.E point 4 the
// harness restores the files, reloads in-memory state built on top of
// them (falling back to a rebuild if that fails), and then always
// re-raises the mutate error regardless of how the reload went.
func (h *Harness) SetOnRestore(fn func() error) { h.onRestore = fn }

// Wrap snapshots paths' live files, runs mutate, and on failure restores
// the snapshot before re-raising the error. On success the backups are
// deleted. A nested call (one already running inside Wrap) just runs
// mutate directly.
func (h *Harness) Wrap(paths Paths, mutate func() error) error {
	if !h.inFlight.CompareAndSwap(false, true) {
		return mutate()
	}
	defer h.inFlight.Store(false)

	if err := snapshot(paths); err != nil {
		return errors.Wrap(err, "safewrite: snapshot")
	}

	if err := mutate(); err != nil {
		if restoreErr := restore(paths); restoreErr != nil {
			return errors.Wrapf(restoreErr, "safewrite: restore after mutate error: %v", err)
		}
		if h.onRestore != nil {
			_ = h.onRestore()
		}
		return err
	}

	cleanup(paths)
	return nil
}

func snapshot(paths Paths) error {
	if err := copyFile(paths.DataPath, paths.DataBackupPath); err != nil {
		return err
	}
	return copyFile(paths.LayoutPath, paths.LayoutBackupPath)
}

func restore(paths Paths) error {
	if err := copyFile(paths.DataBackupPath, paths.DataPath); err != nil {
		return err
	}
	return copyFile(paths.LayoutBackupPath, paths.LayoutPath)
}

func cleanup(paths Paths) {
	_ = os.Remove(paths.DataBackupPath)
	_ = os.Remove(paths.LayoutBackupPath)
}

// copyFile overwrites dst with src's contents. A missing src (e.g. a
// layout file that hasn't been written yet) is not an error: there is
// simply nothing to snapshot or restore for that file.
func copyFile(src, dst string) error {
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
