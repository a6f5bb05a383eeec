package safewrite

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testPaths(t *testing.T) Paths {
	dir := t.TempDir()
	return Paths{
		DataPath:         filepath.Join(dir, "db.bzdb"),
		DataBackupPath:   filepath.Join(dir, "db.bzdb.bak"),
		LayoutPath:       filepath.Join(dir, "db.layout.yaml"),
		LayoutBackupPath: filepath.Join(dir, "db.layout.yaml.bak"),
	}
}

func TestWrapDeletesBackupsOnSuccess(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.WriteFile(paths.DataPath, []byte("original"), 0o644))
	require.NoError(t, os.WriteFile(paths.LayoutPath, []byte("layout-v1"), 0o644))

	h := New()
	err := h.Wrap(paths, func() error {
		return os.WriteFile(paths.DataPath, []byte("mutated"), 0o644)
	})
	require.NoError(t, err)

	_, err = os.Stat(paths.DataBackupPath)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(paths.LayoutBackupPath)
	require.True(t, os.IsNotExist(err))

	got, err := os.ReadFile(paths.DataPath)
	require.NoError(t, err)
	require.Equal(t, "mutated", string(got))
}

func TestWrapRestoresFilesOnFailure(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.WriteFile(paths.DataPath, []byte("original-data"), 0o644))
	require.NoError(t, os.WriteFile(paths.LayoutPath, []byte("original-layout"), 0o644))

	sentinel := errors.New("mutation failed")
	h := New()
	err := h.Wrap(paths, func() error {
		if err := os.WriteFile(paths.DataPath, []byte("corrupted"), 0o644); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := os.ReadFile(paths.DataPath)
	require.NoError(t, err)
	require.Equal(t, "original-data", string(got))

	gotLayout, err := os.ReadFile(paths.LayoutPath)
	require.NoError(t, err)
	require.Equal(t, "original-layout", string(gotLayout))
}

func TestWrapHandlesMissingLayoutFile(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.WriteFile(paths.DataPath, []byte("original"), 0o644))

	h := New()
	err := h.Wrap(paths, func() error {
		return os.WriteFile(paths.DataPath, []byte("mutated"), 0o644)
	})
	require.NoError(t, err)

	_, err = os.Stat(paths.LayoutPath)
	require.True(t, os.IsNotExist(err))
}

func TestWrapNestedCallShortCircuits(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.WriteFile(paths.DataPath, []byte("original"), 0o644))

	h := New()
	ran := false
	err := h.Wrap(paths, func() error {
		return h.Wrap(paths, func() error {
			ran = true
			return nil
		})
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestWrapRunsOnRestoreAfterFailedMutate(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.WriteFile(paths.DataPath, []byte("original"), 0o644))

	h := New()
	var ranAfterRestore bool
	h.SetOnRestore(func() error {
		ranAfterRestore = true
		got, err := os.ReadFile(paths.DataPath)
		require.NoError(t, err)
		require.Equal(t, "original", string(got))
		return nil
	})

	sentinel := errors.New("mutation failed")
	err := h.Wrap(paths, func() error {
		if err := os.WriteFile(paths.DataPath, []byte("corrupted"), 0o644); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.True(t, ranAfterRestore)
}

func TestWrapOnRestoreErrorDoesNotMaskMutateError(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.WriteFile(paths.DataPath, []byte("original"), 0o644))

	h := New()
	h.SetOnRestore(func() error { return errors.New("reload blew up") })

	sentinel := errors.New("mutation failed")
	err := h.Wrap(paths, func() error { return sentinel })
	require.ErrorIs(t, err, sentinel)
}

func TestWrapReleasesFlagAfterCompletion(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.WriteFile(paths.DataPath, []byte("original"), 0o644))

	h := New()
	require.NoError(t, h.Wrap(paths, func() error { return nil }))
	require.False(t, h.inFlight.Load())

	require.NoError(t, h.Wrap(paths, func() error { return nil }))
}
