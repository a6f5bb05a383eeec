package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/blazedb/blazedb/document"
	"github.com/blazedb/blazedb/page"
)

func TestLoadMissingFileReturnsEmptyLayout(t *testing.T) {
	dir := t.TempDir()
	l, err := Load(filepath.Join(dir, "nope.yaml"), "")
	require.NoError(t, err)
	require.Equal(t, CurrentVersion, l.Version)
	require.Empty(t, l.IndexMap)
	require.Zero(t, l.NextPageIndex)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layout.yaml")
	idxPath := filepath.Join(dir, "layout.indexes.yaml")

	l := New()
	id := uuid.New()
	l.IndexMap[id] = 3
	l.NextPageIndex = 4
	l.SecondaryIndexDefinitions["status+priority"] = []string{"status", "priority"}
	l.SecondaryIndexes["status+priority"] = map[string]map[uuid.UUID]struct{}{
		"s:open|s:high": {id: struct{}{}},
	}

	require.NoError(t, l.Save(path, idxPath))

	loaded, err := Load(path, idxPath)
	require.NoError(t, err)
	require.Equal(t, uint64(3), loaded.IndexMap[id])
	require.Equal(t, uint64(4), loaded.NextPageIndex)
	require.Equal(t, []string{"status", "priority"}, loaded.SecondaryIndexDefinitions["status+priority"])
	_, ok := loaded.SecondaryIndexes["status+priority"]["s:open|s:high"][id]
	require.True(t, ok)
}

func TestLoadCorruptFileDeletesAndReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid yaml structure for layout"), 0o644))

	l, err := Load(path, "")
	require.NoError(t, err)
	require.Equal(t, CurrentVersion, l.Version)
	require.Empty(t, l.IndexMap)

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestIndexesSidecarSupersedesMainLayout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layout.yaml")
	idxPath := filepath.Join(dir, "layout.indexes.yaml")

	id := uuid.New()
	l := New()
	l.NextPageIndex = 1
	require.NoError(t, l.Save(path, ""))

	require.NoError(t, os.WriteFile(idxPath, []byte("status:\n  open:\n    - "+id.String()+"\n"), 0o644))

	loaded, err := Load(path, idxPath)
	require.NoError(t, err)
	_, ok := loaded.SecondaryIndexes["status"]["open"][id]
	require.True(t, ok)
}

func TestRebuildScansPagesForIndexMap(t *testing.T) {
	store, err := page.OpenMemory()
	require.NoError(t, err)
	defer store.Close()

	id := uuid.New()
	doc := document.New()
	doc[document.FieldID] = document.ID(id)
	encoded, err := doc.Encode()
	require.NoError(t, err)

	idx, err := store.Append(encoded)
	require.NoError(t, err)

	l, err := Rebuild(store)
	require.NoError(t, err)
	require.Equal(t, idx, l.IndexMap[id])
	require.Equal(t, idx+1, l.NextPageIndex)
}
