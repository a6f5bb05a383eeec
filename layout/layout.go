// Package layout implements the persistent storage layout: component B.
package layout

import (
	"bytes"
	"os"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/blazedb/blazedb/document"
	"github.com/blazedb/blazedb/page"
)

// CurrentVersion is the layout format version written by this build.
const CurrentVersion = 2

// Layout is the persistent metadata describing a collection's pages and
// secondary indexes, separate from the record pages themselves.
type Layout struct {
	Version                   int                                          `yaml:"version"`
	IndexMap                  map[uuid.UUID]uint64                         `yaml:"indexMap"`
	NextPageIndex             uint64                                       `yaml:"nextPageIndex"`
	SecondaryIndexDefinitions map[string][]string                          `yaml:"secondaryIndexDefinitions"`
	SecondaryIndexes          map[string]map[string]map[uuid.UUID]struct{} `yaml:"secondaryIndexes"`
	MetaData                  document.Document                            `yaml:"metaData"`
}

// New returns an empty layout at the current version.
func New() *Layout {
	return &Layout{
		Version:                   CurrentVersion,
		IndexMap:                  make(map[uuid.UUID]uint64),
		NextPageIndex:             0,
		SecondaryIndexDefinitions: make(map[string][]string),
		SecondaryIndexes:          make(map[string]map[string]map[uuid.UUID]struct{}),
		MetaData:                  document.New(),
	}
}

// diskLayout mirrors Layout but with YAML-friendly types: uuid.UUID and
// struct{} don't round-trip naturally through yaml.v3 map keys/values, so
// Load/Save marshal through a plain-string, slice-of-ids representation.
type diskLayout struct {
	Version                   int                         `yaml:"version"`
	IndexMap                  map[string]uint64           `yaml:"indexMap"`
	NextPageIndex             uint64                      `yaml:"nextPageIndex"`
	SecondaryIndexDefinitions map[string][]string         `yaml:"secondaryIndexDefinitions"`
	SecondaryIndexes          map[string]map[string][]string `yaml:"secondaryIndexes"`
	MetaData                  map[string]yaml.Node        `yaml:"metaData"`
}

// Load reads the layout from path, falling back to an empty layout if the
// file is absent, and rebuilding from scratch (after logging and deleting
// the bad file) if it cannot be parsed. indexesPath, if non-empty and
// present, supersedes any index materialization found in path.
func Load(path, indexesPath string) (*Layout, error) {
	l, err := loadMain(path)
	if err != nil {
		return nil, err
	}
	if indexesPath != "" {
		if err := loadIndexesSidecar(l, indexesPath); err != nil {
			logrus.WithFields(logrus.Fields{"path": indexesPath, "error": err}).Warn("layout: indexes sidecar unreadable, ignoring")
		}
	}
	return l, nil
}

func loadMain(path string) (*Layout, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "layout: read")
	}

	var disk diskLayout
	if err := yaml.Unmarshal(raw, &disk); err != nil {
		logrus.WithFields(logrus.Fields{"path": path, "error": err}).Warn("layout: corrupt layout file, rebuilding empty")
		_ = os.Remove(path)
		return New(), nil
	}

	l := fromDisk(&disk)
	if l.Version < CurrentVersion {
		upgrade(l)
	}
	return l, nil
}

func loadIndexesSidecar(l *Layout, path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var sidecar map[string]map[string][]string
	if err := yaml.Unmarshal(raw, &sidecar); err != nil {
		return err
	}
	l.SecondaryIndexes = make(map[string]map[string]map[uuid.UUID]struct{}, len(sidecar))
	for name, buckets := range sidecar {
		l.SecondaryIndexes[name] = decodeBuckets(buckets)
	}
	return nil
}

// Save atomically persists the layout to path, and the secondary-index
// materialization to indexesPath if non-empty.
func (l *Layout) Save(path, indexesPath string) error {
	disk := toDisk(l)
	out, err := yaml.Marshal(disk)
	if err != nil {
		return errors.Wrap(err, "layout: marshal")
	}
	if err := atomic.WriteFile(path, bytes.NewReader(out)); err != nil {
		return errors.Wrap(err, "layout: atomic write")
	}

	if indexesPath == "" {
		return nil
	}
	sidecar := make(map[string]map[string][]string, len(l.SecondaryIndexes))
	for name, buckets := range l.SecondaryIndexes {
		sidecar[name] = encodeBuckets(buckets)
	}
	sideOut, err := yaml.Marshal(sidecar)
	if err != nil {
		return errors.Wrap(err, "layout: marshal indexes sidecar")
	}
	return errors.Wrap(atomic.WriteFile(indexesPath, bytes.NewReader(sideOut)), "layout: atomic write indexes sidecar")
}

// Rebuild scans store in page order and reconstructs indexMap and
// nextPageIndex. Secondary indexes are left for the collection to rebuild
// from its index definitions.
func Rebuild(store *page.Store) (*Layout, error) {
	l := New()
	total, _, _, err := store.Stats()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < total; i++ {
		payload, err := store.Read(i)
		if err != nil || payload == nil {
			continue
		}
		doc, err := document.Decode(payload)
		if err != nil {
			continue
		}
		id := doc.Get(document.FieldID)
		if id.Kind != document.KindID {
			continue
		}
		l.IndexMap[id.ID] = i
		if i+1 > l.NextPageIndex {
			l.NextPageIndex = i + 1
		}
	}
	return l, nil
}

// upgrade raises the Version of a layout persisted by an older version to
// CurrentVersion. No structure is rewritten: a file whose index
// definitions are bare field names rather than lists does not unmarshal,
// and loadMain handles it as a corrupt file.
func upgrade(l *Layout) {
	l.Version = CurrentVersion
}

func fromDisk(d *diskLayout) *Layout {
	l := New()
	l.Version = d.Version
	l.NextPageIndex = d.NextPageIndex
	if d.SecondaryIndexDefinitions != nil {
		l.SecondaryIndexDefinitions = d.SecondaryIndexDefinitions
	}
	for idStr, pageIdx := range d.IndexMap {
		if id, err := uuid.Parse(idStr); err == nil {
			l.IndexMap[id] = pageIdx
		}
	}
	for name, buckets := range d.SecondaryIndexes {
		l.SecondaryIndexes[name] = decodeBuckets(buckets)
	}
	if len(d.MetaData) > 0 {
		l.MetaData = decodeMetaData(d.MetaData)
	}
	return l
}

func toDisk(l *Layout) *diskLayout {
	d := &diskLayout{
		Version:                   l.Version,
		IndexMap:                  make(map[string]uint64, len(l.IndexMap)),
		NextPageIndex:             l.NextPageIndex,
		SecondaryIndexDefinitions: l.SecondaryIndexDefinitions,
		SecondaryIndexes:          make(map[string]map[string][]string, len(l.SecondaryIndexes)),
	}
	for id, pageIdx := range l.IndexMap {
		d.IndexMap[id.String()] = pageIdx
	}
	for name, buckets := range l.SecondaryIndexes {
		d.SecondaryIndexes[name] = encodeBuckets(buckets)
	}
	if len(l.MetaData) > 0 {
		d.MetaData = make(map[string]yaml.Node, len(l.MetaData))
		for k, v := range l.MetaData {
			var node yaml.Node
			switch v.Kind {
			case document.KindText:
				_ = node.Encode(v.Text)
			case document.KindInt:
				_ = node.Encode(v.Int)
			default:
				continue
			}
			d.MetaData[k] = node
		}
	}
	return d
}

func decodeBuckets(buckets map[string][]string) map[string]map[uuid.UUID]struct{} {
	out := make(map[string]map[uuid.UUID]struct{}, len(buckets))
	for key, ids := range buckets {
		set := make(map[uuid.UUID]struct{}, len(ids))
		for _, idStr := range ids {
			if id, err := uuid.Parse(idStr); err == nil {
				set[id] = struct{}{}
			}
		}
		out[key] = set
	}
	return out
}

func encodeBuckets(buckets map[string]map[uuid.UUID]struct{}) map[string][]string {
	out := make(map[string][]string, len(buckets))
	for key, set := range buckets {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id.String())
		}
		out[key] = ids
	}
	return out
}

func decodeMetaData(nodes map[string]yaml.Node) document.Document {
	doc := document.New()
	for k, node := range nodes {
		var s string
		if err := node.Decode(&s); err == nil {
			doc[k] = document.Text(s)
			continue
		}
		var i int64
		if err := node.Decode(&i); err == nil {
			doc[k] = document.Int(i)
		}
	}
	return doc
}
