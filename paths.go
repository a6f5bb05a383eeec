package blazedb

// Sibling file paths are derived from the page file path: spec.md names
// the layout and indexes files as siblings of the data file, and the
// journal package derives its own ".wal" suffix from the same base path.
func layoutPath(dataPath string) string { return dataPath + ".layout.yaml" }
func idxPath(dataPath string) string    { return dataPath + ".idx.yaml" }
func keytagPath(dataPath string) string { return dataPath + ".keytag" }

func dataBackupPath(dataPath string) string     { return dataPath + ".bak" }
func layoutBackupPath(dataPath string) string   { return layoutPath(dataPath) + ".bak" }
func txnDataPath(dataPath string) string        { return dataPath + ".txn_in_progress" }
func txnLayoutPath(dataPath string) string      { return layoutPath(dataPath) + ".txn_in_progress" }
func txnLogPath(dataPath string) string         { return dataPath + ".txn_log.json" }
