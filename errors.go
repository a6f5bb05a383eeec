package blazedb

import (
	"github.com/pkg/errors"

	"github.com/blazedb/blazedb/collection"
	"github.com/blazedb/blazedb/dbkey"
	"github.com/blazedb/blazedb/page"
)

// Error taxonomy re-exported at the package callers actually import.
// ErrTooLarge/ErrInvalidHeader originate in page, ErrNotFound/
// ErrAlreadyExists in collection, ErrKeyMismatch/ErrWeakPassword in
// dbkey; the transaction-state errors are native to this package.
var (
	ErrNotFound              = collection.ErrNotFound
	ErrAlreadyExists         = collection.ErrAlreadyExists
	ErrTooLarge              = page.ErrTooLarge
	ErrInvalidHeader         = page.ErrInvalidHeader
	ErrKeyMismatch           = dbkey.ErrKeyMismatch
	ErrWeakPassword          = dbkey.ErrWeakPassword
	ErrTransactionInProgress = errors.New("blazedb: transaction already in progress")
	ErrNoTransaction         = errors.New("blazedb: no transaction in progress")
	ErrAlreadyFinalized      = errors.New("blazedb: transaction already finalized")
)
