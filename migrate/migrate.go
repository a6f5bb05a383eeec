// Package migrate implements the schema migrator invoked by the root
// database client under the safe-write harness.
package migrate

import (
	"github.com/pkg/errors"

	"github.com/blazedb/blazedb/layout"
)

// ErrDowngrade is returned when target is older than the layout's current
// version; BlazeDB does not support downgrading a layout in place.
var ErrDowngrade = errors.New("migrate: cannot downgrade layout version")

// UpgradeLayout brings lay up to target by raising its Version one step
// at a time. No step rewrites any structure of the layout.
func UpgradeLayout(lay *layout.Layout, target int) error {
	if target < lay.Version {
		return ErrDowngrade
	}
	for lay.Version < target {
		lay.Version++
	}
	return nil
}
