package migrate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blazedb/blazedb/layout"
)

func TestUpgradeLayoutBumpsVersion(t *testing.T) {
	lay := layout.New()
	lay.Version = 1
	require.NoError(t, UpgradeLayout(lay, 3))
	require.Equal(t, 3, lay.Version)
}

func TestUpgradeLayoutRejectsDowngrade(t *testing.T) {
	lay := layout.New()
	lay.Version = 5
	err := UpgradeLayout(lay, 2)
	require.ErrorIs(t, err, ErrDowngrade)
}

func TestUpgradeLayoutNoOpAtCurrentVersion(t *testing.T) {
	lay := layout.New()
	require.NoError(t, UpgradeLayout(lay, lay.Version))
	require.Equal(t, layout.CurrentVersion, lay.Version)
}
