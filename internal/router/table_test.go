package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokermesh/oms/pkg/types"
)

func TestTableFirstVenueBecomesPreferred(t *testing.T) {
	table := NewTable()
	table.ObserveVenue("a", []types.AssetClass{types.AssetStock}, false)

	preferred, ok := table.Preferred(types.AssetStock)
	require.True(t, ok)
	assert.Equal(t, "a", preferred)

	_, ok = table.Fallback(types.AssetStock)
	assert.False(t, ok)
}

func TestTableSecondVenueBecomesFallback(t *testing.T) {
	table := NewTable()
	table.ObserveVenue("a", []types.AssetClass{types.AssetStock}, false)
	table.ObserveVenue("b", []types.AssetClass{types.AssetStock}, false)

	preferred, _ := table.Preferred(types.AssetStock)
	fallback, ok := table.Fallback(types.AssetStock)
	require.True(t, ok)
	assert.Equal(t, "a", preferred)
	assert.Equal(t, "b", fallback)
}

func TestTablePrimaryDisplacesPreferred(t *testing.T) {
	table := NewTable()
	table.ObserveVenue("a", []types.AssetClass{types.AssetStock}, false)
	table.ObserveVenue("b", []types.AssetClass{types.AssetStock}, true)

	preferred, _ := table.Preferred(types.AssetStock)
	fallback, _ := table.Fallback(types.AssetStock)
	assert.Equal(t, "b", preferred)
	assert.Equal(t, "a", fallback, "displaced venue becomes the fallback")
}

func TestTableClassesAreIndependent(t *testing.T) {
	table := NewTable()
	table.ObserveVenue("a", []types.AssetClass{types.AssetStock}, false)
	table.ObserveVenue("b", []types.AssetClass{types.AssetCrypto}, false)

	stock, _ := table.Preferred(types.AssetStock)
	crypto, _ := table.Preferred(types.AssetCrypto)
	assert.Equal(t, "a", stock)
	assert.Equal(t, "b", crypto)

	_, ok := table.Preferred(types.AssetForex)
	assert.False(t, ok)
}

func TestTableSetPreference(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.SetPreference(types.AssetForex, "mt5", "backup"))

	preferred, _ := table.Preferred(types.AssetForex)
	fallback, _ := table.Fallback(types.AssetForex)
	assert.Equal(t, "mt5", preferred)
	assert.Equal(t, "backup", fallback)

	assert.Error(t, table.SetPreference("equities", "x", ""), "unknown class is rejected")
}

func TestTablePreferencesSnapshotOrder(t *testing.T) {
	table := NewTable()
	prefs := table.Preferences()
	require.Len(t, prefs, len(types.AllAssetClasses()))
	for i, class := range types.AllAssetClasses() {
		assert.Equal(t, class, prefs[i].AssetClass)
	}
}
