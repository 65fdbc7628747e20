package registry

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/fetch"
)

func TestBuildRegistersEveryVenue(t *testing.T) {
	reg := Build(fetch.NewClient())

	want := []exchange.ID{
		exchange.Aster,
		exchange.Backpack,
		exchange.BinanceUSDM,
		exchange.BinanceCOINM,
		exchange.Bybit,
		exchange.Derive,
		exchange.DYDX,
		exchange.Extended,
		exchange.HyperLiquid,
		exchange.HyperLiquidXYZ,
		exchange.KuCoin,
		exchange.Lighter,
		exchange.OKX,
		exchange.Pacifica,
		exchange.Paradex,
	}
	require.Len(t, reg, len(want))
	for _, id := range want {
		adapter, ok := reg[id]
		require.True(t, ok, "missing adapter for %s", id)
		assert.Equal(t, id, adapter.ID())
		assert.Greater(t, adapter.FetchStep(), 0, "%s must page history in positive steps", id)
	}
}

func TestSortedIDsMatchesShardingOrder(t *testing.T) {
	reg := Build(fetch.NewClient())

	ids := SortedIDs(reg)
	require.Len(t, ids, len(reg))
	assert.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }))

	seen := make(map[exchange.ID]bool, len(ids))
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		assert.Contains(t, reg, id)
	}
}
