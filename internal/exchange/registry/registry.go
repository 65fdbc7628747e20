// Package registry assembles the process-wide adapter set.
package registry

import (
	"sort"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/exchange/aster"
	"fundrate-collector/internal/exchange/backpack"
	"fundrate-collector/internal/exchange/binance"
	"fundrate-collector/internal/exchange/bybit"
	"fundrate-collector/internal/exchange/derive"
	"fundrate-collector/internal/exchange/dydx"
	"fundrate-collector/internal/exchange/extended"
	"fundrate-collector/internal/exchange/hyperliquid"
	"fundrate-collector/internal/exchange/kucoin"
	"fundrate-collector/internal/exchange/lighter"
	"fundrate-collector/internal/exchange/okx"
	"fundrate-collector/internal/exchange/pacifica"
	"fundrate-collector/internal/exchange/paradex"
	"fundrate-collector/internal/fetch"
)

// Build constructs every adapter against the shared fetch client.
func Build(client *fetch.Client) map[exchange.ID]exchange.Adapter {
	adapters := []exchange.Adapter{
		aster.New(client),
		backpack.New(client),
		binance.NewUSDM(client),
		binance.NewCOINM(client),
		bybit.New(client),
		derive.New(client),
		dydx.New(client),
		extended.New(client),
		hyperliquid.New(client),
		hyperliquid.NewXYZ(client),
		kucoin.New(client),
		lighter.New(client),
		okx.New(client),
		pacifica.New(client),
		paradex.New(client),
	}

	m := make(map[exchange.ID]exchange.Adapter, len(adapters))
	for _, a := range adapters {
		m[a.ID()] = a
	}
	return m
}

// SortedIDs returns the registered ids in lexical order, the order
// instance sharding slices.
func SortedIDs(reg map[exchange.ID]exchange.Adapter) []exchange.ID {
	ids := make([]exchange.ID, 0, len(reg))
	for id := range reg {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
