package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/model"
)

func newTestCoordinator(st *fakeStore, adapter *fakeAdapter, pub LivePublisher) (*Coordinator, *fakeSignaler) {
	signaler := &fakeSignaler{}
	return New(st, adapter, signaler, pub, zerolog.Nop(), zerolog.Nop()), signaler
}

func TestRegisterContractsReconcilesSection(t *testing.T) {
	st := newFakeStore()
	btc := st.addContract(model.Contract{
		AssetName: "BTC", QuoteName: "USDT", SectionName: "testex",
		FundingInterval: 8, Synced: true,
	})
	eth := st.addContract(model.Contract{
		AssetName: "ETH", QuoteName: "USDT", SectionName: "testex",
		FundingInterval: 8,
	})
	doge := st.addContract(model.Contract{
		AssetName: "DOGE", QuoteName: "USDT", SectionName: "testex",
		FundingInterval: 8, Deprecated: true,
	})

	adapter := &fakeAdapter{infos: []exchange.ContractInfo{
		{AssetName: "BTC", Quote: "USDT", FundingInterval: 4, SectionName: "testex"},
		{AssetName: "SOL", Quote: "USDT", FundingInterval: 1, SectionName: "testex"},
	}}
	coord, signaler := newTestCoordinator(st, adapter, nil)

	require.NoError(t, coord.RegisterContracts(context.Background()))

	// BTC survives under its original id with the refreshed interval; the
	// synced flag is not reset by re-registration.
	got := st.contracts[btc.ID]
	assert.Equal(t, 4, got.FundingInterval)
	assert.False(t, got.Deprecated)
	assert.True(t, got.Synced)

	assert.True(t, st.contracts[eth.ID].Deprecated, "listings missing from discovery are deprecated")
	assert.True(t, st.contracts[doge.ID].Deprecated, "already-deprecated rows stay put")

	var sol *model.Contract
	for _, c := range st.contracts {
		if c.AssetName == "SOL" {
			sol = c
		}
	}
	require.NotNil(t, sol, "new listings are inserted")
	assert.False(t, sol.Deprecated)
	assert.Equal(t, 1, sol.FundingInterval)

	assert.Equal(t, []string{"testex"}, st.sections)
	assert.Equal(t, []string{"BTC", "SOL"}, st.assets)
	assert.Equal(t, []string{"USDT"}, st.quotes)
	assert.Equal(t, 1, signaler.signals, "a committed registration nudges the view refresher")
}

func TestRegisterContractsEmptyDiscoveryLeavesRowsAlone(t *testing.T) {
	st := newFakeStore()
	st.addContract(model.Contract{AssetName: "BTC", QuoteName: "USDT", SectionName: "testex"})

	adapter := &fakeAdapter{infos: nil}
	coord, signaler := newTestCoordinator(st, adapter, nil)

	require.NoError(t, coord.RegisterContracts(context.Background()))
	assert.Zero(t, st.begun, "an empty discovery must not open a transaction")
	assert.Zero(t, signaler.signals)
	for _, c := range st.contracts {
		assert.False(t, c.Deprecated)
	}
}

func TestRegisterContractsPropagatesDiscoveryError(t *testing.T) {
	st := newFakeStore()
	adapter := &fakeAdapter{infosErr: errors.New("venue down")}
	coord, _ := newTestCoordinator(st, adapter, nil)

	err := coord.RegisterContracts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue down")
	assert.Zero(t, st.begun)
}

func TestDimensionRowsSortedUnique(t *testing.T) {
	infos := []exchange.ContractInfo{
		{AssetName: "ETH", Quote: "USDT"},
		{AssetName: "BTC", Quote: "USDC"},
		{AssetName: "ETH", Quote: "USDC"},
	}
	assets, quotes := dimensionRows(infos)

	require.Len(t, assets, 2)
	assert.Equal(t, "BTC", assets[0].Name)
	assert.Equal(t, "ETH", assets[1].Name)
	require.Len(t, quotes, 2)
	assert.Equal(t, "USDC", quotes[0].Name)
	assert.Equal(t, "USDT", quotes[1].Name)
}

func TestDiscoveryDiff(t *testing.T) {
	existing := []*model.Contract{
		{ID: uuid.New(), AssetName: "BTC", QuoteName: "USDT"},
		{ID: uuid.New(), AssetName: "ETH", QuoteName: "USDT"},
		{ID: uuid.New(), AssetName: "OLD", QuoteName: "USDT", Deprecated: true},
	}
	infos := []exchange.ContractInfo{
		{AssetName: "BTC", Quote: "USDT", FundingInterval: 8},
		{AssetName: "NEW", Quote: "USDT", FundingInterval: 1},
	}

	deprecate, upserts := discoveryDiff("testex", existing, infos)

	require.Len(t, deprecate, 1, "only active rows that vanished are deprecated")
	assert.Equal(t, existing[1].ID, deprecate[0])

	require.Len(t, upserts, 2)
	for _, u := range upserts {
		assert.Equal(t, "testex", u.SectionName)
		assert.False(t, u.Deprecated)
	}
}
