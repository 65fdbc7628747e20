package exchange

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundrate-collector/internal/model"
)

// ID identifies a supported exchange. Section rows are keyed by these
// values, so they are part of the storage contract and must not change.
type ID string

const (
	Aster          ID = "aster"
	Backpack       ID = "backpack"
	BinanceUSDM    ID = "binance_usd-m"
	BinanceCOINM   ID = "binance_coin-m"
	Bybit          ID = "bybit"
	Derive         ID = "derive"
	DYDX           ID = "dydx"
	Extended       ID = "extended"
	HyperLiquid    ID = "hyperliquid"
	HyperLiquidXYZ ID = "hyperliquid-xyz"
	KuCoin         ID = "kucoin"
	Lighter        ID = "lighter"
	OKX            ID = "okx"
	Pacifica       ID = "pacifica"
	Paradex        ID = "paradex"
)

// ContractInfo describes one active perpetual listing as discovered on the
// venue.
type ContractInfo struct {
	AssetName       string
	Quote           string
	FundingInterval int // hours
	SectionName     string
}

// FundingPoint is one funding observation, settled or live depending on
// which call produced it.
type FundingPoint struct {
	Timestamp time.Time
	Rate      decimal.Decimal
}

// Adapter is the uniform surface every venue implements.
//
// History pagination is strictly sided: every point from
// FetchHistoryBefore(c, t) has Timestamp < t and every point from
// FetchHistoryAfter(c, t) has Timestamp > t. Adapters return raw pages
// without deduplicating or sorting; callers walk by shifting the cutoff
// and recompute min/max themselves.
type Adapter interface {
	// ID returns the exchange identifier, also used as the section name.
	ID() ID

	// FetchStep returns the widest history window, in hours, a single
	// upstream call may cover.
	FetchStep() int

	// FormatSymbol derives the venue-native symbol for a contract.
	FormatSymbol(c *model.Contract) string

	// GetContracts returns every active perpetual listing.
	GetContracts(ctx context.Context) ([]ContractInfo, error)

	// FetchHistoryBefore returns at most one step of settled points older
	// than the cutoff. A nil cutoff means "now".
	FetchHistoryBefore(ctx context.Context, c *model.Contract, before *time.Time) ([]FundingPoint, error)

	// FetchHistoryAfter returns at most one step of settled points newer
	// than the cutoff.
	FetchHistoryAfter(ctx context.Context, c *model.Contract, after time.Time) ([]FundingPoint, error)

	// FetchLive returns the currently-accruing rate for the given
	// contracts, keyed by contract ID. Contracts the venue no longer
	// quotes are absent from the result.
	FetchLive(ctx context.Context, contracts []*model.Contract) (map[uuid.UUID]FundingPoint, error)
}

// WindowFetch is a venue's raw time-window history call. The window is
// half-managed by HistoryPager; implementations only translate it into the
// venue's request shape.
type WindowFetch func(ctx context.Context, c *model.Contract, startMS, endMS int64) ([]FundingPoint, error)

// HistoryPager provides the default FetchHistoryBefore/After for venues
// whose history endpoint accepts an explicit [start, end] range. The
// cutoff becomes one edge of the window and the other edge sits one step
// away. Venues with offset or cursor pagination implement the two methods
// themselves instead of embedding this.
type HistoryPager struct {
	Step  int // hours per window
	Fetch WindowFetch
}

// FetchStep returns the window width in hours.
func (p *HistoryPager) FetchStep() int {
	return p.Step
}

// FetchHistoryBefore fetches the window ending at the cutoff (or now).
func (p *HistoryPager) FetchHistoryBefore(ctx context.Context, c *model.Contract, before *time.Time) ([]FundingPoint, error) {
	end := time.Now().UTC()
	if before != nil {
		end = before.UTC()
	}
	start := end.Add(-time.Duration(p.Step) * time.Hour)
	return p.Fetch(ctx, c, start.UnixMilli(), end.UnixMilli())
}

// FetchHistoryAfter fetches the window starting at the cutoff.
func (p *HistoryPager) FetchHistoryAfter(ctx context.Context, c *model.Contract, after time.Time) ([]FundingPoint, error) {
	start := after.UTC()
	end := start.Add(time.Duration(p.Step) * time.Hour)
	return p.Fetch(ctx, c, start.UnixMilli(), end.UnixMilli())
}
