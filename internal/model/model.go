package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Asset is a base-asset dimension row keyed by name. MarketCapRank is
// maintained by an external process; the collector inserts names only and
// must never touch the rank.
type Asset struct {
	Name          string
	MarketCapRank *int
}

// Quote is a quote-currency dimension row keyed by name.
type Quote struct {
	Name string
}

// Section is an exchange/venue dimension row. SpecialFields is an opaque
// per-venue settings blob the collector stores but never interprets.
type Section struct {
	Name          string
	SpecialFields map[string]any
}

// Contract is one perpetual listing on one section. The
// (asset, section, quote) triple is unique; ID is a surrogate key so the
// funding hypertables stay stable when a contract is delisted and relisted.
type Contract struct {
	ID              uuid.UUID
	AssetName       string
	QuoteName       string
	SectionName     string
	FundingInterval int // hours between settlements
	Deprecated      bool
	Synced          bool // backfill reached the beginning of history
}

// Label returns the conventional "ASSET/QUOTE" display form.
func (c *Contract) Label() string {
	return c.AssetName + "/" + c.QuoteName
}

// HistoricalFundingPoint is one settled funding rate.
type HistoricalFundingPoint struct {
	ContractID  uuid.UUID
	Timestamp   time.Time
	FundingRate decimal.Decimal
}

// LiveFundingPoint is one sample of the currently-accruing rate.
type LiveFundingPoint struct {
	ContractID  uuid.UUID
	Timestamp   time.Time
	FundingRate decimal.Decimal
}
