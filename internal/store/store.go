// Package store defines the persistence surface: a unit-of-work factory
// and the six repositories one transaction carries. The postgres
// subpackage provides the TimescaleDB implementation.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fundrate-collector/internal/model"
)

// Storage opens units of work against the backing database.
type Storage interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWork is one transaction plus the repositories bound to it. The
// expected shape at every call site:
//
//	uow, err := st.Begin(ctx)
//	if err != nil { ... }
//	defer uow.Close(ctx)
//	... repo calls ...
//	return uow.Commit(ctx)
//
// Close rolls back unless Commit already ran, and always releases the
// connection, cancellation notwithstanding.
type UnitOfWork interface {
	Assets() AssetWriter
	Quotes() QuoteWriter
	Sections() SectionWriter
	Contracts() ContractStore
	HistoricalFunding() HistoricalFundingStore
	LiveFunding() LiveFundingWriter

	Commit(ctx context.Context) error
	Close(ctx context.Context)
}

// AssetWriter manages the asset dimension. Inserts never touch
// market_cap_rank; that column belongs to an external process.
type AssetWriter interface {
	InsertIgnore(ctx context.Context, assets []model.Asset) error
}

// QuoteWriter manages the quote dimension.
type QuoteWriter interface {
	InsertIgnore(ctx context.Context, quotes []model.Quote) error
}

// SectionWriter manages the section dimension.
type SectionWriter interface {
	InsertIgnore(ctx context.Context, sections []model.Section) error
}

// ContractStore manages contract rows.
type ContractStore interface {
	// Get re-reads one contract by id. Mutations re-read inside their
	// own transaction because values loaded earlier are stale by the
	// short-transaction rule.
	Get(ctx context.Context, id uuid.UUID) (*model.Contract, error)

	// GetBySection returns every contract of a section, deprecated
	// included.
	GetBySection(ctx context.Context, sectionName string) ([]*model.Contract, error)

	// GetActiveBySection returns the section's non-deprecated contracts.
	GetActiveBySection(ctx context.Context, sectionName string) ([]*model.Contract, error)

	// UpsertMany inserts contracts, updating funding_interval and
	// deprecated on conflict with the (asset, section, quote) key.
	// Existing ids and the synced flag survive the upsert.
	UpsertMany(ctx context.Context, contracts []model.Contract) error

	// MarkDeprecated flags the given contracts as delisted.
	MarkDeprecated(ctx context.Context, ids []uuid.UUID) error

	// Update persists the mutable scalar fields by primary key.
	Update(ctx context.Context, c *model.Contract) error
}

// HistoricalFundingStore manages the settled-rate hypertable.
type HistoricalFundingStore interface {
	// BulkInsertIgnore appends settled points, silently skipping
	// (contract_id, timestamp) duplicates.
	BulkInsertIgnore(ctx context.Context, points []model.HistoricalFundingPoint) error

	// GetOldestForContract returns the earliest stored timestamp, or nil
	// when the contract has no rows yet.
	GetOldestForContract(ctx context.Context, contractID uuid.UUID) (*time.Time, error)

	// GetNewestForContract returns the latest stored timestamp, or nil
	// when the contract has no rows yet.
	GetNewestForContract(ctx context.Context, contractID uuid.UUID) (*time.Time, error)
}

// LiveFundingWriter manages the unsettled-rate hypertable.
type LiveFundingWriter interface {
	// BulkInsertIgnore appends live samples, silently skipping
	// (contract_id, timestamp) duplicates.
	BulkInsertIgnore(ctx context.Context, points []model.LiveFundingPoint) error
}
