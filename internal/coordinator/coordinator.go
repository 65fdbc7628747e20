// Package coordinator holds the domain logic between exchange adapters
// and storage. Transactions are short; none spans an upstream HTTP call.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/metrics"
	"fundrate-collector/internal/model"
	"fundrate-collector/internal/publisher"
	"fundrate-collector/internal/store"
)

// Signaler receives a nudge after a contract registration commits.
type Signaler interface {
	Signal()
}

// LivePublisher fans freshly collected live rates out to subscribers.
// Failures are logged by the caller, never fatal.
type LivePublisher interface {
	PublishLiveRates(ctx context.Context, exchangeID string, rates []publisher.LiveRate) error
}

// Coordinator drives one exchange: contract registration, historical
// backfill and top-up, and live-rate collection.
type Coordinator struct {
	storage   store.Storage
	adapter   exchange.Adapter
	refresher Signaler
	publisher LivePublisher // nil when the fan-out is disabled

	// The breaker guards the live path only. History collection keeps
	// retrying a down venue because gaps there are permanent.
	breaker *gobreaker.CircuitBreaker

	log     zerolog.Logger
	liveLog zerolog.Logger
}

// New builds a coordinator for one adapter. pub may be nil.
func New(storage store.Storage, adapter exchange.Adapter, refresher Signaler, pub LivePublisher, log, liveLog zerolog.Logger) *Coordinator {
	id := string(adapter.ID())
	settings := gobreaker.Settings{
		Name:    id + "-live",
		Timeout: 2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			liveLog.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Live breaker state changed")
			metrics.RecordBreakerState(id, to)
		},
	}

	return &Coordinator{
		storage:   storage,
		adapter:   adapter,
		refresher: refresher,
		publisher: pub,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		log:       log,
		liveLog:   liveLog,
	}
}

// RegisterContracts discovers the venue's active listings and reconciles
// the contract table in one transaction: dimensions are insert-ignored,
// contracts missing from the fresh list are deprecated, and the fresh
// list is upserted active. An empty discovery leaves the DB untouched.
func (c *Coordinator) RegisterContracts(ctx context.Context) error {
	section := string(c.adapter.ID())

	infos, err := c.adapter.GetContracts(ctx)
	if err != nil {
		return fmt.Errorf("get contracts: %w", err)
	}
	if len(infos) == 0 {
		c.log.Warn().Msg("Contract discovery returned nothing; keeping current rows")
		return nil
	}

	uow, err := c.storage.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Close(ctx)

	if err := uow.Sections().InsertIgnore(ctx, []model.Section{{Name: section}}); err != nil {
		return err
	}
	assets, quotes := dimensionRows(infos)
	if err := uow.Quotes().InsertIgnore(ctx, quotes); err != nil {
		return err
	}
	if err := uow.Assets().InsertIgnore(ctx, assets); err != nil {
		return err
	}

	existing, err := uow.Contracts().GetBySection(ctx, section)
	if err != nil {
		return err
	}
	deprecate, upserts := discoveryDiff(section, existing, infos)

	if err := uow.Contracts().MarkDeprecated(ctx, deprecate); err != nil {
		return err
	}
	if err := uow.Contracts().UpsertMany(ctx, upserts); err != nil {
		return err
	}
	if err := uow.Commit(ctx); err != nil {
		return err
	}

	c.refresher.Signal()
	metrics.ContractsActive.WithLabelValues(section).Set(float64(len(upserts)))
	metrics.ContractsDeprecated.WithLabelValues(section).Add(float64(len(deprecate)))
	c.log.Info().
		Int("discovered", len(upserts)).
		Int("deprecated", len(deprecate)).
		Msg("Registered contracts")
	return nil
}

// dimensionRows extracts the unique asset and quote names from a
// discovery, sorted so the insert order is stable.
func dimensionRows(infos []exchange.ContractInfo) ([]model.Asset, []model.Quote) {
	assetSet := make(map[string]struct{})
	quoteSet := make(map[string]struct{})
	for _, info := range infos {
		assetSet[info.AssetName] = struct{}{}
		quoteSet[info.Quote] = struct{}{}
	}

	assets := make([]model.Asset, 0, len(assetSet))
	for name := range assetSet {
		assets = append(assets, model.Asset{Name: name})
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Name < assets[j].Name })

	quotes := make([]model.Quote, 0, len(quoteSet))
	for name := range quoteSet {
		quotes = append(quotes, model.Quote{Name: name})
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Name < quotes[j].Name })

	return assets, quotes
}

// discoveryDiff computes the registration delta for one section: the ids
// of active rows whose (asset, quote) key vanished from the fresh list,
// and the upsert rows for everything the venue currently quotes.
func discoveryDiff(section string, existing []*model.Contract, infos []exchange.ContractInfo) ([]uuid.UUID, []model.Contract) {
	freshKeys := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		freshKeys[info.AssetName+"/"+info.Quote] = struct{}{}
	}

	var deprecate []uuid.UUID
	for _, row := range existing {
		if row.Deprecated {
			continue
		}
		if _, ok := freshKeys[row.AssetName+"/"+row.QuoteName]; !ok {
			deprecate = append(deprecate, row.ID)
		}
	}

	upserts := make([]model.Contract, 0, len(infos))
	for _, info := range infos {
		upserts = append(upserts, model.Contract{
			AssetName:       info.AssetName,
			QuoteName:       info.Quote,
			SectionName:     section,
			FundingInterval: info.FundingInterval,
			Deprecated:      false,
		})
	}
	return deprecate, upserts
}
