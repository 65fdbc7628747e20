// Package orchestrator owns one exchange's full collection cycle: it
// registers contracts, then fans backfill and top-up out across them,
// keeping one contract's failure away from the rest.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/metrics"
	"fundrate-collector/internal/model"
	"fundrate-collector/internal/store"
)

const (
	// contractConcurrency caps the per-exchange contract fan-out.
	contractConcurrency = 10

	// A fresh backfill may page through years of history; a top-up does
	// at most one upstream call.
	syncTimeout   = 10 * time.Minute
	updateTimeout = time.Minute
)

// coordinator is the slice of the contract coordinator the orchestrator
// drives.
type coordinator interface {
	RegisterContracts(ctx context.Context) error
	SyncContract(ctx context.Context, contract *model.Contract) (int, error)
	UpdateContract(ctx context.Context, contract *model.Contract) (int, error)
	CollectLive(ctx context.Context) (int, error)
}

// CycleStats summarizes one collection cycle.
type CycleStats struct {
	Contracts int
	Synced    int
	Updated   int
	Failed    int
	Points    int
	Elapsed   time.Duration
}

// Orchestrator runs the collection cycle for a single exchange.
type Orchestrator struct {
	id      exchange.ID
	storage store.Storage
	coord   coordinator
	log     zerolog.Logger
	liveLog zerolog.Logger
}

// New builds the orchestrator for one exchange.
func New(id exchange.ID, storage store.Storage, coord coordinator, log, liveLog zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		id:      id,
		storage: storage,
		coord:   coord,
		log:     log,
		liveLog: liveLog,
	}
}

// Update runs one full cycle: registration, then per-contract backfill
// or top-up under the fan-out cap. Every failure is logged and contained;
// the cycle always runs to completion of the remaining contracts.
func (o *Orchestrator) Update(ctx context.Context) CycleStats {
	started := time.Now()

	if err := o.coord.RegisterContracts(ctx); err != nil {
		metrics.CycleErrors.WithLabelValues(string(o.id)).Inc()
		o.log.Error().Err(err).Msg("Contract registration failed; continuing with stored contracts")
	}

	contracts, err := o.allContracts(ctx)
	if err != nil {
		metrics.CycleErrors.WithLabelValues(string(o.id)).Inc()
		o.log.Error().Err(err).Msg("Could not read contracts; skipping cycle")
		return CycleStats{Elapsed: time.Since(started)}
	}
	if len(contracts) == 0 {
		o.log.Info().Msg("No contracts registered; nothing to collect")
		return CycleStats{Elapsed: time.Since(started)}
	}

	stats := CycleStats{Contracts: len(contracts)}
	sem := semaphore.NewWeighted(contractConcurrency)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, contract := range contracts {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(contract *model.Contract) {
			defer wg.Done()
			defer sem.Release(1)

			if !contract.Synced {
				cctx, cancel := context.WithTimeout(ctx, syncTimeout)
				n, err := o.coord.SyncContract(cctx, contract)
				cancel()

				mu.Lock()
				stats.Points += n
				if err != nil {
					stats.Failed++
				} else {
					stats.Synced++
				}
				mu.Unlock()
				if err != nil {
					metrics.ContractFailures.WithLabelValues(string(o.id), "sync").Inc()
					o.log.Warn().Err(err).Str("contract", contract.Label()).Msg("Backfill failed")
				}
				return
			}

			cctx, cancel := context.WithTimeout(ctx, updateTimeout)
			n, err := o.coord.UpdateContract(cctx, contract)
			cancel()

			mu.Lock()
			stats.Points += n
			if err != nil {
				stats.Failed++
			} else {
				stats.Updated++
			}
			mu.Unlock()
			if err != nil {
				metrics.ContractFailures.WithLabelValues(string(o.id), "update").Inc()
				o.log.Warn().Err(err).Str("contract", contract.Label()).Msg("Update failed")
			}
		}(contract)
	}
	wg.Wait()

	stats.Elapsed = time.Since(started)
	metrics.CycleDuration.WithLabelValues(string(o.id)).Observe(stats.Elapsed.Seconds())
	o.log.Info().
		Int("contracts", stats.Contracts).
		Int("synced", stats.Synced).
		Int("updated", stats.Updated).
		Int("failed", stats.Failed).
		Int("points", stats.Points).
		Dur("elapsed", stats.Elapsed).
		Msg("Cycle finished")
	return stats
}

// UpdateLive runs one live-rate collection pass. Returns the number of
// samples stored.
func (o *Orchestrator) UpdateLive(ctx context.Context) int {
	timer := metrics.NewTimer()
	rows, err := o.coord.CollectLive(ctx)
	timer.ObserveDuration(metrics.LiveCollectDuration, string(o.id))
	if err != nil {
		o.liveLog.Error().Err(err).Msg("Live collection failed")
		return 0
	}
	return rows
}

// allContracts reads the whole section, deprecated contracts included;
// a delisted contract may still owe its final settled points.
func (o *Orchestrator) allContracts(ctx context.Context) ([]*model.Contract, error) {
	uow, err := o.storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Close(ctx)
	return uow.Contracts().GetBySection(ctx, string(o.id))
}
