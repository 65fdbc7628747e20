package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/metrics"
	"fundrate-collector/internal/model"
)

// SyncContract walks the contract's settled history backwards until the
// venue runs out, inserting each page in its own transaction. The first
// empty page marks the contract synced. Returns the number of points
// written.
func (c *Coordinator) SyncContract(ctx context.Context, contract *model.Contract) (int, error) {
	total := 0
	for {
		oldest, err := c.oldestTimestamp(ctx, contract.ID)
		if err != nil {
			return total, err
		}
		var cutoff *time.Time
		if oldest != nil {
			t := oldest.Add(-time.Second)
			cutoff = &t
		}

		points, err := c.adapter.FetchHistoryBefore(ctx, contract, cutoff)
		if err != nil {
			return total, fmt.Errorf("fetch history before: %w", err)
		}
		if len(points) == 0 {
			if err := c.markSynced(ctx, contract.ID); err != nil {
				return total, err
			}
			contract.Synced = true
			c.log.Debug().
				Str("contract", contract.Label()).
				Int("points", total).
				Msg("Backfill complete")
			return total, nil
		}

		if err := c.insertHistorical(ctx, contract.ID, points); err != nil {
			return total, err
		}
		total += len(points)
		c.log.Debug().
			Str("contract", contract.Label()).
			Int("points", len(points)).
			Msg("Backfill page stored")
	}
}

// UpdateContract tops the contract up with whatever settled after the
// newest stored point. When less than one funding interval has elapsed
// since that point there is nothing new to settle and no upstream call
// is made. Returns the number of points written.
func (c *Coordinator) UpdateContract(ctx context.Context, contract *model.Contract) (int, error) {
	newest, err := c.newestTimestamp(ctx, contract.ID)
	if err != nil {
		return 0, err
	}
	if newest == nil {
		// No rows at all: the backfill path owns this contract.
		return 0, nil
	}
	interval := time.Duration(contract.FundingInterval) * time.Hour
	if time.Since(*newest) < interval {
		return 0, nil
	}

	points, err := c.adapter.FetchHistoryAfter(ctx, contract, newest.Add(time.Second))
	if err != nil {
		return 0, fmt.Errorf("fetch history after: %w", err)
	}
	if len(points) == 0 {
		return 0, nil
	}
	if err := c.insertHistorical(ctx, contract.ID, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

func (c *Coordinator) oldestTimestamp(ctx context.Context, contractID uuid.UUID) (*time.Time, error) {
	uow, err := c.storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Close(ctx)
	return uow.HistoricalFunding().GetOldestForContract(ctx, contractID)
}

func (c *Coordinator) newestTimestamp(ctx context.Context, contractID uuid.UUID) (*time.Time, error) {
	uow, err := c.storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Close(ctx)
	return uow.HistoricalFunding().GetNewestForContract(ctx, contractID)
}

// markSynced re-reads the contract inside the mutating transaction, then
// flips the flag. The row passed around by callers is stale by the
// short-transaction rule and is never written back directly.
func (c *Coordinator) markSynced(ctx context.Context, contractID uuid.UUID) error {
	uow, err := c.storage.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Close(ctx)

	row, err := uow.Contracts().Get(ctx, contractID)
	if err != nil {
		return err
	}
	row.Synced = true
	if err := uow.Contracts().Update(ctx, row); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

func (c *Coordinator) insertHistorical(ctx context.Context, contractID uuid.UUID, points []exchange.FundingPoint) error {
	rows := make([]model.HistoricalFundingPoint, 0, len(points))
	for _, p := range points {
		rows = append(rows, model.HistoricalFundingPoint{
			ContractID:  contractID,
			Timestamp:   p.Timestamp,
			FundingRate: p.Rate,
		})
	}

	uow, err := c.storage.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Close(ctx)
	if err := uow.HistoricalFunding().BulkInsertIgnore(ctx, rows); err != nil {
		return err
	}
	if err := uow.Commit(ctx); err != nil {
		return err
	}
	metrics.PointsInserted.WithLabelValues(string(c.adapter.ID()), "historical").Add(float64(len(rows)))
	return nil
}
