package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/metrics"
	"fundrate-collector/internal/model"
	"fundrate-collector/internal/publisher"
)

// CollectLive samples the currently-accruing rate for every active
// contract and appends the samples to the unsettled hypertable. Returns
// the number of rows written.
func (c *Coordinator) CollectLive(ctx context.Context) (int, error) {
	contracts, err := c.activeContracts(ctx)
	if err != nil {
		return 0, err
	}
	if len(contracts) == 0 {
		c.liveLog.Debug().Msg("No active contracts to sample")
		return 0, nil
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.adapter.FetchLive(ctx, contracts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.liveLog.Warn().Msg("Live collection short-circuited; breaker open")
			return 0, nil
		}
		return 0, fmt.Errorf("fetch live rates: %w", err)
	}
	rates := result.(map[uuid.UUID]exchange.FundingPoint)
	if len(rates) == 0 {
		c.liveLog.Warn().Int("contracts", len(contracts)).Msg("Live fetch returned no rates")
		return 0, nil
	}

	rows := make([]model.LiveFundingPoint, 0, len(rates))
	for id, point := range rates {
		rows = append(rows, model.LiveFundingPoint{
			ContractID:  id,
			Timestamp:   point.Timestamp,
			FundingRate: point.Rate,
		})
	}
	if err := c.insertLive(ctx, rows); err != nil {
		return 0, err
	}

	c.publishLive(ctx, contracts, rates)
	c.liveLog.Debug().Int("rates", len(rows)).Msg("Live rates stored")
	return len(rows), nil
}

func (c *Coordinator) activeContracts(ctx context.Context) ([]*model.Contract, error) {
	uow, err := c.storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Close(ctx)
	return uow.Contracts().GetActiveBySection(ctx, string(c.adapter.ID()))
}

func (c *Coordinator) insertLive(ctx context.Context, rows []model.LiveFundingPoint) error {
	uow, err := c.storage.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Close(ctx)
	if err := uow.LiveFunding().BulkInsertIgnore(ctx, rows); err != nil {
		return err
	}
	if err := uow.Commit(ctx); err != nil {
		return err
	}
	metrics.PointsInserted.WithLabelValues(string(c.adapter.ID()), "live").Add(float64(len(rows)))
	return nil
}

// publishLive fans the fresh samples out over Redis when configured.
// Best-effort: a failed publish is logged and the cycle continues.
func (c *Coordinator) publishLive(ctx context.Context, contracts []*model.Contract, rates map[uuid.UUID]exchange.FundingPoint) {
	if c.publisher == nil {
		return
	}

	byID := make(map[uuid.UUID]*model.Contract, len(contracts))
	for _, contract := range contracts {
		byID[contract.ID] = contract
	}

	msgs := make([]publisher.LiveRate, 0, len(rates))
	for id, point := range rates {
		contract, ok := byID[id]
		if !ok {
			continue
		}
		msgs = append(msgs, publisher.LiveRate{
			ContractID:  id,
			Asset:       contract.AssetName,
			Quote:       contract.QuoteName,
			FundingRate: point.Rate,
			Timestamp:   point.Timestamp,
		})
	}

	exchangeID := string(c.adapter.ID())
	if err := c.publisher.PublishLiveRates(ctx, exchangeID, msgs); err != nil {
		c.liveLog.Warn().Err(err).Msg("Live rate publish failed")
	}
}
