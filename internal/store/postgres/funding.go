package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fundrate-collector/internal/model"
)

// HistoricalFundingRepo manages the settled-rate hypertable.
type HistoricalFundingRepo struct {
	tx pgx.Tx
}

// BulkInsertIgnore appends settled points, silently skipping
// (contract_id, timestamp) duplicates.
func (r *HistoricalFundingRepo) BulkInsertIgnore(ctx context.Context, points []model.HistoricalFundingPoint) error {
	if len(points) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(points))
	for _, p := range points {
		rows = append(rows, []any{p.ContractID, p.Timestamp, p.FundingRate})
	}
	columns := []string{"contract_id", "timestamp", "funding_rate"}
	return bulkInsert(ctx, r.tx, "funding_rate_record", columns, rows, "ON CONFLICT DO NOTHING")
}

// GetOldestForContract returns the earliest stored timestamp, or nil when
// the contract has no rows yet.
func (r *HistoricalFundingRepo) GetOldestForContract(ctx context.Context, contractID uuid.UUID) (*time.Time, error) {
	return r.boundaryTimestamp(ctx, contractID, "min")
}

// GetNewestForContract returns the latest stored timestamp, or nil when
// the contract has no rows yet.
func (r *HistoricalFundingRepo) GetNewestForContract(ctx context.Context, contractID uuid.UUID) (*time.Time, error) {
	return r.boundaryTimestamp(ctx, contractID, "max")
}

func (r *HistoricalFundingRepo) boundaryTimestamp(ctx context.Context, contractID uuid.UUID, fn string) (*time.Time, error) {
	var ts *time.Time
	err := r.tx.QueryRow(ctx,
		"SELECT "+fn+"(timestamp) FROM funding_rate_record WHERE contract_id = $1",
		contractID).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s timestamp for contract %s: %w", fn, contractID, err)
	}
	if ts == nil {
		return nil, nil
	}
	utc := ts.UTC()
	return &utc, nil
}

// LiveFundingRepo manages the unsettled-rate hypertable.
type LiveFundingRepo struct {
	tx pgx.Tx
}

// BulkInsertIgnore appends live samples, silently skipping
// (contract_id, timestamp) duplicates.
func (r *LiveFundingRepo) BulkInsertIgnore(ctx context.Context, points []model.LiveFundingPoint) error {
	if len(points) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(points))
	for _, p := range points {
		rows = append(rows, []any{p.ContractID, p.Timestamp, p.FundingRate})
	}
	columns := []string{"contract_id", "timestamp", "funding_rate"}
	return bulkInsert(ctx, r.tx, "unsettled_funding_rate_record", columns, rows, "ON CONFLICT DO NOTHING")
}
