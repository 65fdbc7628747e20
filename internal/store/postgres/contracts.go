package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fundrate-collector/internal/model"
)

const contractColumns = "id, asset_name, quote_name, section_name, funding_interval, deprecated, synced"

// ContractRepo manages contract rows.
type ContractRepo struct {
	tx pgx.Tx
}

// Get re-reads one contract by id. Mutations re-read inside their own
// transaction because values loaded earlier are stale by the
// short-transaction rule.
func (r *ContractRepo) Get(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	row := r.tx.QueryRow(ctx,
		"SELECT "+contractColumns+" FROM contract WHERE id = $1", id)
	c, err := scanContract(row)
	if err != nil {
		return nil, fmt.Errorf("get contract %s: %w", id, err)
	}
	return c, nil
}

// GetBySection returns every contract of a section, deprecated included.
func (r *ContractRepo) GetBySection(ctx context.Context, sectionName string) ([]*model.Contract, error) {
	rows, err := r.tx.Query(ctx,
		"SELECT "+contractColumns+" FROM contract WHERE section_name = $1 ORDER BY asset_name, quote_name",
		sectionName)
	if err != nil {
		return nil, fmt.Errorf("get contracts for %s: %w", sectionName, err)
	}
	return collectContracts(rows)
}

// GetActiveBySection returns the section's non-deprecated contracts.
func (r *ContractRepo) GetActiveBySection(ctx context.Context, sectionName string) ([]*model.Contract, error) {
	rows, err := r.tx.Query(ctx,
		"SELECT "+contractColumns+" FROM contract WHERE section_name = $1 AND deprecated = false ORDER BY asset_name, quote_name",
		sectionName)
	if err != nil {
		return nil, fmt.Errorf("get active contracts for %s: %w", sectionName, err)
	}
	return collectContracts(rows)
}

// UpsertMany inserts contracts, updating funding_interval and deprecated
// on conflict with the (asset, section, quote) key. Existing ids and the
// synced flag survive the upsert.
func (r *ContractRepo) UpsertMany(ctx context.Context, contracts []model.Contract) error {
	if len(contracts) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(contracts))
	for _, c := range contracts {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		rows = append(rows, []any{id, c.AssetName, c.QuoteName, c.SectionName, c.FundingInterval, c.Deprecated, c.Synced})
	}
	clause := `ON CONFLICT (asset_name, section_name, quote_name) DO UPDATE SET
		funding_interval = EXCLUDED.funding_interval,
		deprecated = EXCLUDED.deprecated`
	columns := []string{"id", "asset_name", "quote_name", "section_name", "funding_interval", "deprecated", "synced"}
	return bulkInsert(ctx, r.tx, "contract", columns, rows, clause)
}

// MarkDeprecated flags the given contracts as delisted.
func (r *ContractRepo) MarkDeprecated(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.tx.Exec(ctx, "UPDATE contract SET deprecated = true WHERE id = ANY($1)", ids)
	if err != nil {
		return fmt.Errorf("mark contracts deprecated: %w", err)
	}
	return nil
}

// Update persists the mutable scalar fields by primary key.
func (r *ContractRepo) Update(ctx context.Context, c *model.Contract) error {
	_, err := r.tx.Exec(ctx,
		"UPDATE contract SET funding_interval = $2, deprecated = $3, synced = $4 WHERE id = $1",
		c.ID, c.FundingInterval, c.Deprecated, c.Synced)
	if err != nil {
		return fmt.Errorf("update contract %s: %w", c.ID, err)
	}
	return nil
}

func scanContract(row pgx.Row) (*model.Contract, error) {
	var c model.Contract
	err := row.Scan(&c.ID, &c.AssetName, &c.QuoteName, &c.SectionName, &c.FundingInterval, &c.Deprecated, &c.Synced)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectContracts(rows pgx.Rows) ([]*model.Contract, error) {
	defer rows.Close()
	var contracts []*model.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}
