package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"fundrate-collector/internal/model"
)

// AssetRepo manages the asset dimension. Inserts never touch
// market_cap_rank; that column belongs to an external process.
type AssetRepo struct {
	tx pgx.Tx
}

// InsertIgnore inserts missing assets by name.
func (r *AssetRepo) InsertIgnore(ctx context.Context, assets []model.Asset) error {
	if len(assets) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(assets))
	for _, a := range assets {
		rows = append(rows, []any{a.Name})
	}
	return bulkInsert(ctx, r.tx, "asset", []string{"name"}, rows, "ON CONFLICT DO NOTHING")
}

// QuoteRepo manages the quote dimension.
type QuoteRepo struct {
	tx pgx.Tx
}

// InsertIgnore inserts missing quotes by name.
func (r *QuoteRepo) InsertIgnore(ctx context.Context, quotes []model.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(quotes))
	for _, q := range quotes {
		rows = append(rows, []any{q.Name})
	}
	return bulkInsert(ctx, r.tx, "quote", []string{"name"}, rows, "ON CONFLICT DO NOTHING")
}

// SectionRepo manages the section dimension.
type SectionRepo struct {
	tx pgx.Tx
}

// InsertIgnore inserts missing sections. A nil settings blob becomes an
// empty object so the column default holds everywhere.
func (r *SectionRepo) InsertIgnore(ctx context.Context, sections []model.Section) error {
	if len(sections) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(sections))
	for _, s := range sections {
		fields := s.SpecialFields
		if fields == nil {
			fields = map[string]any{}
		}
		rows = append(rows, []any{s.Name, fields})
	}
	return bulkInsert(ctx, r.tx, "section", []string{"name", "special_fields"}, rows, "ON CONFLICT DO NOTHING")
}
