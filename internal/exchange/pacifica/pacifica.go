// Package pacifica implements the Pacifica adapter. History pagination is
// cursor-based and newest-first, so both history methods are implemented
// directly rather than through the shared window pager.
package pacifica

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/fetch"
	"fundrate-collector/internal/model"
)

const (
	restBaseURL     = "https://api.pacifica.fi"
	infoEndpoint    = "/api/v1/info"
	fundingEndpoint = "/api/v1/funding_rate/history"
	pricesEndpoint  = "/api/v1/info/prices"

	fetchStep = 4000
	// maxRecords caps one walk regardless of what the cursor promises.
	maxRecords = 4000
)

// Adapter talks to Pacifica's public API. Funding settles hourly and every
// market quotes USD.
type Adapter struct {
	http *fetch.Client
}

// New creates the Pacifica adapter.
func New(client *fetch.Client) *Adapter {
	return &Adapter{http: client}
}

// ID returns the exchange identifier.
func (a *Adapter) ID() exchange.ID {
	return exchange.Pacifica
}

// FetchStep returns the widest window one walk may cover, in hours.
func (a *Adapter) FetchStep() int {
	return fetchStep
}

// FormatSymbol returns the bare asset name.
func (a *Adapter) FormatSymbol(c *model.Contract) string {
	return c.AssetName
}

// GetContracts lists the venue's markets.
func (a *Adapter) GetContracts(ctx context.Context) ([]exchange.ContractInfo, error) {
	var resp struct {
		Success bool `json:"success"`
		Data    []struct {
			Symbol string `json:"symbol"`
		} `json:"data"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+infoEndpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("pacifica info request unsuccessful")
	}

	infos := make([]exchange.ContractInfo, 0, len(resp.Data))
	for _, m := range resp.Data {
		infos = append(infos, exchange.ContractInfo{
			AssetName:       m.Symbol,
			Quote:           "USD",
			FundingInterval: 1,
			SectionName:     string(exchange.Pacifica),
		})
	}
	return infos, nil
}

// FetchHistoryBefore walks back from the newest record to the window
// ending at the cutoff.
func (a *Adapter) FetchHistoryBefore(ctx context.Context, c *model.Contract, before *time.Time) ([]exchange.FundingPoint, error) {
	end := time.Now().UTC()
	if before != nil {
		end = before.UTC()
	}
	start := end.Add(-fetchStep * time.Hour)
	return a.collectWindow(ctx, c, start, end)
}

// FetchHistoryAfter walks back from the newest record to the window
// starting at the cutoff.
func (a *Adapter) FetchHistoryAfter(ctx context.Context, c *model.Contract, after time.Time) ([]exchange.FundingPoint, error) {
	start := after.UTC()
	end := start.Add(fetchStep * time.Hour)
	return a.collectWindow(ctx, c, start, end)
}

// collectWindow pages newest-first and keeps points strictly inside
// (start, end). The walk stops when a record crosses the window start,
// the venue reports no further pages, or the record cap is reached.
func (a *Adapter) collectWindow(ctx context.Context, c *model.Contract, start, end time.Time) ([]exchange.FundingPoint, error) {
	var points []exchange.FundingPoint
	cursor := ""
	fetched := 0
	for {
		params := url.Values{"symbol": {a.FormatSymbol(c)}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var resp struct {
			Success bool `json:"success"`
			Data    []struct {
				Rate      string `json:"rate"`
				CreatedAt int64  `json:"created_at"`
			} `json:"data"`
			HasMore    bool   `json:"has_more"`
			NextCursor string `json:"next_cursor"`
		}
		if err := a.http.GetJSON(ctx, restBaseURL+fundingEndpoint, params, &resp); err != nil {
			return nil, fmt.Errorf("fetch funding history for %s: %w", c.Label(), err)
		}
		if !resp.Success {
			return nil, fmt.Errorf("pacifica history request unsuccessful for %s", c.Label())
		}

		crossed := false
		for _, r := range resp.Data {
			fetched++
			ts := time.UnixMilli(r.CreatedAt).UTC()
			if !ts.Before(end) {
				continue
			}
			if !ts.After(start) {
				crossed = true
				break
			}
			rate, err := decimal.NewFromString(r.Rate)
			if err != nil {
				return nil, fmt.Errorf("parse funding rate %q: %w", r.Rate, err)
			}
			points = append(points, exchange.FundingPoint{Timestamp: ts, Rate: rate})
		}

		if crossed || !resp.HasMore || resp.NextCursor == "" || fetched >= maxRecords {
			break
		}
		cursor = resp.NextCursor
	}
	return points, nil
}

// FetchLive projects the prices endpoint's funding field.
func (a *Adapter) FetchLive(ctx context.Context, contracts []*model.Contract) (map[uuid.UUID]exchange.FundingPoint, error) {
	var resp struct {
		Success bool `json:"success"`
		Data    []struct {
			Symbol    string `json:"symbol"`
			Funding   string `json:"funding"`
			Timestamp int64  `json:"timestamp"`
		} `json:"data"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+pricesEndpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("pacifica prices request unsuccessful")
	}

	type sample struct {
		rate decimal.Decimal
		ts   time.Time
	}
	bySymbol := make(map[string]sample, len(resp.Data))
	now := time.Now().UTC()
	for _, r := range resp.Data {
		rate, err := decimal.NewFromString(r.Funding)
		if err != nil {
			continue
		}
		ts := now
		if r.Timestamp > 0 {
			ts = time.UnixMilli(r.Timestamp).UTC()
		}
		bySymbol[r.Symbol] = sample{rate: rate, ts: ts}
	}

	out := make(map[uuid.UUID]exchange.FundingPoint, len(contracts))
	for _, c := range contracts {
		if s, ok := bySymbol[a.FormatSymbol(c)]; ok {
			out[c.ID] = exchange.FundingPoint{Timestamp: s.ts, Rate: s.rate}
		}
	}
	return out, nil
}
