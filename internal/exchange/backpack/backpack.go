// Package backpack implements the Backpack adapter. Funding history is
// offset-paginated newest-first, so both history methods translate their
// cutoff into an offset counted backward from now in funding-interval
// units, then filter the page to the strict side of the cutoff.
package backpack

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/fetch"
	"fundrate-collector/internal/model"
)

const (
	restBaseURL        = "https://api.backpack.exchange"
	marketsEndpoint    = "/api/v1/markets"
	fundingEndpoint    = "/api/v1/fundingRates"
	markPricesEndpoint = "/api/v1/markPrices"

	fetchStep       = 1000
	maxPageLimit    = 1000
	liveConcurrency = 10
)

// Adapter talks to Backpack's public API.
type Adapter struct {
	http *fetch.Client
}

// New creates the Backpack adapter.
func New(client *fetch.Client) *Adapter {
	return &Adapter{http: client}
}

// ID returns the exchange identifier.
func (a *Adapter) ID() exchange.ID {
	return exchange.Backpack
}

// FetchStep returns the widest window one page may cover, in hours.
func (a *Adapter) FetchStep() int {
	return fetchStep
}

// FormatSymbol builds the venue symbol ASSET_QUOTE_PERP.
func (a *Adapter) FormatSymbol(c *model.Contract) string {
	return c.AssetName + "_" + c.QuoteName + "_PERP"
}

// GetContracts lists PERP markets; the funding interval is published in
// milliseconds on each market record.
func (a *Adapter) GetContracts(ctx context.Context) ([]exchange.ContractInfo, error) {
	var markets []struct {
		Symbol          string `json:"symbol"`
		MarketType      string `json:"marketType"`
		BaseSymbol      string `json:"baseSymbol"`
		QuoteSymbol     string `json:"quoteSymbol"`
		FundingInterval int64  `json:"fundingInterval"` // ms
	}
	if err := a.http.GetJSON(ctx, restBaseURL+marketsEndpoint, nil, &markets); err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}

	infos := make([]exchange.ContractInfo, 0, len(markets))
	for _, m := range markets {
		if m.MarketType != "PERP" {
			continue
		}
		interval := int(m.FundingInterval / int64(time.Hour/time.Millisecond))
		if interval < 1 {
			interval = 1
		}
		infos = append(infos, exchange.ContractInfo{
			AssetName:       m.BaseSymbol,
			Quote:           m.QuoteSymbol,
			FundingInterval: interval,
			SectionName:     string(exchange.Backpack),
		})
	}
	return infos, nil
}

// FetchHistoryBefore pages to the records older than the cutoff.
func (a *Adapter) FetchHistoryBefore(ctx context.Context, c *model.Contract, before *time.Time) ([]exchange.FundingPoint, error) {
	end := time.Now().UTC()
	if before != nil {
		end = before.UTC()
	}
	page, err := a.fetchPage(ctx, c, end)
	if err != nil {
		return nil, err
	}

	var points []exchange.FundingPoint
	for _, p := range page {
		if p.Timestamp.Before(end) {
			points = append(points, p)
		}
	}
	return points, nil
}

// FetchHistoryAfter pages to the window starting at the cutoff.
func (a *Adapter) FetchHistoryAfter(ctx context.Context, c *model.Contract, after time.Time) ([]exchange.FundingPoint, error) {
	end := after.UTC().Add(fetchStep * time.Hour)
	page, err := a.fetchPage(ctx, c, end)
	if err != nil {
		return nil, err
	}

	var points []exchange.FundingPoint
	for _, p := range page {
		if p.Timestamp.After(after) {
			points = append(points, p)
		}
	}
	return points, nil
}

// fetchPage requests one page whose newest record sits at or below end.
// The offset skips the records settled after end, counted in interval
// units from now.
func (a *Adapter) fetchPage(ctx context.Context, c *model.Contract, end time.Time) ([]exchange.FundingPoint, error) {
	intervalHours := c.FundingInterval
	if intervalHours < 1 {
		intervalHours = 1
	}
	interval := time.Duration(intervalHours) * time.Hour

	offset := 0
	if ahead := time.Now().UTC().Sub(end); ahead > 0 {
		offset = int(ahead / interval)
	}
	limit := fetchStep / intervalHours
	if limit < 1 {
		limit = 1
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	params := url.Values{
		"symbol": {a.FormatSymbol(c)},
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	var records []struct {
		IntervalEndTimestamp string `json:"intervalEndTimestamp"`
		FundingRate          string `json:"fundingRate"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+fundingEndpoint, params, &records); err != nil {
		return nil, fmt.Errorf("fetch funding history for %s: %w", c.Label(), err)
	}

	points := make([]exchange.FundingPoint, 0, len(records))
	for _, r := range records {
		ts, err := parseTimestamp(r.IntervalEndTimestamp)
		if err != nil {
			return nil, fmt.Errorf("parse interval end %q: %w", r.IntervalEndTimestamp, err)
		}
		rate, err := decimal.NewFromString(r.FundingRate)
		if err != nil {
			return nil, fmt.Errorf("parse funding rate %q: %w", r.FundingRate, err)
		}
		points = append(points, exchange.FundingPoint{Timestamp: ts, Rate: rate})
	}
	return points, nil
}

// parseTimestamp handles the venue's zone-less ISO timestamps, which are
// UTC by contract.
func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// FetchLive fans out one markPrices call per contract under a bounded
// semaphore, dropping contracts whose call fails.
func (a *Adapter) FetchLive(ctx context.Context, contracts []*model.Contract) (map[uuid.UUID]exchange.FundingPoint, error) {
	sem := semaphore.NewWeighted(liveConcurrency)
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[uuid.UUID]exchange.FundingPoint, len(contracts))
	)

	for _, c := range contracts {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(c *model.Contract) {
			defer wg.Done()
			defer sem.Release(1)

			point, err := a.fetchLiveOne(ctx, c)
			if err != nil {
				return
			}
			mu.Lock()
			out[c.ID] = point
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return out, nil
}

func (a *Adapter) fetchLiveOne(ctx context.Context, c *model.Contract) (exchange.FundingPoint, error) {
	params := url.Values{"symbol": {a.FormatSymbol(c)}}
	var records []struct {
		FundingRate string `json:"fundingRate"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+markPricesEndpoint, params, &records); err != nil {
		return exchange.FundingPoint{}, err
	}
	if len(records) == 0 {
		return exchange.FundingPoint{}, fmt.Errorf("no mark price for %s", c.Label())
	}
	rate, err := decimal.NewFromString(records[0].FundingRate)
	if err != nil {
		return exchange.FundingPoint{}, err
	}
	return exchange.FundingPoint{Timestamp: time.Now().UTC(), Rate: rate}, nil
}
