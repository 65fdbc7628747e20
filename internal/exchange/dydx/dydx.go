// Package dydx implements the dYdX v4 indexer adapter.
package dydx

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
	restBaseURL     = "https://indexer.dydx.trade"
	marketsEndpoint = "/v4/perpetualMarkets"
	fundingEndpoint = "/v4/historicalFunding"

	fetchStep = 1000
)

// Adapter talks to the dYdX v4 indexer. Funding settles hourly.
type Adapter struct {
	exchange.HistoryPager
	http *fetch.Client
}

// New creates the dYdX adapter.
func New(client *fetch.Client) *Adapter {
	a := &Adapter{http: client}
	a.HistoryPager = exchange.HistoryPager{Step: fetchStep, Fetch: a.fetchWindow}
	return a
}

// ID returns the exchange identifier.
func (a *Adapter) ID() exchange.ID {
	return exchange.DYDX
}

// FormatSymbol builds the ticker form ASSET-QUOTE.
func (a *Adapter) FormatSymbol(c *model.Contract) string {
	return c.AssetName + "-" + c.QuoteName
}

type marketRecord struct {
	Ticker          string `json:"ticker"`
	Status          string `json:"status"`
	NextFundingRate string `json:"nextFundingRate"`
}

func (a *Adapter) fetchMarkets(ctx context.Context) (map[string]marketRecord, error) {
	var resp struct {
		Markets map[string]marketRecord `json:"markets"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+marketsEndpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	return resp.Markets, nil
}

// GetContracts lists active perpetual markets.
func (a *Adapter) GetContracts(ctx context.Context) ([]exchange.ContractInfo, error) {
	markets, err := a.fetchMarkets(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]exchange.ContractInfo, 0, len(markets))
	for ticker, m := range markets {
		if m.Status != "ACTIVE" {
			continue
		}
		asset, quote, ok := splitTicker(ticker)
		if !ok {
			continue
		}
		infos = append(infos, exchange.ContractInfo{
			AssetName:       asset,
			Quote:           quote,
			FundingInterval: 1,
			SectionName:     string(exchange.DYDX),
		})
	}
	return infos, nil
}

func splitTicker(ticker string) (asset, quote string, ok bool) {
	for i := len(ticker) - 1; i > 0; i-- {
		if ticker[i] == '-' {
			return ticker[:i], ticker[i+1:], true
		}
	}
	return "", "", false
}

// fetchWindow requests the page ending at the window's upper edge. The
// indexer only pages backward from effectiveBeforeOrAt, so the page is
// filtered down to the requested window before returning.
func (a *Adapter) fetchWindow(ctx context.Context, c *model.Contract, startMS, endMS int64) ([]exchange.FundingPoint, error) {
	start := time.UnixMilli(startMS).UTC()
	end := time.UnixMilli(endMS).UTC()

	params := url.Values{
		"effectiveBeforeOrAt": {end.Format(time.RFC3339)},
		"limit":               {"1000"},
	}
	endpoint := fmt.Sprintf("%s%s/%s", restBaseURL, fundingEndpoint, a.FormatSymbol(c))
	var resp struct {
		HistoricalFunding []struct {
			Rate        string `json:"rate"`
			EffectiveAt string `json:"effectiveAt"`
		} `json:"historicalFunding"`
	}
	if err := a.http.GetJSON(ctx, endpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("fetch funding history for %s: %w", c.Label(), err)
	}

	points := make([]exchange.FundingPoint, 0, len(resp.HistoricalFunding))
	for _, r := range resp.HistoricalFunding {
		ts, err := time.Parse(time.RFC3339, r.EffectiveAt)
		if err != nil {
			return nil, fmt.Errorf("parse effectiveAt %q: %w", r.EffectiveAt, err)
		}
		ts = ts.UTC()
		if ts.Before(start) || ts.After(end) {
			continue
		}
		rate, err := decimal.NewFromString(r.Rate)
		if err != nil {
			return nil, fmt.Errorf("parse funding rate %q: %w", r.Rate, err)
		}
		points = append(points, exchange.FundingPoint{Timestamp: ts, Rate: rate})
	}
	return points, nil
}

// FetchLive projects nextFundingRate from the markets endpoint.
func (a *Adapter) FetchLive(ctx context.Context, contracts []*model.Contract) (map[uuid.UUID]exchange.FundingPoint, error) {
	markets, err := a.fetchMarkets(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make(map[uuid.UUID]exchange.FundingPoint, len(contracts))
	for _, c := range contracts {
		m, ok := markets[a.FormatSymbol(c)]
		if !ok {
			continue
		}
		rate, err := decimal.NewFromString(m.NextFundingRate)
		if err != nil {
			continue
		}
		out[c.ID] = exchange.FundingPoint{Timestamp: now, Rate: rate}
	}
	return out, nil
}
