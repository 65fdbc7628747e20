// Package extended implements the Extended exchange adapter.
package extended

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/fetch"
	"fundrate-collector/internal/model"
)

const (
	restBaseURL     = "https://api.extended.exchange"
	marketsEndpoint = "/api/v1/info/markets"

	fetchStep = 2160
)

// Adapter talks to Extended's public info endpoints. Funding settles
// hourly.
type Adapter struct {
	exchange.HistoryPager
	http *fetch.Client
}

// New creates the Extended adapter.
func New(client *fetch.Client) *Adapter {
	a := &Adapter{http: client}
	a.HistoryPager = exchange.HistoryPager{Step: fetchStep, Fetch: a.fetchWindow}
	return a
}

// ID returns the exchange identifier.
func (a *Adapter) ID() exchange.ID {
	return exchange.Extended
}

// FormatSymbol builds the market name ASSET-QUOTE.
func (a *Adapter) FormatSymbol(c *model.Contract) string {
	return c.AssetName + "-" + c.QuoteName
}

type marketRecord struct {
	Name        string `json:"name"`
	AssetName   string `json:"assetName"`
	Status      string `json:"status"`
	MarketStats struct {
		FundingRate string `json:"fundingRate"`
	} `json:"marketStats"`
}

func (a *Adapter) fetchMarkets(ctx context.Context) ([]marketRecord, error) {
	var resp struct {
		Status string         `json:"status"`
		Data   []marketRecord `json:"data"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+marketsEndpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	if resp.Status != "OK" {
		return nil, fmt.Errorf("extended error status %s", resp.Status)
	}
	return resp.Data, nil
}

// GetContracts lists active markets. The quote comes from the market name
// since every Extended perp settles against the collateral asset.
func (a *Adapter) GetContracts(ctx context.Context) ([]exchange.ContractInfo, error) {
	markets, err := a.fetchMarkets(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]exchange.ContractInfo, 0, len(markets))
	for _, m := range markets {
		if m.Status != "ACTIVE" {
			continue
		}
		asset := m.AssetName
		quote := ""
		for i := len(m.Name) - 1; i > 0; i-- {
			if m.Name[i] == '-' {
				if asset == "" {
					asset = m.Name[:i]
				}
				quote = m.Name[i+1:]
				break
			}
		}
		if asset == "" || quote == "" {
			continue
		}
		infos = append(infos, exchange.ContractInfo{
			AssetName:       asset,
			Quote:           quote,
			FundingInterval: 1,
			SectionName:     string(exchange.Extended),
		})
	}
	return infos, nil
}

func (a *Adapter) fetchWindow(ctx context.Context, c *model.Contract, startMS, endMS int64) ([]exchange.FundingPoint, error) {
	params := url.Values{
		"startTime": {strconv.FormatInt(startMS, 10)},
		"endTime":   {strconv.FormatInt(endMS, 10)},
	}
	endpoint := fmt.Sprintf("%s/api/v1/info/%s/funding", restBaseURL, a.FormatSymbol(c))
	var resp struct {
		Status string `json:"status"`
		Data   []struct {
			T int64  `json:"T"`
			F string `json:"f"`
		} `json:"data"`
	}
	if err := a.http.GetJSON(ctx, endpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("fetch funding history for %s: %w", c.Label(), err)
	}
	if resp.Status != "OK" {
		return nil, fmt.Errorf("extended error status %s", resp.Status)
	}

	points := make([]exchange.FundingPoint, 0, len(resp.Data))
	for _, r := range resp.Data {
		rate, err := decimal.NewFromString(r.F)
		if err != nil {
			return nil, fmt.Errorf("parse funding rate %q: %w", r.F, err)
		}
		points = append(points, exchange.FundingPoint{
			Timestamp: time.UnixMilli(r.T).UTC(),
			Rate:      rate,
		})
	}
	return points, nil
}

// FetchLive projects the market stats funding rate.
func (a *Adapter) FetchLive(ctx context.Context, contracts []*model.Contract) (map[uuid.UUID]exchange.FundingPoint, error) {
	markets, err := a.fetchMarkets(ctx)
	if err != nil {
		return nil, err
	}

	rateByName := make(map[string]decimal.Decimal, len(markets))
	for _, m := range markets {
		rate, err := decimal.NewFromString(m.MarketStats.FundingRate)
		if err != nil {
			continue
		}
		rateByName[m.Name] = rate
	}

	now := time.Now().UTC()
	out := make(map[uuid.UUID]exchange.FundingPoint, len(contracts))
	for _, c := range contracts {
		if rate, ok := rateByName[a.FormatSymbol(c)]; ok {
			out[c.ID] = exchange.FundingPoint{Timestamp: now, Rate: rate}
		}
	}
	return out, nil
}
