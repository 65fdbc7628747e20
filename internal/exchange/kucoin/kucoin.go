// Package kucoin implements the KuCoin futures adapter.
package kucoin

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
	restBaseURL       = "https://api-futures.kucoin.com"
	contractsEndpoint = "/api/v1/contracts/active"
	fundingEndpoint   = "/api/v1/contract/funding-rates"

	fetchStep = 100
)

// Adapter talks to KuCoin's futures API. Assets keep the venue's naming
// (BTC is listed as XBT).
type Adapter struct {
	exchange.HistoryPager
	http *fetch.Client
}

// New creates the KuCoin adapter.
func New(client *fetch.Client) *Adapter {
	a := &Adapter{http: client}
	a.HistoryPager = exchange.HistoryPager{Step: fetchStep, Fetch: a.fetchWindow}
	return a
}

// ID returns the exchange identifier.
func (a *Adapter) ID() exchange.ID {
	return exchange.KuCoin
}

// FormatSymbol builds the venue symbol ASSETQUOTEM (for example XBTUSDTM).
func (a *Adapter) FormatSymbol(c *model.Contract) string {
	return c.AssetName + c.QuoteName + "M"
}

type contractRecord struct {
	Symbol                 string  `json:"symbol"`
	BaseCurrency           string  `json:"baseCurrency"`
	QuoteCurrency          string  `json:"quoteCurrency"`
	FundingFeeRate         float64 `json:"fundingFeeRate"`
	FundingRateGranularity *int64  `json:"fundingRateGranularity"` // ms, null when no funding
}

func (a *Adapter) fetchContracts(ctx context.Context) ([]contractRecord, error) {
	var resp struct {
		Code string           `json:"code"`
		Msg  string           `json:"msg"`
		Data []contractRecord `json:"data"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+contractsEndpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch contracts: %w", err)
	}
	if resp.Code != "200000" {
		return nil, fmt.Errorf("kucoin error %s: %s", resp.Code, resp.Msg)
	}
	return resp.Data, nil
}

// GetContracts lists active contracts, skipping those without a funding
// granularity.
func (a *Adapter) GetContracts(ctx context.Context) ([]exchange.ContractInfo, error) {
	records, err := a.fetchContracts(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]exchange.ContractInfo, 0, len(records))
	for _, r := range records {
		if r.FundingRateGranularity == nil || *r.FundingRateGranularity <= 0 {
			continue
		}
		interval := int(*r.FundingRateGranularity / int64(time.Hour/time.Millisecond))
		if interval < 1 {
			interval = 1
		}
		infos = append(infos, exchange.ContractInfo{
			AssetName:       r.BaseCurrency,
			Quote:           r.QuoteCurrency,
			FundingInterval: interval,
			SectionName:     string(exchange.KuCoin),
		})
	}
	return infos, nil
}

func (a *Adapter) fetchWindow(ctx context.Context, c *model.Contract, startMS, endMS int64) ([]exchange.FundingPoint, error) {
	params := url.Values{
		"symbol": {a.FormatSymbol(c)},
		"from":   {strconv.FormatInt(startMS, 10)},
		"to":     {strconv.FormatInt(endMS, 10)},
	}
	var resp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			FundingRate float64 `json:"fundingRate"`
			Timepoint   int64   `json:"timepoint"`
		} `json:"data"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+fundingEndpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("fetch funding history for %s: %w", c.Label(), err)
	}
	if resp.Code != "200000" {
		return nil, fmt.Errorf("kucoin error %s: %s", resp.Code, resp.Msg)
	}

	points := make([]exchange.FundingPoint, 0, len(resp.Data))
	for _, r := range resp.Data {
		points = append(points, exchange.FundingPoint{
			Timestamp: time.UnixMilli(r.Timepoint).UTC(),
			Rate:      decimal.NewFromFloat(r.FundingRate),
		})
	}
	return points, nil
}

// FetchLive projects the current fundingFeeRate from the contracts
// endpoint onto the requested contracts.
func (a *Adapter) FetchLive(ctx context.Context, contracts []*model.Contract) (map[uuid.UUID]exchange.FundingPoint, error) {
	records, err := a.fetchContracts(ctx)
	if err != nil {
		return nil, err
	}

	rateBySymbol := make(map[string]decimal.Decimal, len(records))
	for _, r := range records {
		if r.FundingRateGranularity == nil {
			continue
		}
		rateBySymbol[r.Symbol] = decimal.NewFromFloat(r.FundingFeeRate)
	}

	now := time.Now().UTC()
	out := make(map[uuid.UUID]exchange.FundingPoint, len(contracts))
	for _, c := range contracts {
		if rate, ok := rateBySymbol[a.FormatSymbol(c)]; ok {
			out[c.ID] = exchange.FundingPoint{Timestamp: now, Rate: rate}
		}
	}
	return out, nil
}
