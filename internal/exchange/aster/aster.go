// Package aster implements the Aster adapter. The API is
// Binance-compatible, but the venue publishes no funding interval, so
// discovery derives it per symbol from the gap between the last settled
// funding time and the next scheduled one.
package aster

import (
	"context"
	"fmt"
	"math"
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
	restBaseURL = "https://fapi.asterdex.com/fapi/v1"

	fetchStep        = 8000
	probeConcurrency = 10
	defaultInterval  = 8
)

// Adapter talks to Aster's Binance-shaped futures API.
type Adapter struct {
	exchange.HistoryPager
	http *fetch.Client
}

// New creates the Aster adapter.
func New(client *fetch.Client) *Adapter {
	a := &Adapter{http: client}
	a.HistoryPager = exchange.HistoryPager{Step: fetchStep, Fetch: a.fetchWindow}
	return a
}

// ID returns the exchange identifier.
func (a *Adapter) ID() exchange.ID {
	return exchange.Aster
}

// FormatSymbol builds the venue symbol ASSETQUOTE.
func (a *Adapter) FormatSymbol(c *model.Contract) string {
	return c.AssetName + c.QuoteName
}

// GetContracts reads exchangeInfo and derives each symbol's funding
// interval: one premiumIndex batch supplies nextFundingTime, then a
// bounded fan-out fetches the latest settled record per symbol and the
// interval is the rounded gap between the two, clamped to at least 1h.
// Symbols whose probe fails fall back to 8h.
func (a *Adapter) GetContracts(ctx context.Context) ([]exchange.ContractInfo, error) {
	var info struct {
		Symbols []struct {
			Symbol       string `json:"symbol"`
			BaseAsset    string `json:"baseAsset"`
			QuoteAsset   string `json:"quoteAsset"`
			ContractType string `json:"contractType"`
			Status       string `json:"status"`
		} `json:"symbols"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+"/exchangeInfo", nil, &info); err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}

	var premium []struct {
		Symbol          string `json:"symbol"`
		NextFundingTime int64  `json:"nextFundingTime"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+"/premiumIndex", nil, &premium); err != nil {
		return nil, fmt.Errorf("fetch premium index: %w", err)
	}
	nextBySymbol := make(map[string]int64, len(premium))
	for _, p := range premium {
		nextBySymbol[p.Symbol] = p.NextFundingTime
	}

	type listing struct {
		symbol, asset, quote string
	}
	var listings []listing
	for _, s := range info.Symbols {
		if s.ContractType != "PERPETUAL" || s.Status != "TRADING" {
			continue
		}
		listings = append(listings, listing{symbol: s.Symbol, asset: s.BaseAsset, quote: s.QuoteAsset})
	}

	sem := semaphore.NewWeighted(probeConcurrency)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		intervals = make(map[string]int, len(listings))
	)
	for _, l := range listings {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer sem.Release(1)

			interval := a.probeInterval(ctx, symbol, nextBySymbol[symbol])
			mu.Lock()
			intervals[symbol] = interval
			mu.Unlock()
		}(l.symbol)
	}
	wg.Wait()

	infos := make([]exchange.ContractInfo, 0, len(listings))
	for _, l := range listings {
		infos = append(infos, exchange.ContractInfo{
			AssetName:       l.asset,
			Quote:           l.quote,
			FundingInterval: intervals[l.symbol],
			SectionName:     string(exchange.Aster),
		})
	}
	return infos, nil
}

func (a *Adapter) probeInterval(ctx context.Context, symbol string, nextFundingMS int64) int {
	if nextFundingMS <= 0 {
		return defaultInterval
	}
	params := url.Values{
		"symbol": {symbol},
		"limit":  {"1"},
	}
	var records []struct {
		FundingTime int64 `json:"fundingTime"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+"/fundingRate", params, &records); err != nil {
		return defaultInterval
	}
	if len(records) == 0 || records[0].FundingTime <= 0 {
		return defaultInterval
	}

	deltaMS := nextFundingMS - records[0].FundingTime
	hours := int(math.Round(float64(deltaMS) / float64(time.Hour/time.Millisecond)))
	if hours < 1 {
		hours = 1
	}
	return hours
}

func (a *Adapter) fetchWindow(ctx context.Context, c *model.Contract, startMS, endMS int64) ([]exchange.FundingPoint, error) {
	params := url.Values{
		"symbol":    {a.FormatSymbol(c)},
		"startTime": {strconv.FormatInt(startMS, 10)},
		"endTime":   {strconv.FormatInt(endMS, 10)},
		"limit":     {"1000"},
	}
	var records []struct {
		FundingRate string `json:"fundingRate"`
		FundingTime int64  `json:"fundingTime"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+"/fundingRate", params, &records); err != nil {
		return nil, fmt.Errorf("fetch funding history for %s: %w", c.Label(), err)
	}

	points := make([]exchange.FundingPoint, 0, len(records))
	for _, r := range records {
		if r.FundingRate == "" {
			continue
		}
		rate, err := decimal.NewFromString(r.FundingRate)
		if err != nil {
			return nil, fmt.Errorf("parse funding rate %q: %w", r.FundingRate, err)
		}
		points = append(points, exchange.FundingPoint{
			Timestamp: time.UnixMilli(r.FundingTime).UTC(),
			Rate:      rate,
		})
	}
	return points, nil
}

// FetchLive reads the venue-wide premium index.
func (a *Adapter) FetchLive(ctx context.Context, contracts []*model.Contract) (map[uuid.UUID]exchange.FundingPoint, error) {
	var records []struct {
		Symbol          string `json:"symbol"`
		LastFundingRate string `json:"lastFundingRate"`
		Time            int64  `json:"time"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+"/premiumIndex", nil, &records); err != nil {
		return nil, fmt.Errorf("fetch premium index: %w", err)
	}

	type sample struct {
		rate decimal.Decimal
		ts   time.Time
	}
	bySymbol := make(map[string]sample, len(records))
	for _, r := range records {
		rate, err := decimal.NewFromString(r.LastFundingRate)
		if err != nil {
			continue
		}
		bySymbol[r.Symbol] = sample{rate: rate, ts: time.UnixMilli(r.Time).UTC()}
	}

	out := make(map[uuid.UUID]exchange.FundingPoint, len(contracts))
	for _, c := range contracts {
		if s, ok := bySymbol[a.FormatSymbol(c)]; ok {
			out[c.ID] = exchange.FundingPoint{Timestamp: s.ts, Rate: s.rate}
		}
	}
	return out, nil
}
