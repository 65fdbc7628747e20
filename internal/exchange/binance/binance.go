// Package binance implements the Binance futures adapters. The USDⓈ-M and
// COIN-M venues share request shapes but differ in base URL, symbol form,
// and how funding intervals are published.
package binance

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
	usdmRestBaseURL  = "https://fapi.binance.com/fapi/v1"
	coinmRestBaseURL = "https://dapi.binance.com/dapi/v1"

	usdmFetchStep  = 1000
	coinmFetchStep = 8000

	defaultFundingInterval = 8
)

// Adapter serves one of the two Binance futures venues.
type Adapter struct {
	exchange.HistoryPager
	id           exchange.ID
	baseURL      string
	coinMargined bool
	http         *fetch.Client
}

// NewUSDM creates the USDⓈ-margined adapter.
func NewUSDM(client *fetch.Client) *Adapter {
	a := &Adapter{id: exchange.BinanceUSDM, baseURL: usdmRestBaseURL, http: client}
	a.HistoryPager = exchange.HistoryPager{Step: usdmFetchStep, Fetch: a.fetchWindow}
	return a
}

// NewCOINM creates the COIN-margined adapter.
func NewCOINM(client *fetch.Client) *Adapter {
	a := &Adapter{id: exchange.BinanceCOINM, baseURL: coinmRestBaseURL, coinMargined: true, http: client}
	a.HistoryPager = exchange.HistoryPager{Step: coinmFetchStep, Fetch: a.fetchWindow}
	return a
}

// ID returns the exchange identifier.
func (a *Adapter) ID() exchange.ID {
	return a.id
}

// FormatSymbol builds the venue symbol: BTCUSDT on USDⓈ-M, BTCUSD_PERP on
// COIN-M.
func (a *Adapter) FormatSymbol(c *model.Contract) string {
	if a.coinMargined {
		return c.AssetName + c.QuoteName + "_PERP"
	}
	return c.AssetName + c.QuoteName
}

// GetContracts reads exchangeInfo. USDⓈ-M funding intervals come from the
// separate fundingInfo endpoint and default to 8h when a symbol is absent
// there; COIN-M settles every 8h across the board.
func (a *Adapter) GetContracts(ctx context.Context) ([]exchange.ContractInfo, error) {
	var info struct {
		Symbols []struct {
			Symbol         string `json:"symbol"`
			BaseAsset      string `json:"baseAsset"`
			QuoteAsset     string `json:"quoteAsset"`
			ContractType   string `json:"contractType"`
			Status         string `json:"status"`
			ContractStatus string `json:"contractStatus"`
		} `json:"symbols"`
	}
	if err := a.http.GetJSON(ctx, a.baseURL+"/exchangeInfo", nil, &info); err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}

	intervals := map[string]int{}
	if !a.coinMargined {
		var err error
		intervals, err = a.fetchFundingIntervals(ctx)
		if err != nil {
			return nil, err
		}
	}

	infos := make([]exchange.ContractInfo, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		status := s.Status
		if status == "" {
			status = s.ContractStatus
		}
		if s.ContractType != "PERPETUAL" || status != "TRADING" {
			continue
		}
		interval := defaultFundingInterval
		if v, ok := intervals[s.Symbol]; ok {
			interval = v
		}
		infos = append(infos, exchange.ContractInfo{
			AssetName:       s.BaseAsset,
			Quote:           s.QuoteAsset,
			FundingInterval: interval,
			SectionName:     string(a.id),
		})
	}
	return infos, nil
}

func (a *Adapter) fetchFundingIntervals(ctx context.Context) (map[string]int, error) {
	var records []struct {
		Symbol               string `json:"symbol"`
		FundingIntervalHours int    `json:"fundingIntervalHours"`
	}
	if err := a.http.GetJSON(ctx, a.baseURL+"/fundingInfo", nil, &records); err != nil {
		return nil, fmt.Errorf("fetch funding info: %w", err)
	}
	intervals := make(map[string]int, len(records))
	for _, r := range records {
		if r.FundingIntervalHours > 0 {
			intervals[r.Symbol] = r.FundingIntervalHours
		}
	}
	return intervals, nil
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
	if err := a.http.GetJSON(ctx, a.baseURL+"/fundingRate", params, &records); err != nil {
		return nil, fmt.Errorf("fetch funding history for %s: %w", c.Label(), err)
	}

	points := make([]exchange.FundingPoint, 0, len(records))
	for _, r := range records {
		// COIN-M occasionally returns records with an empty rate.
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

// FetchLive reads the venue-wide premium index in one call.
func (a *Adapter) FetchLive(ctx context.Context, contracts []*model.Contract) (map[uuid.UUID]exchange.FundingPoint, error) {
	var records []struct {
		Symbol          string `json:"symbol"`
		LastFundingRate string `json:"lastFundingRate"`
		Time            int64  `json:"time"`
	}
	if err := a.http.GetJSON(ctx, a.baseURL+"/premiumIndex", nil, &records); err != nil {
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
