// Package okx implements the OKX perpetual-swap adapter.
package okx

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
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
	restBaseURL         = "https://www.okx.com"
	instrumentsEndpoint = "/api/v5/public/instruments"
	historyEndpoint     = "/api/v5/public/funding-rate-history"
	fundingEndpoint     = "/api/v5/public/funding-rate"

	fetchStep       = 398
	fundingInterval = 8
	liveConcurrency = 10
)

// Adapter talks to OKX's public v5 endpoints, instrument type SWAP.
type Adapter struct {
	exchange.HistoryPager
	http *fetch.Client
}

// New creates the OKX adapter.
func New(client *fetch.Client) *Adapter {
	a := &Adapter{http: client}
	a.HistoryPager = exchange.HistoryPager{Step: fetchStep, Fetch: a.fetchWindow}
	return a
}

// ID returns the exchange identifier.
func (a *Adapter) ID() exchange.ID {
	return exchange.OKX
}

// FormatSymbol builds the instId form ASSET-QUOTE-SWAP.
func (a *Adapter) FormatSymbol(c *model.Contract) string {
	return c.AssetName + "-" + c.QuoteName + "-SWAP"
}

type envelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

func (e *envelope[T]) check() error {
	if e.Code != "0" {
		return fmt.Errorf("okx error %s: %s", e.Code, e.Msg)
	}
	return nil
}

// GetContracts lists live swaps. OKX swaps settle every 8 hours.
func (a *Adapter) GetContracts(ctx context.Context) ([]exchange.ContractInfo, error) {
	params := url.Values{"instType": {"SWAP"}}
	var resp envelope[[]struct {
		InstID string `json:"instId"`
		State  string `json:"state"`
	}]
	if err := a.http.GetJSON(ctx, restBaseURL+instrumentsEndpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("fetch instruments: %w", err)
	}
	if err := resp.check(); err != nil {
		return nil, err
	}

	infos := make([]exchange.ContractInfo, 0, len(resp.Data))
	for _, inst := range resp.Data {
		if inst.State != "live" {
			continue
		}
		parts := strings.Split(inst.InstID, "-")
		if len(parts) != 3 {
			continue
		}
		infos = append(infos, exchange.ContractInfo{
			AssetName:       parts[0],
			Quote:           parts[1],
			FundingInterval: fundingInterval,
			SectionName:     string(exchange.OKX),
		})
	}
	return infos, nil
}

// fetchWindow walks the history endpoint. OKX's pagination params are named
// from the perspective of walking backward: `after` returns records earlier
// than the given timestamp and `before` returns records later, so the
// window start binds to `before` and the window end to `after`.
func (a *Adapter) fetchWindow(ctx context.Context, c *model.Contract, startMS, endMS int64) ([]exchange.FundingPoint, error) {
	params := url.Values{
		"instId": {a.FormatSymbol(c)},
		"before": {strconv.FormatInt(startMS, 10)},
		"after":  {strconv.FormatInt(endMS, 10)},
		"limit":  {"400"},
	}
	var resp envelope[[]struct {
		FundingRate string `json:"fundingRate"`
		FundingTime string `json:"fundingTime"`
	}]
	if err := a.http.GetJSON(ctx, restBaseURL+historyEndpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("fetch funding history for %s: %w", c.Label(), err)
	}
	if err := resp.check(); err != nil {
		return nil, err
	}

	points := make([]exchange.FundingPoint, 0, len(resp.Data))
	for _, r := range resp.Data {
		rate, err := decimal.NewFromString(r.FundingRate)
		if err != nil {
			return nil, fmt.Errorf("parse funding rate %q: %w", r.FundingRate, err)
		}
		ms, err := strconv.ParseInt(r.FundingTime, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse funding time %q: %w", r.FundingTime, err)
		}
		points = append(points, exchange.FundingPoint{
			Timestamp: time.UnixMilli(ms).UTC(),
			Rate:      rate,
		})
	}
	return points, nil
}

// FetchLive has no batch endpoint to lean on, so it fans out one
// funding-rate call per contract under a bounded semaphore, dropping
// contracts whose call fails.
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
	params := url.Values{"instId": {a.FormatSymbol(c)}}
	var resp envelope[[]struct {
		FundingRate string `json:"fundingRate"`
		TS          string `json:"ts"`
	}]
	if err := a.http.GetJSON(ctx, restBaseURL+fundingEndpoint, params, &resp); err != nil {
		return exchange.FundingPoint{}, err
	}
	if err := resp.check(); err != nil {
		return exchange.FundingPoint{}, err
	}
	if len(resp.Data) == 0 {
		return exchange.FundingPoint{}, fmt.Errorf("no funding rate for %s", c.Label())
	}

	rate, err := decimal.NewFromString(resp.Data[0].FundingRate)
	if err != nil {
		return exchange.FundingPoint{}, err
	}
	ts := time.Now().UTC()
	if ms, err := strconv.ParseInt(resp.Data[0].TS, 10, 64); err == nil {
		ts = time.UnixMilli(ms).UTC()
	}
	return exchange.FundingPoint{Timestamp: ts, Rate: rate}, nil
}
