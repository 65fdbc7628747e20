// Package lighter implements the Lighter adapter. Markets are addressed by
// numeric ids, learned during contract discovery and cached; the live rate
// comes over a one-shot websocket snapshot. The venue quotes rates in
// percent, with history magnitudes signed by a direction field.
package lighter

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/fetch"
	"fundrate-collector/internal/model"
)

const (
	restBaseURL        = "https://mainnet.zklighter.elliot.ai"
	orderBooksEndpoint = "/api/v1/orderBooks"
	fundingsEndpoint   = "/api/v1/fundings"
	wsURL              = "wss://mainnet.zklighter.elliot.ai/stream"

	fetchStep = 498
)

var hundred = decimal.NewFromInt(100)

// Adapter talks to Lighter's REST and websocket APIs.
type Adapter struct {
	exchange.HistoryPager
	http *fetch.Client

	mu        sync.RWMutex
	marketIDs map[string]int // venue symbol -> market id
}

// New creates the Lighter adapter.
func New(client *fetch.Client) *Adapter {
	a := &Adapter{http: client, marketIDs: make(map[string]int)}
	a.HistoryPager = exchange.HistoryPager{Step: fetchStep, Fetch: a.fetchWindow}
	return a
}

// ID returns the exchange identifier.
func (a *Adapter) ID() exchange.ID {
	return exchange.Lighter
}

// FormatSymbol returns the market id as a string when known, the asset
// name otherwise.
func (a *Adapter) FormatSymbol(c *model.Contract) string {
	a.mu.RLock()
	id, ok := a.marketIDs[c.AssetName]
	a.mu.RUnlock()
	if !ok {
		return c.AssetName
	}
	return strconv.Itoa(id)
}

func (a *Adapter) loadMarkets(ctx context.Context) error {
	var resp struct {
		Code       int `json:"code"`
		OrderBooks []struct {
			Symbol   string `json:"symbol"`
			MarketID int    `json:"market_id"`
			Status   string `json:"status"`
		} `json:"order_books"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+orderBooksEndpoint, nil, &resp); err != nil {
		return fmt.Errorf("fetch order books: %w", err)
	}
	if resp.Code != 200 {
		return fmt.Errorf("lighter error code %d", resp.Code)
	}

	a.mu.Lock()
	for _, ob := range resp.OrderBooks {
		a.marketIDs[ob.Symbol] = ob.MarketID
	}
	a.mu.Unlock()
	return nil
}

// GetContracts lists active order books and memorizes their market ids.
func (a *Adapter) GetContracts(ctx context.Context) ([]exchange.ContractInfo, error) {
	var resp struct {
		Code       int `json:"code"`
		OrderBooks []struct {
			Symbol   string `json:"symbol"`
			MarketID int    `json:"market_id"`
			Status   string `json:"status"`
		} `json:"order_books"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+orderBooksEndpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch order books: %w", err)
	}
	if resp.Code != 200 {
		return nil, fmt.Errorf("lighter error code %d", resp.Code)
	}

	infos := make([]exchange.ContractInfo, 0, len(resp.OrderBooks))
	a.mu.Lock()
	for _, ob := range resp.OrderBooks {
		a.marketIDs[ob.Symbol] = ob.MarketID
		if ob.Status != "active" {
			continue
		}
		infos = append(infos, exchange.ContractInfo{
			AssetName:       ob.Symbol,
			Quote:           "USD",
			FundingInterval: 1,
			SectionName:     string(exchange.Lighter),
		})
	}
	a.mu.Unlock()
	return infos, nil
}

func (a *Adapter) marketID(ctx context.Context, c *model.Contract) (int, error) {
	a.mu.RLock()
	id, ok := a.marketIDs[c.AssetName]
	a.mu.RUnlock()
	if ok {
		return id, nil
	}
	if err := a.loadMarkets(ctx); err != nil {
		return 0, err
	}
	a.mu.RLock()
	id, ok = a.marketIDs[c.AssetName]
	a.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("unknown lighter market %s", c.AssetName)
	}
	return id, nil
}

func (a *Adapter) fetchWindow(ctx context.Context, c *model.Contract, startMS, endMS int64) ([]exchange.FundingPoint, error) {
	id, err := a.marketID(ctx, c)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"market_id":       {strconv.Itoa(id)},
		"resolution":      {"1h"},
		"start_timestamp": {strconv.FormatInt(startMS/1000, 10)},
		"end_timestamp":   {strconv.FormatInt(endMS/1000, 10)},
		"count_back":      {"0"},
	}
	var resp struct {
		Code     int `json:"code"`
		Fundings []struct {
			Timestamp int64  `json:"timestamp"` // seconds
			Value     string `json:"value"`     // percent magnitude
			Direction string `json:"direction"`
		} `json:"fundings"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+fundingsEndpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("fetch funding history for %s: %w", c.Label(), err)
	}
	if resp.Code != 200 {
		return nil, fmt.Errorf("lighter error code %d", resp.Code)
	}

	points := make([]exchange.FundingPoint, 0, len(resp.Fundings))
	for _, r := range resp.Fundings {
		value, err := decimal.NewFromString(r.Value)
		if err != nil {
			return nil, fmt.Errorf("parse funding value %q: %w", r.Value, err)
		}
		rate := value.Div(hundred)
		if r.Direction == "short" {
			rate = rate.Neg()
		}
		points = append(points, exchange.FundingPoint{
			Timestamp: time.Unix(r.Timestamp, 0).UTC(),
			Rate:      rate,
		})
	}
	return points, nil
}

// FetchLive takes one websocket snapshot of the market_stats/all channel
// and projects it by market id.
func (a *Adapter) FetchLive(ctx context.Context, contracts []*model.Contract) (map[uuid.UUID]exchange.FundingPoint, error) {
	subscribe := map[string]string{
		"type":    "subscribe",
		"channel": "market_stats/all",
	}
	var frame struct {
		MarketStats map[string]struct {
			CurrentFundingRate string `json:"current_funding_rate"`
		} `json:"market_stats"`
	}
	if err := a.http.FetchWSOnce(ctx, wsURL, subscribe, &frame); err != nil {
		return nil, fmt.Errorf("fetch market stats: %w", err)
	}

	now := time.Now().UTC()
	out := make(map[uuid.UUID]exchange.FundingPoint, len(contracts))
	for _, c := range contracts {
		id, err := a.marketID(ctx, c)
		if err != nil {
			continue
		}
		stats, ok := frame.MarketStats[strconv.Itoa(id)]
		if !ok {
			continue
		}
		rate, err := decimal.NewFromString(stats.CurrentFundingRate)
		if err != nil {
			continue
		}
		out[c.ID] = exchange.FundingPoint{Timestamp: now, Rate: rate.Div(hundred)}
	}
	return out, nil
}
