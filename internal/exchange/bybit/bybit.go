// Package bybit implements the Bybit linear-perpetuals adapter.
package bybit

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
	restBaseURL         = "https://api.bybit.com"
	instrumentsEndpoint = "/v5/market/instruments-info"
	fundingEndpoint     = "/v5/market/funding/history"
	tickersEndpoint     = "/v5/market/tickers"

	fetchStep = 198
)

// quoteSuffix maps the quote currency to Bybit's symbol suffix: USDT pairs
// keep the quote, USDC pairs end in PERP.
var quoteSuffix = map[string]string{
	"USDT": "USDT",
	"USDC": "PERP",
}

// Adapter talks to Bybit's v5 market endpoints, category linear.
type Adapter struct {
	exchange.HistoryPager
	http *fetch.Client
}

// New creates the Bybit adapter.
func New(client *fetch.Client) *Adapter {
	a := &Adapter{http: client}
	a.HistoryPager = exchange.HistoryPager{Step: fetchStep, Fetch: a.fetchWindow}
	return a
}

// ID returns the exchange identifier.
func (a *Adapter) ID() exchange.ID {
	return exchange.Bybit
}

// FormatSymbol builds the venue symbol from asset and quote.
func (a *Adapter) FormatSymbol(c *model.Contract) string {
	suffix, ok := quoteSuffix[c.QuoteName]
	if !ok {
		suffix = c.QuoteName
	}
	return c.AssetName + suffix
}

type envelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

func (e *envelope[T]) check() error {
	if e.RetCode != 0 {
		return fmt.Errorf("bybit error %d: %s", e.RetCode, e.RetMsg)
	}
	return nil
}

// GetContracts pages through instruments-info until the cursor runs out.
func (a *Adapter) GetContracts(ctx context.Context) ([]exchange.ContractInfo, error) {
	var infos []exchange.ContractInfo
	cursor := ""
	for {
		params := url.Values{
			"category": {"linear"},
			"limit":    {"1000"},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var resp envelope[struct {
			List []struct {
				Symbol          string `json:"symbol"`
				ContractType    string `json:"contractType"`
				Status          string `json:"status"`
				BaseCoin        string `json:"baseCoin"`
				QuoteCoin       string `json:"quoteCoin"`
				FundingInterval int    `json:"fundingInterval"` // minutes
			} `json:"list"`
			NextPageCursor string `json:"nextPageCursor"`
		}]
		if err := a.http.GetJSON(ctx, restBaseURL+instrumentsEndpoint, params, &resp); err != nil {
			return nil, fmt.Errorf("fetch instruments: %w", err)
		}
		if err := resp.check(); err != nil {
			return nil, err
		}

		for _, item := range resp.Result.List {
			if item.ContractType != "LinearPerpetual" || item.Status != "Trading" {
				continue
			}
			interval := item.FundingInterval / 60
			if interval < 1 {
				interval = 1
			}
			infos = append(infos, exchange.ContractInfo{
				AssetName:       item.BaseCoin,
				Quote:           item.QuoteCoin,
				FundingInterval: interval,
				SectionName:     string(exchange.Bybit),
			})
		}

		cursor = resp.Result.NextPageCursor
		if cursor == "" {
			break
		}
	}
	return infos, nil
}

func (a *Adapter) fetchWindow(ctx context.Context, c *model.Contract, startMS, endMS int64) ([]exchange.FundingPoint, error) {
	params := url.Values{
		"category":  {"linear"},
		"symbol":    {a.FormatSymbol(c)},
		"startTime": {strconv.FormatInt(startMS, 10)},
		"endTime":   {strconv.FormatInt(endMS, 10)},
		"limit":     {"200"},
	}
	var resp envelope[struct {
		List []struct {
			FundingRate          string `json:"fundingRate"`
			FundingRateTimestamp string `json:"fundingRateTimestamp"`
		} `json:"list"`
	}]
	if err := a.http.GetJSON(ctx, restBaseURL+fundingEndpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("fetch funding history for %s: %w", c.Label(), err)
	}
	if err := resp.check(); err != nil {
		return nil, err
	}

	points := make([]exchange.FundingPoint, 0, len(resp.Result.List))
	for _, r := range resp.Result.List {
		rate, err := decimal.NewFromString(r.FundingRate)
		if err != nil {
			return nil, fmt.Errorf("parse funding rate %q: %w", r.FundingRate, err)
		}
		ms, err := strconv.ParseInt(r.FundingRateTimestamp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse funding timestamp %q: %w", r.FundingRateTimestamp, err)
		}
		points = append(points, exchange.FundingPoint{
			Timestamp: time.UnixMilli(ms).UTC(),
			Rate:      rate,
		})
	}
	return points, nil
}

// FetchLive reads every linear ticker in one call and projects the rates
// onto the requested contracts.
func (a *Adapter) FetchLive(ctx context.Context, contracts []*model.Contract) (map[uuid.UUID]exchange.FundingPoint, error) {
	params := url.Values{"category": {"linear"}}
	var resp envelope[struct {
		List []struct {
			Symbol      string `json:"symbol"`
			FundingRate string `json:"fundingRate"`
		} `json:"list"`
	}]
	if err := a.http.GetJSON(ctx, restBaseURL+tickersEndpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}
	if err := resp.check(); err != nil {
		return nil, err
	}

	rateBySymbol := make(map[string]decimal.Decimal, len(resp.Result.List))
	for _, t := range resp.Result.List {
		rate, err := decimal.NewFromString(t.FundingRate)
		if err != nil {
			continue
		}
		rateBySymbol[t.Symbol] = rate
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
